package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"
)

func newKeysCmd() *cobra.Command {
	var dotenv bool

	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Generate COOKIE_HASH_KEY and COOKIE_BLOCK_KEY for the widget session cookie (base64)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// 64-byte HMAC key, AES-256 block key
			hash := make([]byte, 64)
			block := make([]byte, 32)
			if _, err := rand.Read(hash); err != nil {
				return err
			}
			if _, err := rand.Read(block); err != nil {
				return err
			}
			prefix := "export "
			if dotenv {
				prefix = ""
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%sCOOKIE_HASH_KEY=%s\n", prefix, base64.StdEncoding.EncodeToString(hash))
			fmt.Fprintf(cmd.OutOrStdout(), "%sCOOKIE_BLOCK_KEY=%s\n", prefix, base64.StdEncoding.EncodeToString(block))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dotenv, "dotenv", false, "print KEY=value lines for a .env file")
	return cmd
}
