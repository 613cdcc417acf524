package main

import "github.com/example/villasync/cmd"

func main() {
	cmd.Execute()
}
