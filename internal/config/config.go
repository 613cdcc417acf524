package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/example/villasync/internal/availability"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Error is a fatal configuration problem. Commands report it before doing
// any I/O.
type Error struct {
	Key string
	Msg string
}

func (e *Error) Error() string {
	if e.Key == "" {
		return "config: " + e.Msg
	}
	return fmt.Sprintf("config: %s: %s", e.Key, e.Msg)
}

type Config struct {
	Env      string
	LogLevel string

	DatabaseURL  string
	StoreTimeout time.Duration

	// calendar sync
	FeedURL      string
	FeedSource   availability.Source
	FeedTimeout  time.Duration
	SyncInterval time.Duration

	// booking widget
	ListenAddr        string
	NightlyRate       decimal.Decimal
	MaxGuests         int
	MaxStayNights     int
	CookieHashKey     []byte
	CookieBlockKey    []byte
	SessionTTL        time.Duration
	SuccessResetDelay time.Duration
	ErrorResetDelay   time.Duration
	SnapshotMaxAge    time.Duration

	RedisAddr       string
	RedisPassword   string
	RateLimitPerMin int
	TrustedProxies  []netip.Prefix

	OTel OTel
}

type OTel struct {
	Enabled       bool
	Endpoint      string
	SamplingRatio float64
	ServiceName   string
}

// IsProduction reports whether the process runs behind HTTPS in production.
// Widget cookies are then always marked Secure.
func (c Config) IsProduction() bool { return c.Env == "production" }

// FromEnv reads configuration from the environment, a local .env file and an
// optional villasync.yaml, in that order of precedence.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("villasync")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	v.SetDefault("ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_TIMEOUT", "10s")
	v.SetDefault("FEED_SOURCE", string(availability.SourceAirbnb))
	v.SetDefault("FEED_TIMEOUT", "30s")
	v.SetDefault("SYNC_INTERVAL", "0s")
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("NIGHTLY_RATE", "250")
	v.SetDefault("MAX_GUESTS", 10)
	v.SetDefault("MAX_STAY_NIGHTS", 90)
	v.SetDefault("SESSION_TTL", "2h")
	v.SetDefault("SUCCESS_RESET_DELAY", "2s")
	v.SetDefault("ERROR_RESET_DELAY", "4s")
	v.SetDefault("SNAPSHOT_MAX_AGE", "1m")
	v.SetDefault("RATE_LIMIT_PER_MIN", 10)
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("OTEL_SAMPLING_RATIO", 1.0)
	v.SetDefault("OTEL_SERVICE_NAME", "villasync")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, &Error{Msg: fmt.Sprintf("read villasync.yaml: %v", err)}
		}
	}

	cfg := Config{
		Env:               strings.ToLower(v.GetString("ENV")),
		LogLevel:          v.GetString("LOG_LEVEL"),
		DatabaseURL:       strings.TrimSpace(v.GetString("DATABASE_URL")),
		StoreTimeout:      v.GetDuration("STORE_TIMEOUT"),
		FeedURL:           strings.TrimSpace(v.GetString("FEED_URL")),
		FeedTimeout:       v.GetDuration("FEED_TIMEOUT"),
		SyncInterval:      v.GetDuration("SYNC_INTERVAL"),
		ListenAddr:        v.GetString("LISTEN_ADDR"),
		MaxGuests:         v.GetInt("MAX_GUESTS"),
		MaxStayNights:     v.GetInt("MAX_STAY_NIGHTS"),
		SessionTTL:        v.GetDuration("SESSION_TTL"),
		SuccessResetDelay: v.GetDuration("SUCCESS_RESET_DELAY"),
		ErrorResetDelay:   v.GetDuration("ERROR_RESET_DELAY"),
		SnapshotMaxAge:    v.GetDuration("SNAPSHOT_MAX_AGE"),
		RedisAddr:         v.GetString("REDIS_ADDR"),
		RedisPassword:     v.GetString("REDIS_PASSWORD"),
		RateLimitPerMin:   v.GetInt("RATE_LIMIT_PER_MIN"),
		OTel: OTel{
			Enabled:       v.GetBool("OTEL_ENABLED"),
			Endpoint:      v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
			SamplingRatio: v.GetFloat64("OTEL_SAMPLING_RATIO"),
			ServiceName:   v.GetString("OTEL_SERVICE_NAME"),
		},
	}

	src, err := availability.ParseSource(v.GetString("FEED_SOURCE"))
	if err != nil {
		return Config{}, &Error{Key: "FEED_SOURCE", Msg: err.Error()}
	}
	if src == availability.SourceBookingRequest {
		return Config{}, &Error{Key: "FEED_SOURCE", Msg: "booking_request is reserved for local bookings"}
	}
	cfg.FeedSource = src

	rate, err := decimal.NewFromString(strings.TrimSpace(v.GetString("NIGHTLY_RATE")))
	if err != nil || rate.IsNegative() {
		return Config{}, &Error{Key: "NIGHTLY_RATE", Msg: "must be a non-negative decimal"}
	}
	cfg.NightlyRate = rate

	if cfg.MaxGuests < 1 {
		return Config{}, &Error{Key: "MAX_GUESTS", Msg: "must be at least 1"}
	}
	if cfg.MaxStayNights < 1 {
		return Config{}, &Error{Key: "MAX_STAY_NIGHTS", Msg: "must be at least 1"}
	}
	if cfg.SnapshotMaxAge < 0 {
		return Config{}, &Error{Key: "SNAPSHOT_MAX_AGE", Msg: "must not be negative"}
	}
	if cfg.FeedTimeout <= 0 {
		return Config{}, &Error{Key: "FEED_TIMEOUT", Msg: "must be positive"}
	}
	if cfg.StoreTimeout <= 0 {
		return Config{}, &Error{Key: "STORE_TIMEOUT", Msg: "must be positive"}
	}
	if cfg.SyncInterval < 0 {
		return Config{}, &Error{Key: "SYNC_INTERVAL", Msg: "must not be negative"}
	}
	if cfg.RateLimitPerMin < 1 {
		return Config{}, &Error{Key: "RATE_LIMIT_PER_MIN", Msg: "must be at least 1"}
	}

	if cfg.TrustedProxies, err = parsePrefixes(v.GetString("TRUSTED_PROXIES")); err != nil {
		return Config{}, &Error{Key: "TRUSTED_PROXIES", Msg: err.Error()}
	}

	if s := v.GetString("COOKIE_HASH_KEY"); s != "" {
		if cfg.CookieHashKey, err = decodeB64(s); err != nil {
			return Config{}, &Error{Key: "COOKIE_HASH_KEY", Msg: err.Error()}
		}
	}
	if s := v.GetString("COOKIE_BLOCK_KEY"); s != "" {
		if cfg.CookieBlockKey, err = decodeB64(s); err != nil {
			return Config{}, &Error{Key: "COOKIE_BLOCK_KEY", Msg: err.Error()}
		}
	}

	return cfg, nil
}

// ValidateStore checks what every store-backed command needs.
func (c Config) ValidateStore() error {
	if c.DatabaseURL == "" {
		return &Error{Key: "DATABASE_URL", Msg: "required"}
	}
	return nil
}

// ValidateSync checks the two values the sync job cannot run without.
func (c Config) ValidateSync() error {
	if err := c.ValidateStore(); err != nil {
		return err
	}
	if c.FeedURL == "" {
		return &Error{Key: "FEED_URL", Msg: "required"}
	}
	u, err := url.Parse(c.FeedURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &Error{Key: "FEED_URL", Msg: "must be an http(s) URL"}
	}
	return nil
}

// ValidateServer checks the widget server settings. A missing DATABASE_URL is
// allowed: the widget then runs with booking disabled.
func (c Config) ValidateServer() error {
	if len(c.CookieHashKey) == 0 || len(c.CookieBlockKey) == 0 {
		return &Error{Key: "COOKIE_HASH_KEY", Msg: "COOKIE_HASH_KEY and COOKIE_BLOCK_KEY are required (base64, see `villasync keys`)"}
	}
	if n := len(c.CookieHashKey); n != 32 && n != 64 {
		return &Error{Key: "COOKIE_HASH_KEY", Msg: "must decode to 32 or 64 bytes"}
	}
	if n := len(c.CookieBlockKey); n != 16 && n != 24 && n != 32 {
		return &Error{Key: "COOKIE_BLOCK_KEY", Msg: "must decode to 16, 24 or 32 bytes"}
	}
	if c.SessionTTL <= 0 {
		return &Error{Key: "SESSION_TTL", Msg: "must be positive"}
	}
	if c.SyncInterval > 0 {
		return c.ValidateSync()
	}
	return nil
}

// parsePrefixes reads a comma-separated list of CIDRs or bare addresses.
func parsePrefixes(s string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if strings.Contains(f, "/") {
			p, err := netip.ParsePrefix(f)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %q", f)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(f)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q", f)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

func decodeB64(s string) ([]byte, error) {
	b, err := os.ReadFile(s)
	if err == nil {
		// allow pointing to file path for k8s secret mounts
		s = string(b)
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}
