package config

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATABASE_URL", "FEED_URL", "FEED_SOURCE", "FEED_TIMEOUT", "STORE_TIMEOUT",
		"NIGHTLY_RATE", "MAX_GUESTS", "COOKIE_HASH_KEY", "COOKIE_BLOCK_KEY",
		"SESSION_TTL", "SYNC_INTERVAL", "RATE_LIMIT_PER_MIN", "ENV",
		"MAX_STAY_NIGHTS", "SNAPSHOT_MAX_AGE", "TRUSTED_PROXIES",
	} {
		t.Setenv(k, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.FeedSource != "airbnb" {
		t.Fatalf("expected airbnb source, got %q", cfg.FeedSource)
	}
	if cfg.FeedTimeout != 30*time.Second || cfg.StoreTimeout != 10*time.Second {
		t.Fatalf("unexpected timeouts %s / %s", cfg.FeedTimeout, cfg.StoreTimeout)
	}
	if cfg.NightlyRate.String() != "250" || cfg.MaxGuests != 10 {
		t.Fatalf("unexpected pricing defaults %s / %d", cfg.NightlyRate, cfg.MaxGuests)
	}
	if cfg.SuccessResetDelay != 2*time.Second {
		t.Fatalf("unexpected success reset delay %s", cfg.SuccessResetDelay)
	}
	if cfg.SyncInterval != 0 {
		t.Fatalf("periodic sync should be off by default, got %s", cfg.SyncInterval)
	}
	if cfg.MaxStayNights != 90 || cfg.SnapshotMaxAge != time.Minute {
		t.Fatalf("unexpected widget defaults %d / %s", cfg.MaxStayNights, cfg.SnapshotMaxAge)
	}
	if len(cfg.TrustedProxies) != 0 {
		t.Fatalf("no proxy is trusted by default, got %v", cfg.TrustedProxies)
	}
	if !cfg.IsProduction() {
		t.Fatal("ENV defaults to production")
	}
}

func TestFromEnv_TrustedProxies(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.7 ,fd00::/8")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	want := []string{"10.0.0.0/8", "192.168.1.7/32", "fd00::/8"}
	if len(cfg.TrustedProxies) != len(want) {
		t.Fatalf("expected %v, got %v", want, cfg.TrustedProxies)
	}
	for i, p := range cfg.TrustedProxies {
		if p.String() != want[i] {
			t.Fatalf("expected %v, got %v", want, cfg.TrustedProxies)
		}
	}
}

func TestValidateSync_RequiresStoreAndFeed(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}

	var ce *Error
	if err := cfg.ValidateSync(); !errors.As(err, &ce) || ce.Key != "DATABASE_URL" {
		t.Fatalf("expected DATABASE_URL error, got %v", err)
	}

	cfg.DatabaseURL = "postgres://localhost/villa"
	if err := cfg.ValidateSync(); !errors.As(err, &ce) || ce.Key != "FEED_URL" {
		t.Fatalf("expected FEED_URL error, got %v", err)
	}

	cfg.FeedURL = "ftp://example.com/cal.ics"
	if err := cfg.ValidateSync(); !errors.As(err, &ce) || ce.Key != "FEED_URL" {
		t.Fatalf("expected FEED_URL scheme error, got %v", err)
	}

	cfg.FeedURL = "https://www.airbnb.com/calendar/ical/123.ics?s=abc"
	if err := cfg.ValidateSync(); err != nil {
		t.Fatalf("ValidateSync: %v", err)
	}
}

func TestFromEnv_RejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"NIGHTLY_RATE":     "two hundred",
		"MAX_GUESTS":       "0",
		"FEED_SOURCE":      "booking_request",
		"MAX_STAY_NIGHTS":  "0",
		"SNAPSHOT_MAX_AGE": "-1s",
		"TRUSTED_PROXIES":  "10.0.0.0/33",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, val)
			_, err := FromEnv()
			var ce *Error
			if !errors.As(err, &ce) || ce.Key != key {
				t.Fatalf("expected config error for %s, got %v", key, err)
			}
		})
	}
}

func TestValidateServer_CookieKeys(t *testing.T) {
	clearEnv(t)
	t.Setenv("COOKIE_HASH_KEY", base64.StdEncoding.EncodeToString([]byte(strings.Repeat("h", 32))))
	t.Setenv("COOKIE_BLOCK_KEY", base64.StdEncoding.EncodeToString([]byte(strings.Repeat("b", 32))))
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		t.Fatalf("ValidateServer: %v", err)
	}

	cfg.CookieBlockKey = []byte("short")
	var ce *Error
	if err := cfg.ValidateServer(); !errors.As(err, &ce) || ce.Key != "COOKIE_BLOCK_KEY" {
		t.Fatalf("expected block key error, got %v", err)
	}
}
