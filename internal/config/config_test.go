package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultIsLoopbackAndValid(t *testing.T) {
	cfg := Default()
	if !cfg.IsLoopback() {
		t.Fatalf("Default().IsLoopback() = false, want true")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v, want nil", err)
	}
}

func TestAddrFormatsHostPort(t *testing.T) {
	cfg := Config{Host: "127.0.0.1", Port: 8765}
	if got, want := cfg.Addr(), "127.0.0.1:8765"; got != want {
		t.Fatalf("Addr() = %q, want %q", got, want)
	}
}

func TestIsLoopbackRejectsNonLoopbackHosts(t *testing.T) {
	for _, host := range []string{"0.0.0.0", "192.168.1.5", "example.com"} {
		cfg := Config{Host: host}
		if cfg.IsLoopback() {
			t.Errorf("IsLoopback(%q) = true, want false", host)
		}
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	base := Default()

	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"port too low", func(c *Config) { c.Port = 0 }},
		{"port too high", func(c *Config) { c.Port = 70000 }},
		{"no workers", func(c *Config) { c.WorkerCount = 0 }},
		{"lease too short", func(c *Config) { c.LeaseMS = 500 }},
		{"empty store path", func(c *Config) { c.StorePath = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mut(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("Validate() succeeded, want error")
			}
		})
	}
}

func TestGetenvHelpersFallBackOnMissingOrBadValues(t *testing.T) {
	const key = "COWORKER_TEST_UNSET_VAR"
	os.Unsetenv(key)

	if got := getenv(key, "fallback"); got != "fallback" {
		t.Errorf("getenv missing = %q, want fallback", got)
	}
	if got := getenvInt(key, 7); got != 7 {
		t.Errorf("getenvInt missing = %d, want 7", got)
	}
	if got := getenvInt64(key, 7); got != 7 {
		t.Errorf("getenvInt64 missing = %d, want 7", got)
	}
	if got := getenvBool(key, true); got != true {
		t.Errorf("getenvBool missing = %v, want true", got)
	}
	if got := getenvDuration(key, time.Second); got != time.Second {
		t.Errorf("getenvDuration missing = %v, want 1s", got)
	}

	t.Setenv(key, "not-an-int")
	if got := getenvInt(key, 7); got != 7 {
		t.Errorf("getenvInt malformed = %d, want fallback 7", got)
	}
	if got := getenvInt64(key, 7); got != 7 {
		t.Errorf("getenvInt64 malformed = %d, want fallback 7", got)
	}
	if got := getenvBool(key, true); got != true {
		t.Errorf("getenvBool malformed = %v, want fallback true", got)
	}
	if got := getenvDuration(key, time.Second); got != time.Second {
		t.Errorf("getenvDuration malformed = %v, want fallback 1s", got)
	}

	t.Setenv(key, "42")
	if got := getenvInt(key, 7); got != 42 {
		t.Errorf("getenvInt set = %d, want 42", got)
	}
	if got := getenvInt64(key, 7); got != 42 {
		t.Errorf("getenvInt64 set = %d, want 42", got)
	}

	t.Setenv(key, "true")
	if got := getenvBool(key, false); got != true {
		t.Errorf("getenvBool set = %v, want true", got)
	}

	t.Setenv(key, "250ms")
	if got := getenvDuration(key, time.Second); got != 250*time.Millisecond {
		t.Errorf("getenvDuration set = %v, want 250ms", got)
	}
}
