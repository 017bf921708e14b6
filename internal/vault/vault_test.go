package vault

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParseRef(t *testing.T) {
	cases := []struct {
		in       string
		wantPath string
		wantKey  string
		wantErr  bool
	}{
		{"vault:secret/gatekey/main#password", "secret/gatekey/main", "password", false},
		{"vault:kv/a#b#c", "kv/a#b", "c", false},
		{"secret/gatekey#password", "", "", true}, // no prefix
		{"vault:secret/gatekey", "", "", true},    // no key
		{"vault:secret/gatekey#", "", "", true},   // empty key
		{"vault:#password", "", "", true},         // empty path
		{"vault:secret#password", "", "", true},   // mount only
	}
	for _, tc := range cases {
		p, k, err := ParseRef(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrBadRef) {
				t.Errorf("ParseRef(%q) err = %v, want ErrBadRef", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseRef(%q): %v", tc.in, err)
		}
		if p != tc.wantPath || k != tc.wantKey {
			t.Errorf("ParseRef(%q) = %q, %q; want %q, %q", tc.in, p, k, tc.wantPath, tc.wantKey)
		}
	}
}

func TestResolveServesFromCache(t *testing.T) {
	c := &Client{
		ttl: time.Minute,
		cache: map[string]cached{
			"secret/gatekey/main#password": {val: "masterkey", exp: time.Now().Add(time.Minute)},
		},
	}

	got, err := c.Resolve(context.Background(), "vault:secret/gatekey/main#password")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "masterkey" {
		t.Fatalf("Resolve = %q, want masterkey", got)
	}
}

func TestNewKeepsCacheTTL(t *testing.T) {
	t.Setenv("VAULT_ADDR", "http://127.0.0.1:8200")
	t.Setenv("VAULT_TOKEN", "s.test")
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // renewal loop exits at once

	for _, ttl := range []time.Duration{90 * time.Second, 0} {
		c, err := New(ctx, ttl, nil)
		if err != nil {
			t.Fatalf("New(%v): %v", ttl, err)
		}
		if c.ttl != ttl {
			t.Errorf("ttl = %v, want %v", c.ttl, ttl)
		}
	}
}

func TestIsRef(t *testing.T) {
	if !IsRef("vault:x/y#z") || IsRef("masterkey") || IsRef("") {
		t.Fatal("IsRef misclassified input")
	}
}
