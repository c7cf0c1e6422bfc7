package main

import (
	"strings"
	"testing"

	"nurserypos/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := []struct {
		name   string
		secret string
	}{
		{"empty", ""},
		{"short", "changeme"},
		{"thirty one chars", strings.Repeat("a", 31)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Config{AuthSecret: tc.secret}
			if err := validateSecurityConfig(cfg); err == nil {
				t.Fatalf("expected validation error for secret %q", tc.secret)
			}
		})
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	cfg := config.Config{AuthSecret: "4f9d2c81a7e6b350c9d8f172e4a6b0c3"}
	if err := validateSecurityConfig(cfg); err != nil {
		t.Fatalf("expected strong secret to pass, got %v", err)
	}
}
