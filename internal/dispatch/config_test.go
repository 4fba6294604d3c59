// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package dispatch

import "testing"

// Test that the default configs validate once a band list is supplied, which
// is the one field no default can guess.
func TestDefaultConfigsValidate(t *testing.T) {
	for _, cfg := range []Config{DefaultProdConfig, DefaultTestConfig} {
		if err := cfg.Validate(); err == nil {
			t.Fatal("a config without bands should not validate")
		}
		cfg.Bands = []string{"f200w"}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("default config should validate with bands set: %s", err)
		}
	}
}

// Test that each obviously wrong field is caught individually.
func TestConfigValidateRejects(t *testing.T) {
	good := func() Config {
		cfg := DefaultTestConfig
		cfg.Bands = []string{"f200w"}
		return cfg
	}

	cases := []struct {
		name    string
		corrupt func(*Config)
	}{
		{"no bands", func(c *Config) { c.Bands = nil }},
		{"zero target", func(c *Config) { c.TargetNIter = 0 }},
		{"zero active fraction", func(c *Config) { c.MaxActiveFraction = 0 }},
		{"active fraction above one", func(c *Config) { c.MaxActiveFraction = 1.5 }},
		{"zero per-patch cap", func(c *Config) { c.MaxActivePerPatch = 0 }},
		{"zero margin scale", func(c *Config) { c.NScale = 0 }},
		{"zero boundary radius", func(c *Config) { c.BoundaryRadius = 0 }},
		{"zero max radius", func(c *Config) { c.MaxRadius = 0 }},
		{"zero min radius", func(c *Config) { c.MinRadius = 0 }},
		{"max below min radius", func(c *Config) { c.MaxRadius = 0.5; c.MinRadius = 1 }},
		{"negative buffer", func(c *Config) { c.Buffer = -1 }},
		{"negative fixed cap", func(c *Config) { c.MaxFixed = -1 }},
		{"unknown weighting", func(c *Config) { c.Weighting = "linear" }},
		{"zero seed sigma", func(c *Config) { c.SeedSigma = 0 }},
	}
	for _, tc := range cases {
		cfg := good()
		tc.corrupt(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %q should not validate", tc.name)
		}
	}
}
