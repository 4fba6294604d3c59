// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package loadscene

import (
	"encoding/json"
	"reflect"
	"testing"
)

// unmarshal decodes the JSON encoded bytes into a VariateConfig object.
func unmarshal(b []byte, t *testing.T) (c VariateConfig) {
	if err := json.Unmarshal(b, &c); err != nil {
		t.Fatalf("failed to unmarshal JSON object: %s", err)
	}
	return
}

// TestParseVariates tests parsing variates from their JSON encoded bytes.
func TestParseVariates(t *testing.T) {
	tests := [][]byte{
		[]byte(`{
		"Name": "Constant",
		"Parameters": 888
		}`),

		[]byte(`{
		"Name": "Uniform",
		"Seed": 123,
		"Parameters": {"Lower": 0.1, "Upper": 0.9}
		}`),

		[]byte(`{
		"Name": "Normal",
		"Seed": 3812,
		"Parameters": {"Mean": 10, "Stddev": 100.72834}
		}`),

		[]byte(`{
		"Name": "Pareto",
		"Seed": 7824,
		"Parameters": {"Xm": 10, "Alpha": 100.72834}
		}`),
	}

	for _, test := range tests {
		cfg := unmarshal(test, t)
		cfg.Parse().Sample()
	}
}

// TestVariateSupports checks that samples stay on their distribution's
// support.
func TestVariateSupports(t *testing.T) {
	if v := NewConstant(3.25).Sample(); v != 3.25 {
		t.Fatalf("constant sampled %f, want 3.25", v)
	}

	u := NewUniform(7, 0.4, 0.9)
	for i := 0; i < 1000; i++ {
		if v := u.Sample(); v < 0.4 || v >= 0.9 {
			t.Fatalf("uniform sampled %f outside [0.4, 0.9)", v)
		}
	}

	p := NewPareto(7, 5.0, 1.5)
	for i := 0; i < 1000; i++ {
		if v := p.Sample(); v < 5.0 {
			t.Fatalf("pareto sampled %f below its scale parameter", v)
		}
	}
}

// TestParseConfigFromJSON tests overriding the default config with JSON
// encoded bytes, the way the command line tool applies them.
func TestParseConfigFromJSON(t *testing.T) {
	exp := DefaultConfig
	exp.Workers = 4
	exp.NIterPerFit = 50
	exp.FailEvery = 16
	exp.FitTime = "1ms"
	exp.RunTime = "30s"
	exp.Field.NClusters = 6
	exp.Field.Flux = VariateConfig{
		Name:       "Pareto",
		Seed:       11,
		Parameters: []byte(`{"Xm": 2, "Alpha": 1.2}`),
	}
	exp.parseDurations()

	b := []byte(`{
	"Workers": 4,
	"NIterPerFit": 50,
	"FailEvery": 16,
	"FitTime": "1ms",
	"RunTime": "30s",

	"Field": {
		"NClusters": 6,
		"Flux": {"Name": "Pareto", "Seed": 11, "Parameters": {"Xm": 2, "Alpha": 1.2}}
	}
	}`)

	got := DefaultConfig
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("failed to parse JSON encoded bytes: %s", err)
	}
	got.parseDurations()

	if !reflect.DeepEqual(exp, got) {
		t.Errorf("decoded object is not equal to the expected")
	}
}

// TestConfigValidate rejects obviously wrong settings.
func TestConfigValidate(t *testing.T) {
	good := DefaultConfig
	good.parseDurations()
	if err := good.Validate(); err != nil {
		t.Fatalf("the default config should validate: %s", err)
	}

	bad := DefaultConfig
	bad.Workers = 0
	bad.parseDurations()
	if bad.Validate() == nil {
		t.Fatalf("zero workers should not validate")
	}

	bad = DefaultConfig
	bad.NIterPerFit = 0
	bad.parseDurations()
	if bad.Validate() == nil {
		t.Fatalf("zero iterations per fit should not validate")
	}

	bad = DefaultConfig
	bad.MinSleep = "50ms"
	bad.MaxSleep = "1ms"
	bad.parseDurations()
	if bad.Validate() == nil {
		t.Fatalf("a backoff ceiling below the floor should not validate")
	}
}
