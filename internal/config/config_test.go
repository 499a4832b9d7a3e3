package config

import (
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() config should validate, got: %v", err)
	}
}

func TestValidateAggregatesProblems(t *testing.T) {
	cfg := Default()
	cfg.Limits.MaxObservations = 0
	cfg.Limits.MaxDecisions = 0
	cfg.Paths.BaseDir = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"max_observations", "max_decisions", "base_dir"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected error to mention %q, got: %s", want, msg)
		}
	}
}

func TestValidateAgentName(t *testing.T) {
	cfg := Default()

	cases := []struct {
		name    string
		wantErr bool
	}{
		{"planner", false},
		{"agent-007_v2", false},
		{"", true},
		{"has space", true},
		{"has/slash", true},
		{strings.Repeat("a", cfg.Limits.MaxAgentNameLen+1), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := cfg.ValidateAgentName(tc.name)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateAgentName(%q) error = %v, wantErr %v", tc.name, err, tc.wantErr)
			}
		})
	}
}

func TestValidateTextContentRejectsMaliciousPatterns(t *testing.T) {
	cfg := Default()

	bad := []string{
		`<script>alert(1)</script>`,
		`javascript:alert(1)`,
		`<img onerror="alert(1)">`,
		`eval(maliciousCode)`,
	}
	for _, text := range bad {
		if err := cfg.ValidateTextContent("observation", text); err == nil {
			t.Errorf("expected rejection for %q", text)
		}
	}

	if err := cfg.ValidateTextContent("observation", "parsed story 2.3, looks clean"); err != nil {
		t.Errorf("unexpected rejection of benign text: %v", err)
	}
}

func TestSanitizeTextContentStripsControlsAndTruncates(t *testing.T) {
	cfg := Default()
	cfg.Limits.MaxTextLen = 10

	out := cfg.SanitizeTextContent("ab\x00cd\x07ef\tgh\nij")
	if strings.ContainsAny(out, "\x00\x07") {
		t.Errorf("expected control characters stripped, got %q", out)
	}

	long := strings.Repeat("x", 50)
	out = cfg.SanitizeTextContent(long)
	if !strings.HasSuffix(out, truncationMarker) {
		t.Errorf("expected truncation marker, got %q", out)
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	cfg := Default()
	cfg.Limits.MaxTextLen = 20

	text := strings.Repeat("hello world ", 5)
	once := cfg.SanitizeTextContent(text)
	twice := cfg.SanitizeTextContent(once)
	if once != twice {
		t.Errorf("sanitize not idempotent: once=%q twice=%q", once, twice)
	}
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	t.Setenv("MAX_OBSERVATIONS", "7")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Limits.MaxObservations != 7 {
		t.Errorf("MaxObservations = %d, want 7", cfg.Limits.MaxObservations)
	}
}
