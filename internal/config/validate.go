package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/agentmem/substrate/internal/errs"
)

var agentNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// maliciousPatterns is the closed set of patterns ValidateTextContent
// rejects outright rather than merely stripping.
var maliciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script[\s>]`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)data:text/html`),
	regexp.MustCompile(`(?i)\bon[a-z]+\s*=\s*['"]`), // event-attribute assignment, e.g. onerror="
	regexp.MustCompile(`(?i)\beval\s*\(`),
	regexp.MustCompile(`(?i)\bexec\s*\(`),
	regexp.MustCompile(`(?i)\bnew\s+Function\s*\(`),
}

const truncationMarker = " … [truncated]"

// ValidateAgentName enforces ^[A-Za-z0-9_-]{1,N}$ where N is
// Limits.MaxAgentNameLen.
func (c *Config) ValidateAgentName(name string) error {
	if name == "" {
		return fmt.Errorf("config: agent name must not be empty: %w", errs.InvalidArgument)
	}
	if len(name) > c.Limits.MaxAgentNameLen {
		return fmt.Errorf("config: agent name exceeds %d characters: %w", c.Limits.MaxAgentNameLen, errs.InvalidArgument)
	}
	if !agentNamePattern.MatchString(name) {
		return fmt.Errorf("config: agent name %q contains invalid characters: %w", name, errs.InvalidArgument)
	}
	return nil
}

// ValidateTextContent rejects text that is too long or matches a malicious
// pattern. field is used only to annotate the error with which input field
// failed, e.g. "observation" or "decision.reasoning".
func (c *Config) ValidateTextContent(field, text string) error {
	if !c.EnableInputValidation {
		return nil
	}
	if len(text) > c.Limits.MaxTextLen*4 {
		// Hard ceiling well beyond the truncation point: reject outright
		// rather than silently truncating enormous payloads.
		return fmt.Errorf("config: %s exceeds maximum raw length: %w", field, errs.InvalidArgument)
	}
	for _, pattern := range maliciousPatterns {
		if pattern.MatchString(text) {
			return fmt.Errorf("config: %s matches a forbidden pattern: %w", field, errs.InvalidArgument)
		}
	}
	return nil
}

// SanitizeTextContent strips C0 control characters (except \t and \n) and
// truncates to MaxTextLen with a literal truncation marker. It never
// errors — validation (which can reject) is a separate, earlier step.
func (c *Config) SanitizeTextContent(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == '\t' || r == '\n' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()

	limit := c.Limits.MaxTextLen
	if limit <= 0 {
		limit = len(out)
	}
	if len(out) <= limit {
		return out
	}

	// Reserve room for the marker so the final string (content + marker)
	// never exceeds limit — this is what keeps Sanitize idempotent: a
	// second pass over an already-marked string sees len <= limit and
	// returns it unchanged.
	contentLimit := limit - len(truncationMarker)
	if contentLimit < 0 {
		contentLimit = 0
	}
	cut := contentLimit
	for cut > 0 && !isRuneBoundary(out, cut) {
		cut--
	}
	return out[:cut] + truncationMarker
}

func isRuneBoundary(s string, i int) bool {
	if i <= 0 || i >= len(s) {
		return true
	}
	return s[i]&0xC0 != 0x80
}
