package disclosure

import (
	"regexp"

	"github.com/attestry/attestry/pkg/contracts"
)

// Scrubber redacts PII-shaped substrings from transcript content.
// It is pattern-based: anything shaped like an email, a phone number,
// an SSN, or an IPv4 address is replaced with a typed placeholder.
type Scrubber struct {
	emailRegex *regexp.Regexp
	ssnRegex   *regexp.Regexp
	phoneRegex *regexp.Regexp
	ipv4Regex  *regexp.Regexp
}

// NewScrubber returns a Scrubber with the standard pattern set compiled.
func NewScrubber() *Scrubber {
	return &Scrubber{
		emailRegex: regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
		ssnRegex:   regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		phoneRegex: regexp.MustCompile(`(?:\+\d{1,2}[\s.-]?)?(?:\(\d{3}\)\s?|\d{3}[\s.-])\d{3}[\s.-]\d{4}\b`),
		ipv4Regex:  regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
	}
}

// Scrub redacts PII-shaped substrings from the text.
// SSNs are replaced before phone numbers so the narrower shape wins.
func (s *Scrubber) Scrub(text string) string {
	text = s.emailRegex.ReplaceAllString(text, "[REDACTED_EMAIL]")
	text = s.ssnRegex.ReplaceAllString(text, "[REDACTED_SSN]")
	text = s.phoneRegex.ReplaceAllString(text, "[REDACTED_PHONE]")
	text = s.ipv4Regex.ReplaceAllString(text, "[REDACTED_IP]")
	return text
}

// ScrubMessages redacts message content while leaving roles untouched.
// The input slice is never modified.
func (s *Scrubber) ScrubMessages(messages []contracts.TranscriptMessage) []contracts.TranscriptMessage {
	out := make([]contracts.TranscriptMessage, len(messages))
	for i, m := range messages {
		out[i] = contracts.TranscriptMessage{
			Role:    m.Role,
			Content: s.Scrub(m.Content),
		}
	}
	return out
}
