package llm

import (
	"context"
	"strings"
)

// Request is a single-turn text completion request
type Request struct {
	System      string
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// TextGenerator produces text from a prompt
type TextGenerator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// CleanText trims whitespace and a single pair of surrounding quotes from model output
func CleanText(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range []string{`"`, `'`, "“"} {
		if strings.HasPrefix(s, q) {
			s = strings.TrimPrefix(s, q)
			break
		}
	}
	for _, q := range []string{`"`, `'`, "”"} {
		if strings.HasSuffix(s, q) {
			s = strings.TrimSuffix(s, q)
			break
		}
	}
	return strings.TrimSpace(s)
}
