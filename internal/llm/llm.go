// Package llm provides the completion client used for summarization.
// It is deliberately small: one Complete call behind an interface so the
// conversation manager can run without a provider configured.
package llm

import "context"

// Client produces text completions.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
