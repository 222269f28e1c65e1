// Package agent holds the execution capability boundary. The scheduler
// hands a work item prompt to an Executor and gets back a normalized
// AgentResult; everything provider-specific stays behind the interface.
package agent

import (
	"context"
	"fmt"
	"time"

	"taskhound/internal/types"
)

// Executor runs one work item against the external execution agent.
type Executor interface {
	// Execute sends the prompt plus a rendered context block and returns
	// the normalized result. Implementations honor ctx cancellation.
	Execute(ctx context.Context, prompt, contextBlock string) (*types.AgentResult, error)
}

// RateLimitError indicates the execution agent refused work due to rate
// limiting. Callers use errors.As to detect it and back off.
type RateLimitError struct {
	Provider    string
	RetryAfter  time.Duration
	RawResponse string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limit exceeded, retry after %v", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limit exceeded", e.Provider)
}
