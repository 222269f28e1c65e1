package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"taskhound/internal/agent"
)

func TestClassify(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ClassPermanent},
		{"rate limit text", errors.New("rate limit exceeded"), ClassTransient},
		{"429", errors.New("server returned 429"), ClassTransient},
		{"503", errors.New("upstream said 503 service unavailable"), ClassTransient},
		{"connection refused", errors.New("dial tcp: connection refused"), ClassTransient},
		{"temporarily unavailable", errors.New("resource temporarily unavailable"), ClassTransient},
		{"overloaded", errors.New("model overloaded, try later"), ClassTransient},
		{"syntax error", errors.New("syntax error in patch"), ClassPermanent},
		{"agent failure", errors.New("agent reported failure"), ClassPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyRateLimitErrorType(t *testing.T) {
	c := NewClassifier()
	err := fmt.Errorf("dispatch failed: %w", &agent.RateLimitError{Provider: "agent"})
	if c.Classify(err) != ClassTransient {
		t.Error("wrapped RateLimitError must classify transient")
	}
}

func TestClassifyDeadlinePermanent(t *testing.T) {
	c := NewClassifier()
	// The per-item window expiring means the attempt is spent; the
	// queue-level retry policy owns what happens next.
	err := fmt.Errorf("agent timed out after 5m0s: %w", context.DeadlineExceeded)
	if c.Classify(err) != ClassPermanent {
		t.Error("deadline expiry must classify permanent")
	}
}
