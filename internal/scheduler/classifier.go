package scheduler

import (
	"context"
	"errors"
	"strings"

	"taskhound/internal/agent"
)

// ErrorClass partitions dispatch errors into retry behavior.
type ErrorClass string

const (
	// ClassTransient errors retry with backoff within the attempt.
	ClassTransient ErrorClass = "transient"
	// ClassPermanent errors fail the attempt immediately.
	ClassPermanent ErrorClass = "permanent"
)

// Classifier maps dispatch errors to classes. Rules are ordered
// substring checks over the lowercased error text; the first match
// wins. Rate limit errors are always transient regardless of text.
type Classifier struct {
	transientHints []string
}

// NewClassifier returns the default classifier.
func NewClassifier() *Classifier {
	return &Classifier{
		transientHints: []string{
			"rate limit",
			"too many requests",
			"429",
			"timeout",
			"connection",
			"temporar",
			"unavailable",
			"overloaded",
			"503",
			"network",
			"i/o",
		},
	}
}

// Classify returns the error class for a dispatch error. A per-item
// deadline expiry is permanent: the attempt consumed its whole window,
// so retrying inside the same dispatch cannot help.
func (c *Classifier) Classify(err error) ErrorClass {
	if err == nil {
		return ClassPermanent
	}

	var rle *agent.RateLimitError
	if errors.As(err, &rle) {
		return ClassTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassPermanent
	}

	msg := strings.ToLower(err.Error())
	for _, h := range c.transientHints {
		if strings.Contains(msg, h) {
			return ClassTransient
		}
	}
	return ClassPermanent
}
