package services

import (
	"context"
	"errors"
	"strings"
	"time"
)

// FatalError wraps a job error that must not be retried, regardless of how
// many attempts remain. Handlers return one when the failure is caused by
// the input itself (corrupt file, missing prerequisite) rather than by a
// transient condition.
type FatalError struct {
	Err error
}

func NewFatalError(err error) *FatalError {
	return &FatalError{Err: err}
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err (or anything it wraps) was marked fatal.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// JobErrorType categorizes a job failure for retry decisions and metrics.
type JobErrorType string

const (
	ErrorTypeNetwork    JobErrorType = "network"
	ErrorTypeTimeout    JobErrorType = "timeout"
	ErrorTypeRateLimit  JobErrorType = "rate_limit"
	ErrorTypeValidation JobErrorType = "validation"
	ErrorTypeMedia      JobErrorType = "media"
	ErrorTypeDatabase   JobErrorType = "database"
	ErrorTypeUnknown    JobErrorType = "unknown"
)

// ClassifyJobError inspects an error and reports its category plus whether
// the failure is worth retrying. Context cancellation and deadline errors
// are checked structurally; everything else falls back to message matching
// since errors arriving from external providers lose their types over HTTP.
func ClassifyJobError(err error) (JobErrorType, bool) {
	if err == nil {
		return ErrorTypeUnknown, false
	}
	if IsFatal(err) {
		return classifyMessage(err.Error()), false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout, true
	}

	errType := classifyMessage(err.Error())
	switch errType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit:
		return errType, true
	case ErrorTypeValidation, ErrorTypeMedia:
		return errType, false
	case ErrorTypeDatabase:
		return errType, false
	}
	// Unknown failures get the benefit of the doubt while attempts remain.
	return ErrorTypeUnknown, true
}

func classifyMessage(msg string) JobErrorType {
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "no such host"),
		strings.Contains(lower, "network"),
		strings.Contains(lower, "eof"):
		return ErrorTypeNetwork
	case strings.Contains(lower, "timeout"),
		strings.Contains(lower, "deadline exceeded"),
		strings.Contains(lower, "timed out"):
		return ErrorTypeTimeout
	case strings.Contains(lower, "429"),
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "too many requests"):
		return ErrorTypeRateLimit
	case strings.Contains(lower, "invalid"),
		strings.Contains(lower, "validation"),
		strings.Contains(lower, "malformed"),
		strings.Contains(lower, "unsupported"):
		return ErrorTypeValidation
	case strings.Contains(lower, "corrupt"),
		strings.Contains(lower, "codec"),
		strings.Contains(lower, "ffmpeg"),
		strings.Contains(lower, "ffprobe"),
		strings.Contains(lower, "pdf"):
		return ErrorTypeMedia
	case strings.Contains(lower, "duplicate key"),
		strings.Contains(lower, "constraint"),
		strings.Contains(lower, "sqlstate"):
		return ErrorTypeDatabase
	}
	return ErrorTypeUnknown
}

// BackoffDelay computes the wait before retry number attempt (1-based):
// base, base*2, base*4, ... capped at maxDelay. Non-positive attempts
// behave like the first.
func BackoffDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		base = 30 * time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 15 * time.Minute
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
