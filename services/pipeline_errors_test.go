package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassifyJobError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantType      JobErrorType
		wantRetriable bool
	}{
		{"nil", nil, ErrorTypeUnknown, false},
		{"connection refused", errors.New("dial tcp 10.0.0.1:443: connection refused"), ErrorTypeNetwork, true},
		{"timeout", errors.New("request timed out after 30s"), ErrorTypeTimeout, true},
		{"deadline exceeded", context.DeadlineExceeded, ErrorTypeTimeout, true},
		{"wrapped deadline", fmt.Errorf("transcribe audio: %w", context.DeadlineExceeded), ErrorTypeTimeout, true},
		{"rate limited", errors.New("API error 429: too many requests"), ErrorTypeRateLimit, true},
		{"validation", errors.New("invalid file type: exe"), ErrorTypeValidation, false},
		{"corrupt media", errors.New("ffmpeg exited with status 1: corrupt input"), ErrorTypeMedia, false},
		{"db constraint", errors.New("duplicate key value violates unique constraint"), ErrorTypeDatabase, false},
		{"unknown is retriable", errors.New("something unexpected happened"), ErrorTypeUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, gotRetriable := ClassifyJobError(tt.err)
			if gotType != tt.wantType || gotRetriable != tt.wantRetriable {
				t.Errorf("ClassifyJobError(%v) = %s/%v, want %s/%v",
					tt.err, gotType, gotRetriable, tt.wantType, tt.wantRetriable)
			}
		})
	}
}

func TestFatalErrorNeverRetriable(t *testing.T) {
	// Even a message that pattern-matches to a retriable class must not be
	// retried once wrapped as fatal.
	err := NewFatalError(errors.New("connection refused by upstream"))

	if !IsFatal(err) {
		t.Fatal("IsFatal should detect a FatalError")
	}
	if _, retriable := ClassifyJobError(err); retriable {
		t.Error("fatal errors must not be retriable")
	}

	wrapped := fmt.Errorf("sync connector: %w", err)
	if !IsFatal(wrapped) {
		t.Error("IsFatal should see through wrapping")
	}
	if _, retriable := ClassifyJobError(wrapped); retriable {
		t.Error("wrapped fatal errors must not be retriable")
	}
}

func TestBackoffDelay(t *testing.T) {
	base := 5 * time.Second
	maxDelay := 5 * time.Minute

	if d := BackoffDelay(1, base, maxDelay); d != base {
		t.Errorf("attempt 1 = %s, want %s", d, base)
	}
	if d := BackoffDelay(2, base, maxDelay); d != 2*base {
		t.Errorf("attempt 2 = %s, want %s", d, 2*base)
	}
	if d := BackoffDelay(3, base, maxDelay); d != 4*base {
		t.Errorf("attempt 3 = %s, want %s", d, 4*base)
	}

	// Monotonically non-decreasing and capped.
	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		d := BackoffDelay(attempt, base, maxDelay)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %s < %s", attempt, d, prev)
		}
		if d > maxDelay {
			t.Fatalf("delay %s exceeds cap %s at attempt %d", d, maxDelay, attempt)
		}
		prev = d
	}
	if BackoffDelay(20, base, maxDelay) != maxDelay {
		t.Error("large attempts should saturate at the cap")
	}

	// Zero config falls back to defaults rather than busy-retrying.
	if d := BackoffDelay(1, 0, 0); d <= 0 {
		t.Errorf("default delay must be positive, got %s", d)
	}
	if d := BackoffDelay(0, base, maxDelay); d != base {
		t.Errorf("attempt 0 should behave like attempt 1, got %s", d)
	}
}
