package model

import (
	"testing"
	"time"
)

func TestDedupeKeys(t *testing.T) {
	natural := NaturalDedupeKey(JobTypeTranscribe, 12)
	if natural != "transcribe:content:12" {
		t.Errorf("NaturalDedupeKey = %q", natural)
	}

	reprocess := ReprocessDedupeKey(JobTypeTranscribe, 12, "abc123")
	if reprocess == natural {
		t.Error("reprocess key must differ from the natural key")
	}
	if reprocess != "transcribe:content:12:reprocess:abc123" {
		t.Errorf("ReprocessDedupeKey = %q", reprocess)
	}

	// Distinct stages for the same content never collide.
	if NaturalDedupeKey(JobTypeDocGenerate, 12) == natural {
		t.Error("keys for different stages must differ")
	}
}

func TestJobIsTerminal(t *testing.T) {
	for status, terminal := range map[JobStatus]bool{
		JobStatusPending:    false,
		JobStatusProcessing: false,
		JobStatusCompleted:  true,
		JobStatusFailed:     true,
	} {
		j := &Job{Status: status}
		if j.IsTerminal() != terminal {
			t.Errorf("IsTerminal(%s) = %v, want %v", status, j.IsTerminal(), terminal)
		}
	}
}

func TestJobAttemptsExhausted(t *testing.T) {
	j := &Job{AttemptCount: 2, MaxAttempts: 3}
	if j.AttemptsExhausted() {
		t.Error("attempts remain, should not be exhausted")
	}
	j.AttemptCount = 3
	if !j.AttemptsExhausted() {
		t.Error("budget spent, should be exhausted")
	}
}

func TestJobDuration(t *testing.T) {
	j := &Job{}
	if j.Duration() != 0 {
		t.Error("unfinished job has zero duration")
	}

	start := time.Now()
	end := start.Add(90 * time.Second)
	j.StartedAt = &start
	j.CompletedAt = &end
	if j.Duration() != 90*time.Second {
		t.Errorf("Duration = %s, want 90s", j.Duration())
	}
}
