package services

import (
	"context"
	"testing"

	"github.com/sahilchouksey/mediavault-api/model"
)

func noopHandler(ctx context.Context, job *model.Job, report ProgressFunc) (map[string]interface{}, error) {
	return nil, nil
}

func TestJobRegistryRegisterAndResolve(t *testing.T) {
	r := NewJobRegistry()
	r.Register(model.JobTypeTranscribe, noopHandler)

	if _, err := r.Resolve(model.JobTypeTranscribe); err != nil {
		t.Fatalf("Resolve after Register failed: %v", err)
	}

	_, err := r.Resolve(model.JobTypeDocGenerate)
	if err == nil {
		t.Fatal("Resolve of an unbound type should fail")
	}
	if !IsFatal(err) {
		t.Error("an unknown job type is permanent and must not be retried")
	}
}

func TestJobRegistryDuplicatePanics(t *testing.T) {
	r := NewJobRegistry()
	r.Register(model.JobTypeExtractAudio, noopHandler)

	defer func() {
		if recover() == nil {
			t.Error("duplicate registration should panic")
		}
	}()
	r.Register(model.JobTypeExtractAudio, noopHandler)
}

func TestJobRegistryRegisteredTypesSorted(t *testing.T) {
	r := NewJobRegistry()
	r.Register(model.JobTypeTranscribe, noopHandler)
	r.Register(model.JobTypeExtractAudio, noopHandler)
	r.Register(model.JobTypeDocGenerate, noopHandler)

	types := r.RegisteredTypes()
	if len(types) != 3 {
		t.Fatalf("RegisteredTypes returned %d entries, want 3", len(types))
	}
	for i := 1; i < len(types); i++ {
		if types[i-1] >= types[i] {
			t.Errorf("types not sorted: %s before %s", types[i-1], types[i])
		}
	}
}
