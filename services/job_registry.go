package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sahilchouksey/mediavault-api/model"
)

// ProgressFunc lets a handler report incremental progress for its job.
// percent is clamped to [0,100] by the executor; message is free text shown
// to listeners on the content's event stream.
type ProgressFunc func(percent int, message string)

// JobHandlerFunc executes one job. The returned map is persisted as the
// job's result payload on success. Returning an error wrapped in
// *FatalError marks the job non-retriable regardless of attempts left.
type JobHandlerFunc func(ctx context.Context, job *model.Job, report ProgressFunc) (map[string]interface{}, error)

// JobRegistry maps job types to their handler implementations. Registration
// happens once during startup; lookups are concurrent-safe afterwards.
type JobRegistry struct {
	mu       sync.RWMutex
	handlers map[model.JobType]JobHandlerFunc
}

func NewJobRegistry() *JobRegistry {
	return &JobRegistry{
		handlers: make(map[model.JobType]JobHandlerFunc),
	}
}

// Register binds a handler to a job type. Registering the same type twice is
// a programming error and panics during startup rather than silently
// replacing the earlier handler.
func (r *JobRegistry) Register(jobType model.JobType, handler JobHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[jobType]; exists {
		panic(fmt.Sprintf("job registry: duplicate handler for %s", jobType))
	}
	r.handlers[jobType] = handler
}

// Resolve returns the handler for a job type, or an error if none is bound.
// An unknown type is permanent: retrying won't make a handler appear.
func (r *JobRegistry) Resolve(jobType model.JobType) (JobHandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[jobType]
	if !ok {
		return nil, NewFatalError(fmt.Errorf("no handler registered for job type %s", jobType))
	}
	return handler, nil
}

// RegisteredTypes returns the bound job types in sorted order, used by the
// observability endpoints.
func (r *JobRegistry) RegisteredTypes() []model.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]model.JobType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
