// Package workflow runs named, ordered pipelines of steps over one shared
// mutable context.
package workflow

import (
	"context"
	"sort"
	"time"
)

// Context is the execution context shared by reference across all steps of
// one workflow run.
type Context map[string]any

// MetadataKey is reserved for execution metadata. Step deltas never overwrite it.
const MetadataKey = "_metadata"

// Step statuses recorded in metadata.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Get returns the value stored under key and whether it was present.
func (c Context) Get(key string) (any, bool) {
	v, ok := c[key]
	return v, ok
}

// String returns the value under key if it is a string.
func (c Context) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// StepExecution is the timing record of one step run.
type StepExecution struct {
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
}

// Run is the workflow-level record of one execution.
type Run struct {
	Name           string        `json:"name"`
	ExecutionID    string        `json:"execution_id"`
	Status         string        `json:"status"`
	StartTime      time.Time     `json:"start_time"`
	Duration       time.Duration `json:"duration"`
	Error          string        `json:"error,omitempty"`
	StepsCompleted int           `json:"steps_completed"`
}

// Metadata is stored under MetadataKey.
type Metadata struct {
	StepExecution map[string]*StepExecution `json:"step_execution"`
	Workflow      *Run                      `json:"workflow,omitempty"`
}

// Metadata returns the context's metadata record, creating it on first use.
func (c Context) Metadata() *Metadata {
	if md, ok := c[MetadataKey].(*Metadata); ok {
		return md
	}
	md := &Metadata{StepExecution: make(map[string]*StepExecution)}
	c[MetadataKey] = md
	return md
}

// StepHandler computes a delta from the context. It should not mutate wc;
// the returned keys are merged by the step.
type StepHandler func(ctx context.Context, wc Context) (Context, error)

// Step is one unit of a workflow. RequiredInputs must all be present before
// Handler runs; OutputKeys are the keys Handler promises to add.
type Step struct {
	Name           string
	Description    string
	RequiredInputs []string
	OptionalInputs []string
	OutputKeys     []string
	Handler        StepHandler
}

// Missing returns the required inputs absent from wc, sorted.
func (s *Step) Missing(wc Context) []string {
	var missing []string
	for _, k := range s.RequiredInputs {
		if _, ok := wc[k]; !ok {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	return missing
}

// Execute checks inputs, runs the handler and merges its delta into wc
// (last write wins). A missing input fails with *MissingInputError before the
// handler is invoked. Handler errors are recorded with status=error and returned.
func (s *Step) Execute(ctx context.Context, wc Context) error {
	if missing := s.Missing(wc); len(missing) > 0 {
		return &MissingInputError{Step: s.Name, Missing: missing}
	}

	rec := &StepExecution{StartTime: time.Now()}
	wc.Metadata().StepExecution[s.Name] = rec

	delta, err := s.Handler(ctx, wc)
	rec.Duration = time.Since(rec.StartTime)
	if err != nil {
		rec.Status = StatusError
		rec.Error = err.Error()
		return err
	}

	for k, v := range delta {
		if k == MetadataKey {
			continue
		}
		wc[k] = v
	}
	rec.Status = StatusSuccess
	return nil
}
