package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"autoreply/internal/metrics"
)

// Engine is the name to workflow registry plus a default context merged
// under every caller context.
type Engine struct {
	mu         sync.RWMutex
	workflows  map[string]*Workflow
	defaultCtx Context
	logger     *slog.Logger
}

type EngineConfig struct {
	Logger *slog.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		workflows: make(map[string]*Workflow),
		logger:    logger,
	}
}

// Register adds w. A workflow with the same name is replaced (last wins).
func (e *Engine) Register(w *Workflow) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.workflows[w.Name]; exists {
		e.logger.Warn("workflow replaced", "workflow", w.Name)
	} else {
		e.logger.Info("workflow registered", "workflow", w.Name, "steps", len(w.Steps))
	}
	e.workflows[w.Name] = w
}

func (e *Engine) Get(name string) (*Workflow, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w, ok := e.workflows[name]
	return w, ok
}

// Names returns the registered workflow names, sorted.
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Sorted(maps.Keys(e.workflows))
}

// SetDefaultContext replaces the process-wide default context.
func (e *Engine) SetDefaultContext(dc Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defaultCtx = maps.Clone(dc)
}

// NewExecutionID returns "<name>_<unixnano>_<uuid>".
func NewExecutionID(name string) string {
	return fmt.Sprintf("%s_%d_%s", name, time.Now().UnixNano(), uuid.NewString())
}

// Execute runs the named workflow. The default context is copied first and
// wc is merged over it, so caller keys win. The returned context carries the
// execution metadata even when the run fails.
func (e *Engine) Execute(ctx context.Context, name string, wc Context) (Context, error) {
	e.mu.RLock()
	w, ok := e.workflows[name]
	merged := make(Context, len(e.defaultCtx)+len(wc)+2)
	maps.Copy(merged, e.defaultCtx)
	e.mu.RUnlock()

	if !ok {
		return nil, &WorkflowNotFoundError{Name: name}
	}
	maps.Copy(merged, wc)

	execID := NewExecutionID(name)
	merged[ExecutionIDKey] = execID
	logger := e.logger.With("workflow", name, "execution_id", execID)
	logger.Debug("workflow started")

	start := time.Now()
	out, err := w.Execute(ctx, merged)
	metrics.WorkflowLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.WorkflowRuns(name, StatusError).Inc()
		logger.Error("workflow failed", "error", err, "duration", time.Since(start))
		return out, err
	}
	metrics.WorkflowRuns(name, StatusSuccess).Inc()
	logger.Info("workflow completed", "duration", time.Since(start), "steps", len(w.Steps))
	return out, nil
}
