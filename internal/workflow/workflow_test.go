package workflow

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func constStep(name string, required []string, out Context) *Step {
	keys := make([]string, 0, len(out))
	for k := range out {
		keys = append(keys, k)
	}
	return &Step{
		Name:           name,
		RequiredInputs: required,
		OutputKeys:     keys,
		Handler: func(ctx context.Context, wc Context) (Context, error) {
			return out, nil
		},
	}
}

// --- Step ---

func TestStep_MissingInputNeverInvokesHandler(t *testing.T) {
	calls := 0
	s := &Step{
		Name:           "process_message",
		RequiredInputs: []string{"message"},
		Handler: func(ctx context.Context, wc Context) (Context, error) {
			calls++
			return nil, nil
		},
	}

	wc := Context{"platform": "whatsapp"}
	err := s.Execute(context.Background(), wc)

	require.Error(t, err)
	var mi *MissingInputError
	require.True(t, errors.As(err, &mi))
	assert.Equal(t, []string{"message"}, mi.Missing)
	assert.Equal(t, 0, calls)
	_, hasMeta := wc[MetadataKey]
	assert.False(t, hasMeta, "no metadata should be written before inputs are satisfied")
}

func TestStep_MergesDeltaAndRecordsMetadata(t *testing.T) {
	s := &Step{
		Name:           "enrich",
		RequiredInputs: []string{"a"},
		Handler: func(ctx context.Context, wc Context) (Context, error) {
			return Context{"a": 2, "b": "new", MetadataKey: "ignored"}, nil
		},
	}
	wc := Context{"a": 1}
	require.NoError(t, s.Execute(context.Background(), wc))

	assert.Equal(t, 2, wc["a"])
	assert.Equal(t, "new", wc["b"])
	rec := wc.Metadata().StepExecution["enrich"]
	require.NotNil(t, rec)
	assert.Equal(t, StatusSuccess, rec.Status)
	assert.False(t, rec.StartTime.IsZero())
}

func TestStep_HandlerErrorRecorded(t *testing.T) {
	s := &Step{
		Name: "boom",
		Handler: func(ctx context.Context, wc Context) (Context, error) {
			return Context{"partial": true}, errors.New("exploded")
		},
	}
	wc := Context{}
	err := s.Execute(context.Background(), wc)
	require.EqualError(t, err, "exploded")

	rec := wc.Metadata().StepExecution["boom"]
	assert.Equal(t, StatusError, rec.Status)
	assert.Equal(t, "exploded", rec.Error)
	_, merged := wc["partial"]
	assert.False(t, merged)
}

// --- Workflow ---

func TestWorkflow_RunsStepsInOrderAndAbortsOnFailure(t *testing.T) {
	var order []string
	mk := func(name string, fail bool) *Step {
		return &Step{Name: name, Handler: func(ctx context.Context, wc Context) (Context, error) {
			order = append(order, name)
			if fail {
				return nil, errors.New(name + " failed")
			}
			return Context{name: true}, nil
		}}
	}
	w := New("demo", mk("one", false), mk("two", true), mk("three", false))

	wc, err := w.Execute(context.Background(), Context{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workflow demo")
	assert.Contains(t, err.Error(), "step two")
	assert.Equal(t, []string{"one", "two"}, order)

	run := wc.Metadata().Workflow
	assert.Equal(t, StatusError, run.Status)
	assert.Equal(t, 1, run.StepsCompleted)
	assert.NotEmpty(t, run.Error)
}

func TestWorkflow_SharedContext(t *testing.T) {
	w := New("chain",
		constStep("first", nil, Context{"x": 1}),
		&Step{
			Name:           "second",
			RequiredInputs: []string{"x"},
			OutputKeys:     []string{"y"},
			Handler: func(ctx context.Context, wc Context) (Context, error) {
				return Context{"y": wc["x"].(int) + 1}, nil
			},
		},
	)
	wc, err := w.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, wc["y"])
	assert.Equal(t, StatusSuccess, wc.Metadata().Workflow.Status)
	assert.Equal(t, 2, wc.Metadata().Workflow.StepsCompleted)
	assert.Len(t, wc.Metadata().StepExecution, 2)
}

func TestWorkflow_Validate(t *testing.T) {
	ok := New("ok", constStep("a", []string{"message"}, Context{"m": 1}), constStep("b", []string{"m"}, nil))
	assert.NoError(t, ok.Validate("message"))

	bad := New("bad", constStep("b", []string{"m"}, nil))
	err := bad.Validate("message")
	assert.True(t, IsMissingInput(err))

	dup := New("dup", constStep("a", nil, nil), constStep("a", nil, nil))
	assert.Error(t, dup.Validate())
}

// --- Engine ---

func TestEngine_ExecuteMergesDefaultsAndTagsExecution(t *testing.T) {
	e := NewEngine(EngineConfig{Logger: testLogger()})
	var seen Context
	e.Register(New("greet", &Step{Name: "capture", Handler: func(ctx context.Context, wc Context) (Context, error) {
		seen = wc
		return nil, nil
	}}))
	e.SetDefaultContext(Context{"tenant": "default", "locale": "en"})

	wc, err := e.Execute(context.Background(), "greet", Context{"locale": "pt"})
	require.NoError(t, err)

	assert.Equal(t, "default", seen["tenant"])
	assert.Equal(t, "pt", seen["locale"], "caller context wins over defaults")
	execID := wc.String(ExecutionIDKey)
	assert.True(t, strings.HasPrefix(execID, "greet_"))
	assert.Equal(t, execID, wc.Metadata().Workflow.ExecutionID)

	wc2, err := e.Execute(context.Background(), "greet", nil)
	require.NoError(t, err)
	assert.NotEqual(t, execID, wc2.String(ExecutionIDKey))
}

func TestEngine_UnknownWorkflow(t *testing.T) {
	e := NewEngine(EngineConfig{Logger: testLogger()})
	_, err := e.Execute(context.Background(), "nope", nil)
	assert.True(t, IsNotFound(err))
}

func TestEngine_RegisterLastWins(t *testing.T) {
	e := NewEngine(EngineConfig{Logger: testLogger()})
	e.Register(New("w", constStep("a", nil, Context{"v": 1})))
	e.Register(New("w", constStep("a", nil, Context{"v": 2})))

	wc, err := e.Execute(context.Background(), "w", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, wc["v"])
	assert.Equal(t, []string{"w"}, e.Names())
}

// --- Definitions ---

func TestBuild_FromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workflows.yaml")
	yamlDoc := `
workflows:
  - name: whatsapp_message
    description: reply to WhatsApp messages
    steps: [process_message, generate_response]
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	defs, err := LoadDefinitions(path)
	require.NoError(t, err)
	require.Len(t, defs, 1)

	catalog := map[string]*Step{
		"process_message":   constStep("process_message", []string{"raw"}, Context{"message": "m"}),
		"generate_response": constStep("generate_response", []string{"message"}, Context{"response": "r"}),
	}
	e := NewEngine(EngineConfig{Logger: testLogger()})
	require.NoError(t, e.Build(defs, catalog, "raw"))

	w, ok := e.Get("whatsapp_message")
	require.True(t, ok)
	assert.Equal(t, "reply to WhatsApp messages", w.Description)
	assert.Len(t, w.Steps, 2)
}

func TestBuild_UnknownStepRegistersNothing(t *testing.T) {
	defs := []Definition{
		{Name: "good", Steps: []string{"a"}},
		{Name: "bad", Steps: []string{"missing"}},
	}
	e := NewEngine(EngineConfig{Logger: testLogger()})
	err := e.Build(defs, map[string]*Step{"a": constStep("a", nil, nil)})
	require.Error(t, err)
	assert.Empty(t, e.Names())
}

func TestParseDefinitions_Invalid(t *testing.T) {
	_, err := ParseDefinitions([]byte("workflows:\n  - steps: [a]\n"))
	assert.Error(t, err)
	_, err = ParseDefinitions([]byte("workflows:\n  - name: x\n"))
	assert.Error(t, err)
	_, err = ParseDefinitions([]byte("workflows: [unclosed"))
	assert.Error(t, err)
}
