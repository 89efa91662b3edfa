package pipeline

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"autoreply/internal/domain"
	"autoreply/internal/responder"
	"autoreply/internal/workflow"
)

// Workflow context keys.
const (
	KeyPlatform         = "platform"
	KeyRaw              = "raw_message"
	KeyEvent            = "event"
	KeyIncludeKnowledge = "include_knowledge"
	KeyMessage          = "message"
	KeyKnowledge        = "knowledge"
	KeyResponse         = "response"
)

// Step names usable in workflow definitions.
const (
	StepProcessMessage    = "process_message"
	StepRetrieveKnowledge = "retrieve_knowledge"
	StepGenerateResponse  = "generate_response"
)

// initialKeys are present in every context the orchestrator starts.
var initialKeys = []string{KeyPlatform, KeyRaw, KeyEvent, KeyIncludeKnowledge}

//go:embed workflows.yaml
var defaultWorkflows []byte

// DefaultDefinitions returns the built-in per-platform workflows.
func DefaultDefinitions() []workflow.Definition {
	defs, err := workflow.ParseDefinitions(defaultWorkflows)
	if err != nil {
		panic(fmt.Sprintf("embedded workflows.yaml: %v", err))
	}
	return defs
}

// WorkflowName is the default workflow for a platform.
func WorkflowName(p domain.Platform) string {
	return string(p) + "_message"
}

// Steps returns the step catalog definitions are built from.
func (o *Orchestrator) Steps() map[string]*workflow.Step {
	return map[string]*workflow.Step{
		StepProcessMessage: {
			Name:           StepProcessMessage,
			Description:    "adapt the raw platform event into a canonical message",
			RequiredInputs: []string{KeyPlatform, KeyRaw},
			OutputKeys:     []string{KeyMessage},
			Handler:        o.processMessage,
		},
		StepRetrieveKnowledge: {
			Name:           StepRetrieveKnowledge,
			Description:    "look up knowledge relevant to the message",
			RequiredInputs: []string{KeyMessage},
			OptionalInputs: []string{KeyIncludeKnowledge},
			OutputKeys:     []string{KeyKnowledge},
			Handler:        o.retrieveKnowledge,
		},
		StepGenerateResponse: {
			Name:           StepGenerateResponse,
			Description:    "generate a reply with the configured provider",
			RequiredInputs: []string{KeyMessage},
			OptionalInputs: []string{KeyKnowledge},
			OutputKeys:     []string{KeyResponse},
			Handler:        o.generateResponse,
		},
	}
}

func (o *Orchestrator) processMessage(ctx context.Context, wc workflow.Context) (workflow.Context, error) {
	platform, ok := domain.ParsePlatform(wc.String(KeyPlatform))
	if !ok {
		return nil, fmt.Errorf("unknown platform %q", wc.String(KeyPlatform))
	}
	raw, ok := wc[KeyRaw].(json.RawMessage)
	if !ok {
		return nil, fmt.Errorf("%s must be json.RawMessage, got %T", KeyRaw, wc[KeyRaw])
	}
	msg, err := o.processor.Process(ctx, platform, raw)
	if err != nil {
		return nil, err
	}
	// A nil message means no adapter; later steps skip it.
	return workflow.Context{KeyMessage: msg}, nil
}

func (o *Orchestrator) retrieveKnowledge(ctx context.Context, wc workflow.Context) (workflow.Context, error) {
	msg := messageFrom(wc)
	if msg == nil {
		return workflow.Context{KeyKnowledge: []domain.KnowledgeItem{}}, nil
	}
	if include, ok := wc[KeyIncludeKnowledge].(bool); ok && !include {
		return workflow.Context{KeyKnowledge: []domain.KnowledgeItem{}}, nil
	}
	items := o.generator.Retrieve(ctx, msg.Content, msg.SenderID)
	if items == nil {
		items = []domain.KnowledgeItem{}
	}
	return workflow.Context{KeyKnowledge: items}, nil
}

func (o *Orchestrator) generateResponse(ctx context.Context, wc workflow.Context) (workflow.Context, error) {
	msg := messageFrom(wc)
	if msg == nil {
		return nil, nil
	}
	items, _ := wc[KeyKnowledge].([]domain.KnowledgeItem)

	unlock := o.locker.Lock(msg.ConversationID)
	defer unlock()

	var resp *responder.Response
	if _, ran := wc[KeyKnowledge]; ran {
		resp = o.generator.GenerateWithKnowledge(ctx, msg, items)
	} else {
		include, _ := wc[KeyIncludeKnowledge].(bool)
		resp = o.generator.Generate(ctx, msg, include)
	}
	return workflow.Context{KeyResponse: resp}, nil
}

func messageFrom(wc workflow.Context) *domain.Message {
	msg, _ := wc[KeyMessage].(*domain.Message)
	return msg
}
