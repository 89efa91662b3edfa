// Package pipeline connects platform connectors to the workflow engine and
// sends generated replies back to the platform.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"autoreply/internal/channel"
	"autoreply/internal/conversation"
	"autoreply/internal/domain"
	"autoreply/internal/message"
	"autoreply/internal/responder"
	"autoreply/internal/workflow"
)

// PlatformSettings controls how one connector's messages are handled.
type PlatformSettings struct {
	Workflow  string // defaults to <platform>_message
	AutoReply bool
}

// Orchestrator owns the engine, processor and generator for one process.
type Orchestrator struct {
	engine           *workflow.Engine
	processor        *message.Processor
	generator        *responder.Generator
	locker           *conversation.Locker
	includeKnowledge bool
	logger           *slog.Logger
}

type Config struct {
	Engine           *workflow.Engine
	Processor        *message.Processor
	Generator        *responder.Generator
	IncludeKnowledge bool
	Logger           *slog.Logger
}

func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		engine:           cfg.Engine,
		processor:        cfg.Processor,
		generator:        cfg.Generator,
		locker:           conversation.NewLocker(),
		includeKnowledge: cfg.IncludeKnowledge,
		logger:           logger,
	}
	o.engine.SetDefaultContext(workflow.Context{KeyIncludeKnowledge: cfg.IncludeKnowledge})
	return o
}

// LoadWorkflows builds and registers defs against the step catalog. Nothing
// is registered if any definition is invalid.
func (o *Orchestrator) LoadWorkflows(defs []workflow.Definition) error {
	return o.engine.Build(defs, o.Steps(), initialKeys...)
}

// Attach registers event handlers on c. Messages and postbacks run the
// platform workflow; echoes are recorded without a reply; receipts and
// statuses are acknowledged.
func (o *Orchestrator) Attach(c *channel.Connector, s PlatformSettings) error {
	if s.Workflow == "" {
		s.Workflow = WorkflowName(c.Platform())
	}
	if _, ok := o.engine.Get(s.Workflow); !ok {
		return &workflow.WorkflowNotFoundError{Name: s.Workflow}
	}

	reply := o.replyHandler(c, s)
	c.On(domain.EventMessage, reply)
	c.On(domain.EventPostback, reply)
	c.On(domain.EventMessageEcho, o.recordOnly)
	c.On(domain.EventDelivery, o.acknowledge)
	c.On(domain.EventRead, o.acknowledge)
	c.OnStatus(o.acknowledge)

	o.logger.Info("connector attached", "platform", c.Platform(), "workflow", s.Workflow, "auto_reply", s.AutoReply)
	return nil
}

func (o *Orchestrator) replyHandler(out domain.Outbound, s PlatformSettings) channel.EventHandler {
	return func(ctx context.Context, ev domain.Event) error {
		wc, err := o.Run(ctx, s.Workflow, ev)
		if err != nil {
			return err
		}
		msg := messageFrom(wc)
		resp, _ := wc[KeyResponse].(*responder.Response)
		if msg == nil || resp == nil {
			return nil
		}
		if resp.Failed() {
			o.logger.Warn("sending apology", "conversation", msg.ConversationID, "reason", resp.Error)
		}
		if !s.AutoReply {
			return nil
		}
		if _, err := out.SendText(ctx, msg.SenderID, resp.Content); err != nil {
			return fmt.Errorf("send reply to %s: %w", msg.SenderID, err)
		}
		return nil
	}
}

// Run executes a workflow for one classified event.
func (o *Orchestrator) Run(ctx context.Context, name string, ev domain.Event) (workflow.Context, error) {
	return o.engine.Execute(ctx, name, workflow.Context{
		KeyPlatform: string(ev.Platform),
		KeyRaw:      ev.Payload,
		KeyEvent:    ev,
	})
}

func (o *Orchestrator) recordOnly(ctx context.Context, ev domain.Event) error {
	_, err := o.processor.Process(ctx, ev.Platform, ev.Payload)
	return err
}

func (o *Orchestrator) acknowledge(ctx context.Context, ev domain.Event) error {
	o.logger.Debug("receipt acknowledged", "platform", ev.Platform, "event", ev.Type, "identifier", ev.Identifier)
	return nil
}
