package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"autoreply/internal/channel"
	"autoreply/internal/config"
	"autoreply/internal/conversation"
	"autoreply/internal/domain"
	"autoreply/internal/knowledge"
	"autoreply/internal/message"
	"autoreply/internal/metrics"
	"autoreply/internal/provider"
	"autoreply/internal/responder"
	"autoreply/internal/storage"
	"autoreply/internal/workflow"
)

// App is the fully wired process: every registry is built here, once, before
// the HTTP handler serves traffic.
type App struct {
	Config       *config.Config
	Engine       *workflow.Engine
	Processor    *message.Processor
	Providers    *provider.Registry
	Generator    *responder.Generator
	Knowledge    *knowledge.Engine  // nil when knowledge is disabled
	Messages     *storage.MessageLog // nil when message logging is disabled
	Orchestrator *Orchestrator
	Connectors   []*channel.Connector
	Handler      http.Handler

	db      *storage.DB
	sweeper *conversation.Sweeper
	logger  *slog.Logger
}

// NewApp wires all components from cfg.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger}

	providers, err := provider.BuildRegistry(cfg.AI, logger)
	if err != nil {
		return nil, fmt.Errorf("providers: %w", err)
	}
	a.Providers = providers

	if cfg.Knowledge.Enabled || cfg.Storage.LogMessage {
		a.db, err = storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
	}
	if cfg.Knowledge.Enabled {
		a.Knowledge = knowledge.NewEngine(knowledge.EngineConfig{
			Store:  knowledge.NewSQLStore(a.db, logger),
			TopK:   cfg.Knowledge.TopK,
			Logger: logger,
		})
	}

	conversations := conversation.NewStore(conversation.StoreConfig{
		MaxHistory: cfg.Conversation.MaxHistory,
		Logger:     logger,
	})
	if cfg.Conversation.TTLMinutes > 0 {
		a.sweeper = conversation.NewSweeper(conversation.SweeperConfig{
			Store:    conversations,
			TTL:      time.Duration(cfg.Conversation.TTLMinutes) * time.Minute,
			Schedule: cfg.Conversation.SweepSchedule,
			Logger:   logger,
		})
	}

	genCfg := responder.GeneratorConfig{
		Conversations:  conversations,
		Providers:      providers,
		Provider:       cfg.AI.DefaultProvider,
		SystemPrompt:   cfg.AI.SystemPrompt,
		ApologyMessage: cfg.AI.ApologyMessage,
		Logger:         logger,
	}
	if a.Knowledge != nil {
		genCfg.Knowledge = a.Knowledge
	}
	a.Generator = responder.NewGenerator(genCfg)

	a.Processor = message.NewProcessor(message.ProcessorConfig{Logger: logger})
	if cfg.Storage.LogMessage {
		a.Messages = storage.NewMessageLog(a.db, logger)
		a.Processor.AddHandler(message.RecordTo(a.Messages))
	}

	a.Engine = workflow.NewEngine(workflow.EngineConfig{Logger: logger})
	a.Orchestrator = New(Config{
		Engine:           a.Engine,
		Processor:        a.Processor,
		Generator:        a.Generator,
		IncludeKnowledge: cfg.Knowledge.Enabled,
		Logger:           logger,
	})

	defs := DefaultDefinitions()
	if path := cfg.Workflows.DefinitionsPath; path != "" {
		if defs, err = workflow.LoadDefinitions(path); err != nil {
			a.Close()
			return nil, err
		}
	}
	if err := a.Orchestrator.LoadWorkflows(defs); err != nil {
		a.Close()
		return nil, fmt.Errorf("workflows: %w", err)
	}

	graph := channel.NewGraphClient(channel.GraphClientConfig{
		APIBase: cfg.Platforms.APIBase,
		Timeout: time.Duration(cfg.Platforms.HTTPTimeoutSeconds) * time.Second,
		Logger:  logger,
	})
	for _, p := range domain.Platforms {
		pc, _ := cfg.Platforms.Platform(string(p))
		if !pc.Enabled {
			continue
		}
		spec, err := channel.SpecFor(p)
		if err != nil {
			a.Close()
			return nil, err
		}
		conn := channel.NewConnector(channel.ConnectorConfig{
			Spec: spec,
			Credentials: channel.Credentials{
				AppSecret:     pc.AppSecret,
				VerifyToken:   pc.VerifyToken,
				AccessToken:   pc.AccessToken,
				PhoneNumberID: pc.PhoneNumberID,
			},
			Graph:  graph,
			Logger: logger,
		})
		if err := a.Orchestrator.Attach(conn, PlatformSettings{Workflow: pc.Workflow, AutoReply: pc.AutoReply}); err != nil {
			a.Close()
			return nil, fmt.Errorf("platform %s: %w", p, err)
		}
		a.Connectors = append(a.Connectors, conn)
	}

	routerCfg := channel.RouterConfig{
		Connectors:     a.Connectors,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Logger:         logger,
	}
	if cfg.Metrics.Enabled {
		routerCfg.MetricsPath = cfg.Metrics.Endpoint
		routerCfg.Metrics = metrics.Collector.Handler()
	}
	a.Handler = channel.NewRouter(routerCfg)

	return a, nil
}

// Connector returns the enabled connector for p.
func (a *App) Connector(p domain.Platform) (*channel.Connector, bool) {
	for _, c := range a.Connectors {
		if c.Platform() == p {
			return c, true
		}
	}
	return nil, false
}

// Start launches background work such as the idle conversation sweeper.
func (a *App) Start() error {
	if a.sweeper != nil {
		return a.sweeper.Start()
	}
	return nil
}

// Close stops background work and closes the database.
func (a *App) Close() error {
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
