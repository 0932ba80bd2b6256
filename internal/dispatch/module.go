package dispatch

import (
	"context"

	"github.com/mheilberg/muster/internal/event"
	"github.com/mheilberg/muster/internal/jobs"
	"github.com/mheilberg/muster/internal/parse"
	"github.com/mheilberg/muster/internal/plugin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CredentialSource resolves stored credential ids to login material.
type CredentialSource interface {
	Credentials(id string) (Credentials, bool)
}

// JobStore is the slice of the job store this module records into.
type JobStore interface {
	Create(ctx context.Context, kind string) (*jobs.Job, error)
	UpdateStatus(ctx context.Context, id, status string, result any, errMsg string) error
}

// Plugin implements the command dispatch module.
type Plugin struct {
	logger *zap.Logger
	config *viper.Viper

	creds CredentialSource
	store JobStore
	bus   *event.Bus

	sessions    *Registry
	coordinator *Coordinator

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates the dispatch module. creds, store, and bus may be nil in
// tests.
func New(creds CredentialSource, store JobStore, bus *event.Bus) *Plugin {
	return &Plugin{creds: creds, store: store, bus: bus}
}

func (p *Plugin) Name() string    { return "dispatch" }
func (p *Plugin) Version() string { return "1.0.0" }

func (p *Plugin) Init(config *viper.Viper, logger *zap.Logger) error {
	p.config = config
	p.logger = logger
	p.sessions = NewRegistry()

	dialer := NewSSHDialer(
		config.GetDuration("dispatch.connect_timeout"),
		config.GetDuration("dispatch.idle_timeout"),
		logger,
	)
	engine := NewEngine(dialer, parse.NewRegistry(), p.sessions, logger)
	p.coordinator = NewCoordinator(engine, p.sessions, p.bus, logger)

	logger.Info("dispatch module initialized")
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.logger.Info("dispatch module started")
	return nil
}

func (p *Plugin) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.logger.Info("dispatch module stopped")
	return nil
}

func (p *Plugin) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "POST", Path: "/commands", Handler: p.handleDispatch},
		{Method: "GET", Path: "/sessions/{id}", Handler: p.handleSessionStatus},
		{Method: "POST", Path: "/sessions/{id}/cancel", Handler: p.handleCancel},
	}
}
