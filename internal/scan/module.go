package scan

import (
	"context"
	"fmt"

	"github.com/mheilberg/muster/internal/event"
	"github.com/mheilberg/muster/internal/jobs"
	"github.com/mheilberg/muster/internal/plugin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// JobStore is the slice of the job-tracking store this module reports into.
type JobStore interface {
	Create(ctx context.Context, kind string) (*jobs.Job, error)
	UpdateProgress(ctx context.Context, id string, progress any) error
	UpdateStatus(ctx context.Context, id, status string, result any, errMsg string) error
	Get(ctx context.Context, id string) (*jobs.Job, error)
	List(ctx context.Context, limit, offset int) ([]jobs.Job, int, error)
}

// Plugin implements the network scanning module.
type Plugin struct {
	logger  *zap.Logger
	config  *viper.Viper
	store   JobStore
	bus     *event.Bus
	scanner *Scanner
	tracker *Tracker

	// Background scans outlive their HTTP request; they run under the
	// module's start context.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates the scan module. store and bus may be nil in tests.
func New(store JobStore, bus *event.Bus) *Plugin {
	return &Plugin{store: store, bus: bus}
}

func (p *Plugin) Name() string    { return "scan" }
func (p *Plugin) Version() string { return "1.0.0" }

func (p *Plugin) Init(config *viper.Viper, logger *zap.Logger) error {
	p.config = config
	p.logger = logger
	p.tracker = NewTracker()

	var pinger Pinger
	switch mode := config.GetString("scan.pinger"); mode {
	case "", "icmp":
		pinger = ICMPPinger{}
	case "system":
		pinger = SystemPinger{}
	default:
		return fmt.Errorf("scan: unknown pinger %q", mode)
	}

	bulk := NewBulkProber(
		config.GetString("scan.bulk.binary"),
		config.GetDuration("scan.bulk.timeout"),
		logger,
	)

	p.scanner = NewScanner(pinger, bulk, p.tracker, logger)
	p.scanner.SetMaxHostBits(config.GetInt("scan.max_host_bits"))

	logger.Info("scan module initialized")
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.logger.Info("scan module started")
	return nil
}

func (p *Plugin) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.logger.Info("scan module stopped")
	return nil
}

func (p *Plugin) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "POST", Path: "/networks", Handler: p.handleStartScan},
		{Method: "GET", Path: "/progress/{id}", Handler: p.handleProgress},
		{Method: "GET", Path: "/jobs", Handler: p.handleListJobs},
		{Method: "GET", Path: "/jobs/{id}", Handler: p.handleGetJob},
	}
}
