package scan

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Mode selects the probing backend.
type Mode string

const (
	// ModePing probes each target individually from a bounded worker pool.
	ModePing Mode = "ping"
	// ModeBulk probes the whole target list with one external fping run.
	ModeBulk Mode = "fping"
)

// Request describes one network scan.
type Request struct {
	ScanID      string        // generated when empty
	CIDR        string        // target range
	Mode        Mode          // defaults to ModePing
	Concurrency int           // individual-probe pool size, default 10
	Timeout     time.Duration // per-probe timeout, default 1.5s
	Retries     int           // probe attempts per target, default 3

	// OnProgress, when set, is invoked after each target resolves
	// (individual mode only). Callback errors are the callback's problem.
	OnProgress func(Snapshot)
}

// Result is the aggregate outcome of one scan. AliveHosts and
// UnreachableHosts partition the full target set.
type Result struct {
	ScanID           string        `json:"scan_id"`
	CIDR             string        `json:"cidr"`
	Mode             Mode          `json:"probe_mode"`
	TotalTargets     int           `json:"total_targets"`
	AliveHosts       []string      `json:"alive_hosts"`
	UnreachableHosts []string      `json:"unreachable_hosts"`
	Duration         time.Duration `json:"duration_ns"`
	StartedAt        time.Time     `json:"started_at"`
	CompletedAt      time.Time     `json:"completed_at"`
}

// Scanner coordinates expansion, probing and progress tracking.
type Scanner struct {
	pinger  Pinger
	bulk    *BulkProber
	tracker *Tracker
	logger  *zap.Logger

	maxHostBits int
	defaults    Request
}

// NewScanner wires a Scanner. tracker must be non-nil; pinger and bulk may
// each be nil when the corresponding mode is never used.
func NewScanner(pinger Pinger, bulk *BulkProber, tracker *Tracker, logger *zap.Logger) *Scanner {
	return &Scanner{
		pinger:      pinger,
		bulk:        bulk,
		tracker:     tracker,
		logger:      logger,
		maxHostBits: DefaultMaxHostBits,
		defaults: Request{
			Concurrency: 10,
			Timeout:     1500 * time.Millisecond,
			Retries:     3,
		},
	}
}

// SetMaxHostBits overrides the expansion size ceiling.
func (s *Scanner) SetMaxHostBits(bits int) {
	if bits > 0 {
		s.maxHostBits = bits
	}
}

// Scan expands the request's CIDR and probes every target. Only
// configuration problems (invalid range, oversized range, missing bulk
// tool) return an error; unreachable targets are part of the result, so a
// scan always completes with a full alive/unreachable partition.
func (s *Scanner) Scan(ctx context.Context, req Request) (*Result, error) {
	started := time.Now().UTC()
	req = s.applyDefaults(req)

	targets, err := ExpandLimit(req.CIDR, s.maxHostBits)
	if err != nil {
		return nil, err
	}

	progress := s.tracker.Register(req.ScanID, len(targets))
	defer s.tracker.Remove(req.ScanID)

	s.logger.Info("scan started",
		zap.String("scan_id", req.ScanID),
		zap.String("cidr", req.CIDR),
		zap.String("mode", string(req.Mode)),
		zap.Int("targets", len(targets)),
	)

	var alive map[string]struct{}
	switch req.Mode {
	case ModeBulk:
		alive, err = s.bulk.Probe(ctx, targets)
		if err != nil {
			return nil, err
		}
		progress.Complete(len(alive))
	default:
		alive = s.probePool(ctx, targets, req, progress)
	}

	// Unreachable is always computed as targets minus alive; this is the
	// single source of truth for completeness.
	unreachable := make([]string, 0, len(targets)-len(alive))
	for _, t := range targets {
		if _, ok := alive[t]; !ok {
			unreachable = append(unreachable, t)
		}
	}

	aliveList := make([]string, 0, len(alive))
	for a := range alive {
		aliveList = append(aliveList, a)
	}
	sort.Strings(aliveList)

	completed := time.Now().UTC()
	result := &Result{
		ScanID:           req.ScanID,
		CIDR:             req.CIDR,
		Mode:             req.Mode,
		TotalTargets:     len(targets),
		AliveHosts:       aliveList,
		UnreachableHosts: unreachable,
		Duration:         completed.Sub(started),
		StartedAt:        started,
		CompletedAt:      completed,
	}

	scansTotal.WithLabelValues(string(req.Mode)).Inc()
	hostsProbed.Add(float64(len(targets)))

	s.logger.Info("scan completed",
		zap.String("scan_id", req.ScanID),
		zap.Int("alive", len(aliveList)),
		zap.Int("unreachable", len(unreachable)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// probePool fans targets out to a bounded worker pool. Each target gets an
// independent probe/retry cycle; a hung target delays only itself, bounded
// by timeout times retries.
func (s *Scanner) probePool(ctx context.Context, targets []string, req Request, progress *Progress) map[string]struct{} {
	alive := make(map[string]struct{}, len(targets))
	var mu sync.Mutex
	var wg sync.WaitGroup

	sem := make(chan struct{}, req.Concurrency)
	for _, target := range targets {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			// Cooperative cancellation, checked before each unit of work.
			if ctx.Err() != nil {
				progress.MarkUnreachable()
				return
			}

			progress.SetCurrent(target)
			up := false
			for attempt := 0; attempt < req.Retries; attempt++ {
				ok, err := s.pinger.Ping(ctx, target, req.Timeout)
				if err != nil {
					s.logger.Debug("probe attempt failed",
						zap.String("target", target),
						zap.Int("attempt", attempt+1),
						zap.Error(err))
					continue
				}
				if ok {
					up = true
					break
				}
			}

			if up {
				mu.Lock()
				alive[target] = struct{}{}
				mu.Unlock()
				progress.MarkAlive()
			} else {
				progress.MarkUnreachable()
			}
			progress.ClearCurrent()

			if req.OnProgress != nil {
				req.OnProgress(progress.Snapshot())
			}
		}(target)
	}
	wg.Wait()
	return alive
}

func (s *Scanner) applyDefaults(req Request) Request {
	if req.ScanID == "" {
		req.ScanID = uuid.New().String()
	}
	if req.Mode == "" {
		req.Mode = ModePing
	}
	if req.Concurrency <= 0 {
		req.Concurrency = s.defaults.Concurrency
	}
	if req.Timeout <= 0 {
		req.Timeout = s.defaults.Timeout
	}
	if req.Retries <= 0 {
		req.Retries = s.defaults.Retries
	}
	return req
}
