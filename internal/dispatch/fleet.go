package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mheilberg/muster/internal/event"
	"go.uber.org/zap"
)

// DefaultFleetConcurrency bounds simultaneous device sessions.
const DefaultFleetConcurrency = 10

// FleetRequest describes one command dispatch across a set of devices.
type FleetRequest struct {
	SessionID   string
	Devices     []Device
	Commands    []string
	Credentials Credentials
	Options     Options
	Concurrency int
}

// FleetResult aggregates the per-device outcomes of one dispatch.
// Succeeded + Failed + Cancelled always equals Total.
type FleetResult struct {
	SessionID   string         `json:"session_id"`
	Results     []DeviceResult `json:"results"`
	Total       int            `json:"total"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	Cancelled   int            `json:"cancelled"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Duration    time.Duration  `json:"duration_ns"`
}

// Coordinator fans a command set out across a device fleet with a
// bounded worker pool.
type Coordinator struct {
	engine   *Engine
	sessions *Registry
	bus      *event.Bus
	logger   *zap.Logger
}

func NewCoordinator(engine *Engine, sessions *Registry, bus *event.Bus, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{engine: engine, sessions: sessions, bus: bus, logger: logger}
}

// Run executes the request against every device. Exactly one result is
// produced per device, in request order, regardless of failures or
// cancellation.
func (c *Coordinator) Run(ctx context.Context, req FleetRequest) FleetResult {
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}
	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultFleetConcurrency
	}

	c.sessions.Register(req.SessionID)
	defer c.sessions.Unregister(req.SessionID)

	start := time.Now()
	results := make([]DeviceResult, len(req.Devices))

	sem := make(chan struct{}, concurrency)
	done := make(chan int, len(req.Devices))

	for i, device := range req.Devices {
		go func(i int, device Device) {
			defer func() {
				// One misbehaving device session must not take the
				// whole fleet run down.
				if r := recover(); r != nil {
					results[i] = DeviceResult{
						Device:      device.Name,
						Address:     device.Address,
						FailureKind: FailureGeneric,
						Error:       fmt.Sprintf("internal error: %v", r),
					}
					c.logger.Error("device worker panicked",
						zap.String("device", device.Name), zap.Any("panic", r))
				}
				done <- i
			}()

			sem <- struct{}{}
			defer func() { <-sem }()

			if device.Address == "" {
				results[i] = DeviceResult{
					Device:      device.Name,
					FailureKind: FailureGeneric,
					Error:       "device has no address",
				}
				return
			}

			results[i] = c.engine.Execute(ctx, req.SessionID, device, req.Credentials, req.Commands, req.Options)
		}(i, device)
	}

	for range req.Devices {
		<-done
	}

	fleet := FleetResult{
		SessionID:   req.SessionID,
		Results:     results,
		Total:       len(results),
		StartedAt:   start.UTC(),
		CompletedAt: time.Now().UTC(),
		Duration:    time.Since(start),
	}
	for _, r := range results {
		switch {
		case r.Success:
			fleet.Succeeded++
		case r.Cancelled:
			fleet.Cancelled++
		default:
			fleet.Failed++
		}
	}

	fleetRunsTotal.WithLabelValues(outcomeLabel(fleet)).Inc()
	deviceResultsTotal.WithLabelValues("success").Add(float64(fleet.Succeeded))
	deviceResultsTotal.WithLabelValues("failure").Add(float64(fleet.Failed))
	deviceResultsTotal.WithLabelValues("cancelled").Add(float64(fleet.Cancelled))

	c.logger.Info("fleet dispatch finished",
		zap.String("session_id", req.SessionID),
		zap.Int("total", fleet.Total),
		zap.Int("succeeded", fleet.Succeeded),
		zap.Int("failed", fleet.Failed),
		zap.Int("cancelled", fleet.Cancelled),
		zap.Duration("duration", fleet.Duration))

	if c.bus != nil {
		c.bus.Publish(ctx, event.Event{
			Topic:   "dispatch.fleet.completed",
			Source:  "dispatch",
			Payload: fleet,
		})
	}

	return fleet
}

func outcomeLabel(r FleetResult) string {
	if r.Cancelled > 0 {
		return "cancelled"
	}
	return "completed"
}
