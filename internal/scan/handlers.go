package scan

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mheilberg/muster/internal/event"
	"github.com/mheilberg/muster/internal/jobs"
	"github.com/mheilberg/muster/internal/server"
	"go.uber.org/zap"
)

// startScanRequest is the JSON body for POST /networks.
type startScanRequest struct {
	CIDR        string `json:"cidr"`
	Mode        string `json:"mode,omitempty"` // ping | fping
	Concurrency int    `json:"concurrency,omitempty"`
	TimeoutMS   int    `json:"timeout_ms,omitempty"`
	Retries     int    `json:"retries,omitempty"`
}

// handleStartScan launches a network scan as a background job.
//
//	@Summary		Start network scan
//	@Description	Expands the CIDR and probes every usable host address.
//	@Tags			scan
//	@Accept			json
//	@Produce		json
//	@Success		202 {object} map[string]string
//	@Failure		400 {object} server.Problem
//	@Router			/scan/networks [post]
func (p *Plugin) handleStartScan(w http.ResponseWriter, r *http.Request) {
	if p.store == nil {
		server.Unavailable(w, "job store not available", r.URL.Path)
		return
	}

	var req startScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	if req.CIDR == "" {
		server.BadRequest(w, "cidr is required", r.URL.Path)
		return
	}

	mode := Mode(req.Mode)
	switch mode {
	case "", ModePing, ModeBulk:
	default:
		server.BadRequest(w, "mode must be ping or fping", r.URL.Path)
		return
	}

	// Validation errors surface immediately, before a job exists.
	if err := Check(req.CIDR, p.config.GetInt("scan.max_host_bits")); err != nil {
		server.BadRequest(w, err.Error(), r.URL.Path)
		return
	}

	job, err := p.store.Create(r.Context(), jobs.KindScan)
	if err != nil {
		p.logger.Warn("failed to create scan job", zap.Error(err))
		server.InternalError(w, "failed to create job", r.URL.Path)
		return
	}

	scanReq := Request{
		ScanID:      job.ID,
		CIDR:        req.CIDR,
		Mode:        mode,
		Concurrency: firstPositive(req.Concurrency, p.config.GetInt("scan.concurrency")),
		Timeout:     firstDuration(time.Duration(req.TimeoutMS)*time.Millisecond, p.config.GetDuration("scan.timeout")),
		Retries:     firstPositive(req.Retries, p.config.GetInt("scan.retries")),
	}

	go p.runScanJob(scanReq)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"job_id":  job.ID,
		"scan_id": job.ID,
		"status":  jobs.StatusRunning,
	})
}

// runScanJob executes the scan under the module context and records its
// lifecycle in the job store. A missing bulk tool falls back to
// individual-probe mode rather than failing the job.
func (p *Plugin) runScanJob(req Request) {
	ctx := p.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	req.OnProgress = func(s Snapshot) {
		if err := p.store.UpdateProgress(ctx, req.ScanID, s); err != nil {
			p.logger.Debug("progress update failed", zap.Error(err))
		}
	}

	result, err := p.scanner.Scan(ctx, req)
	if errors.Is(err, ErrToolNotFound) {
		p.logger.Warn("bulk probe tool missing, falling back to individual probes",
			zap.String("scan_id", req.ScanID))
		req.Mode = ModePing
		result, err = p.scanner.Scan(ctx, req)
	}
	if err != nil {
		if uerr := p.store.UpdateStatus(ctx, req.ScanID, jobs.StatusFailed, nil, err.Error()); uerr != nil {
			p.logger.Warn("failed to record scan failure", zap.Error(uerr))
		}
		return
	}

	if err := p.store.UpdateStatus(ctx, req.ScanID, jobs.StatusCompleted, result, ""); err != nil {
		p.logger.Warn("failed to record scan result", zap.Error(err))
	}

	if p.bus != nil {
		p.bus.Publish(ctx, event.Event{
			Topic:   "scan.completed",
			Source:  p.Name(),
			Payload: result,
		})
	}
}

// handleProgress returns live counters for an in-flight scan.
func (p *Plugin) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snapshot, ok := p.tracker.Get(id)
	if !ok {
		server.NotFound(w, "no active scan with this id", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshot)
}

// handleGetJob returns a recorded job, including final results.
func (p *Plugin) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if p.store == nil {
		server.Unavailable(w, "job store not available", r.URL.Path)
		return
	}
	job, err := p.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			server.NotFound(w, "job not found", r.URL.Path)
			return
		}
		server.InternalError(w, "failed to load job", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

// handleListJobs returns recorded jobs, newest first.
func (p *Plugin) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if p.store == nil {
		server.Unavailable(w, "job store not available", r.URL.Path)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	items, total, err := p.store.List(r.Context(), limit, offset)
	if err != nil {
		p.logger.Warn("failed to list jobs", zap.Error(err))
		server.InternalError(w, "failed to list jobs", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"items": items, "total": total})
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstDuration(vals ...time.Duration) time.Duration {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
