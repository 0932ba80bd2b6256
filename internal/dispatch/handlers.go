package dispatch

import (
	"encoding/json"
	"net/http"

	"github.com/mheilberg/muster/internal/jobs"
	"github.com/mheilberg/muster/internal/server"
	"go.uber.org/zap"
)

// dispatchRequest is the JSON body for POST /commands.
type dispatchRequest struct {
	SessionID string   `json:"session_id,omitempty"`
	Devices   []Device `json:"devices"`
	Commands  []string `json:"commands"`

	// Either a stored credential id or inline credentials.
	CredentialID string `json:"credential_id,omitempty"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`

	Enable      bool `json:"enable,omitempty"`
	ConfigMode  bool `json:"config_mode,omitempty"`
	SaveConfig  bool `json:"save_config,omitempty"`
	ParseOutput bool `json:"parse_output,omitempty"`
	Concurrency int  `json:"concurrency,omitempty"`
}

// handleDispatch runs a command set across a device fleet and returns
// the aggregated results. The run is synchronous; long fleets should
// poll the session endpoint from another connection to cancel.
//
//	@Summary		Dispatch commands to devices
//	@Tags			dispatch
//	@Accept			json
//	@Produce		json
//	@Success		200 {object} FleetResult
//	@Failure		400 {object} server.Problem
//	@Router			/dispatch/commands [post]
func (p *Plugin) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	if len(req.Devices) == 0 {
		server.BadRequest(w, "devices is required", r.URL.Path)
		return
	}
	if len(req.Commands) == 0 {
		server.BadRequest(w, "commands is required", r.URL.Path)
		return
	}

	creds, ok := p.resolveCredentials(req)
	if !ok {
		server.BadRequest(w, "credential_id unknown and no inline credentials given", r.URL.Path)
		return
	}

	var jobID string
	if p.store != nil {
		job, err := p.store.Create(r.Context(), jobs.KindDispatch)
		if err != nil {
			p.logger.Warn("failed to create dispatch job", zap.Error(err))
		} else {
			jobID = job.ID
		}
	}

	fleetReq := FleetRequest{
		SessionID:   req.SessionID,
		Devices:     req.Devices,
		Commands:    req.Commands,
		Credentials: creds,
		Options: Options{
			Enable:      req.Enable,
			ConfigMode:  req.ConfigMode,
			SaveConfig:  req.SaveConfig,
			ParseOutput: req.ParseOutput,
			Port:        p.config.GetInt("dispatch.port"),
		},
		Concurrency: firstPositive(req.Concurrency, p.config.GetInt("dispatch.concurrency")),
	}

	ctx := p.ctx
	if ctx == nil {
		ctx = r.Context()
	}
	result := p.coordinator.Run(ctx, fleetReq)

	if jobID != "" {
		status := jobs.StatusCompleted
		if result.Cancelled > 0 {
			status = jobs.StatusCancelled
		}
		if err := p.store.UpdateStatus(r.Context(), jobID, status, result, ""); err != nil {
			p.logger.Warn("failed to record dispatch result", zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (p *Plugin) resolveCredentials(req dispatchRequest) (Credentials, bool) {
	if req.CredentialID != "" {
		if p.creds == nil {
			return Credentials{}, false
		}
		return p.creds.Credentials(req.CredentialID)
	}
	if req.Username == "" {
		return Credentials{}, false
	}
	return Credentials{Username: req.Username, Password: req.Password}, true
}

// handleCancel flags a running dispatch session for cooperative
// cancellation. Devices already mid-command finish; pending devices
// report the cancellation instead of connecting.
func (p *Plugin) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !p.sessions.Cancel(id) {
		server.NotFound(w, "no active session with this id", r.URL.Path)
		return
	}
	p.logger.Info("dispatch session cancelled", zap.String("session_id", id))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"session_id": id, "cancelled": true})
}

// handleSessionStatus reports whether a session is active and whether
// cancellation has been requested.
func (p *Plugin) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	active := p.sessions.Active(id)
	if !active {
		server.NotFound(w, "no active session with this id", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"session_id": id,
		"active":     active,
		"cancelled":  p.sessions.IsCancelled(id),
	})
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
