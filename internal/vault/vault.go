// Package vault holds named device credentials loaded from
// configuration and hands them to the dispatch module by id, so
// passwords never travel through dispatch request bodies.
package vault

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/mheilberg/muster/internal/dispatch"
	"github.com/mheilberg/muster/internal/plugin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type entry struct {
	ID       string `mapstructure:"id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Plugin implements the credential vault module.
type Plugin struct {
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]entry
}

func New() *Plugin {
	return &Plugin{entries: make(map[string]entry)}
}

func (p *Plugin) Name() string    { return "vault" }
func (p *Plugin) Version() string { return "1.0.0" }

func (p *Plugin) Init(config *viper.Viper, logger *zap.Logger) error {
	p.logger = logger

	var configured []entry
	if err := config.UnmarshalKey("vault.credentials", &configured); err != nil {
		return err
	}

	p.mu.Lock()
	for _, e := range configured {
		if e.ID == "" {
			continue
		}
		p.entries[e.ID] = e
	}
	p.mu.Unlock()

	logger.Info("vault module initialized", zap.Int("credentials", len(configured)))
	return nil
}

func (p *Plugin) Start(context.Context) error { return nil }
func (p *Plugin) Stop() error                 { return nil }

// Credentials implements dispatch.CredentialSource.
func (p *Plugin) Credentials(id string) (dispatch.Credentials, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[id]
	if !ok {
		return dispatch.Credentials{}, false
	}
	return dispatch.Credentials{Username: e.Username, Password: e.Password}, true
}

// Put stores or replaces a credential at runtime.
func (p *Plugin) Put(id, username, password string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[id] = entry{ID: id, Username: username, Password: password}
}

func (p *Plugin) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/credentials", Handler: p.handleList},
	}
}

// handleList returns the known credential ids and usernames. Passwords
// never leave the vault.
func (p *Plugin) handleList(w http.ResponseWriter, r *http.Request) {
	p.mu.RLock()
	items := make([]map[string]string, 0, len(p.entries))
	for _, e := range p.entries {
		items = append(items, map[string]string{
			"id":       e.ID,
			"username": e.Username,
		})
	}
	p.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"items": items})
}
