package service

import (
	"github.com/gatewaylabs/toolgate/internal/health"
	"github.com/gatewaylabs/toolgate/internal/registry/model"
)

// HealthTargets adapts the two stores to the background health prober:
// enabled servers probe their proxy URL, enabled agents ping url+/ping.
type HealthTargets struct {
	servers serverStore
	agents  agentStore
}

// NewHealthTargets creates a HealthTargets adapter.
func NewHealthTargets(servers serverStore, agents agentStore) *HealthTargets {
	return &HealthTargets{servers: servers, agents: agents}
}

// HealthTargets returns enabled endpoints to probe and disabled paths.
func (h *HealthTargets) HealthTargets() (enabled []health.Target, disabledPaths []string) {
	for _, srv := range h.servers.List() {
		if !srv.IsEnabled {
			disabledPaths = append(disabledPaths, srv.Path)
			continue
		}
		if srv.ProxyURL == "" {
			continue
		}
		enabled = append(enabled, health.Target{Path: srv.Path, URL: srv.ProxyURL})
	}
	for _, a := range h.agents.Filter("", false, "") {
		if !a.IsEnabled {
			disabledPaths = append(disabledPaths, a.Path)
			continue
		}
		enabled = append(enabled, health.Target{Path: a.Path, URL: a.URL, Ping: true})
	}
	return enabled, disabledPaths
}

var _ health.TargetLister = (*HealthTargets)(nil)

// Visible filters a status snapshot down to paths the user may see.
func Visible(snapshot map[string]string, servers []*model.Server, agents []*model.Agent) map[string]string {
	out := make(map[string]string, len(servers)+len(agents))
	for _, s := range servers {
		if st, ok := snapshot[s.Path]; ok {
			out[s.Path] = st
		}
	}
	for _, a := range agents {
		if st, ok := snapshot[a.Path]; ok {
			out[a.Path] = st
		}
	}
	return out
}
