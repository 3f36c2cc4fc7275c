// Package service implements the registry's business operations on top of
// the storage layer, the search engine, and the scan orchestrator.
package service

import (
	"github.com/gatewaylabs/toolgate/internal/registry/model"
)

// CanAccessAgent applies the visibility rules for one agent. Admins see
// everything; otherwise the accessible_agents claim must cover the path and
// the card's visibility must admit the user.
func CanAccessAgent(a *model.Agent, user *model.UserContext) bool {
	if user.IsAdmin {
		return true
	}
	if !user.CanAccessAgentPath(a.Path) {
		return false
	}
	switch a.Visibility {
	case model.VisibilityPublic:
		return true
	case model.VisibilityPrivate:
		return a.RegisteredBy == user.Username
	case model.VisibilityGroupRestricted:
		for _, g := range a.AllowedGroups {
			if user.InGroup(g) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// FilterAgents returns the agents the user may see, preserving order.
func FilterAgents(agents []*model.Agent, user *model.UserContext) []*model.Agent {
	out := make([]*model.Agent, 0, len(agents))
	for _, a := range agents {
		if CanAccessAgent(a, user) {
			out = append(out, a)
		}
	}
	return out
}

// isOwnerOrAdmin reports whether the user may modify an entity they own.
func isOwnerOrAdmin(registeredBy string, user *model.UserContext) bool {
	return user.IsAdmin || (registeredBy != "" && registeredBy == user.Username)
}
