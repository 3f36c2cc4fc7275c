package model

// Permission names recognized by the registry. ui_permissions maps each of
// these to the list of entity names the user may act on, or ["all"].
const (
	PermPublishAgent  = "publish_agent"
	PermToggleService = "toggle_service"
	PermModifyService = "modify_service"
	PermRate          = "rate"
	PermView          = "view"
	PermAdmin         = "admin"
)

// UserContext is the decoded identity attached to every authenticated
// request. The identity provider issues the token; the registry only
// consumes the claims.
type UserContext struct {
	Username         string              `json:"username"`
	Groups           []string            `json:"groups"`
	Scopes           []string            `json:"scopes"`
	IsAdmin          bool                `json:"is_admin"`
	UIPermissions    map[string][]string `json:"ui_permissions"`
	AccessibleAgents []string            `json:"accessible_agents"`
}

// InGroup reports whether the user belongs to the named group.
func (u *UserContext) InGroup(group string) bool {
	for _, g := range u.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// Can reports whether the user holds the named permission for the given
// entity name. Admins hold every permission; a grant of "all" covers every
// entity.
func (u *UserContext) Can(permission, entityName string) bool {
	if u.IsAdmin {
		return true
	}
	for _, name := range u.UIPermissions[permission] {
		if name == "all" || name == entityName {
			return true
		}
	}
	return false
}

// HasPermission reports whether the user holds the named permission for at
// least one entity.
func (u *UserContext) HasPermission(permission string) bool {
	return u.IsAdmin || len(u.UIPermissions[permission]) > 0
}

// CanAccessAgentPath reports whether the accessible_agents claim covers the
// given agent path. Admins always pass.
func (u *UserContext) CanAccessAgentPath(path string) bool {
	if u.IsAdmin {
		return true
	}
	for _, p := range u.AccessibleAgents {
		if p == "all" || p == path {
			return true
		}
	}
	return false
}
