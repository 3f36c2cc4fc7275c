package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/gatewaylabs/toolgate/pkg/agentcard"
)

// Visibility controls which users may see an agent.
type Visibility string

const (
	VisibilityPublic          Visibility = "public"
	VisibilityPrivate         Visibility = "private"
	VisibilityGroupRestricted Visibility = "group-restricted"
)

// TrustLevel is an operator-assigned credibility label used by skill-based
// discovery scoring.
type TrustLevel string

const (
	TrustUnverified TrustLevel = "unverified"
	TrustCommunity  TrustLevel = "community"
	TrustVerified   TrustLevel = "verified"
	TrustTrusted    TrustLevel = "trusted"
)

// TrustBoost maps a trust level onto its discovery scoring boost.
var TrustBoost = map[TrustLevel]float64{
	TrustUnverified: 0,
	TrustCommunity:  0.2,
	TrustVerified:   0.5,
	TrustTrusted:    1.0,
}

// Agent is a registered A2A agent: the wire card plus registry-side
// management fields. IsEnabled is materialized from the state file at read
// time.
type Agent struct {
	agentcard.Card

	Path          string         `json:"path"`
	Visibility    Visibility     `json:"visibility"`
	AllowedGroups []string       `json:"allowed_groups,omitempty"`
	TrustLevel    TrustLevel     `json:"trust_level"`
	Tags          []string       `json:"tags"`
	License       string         `json:"license"`
	NumStars      float64        `json:"num_stars"`
	Ratings       []RatingEntry  `json:"ratings,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	RegisteredBy  string         `json:"registered_by,omitempty"`
	RegisteredAt  time.Time      `json:"registered_at,omitzero"`
	UpdatedAt     time.Time      `json:"updated_at,omitzero"`
	IsEnabled     bool           `json:"is_enabled"`
}

// Validate checks card and registry invariants together.
func (a *Agent) Validate() error {
	if !PathPattern.MatchString(a.Path) {
		return fmt.Errorf("agent path %q is not a valid path", a.Path)
	}
	if err := a.Card.Validate(); err != nil {
		return err
	}
	switch a.Visibility {
	case VisibilityPublic, VisibilityPrivate:
	case VisibilityGroupRestricted:
		if len(a.AllowedGroups) == 0 {
			return fmt.Errorf("agent %q is group-restricted but allows no groups", a.Path)
		}
	default:
		return fmt.Errorf("agent %q has unknown visibility %q", a.Path, a.Visibility)
	}
	switch a.TrustLevel {
	case TrustUnverified, TrustCommunity, TrustVerified, TrustTrusted:
	default:
		return fmt.Errorf("agent %q has unknown trust level %q", a.Path, a.TrustLevel)
	}
	if a.NumStars < 0 || a.NumStars > 5 {
		return fmt.Errorf("agent %q has num_stars %.2f outside [0, 5]", a.Path, a.NumStars)
	}
	return nil
}

// ApplyDefaults fills registry-side defaults for a freshly built agent.
func (a *Agent) ApplyDefaults() {
	a.Card.Normalize()
	if a.Visibility == "" {
		a.Visibility = VisibilityPublic
	}
	if a.TrustLevel == "" {
		a.TrustLevel = TrustUnverified
	}
	if a.License == "" {
		a.License = "N/A"
	}
	if a.Tags == nil {
		a.Tags = []string{}
	}
}

// Clone returns a deep copy safe to hand to callers.
func (a *Agent) Clone() *Agent {
	out := *a
	out.Card = *a.Card.Clone()
	out.AllowedGroups = append([]string(nil), a.AllowedGroups...)
	out.Tags = append([]string(nil), a.Tags...)
	out.Ratings = append([]RatingEntry(nil), a.Ratings...)
	if a.Metadata != nil {
		out.Metadata = make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// HasTag reports whether the tag is already present.
func (a *Agent) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// DerivePath builds the canonical agent path from an explicit path or, when
// absent, from the agent name.
func DerivePath(path, name string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		p = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}
