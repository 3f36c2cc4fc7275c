// Package agentcard defines the A2A agent card schema accepted at
// registration and served back to clients.
//
// A2A-standard fields are serialized in camelCase per the Agent2Agent
// protocol; the card is stored exactly as normalized here.
package agentcard

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Capabilities describes the A2A streaming / notification capabilities
// declared by an agent. All fields default to false.
type Capabilities struct {
	Streaming              bool `json:"streaming"`
	PushNotifications      bool `json:"pushNotifications,omitempty"`
	StateTransitionHistory bool `json:"stateTransitionHistory,omitempty"`
}

// Skill describes a single capability or task type the agent supports.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
	InputModes  []string `json:"inputModes,omitempty"`
	OutputModes []string `json:"outputModes,omitempty"`
	Security    []map[string][]string `json:"security,omitempty"`
}

// Provider identifies the organization behind an agent. When present, both
// fields are required.
type Provider struct {
	Organization string `json:"organization"`
	URL          string `json:"url"`
}

// SecurityScheme is a free-form scheme declaration; only the "type" key is
// interpreted, and it is normalized to the closed A2A set.
type SecurityScheme map[string]any

// DefaultMode is the input/output MIME type assumed when a card declares none.
const DefaultMode = "text/plain"

// DefaultTransport is the preferred transport assumed when a card declares none.
const DefaultTransport = "JSONRPC"

// Card is the A2A agent card as accepted and stored by the registry.
type Card struct {
	ProtocolVersion    string                    `json:"protocolVersion,omitempty"`
	Name               string                    `json:"name"`
	Description        string                    `json:"description,omitempty"`
	URL                string                    `json:"url"`
	Version            string                    `json:"version,omitempty"`
	Capabilities       Capabilities              `json:"capabilities"`
	DefaultInputModes  []string                  `json:"defaultInputModes"`
	DefaultOutputModes []string                  `json:"defaultOutputModes"`
	Skills             []Skill                   `json:"skills"`
	PreferredTransport string                    `json:"preferredTransport"`
	Provider           *Provider                 `json:"provider,omitempty"`
	SecuritySchemes    map[string]SecurityScheme `json:"securitySchemes,omitempty"`
	// Signature is carried opaquely; the registry never interprets it.
	Signature string `json:"signature,omitempty"`
}

// schemeTypes maps accepted security-scheme type spellings onto the closed
// A2A set {apiKey, http, oauth2, openIdConnect}.
var schemeTypes = map[string]string{
	"apikey":        "apiKey",
	"api_key":       "apiKey",
	"http":          "http",
	"bearer":        "http",
	"oauth2":        "oauth2",
	"openidconnect": "openIdConnect",
	"openid":        "openIdConnect",
}

// NormalizeSchemeType maps a scheme type spelling onto the closed A2A set.
// Unknown spellings are returned unchanged.
func NormalizeSchemeType(t string) string {
	if canonical, ok := schemeTypes[strings.ToLower(t)]; ok {
		return canonical
	}
	return t
}

// SkillIDFromName derives a skill id from its display name.
func SkillIDFromName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}

// Normalize fills defaulted fields in place: input/output modes, preferred
// transport, missing skill ids, and security-scheme type spellings. It is
// applied identically on registration and update.
func (c *Card) Normalize() {
	if len(c.DefaultInputModes) == 0 {
		c.DefaultInputModes = []string{DefaultMode}
	}
	if len(c.DefaultOutputModes) == 0 {
		c.DefaultOutputModes = []string{DefaultMode}
	}
	if c.PreferredTransport == "" {
		c.PreferredTransport = DefaultTransport
	}
	for i := range c.Skills {
		if c.Skills[i].ID == "" {
			c.Skills[i].ID = SkillIDFromName(c.Skills[i].Name)
		}
	}
	for name, scheme := range c.SecuritySchemes {
		if t, ok := scheme["type"].(string); ok {
			scheme["type"] = NormalizeSchemeType(t)
			c.SecuritySchemes[name] = scheme
		}
	}
}

// Validate checks required fields and intra-card invariants.
func (c *Card) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("agent card: name is required")
	}
	if c.URL == "" {
		return fmt.Errorf("agent card: url is required")
	}
	if c.Provider != nil {
		if c.Provider.Organization == "" || c.Provider.URL == "" {
			return fmt.Errorf("agent card: provider requires both organization and url")
		}
	}
	seen := make(map[string]bool, len(c.Skills))
	for i, s := range c.Skills {
		if s.ID == "" && s.Name == "" {
			return fmt.Errorf("agent card: skills[%d] has neither id nor name", i)
		}
		if s.ID != "" {
			if seen[s.ID] {
				return fmt.Errorf("agent card: duplicate skill id %q", s.ID)
			}
			seen[s.ID] = true
		}
	}
	return nil
}

// Parse decodes, normalizes, and validates a card from JSON bytes.
func Parse(data []byte) (*Card, error) {
	var card Card
	if err := json.Unmarshal(data, &card); err != nil {
		return nil, fmt.Errorf("decode agent card: %w", err)
	}
	card.Normalize()
	if err := card.Validate(); err != nil {
		return nil, err
	}
	return &card, nil
}

// Clone returns a deep copy of the card.
func (c *Card) Clone() *Card {
	out := *c
	out.DefaultInputModes = append([]string(nil), c.DefaultInputModes...)
	out.DefaultOutputModes = append([]string(nil), c.DefaultOutputModes...)
	out.Skills = append([]Skill(nil), c.Skills...)
	if c.Provider != nil {
		p := *c.Provider
		out.Provider = &p
	}
	if c.SecuritySchemes != nil {
		out.SecuritySchemes = make(map[string]SecurityScheme, len(c.SecuritySchemes))
		for name, scheme := range c.SecuritySchemes {
			cp := make(SecurityScheme, len(scheme))
			for k, v := range scheme {
				cp[k] = v
			}
			out.SecuritySchemes[name] = cp
		}
	}
	return &out
}
