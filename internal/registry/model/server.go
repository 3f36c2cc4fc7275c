package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// PathPattern is the canonical shape of an entity path: leading slash,
// non-empty segments, no trailing slash.
var PathPattern = regexp.MustCompile(`^/[^/]+(/[^/]+)*$`)

// ParsedDescription splits a tool description into its main text and an
// argument summary. Both halves feed the embedding text.
type ParsedDescription struct {
	Main string `json:"main"`
	Args string `json:"args,omitempty"`
}

// Tool is a single callable tool exposed by an MCP server.
type Tool struct {
	Name              string            `json:"name"`
	Description       string            `json:"description,omitempty"`
	ParsedDescription ParsedDescription `json:"parsed_description"`
	Schema            json.RawMessage   `json:"schema,omitempty"`
}

// Server is a registered MCP tool server. One JSON document per server is
// persisted on disk; IsEnabled is materialized from the state file at read
// time and never stored in the document.
type Server struct {
	Path                string            `json:"path"`
	Name                string            `json:"server_name"`
	Description         string            `json:"description"`
	ProxyURL            string            `json:"proxy_url"`
	Tags                []string          `json:"tags"`
	ToolList            []Tool            `json:"tool_list"`
	NumTools            int               `json:"num_tools"`
	AuthProvider        string            `json:"auth_provider,omitempty"`
	AuthType            string            `json:"auth_type,omitempty"`
	SupportedTransports []string          `json:"supported_transports,omitempty"`
	Headers             map[string]string `json:"headers,omitempty"`
	Ratings             []RatingEntry     `json:"ratings,omitempty"`
	NumStars            float64           `json:"num_stars"`
	Metadata            map[string]any    `json:"metadata,omitempty"`
	ToolListJSON        string            `json:"tool_list_json,omitempty"`
	RegisteredBy        string            `json:"registered_by,omitempty"`
	RegisteredAt        time.Time         `json:"registered_at,omitzero"`
	UpdatedAt           time.Time         `json:"updated_at,omitzero"`
	IsEnabled           bool              `json:"is_enabled"`
}

// Validate checks the structural invariants of a server document.
func (s *Server) Validate() error {
	if !PathPattern.MatchString(s.Path) {
		return fmt.Errorf("server path %q is not a valid path", s.Path)
	}
	if s.Name == "" {
		return fmt.Errorf("server name is required")
	}
	seen := make(map[string]bool, len(s.ToolList))
	for _, t := range s.ToolList {
		if t.Name == "" {
			return fmt.Errorf("server %q has a tool with an empty name", s.Path)
		}
		if seen[t.Name] {
			return fmt.Errorf("server %q declares tool %q more than once", s.Path, t.Name)
		}
		seen[t.Name] = true
	}
	if s.NumStars > 0 && len(s.Ratings) == 0 {
		return fmt.Errorf("server %q has num_stars %.2f but no ratings", s.Path, s.NumStars)
	}
	return nil
}

// Clone returns a deep copy safe to hand to callers.
func (s *Server) Clone() *Server {
	out := *s
	out.Tags = append([]string(nil), s.Tags...)
	out.ToolList = append([]Tool(nil), s.ToolList...)
	out.SupportedTransports = append([]string(nil), s.SupportedTransports...)
	out.Ratings = append([]RatingEntry(nil), s.Ratings...)
	if s.Headers != nil {
		out.Headers = make(map[string]string, len(s.Headers))
		for k, v := range s.Headers {
			out.Headers[k] = v
		}
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// HasTag reports whether the tag is already present.
func (s *Server) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ParseToolList decodes a tool_list_json payload into Tool records.
func ParseToolList(raw string) ([]Tool, error) {
	if raw == "" {
		return nil, nil
	}
	var tools []Tool
	if err := json.Unmarshal([]byte(raw), &tools); err != nil {
		return nil, fmt.Errorf("parse tool_list_json: %w", err)
	}
	return tools, nil
}
