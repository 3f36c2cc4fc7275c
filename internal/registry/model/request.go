package model

import "github.com/gatewaylabs/toolgate/pkg/agentcard"

// RegisterServerRequest is the form-encoded payload for registering an MCP
// server. tags is comma-separated; tool_list_json and headers carry JSON.
type RegisterServerRequest struct {
	Name                string   `form:"name" json:"name" validate:"required"`
	Path                string   `form:"path" json:"path" validate:"required"`
	ProxyURL            string   `form:"proxy_url" json:"proxy_url" validate:"required,url"`
	Description         string   `form:"description" json:"description"`
	Tags                string   `form:"tags" json:"tags"`
	NumTools            int      `form:"num_tools" json:"num_tools"`
	AuthProvider        string   `form:"auth_provider" json:"auth_provider"`
	AuthType            string   `form:"auth_type" json:"auth_type"`
	SupportedTransports []string `form:"supported_transports" json:"supported_transports"`
	ToolListJSON        string   `form:"tool_list_json" json:"tool_list_json"`
	HeadersJSON         string   `form:"headers" json:"headers"`
	Overwrite           bool     `form:"overwrite" json:"overwrite"`
}

// RegisterAgentRequest is the JSON payload for registering an A2A agent.
// A2A-standard fields arrive in camelCase.
type RegisterAgentRequest struct {
	Name            string                              `json:"name" validate:"required"`
	Description     string                              `json:"description"`
	URL             string                              `json:"url" validate:"required,url"`
	Path            string                              `json:"path"`
	Version         string                              `json:"version"`
	ProtocolVersion string                              `json:"protocolVersion"`
	Provider        *agentcard.Provider                 `json:"provider,omitempty"`
	SecuritySchemes map[string]agentcard.SecurityScheme `json:"securitySchemes,omitempty"`
	Skills          []agentcard.Skill                   `json:"skills,omitempty"`
	Streaming       bool                                `json:"streaming"`
	Tags            string                              `json:"tags"`
	License         string                              `json:"license"`
	Visibility      string                              `json:"visibility" validate:"omitempty,oneof=public private group-restricted"`
	AllowedGroups   []string                            `json:"allowed_groups,omitempty"`
	TrustLevel      string                              `json:"trust_level" validate:"omitempty,oneof=unverified community verified trusted"`
}

// UpdateAgentRequest is the JSON payload for updating an existing agent.
// Zero-valued fields are left unchanged.
type UpdateAgentRequest struct {
	Description     *string                             `json:"description,omitempty"`
	URL             *string                             `json:"url,omitempty" validate:"omitempty,url"`
	Version         *string                             `json:"version,omitempty"`
	Provider        *agentcard.Provider                 `json:"provider,omitempty"`
	SecuritySchemes map[string]agentcard.SecurityScheme `json:"securitySchemes,omitempty"`
	Skills          []agentcard.Skill                   `json:"skills,omitempty"`
	Streaming       *bool                               `json:"streaming,omitempty"`
	Tags            *string                             `json:"tags,omitempty"`
	License         *string                             `json:"license,omitempty"`
	Visibility      *string                             `json:"visibility,omitempty" validate:"omitempty,oneof=public private group-restricted"`
	AllowedGroups   []string                            `json:"allowed_groups,omitempty"`
	TrustLevel      *string                             `json:"trust_level,omitempty" validate:"omitempty,oneof=unverified community verified trusted"`
}

// RatingRequest is the JSON payload for rating an entity.
type RatingRequest struct {
	Rating int `json:"rating" validate:"required,min=1,max=5"`
}

// DiscoverRequest is the JSON payload for skill-based agent discovery.
type DiscoverRequest struct {
	Skills     []string `json:"skills" validate:"required,min=1"`
	Tags       []string `json:"tags,omitempty"`
	MaxResults int      `json:"max_results"`
}
