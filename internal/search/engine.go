package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/gatewaylabs/toolgate/internal/registry/model"
)

// MaxResults bounds for one query.
const (
	MinQueryResults = 1
	MaxQueryResults = 50
)

// ServerResult is a server hit in the servers view.
type ServerResult struct {
	Path      string        `json:"path"`
	Server    *model.Server `json:"server"`
	Relevance float64       `json:"relevance_score"`
}

// ToolResult is an extracted tool projected into the tools view.
type ToolResult struct {
	ServerPath string     `json:"server_path"`
	ServerName string     `json:"server_name"`
	Tool       model.Tool `json:"tool"`
	Relevance  float64    `json:"relevance_score"`
	RawScore   float64    `json:"raw_score"`
}

// AgentResult is an agent hit in the agents view.
type AgentResult struct {
	Path      string       `json:"path"`
	Agent     *model.Agent `json:"agent"`
	Relevance float64      `json:"relevance_score"`
}

// Results holds the three result views of one hybrid query.
type Results struct {
	Servers []ServerResult `json:"servers"`
	Tools   []ToolResult   `json:"tools"`
	Agents  []AgentResult  `json:"agents"`
}

// Options narrows a hybrid query.
type Options struct {
	// Kinds restricts the views filled in; empty means all of
	// mcp_server, tool, a2a_agent.
	Kinds []string
	// MaxResults is clamped to [1, 50].
	MaxResults int
	// EnabledOnly drops hits for disabled entities.
	EnabledOnly bool
}

// Engine runs hybrid queries: vector kNN through the index, lexical boost,
// and projection into the three result views.
type Engine struct {
	index  *Index
	logger *zap.Logger
}

// NewEngine creates an engine over the given index.
func NewEngine(index *Index, logger *zap.Logger) *Engine {
	return &Engine{index: index, logger: logger}
}

// Index exposes the underlying vector index.
func (e *Engine) Index() *Index { return e.index }

// ServerEmbeddingText builds the deterministic embedding text for a server.
// Identical snapshots must yield identical strings so unchanged entities are
// not re-embedded.
func ServerEmbeddingText(s *model.Server) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", s.Name)
	fmt.Fprintf(&b, "Description: %s\n", s.Description)
	fmt.Fprintf(&b, "Tags: %s\n", strings.Join(s.Tags, ", "))
	b.WriteString("Tools:\n")
	for _, t := range s.ToolList {
		desc := t.ParsedDescription.Main
		if desc == "" {
			desc = t.Description
		}
		fmt.Fprintf(&b, "Tool: %s. Description: %s. Args: %s\n", t.Name, desc, t.ParsedDescription.Args)
	}
	writeMetadata(&b, s.Metadata)
	return b.String()
}

// AgentEmbeddingText builds the deterministic embedding text for an agent.
func AgentEmbeddingText(a *model.Agent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", a.Name)
	fmt.Fprintf(&b, "Description: %s\n", a.Description)

	names := make([]string, 0, len(a.Skills))
	var details []string
	for _, s := range a.Skills {
		names = append(names, s.Name)
		if s.Description != "" {
			details = append(details, fmt.Sprintf("%s: %s", s.Name, s.Description))
		}
	}
	fmt.Fprintf(&b, "Skills: %s\n", strings.Join(names, ", "))
	if len(details) > 0 {
		b.WriteString("Skill Details:\n")
		for _, d := range details {
			b.WriteString(d)
			b.WriteString("\n")
		}
	}
	fmt.Fprintf(&b, "Tags: %s\n", strings.Join(a.Tags, ", "))
	writeMetadata(&b, a.Metadata)
	return b.String()
}

// writeMetadata appends a sorted key/value section; omitted when empty.
func writeMetadata(b *strings.Builder, metadata map[string]any) {
	if len(metadata) == 0 {
		return
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString("Metadata:\n")
	for _, k := range keys {
		fmt.Fprintf(b, "%s: %v\n", k, metadata[k])
	}
}

// SimilarityFromDistance converts a backend distance into a similarity in
// [0,1]. Negative distances follow the inner-product convention (−1..0),
// positive distances the 1−cosine convention (0..2).
func SimilarityFromDistance(d float64) float64 {
	var sim float64
	if d < 0 {
		sim = -d
	} else {
		sim = 1 - d
	}
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

func wantsKind(kinds []string, kind string) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Search runs the hybrid query pipeline and fills the requested views.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*Results, error) {
	maxResults := opts.MaxResults
	if maxResults < MinQueryResults {
		maxResults = MinQueryResults
	}
	if maxResults > MaxQueryResults {
		maxResults = MaxQueryResults
	}

	k := maxResults
	if size := e.index.Size(); size < k {
		k = size
	}
	results := &Results{Servers: []ServerResult{}, Tools: []ToolResult{}, Agents: []AgentResult{}}
	if k == 0 {
		return results, nil
	}

	hits, err := e.index.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	tokens := Tokenize(query)

	for _, hit := range hits {
		if opts.EnabledOnly && !hit.Record.Enabled {
			continue
		}
		base := SimilarityFromDistance(hit.Distance)

		switch hit.Record.EntityType {
		case KindServer:
			var srv model.Server
			if err := json.Unmarshal(hit.Record.Snapshot, &srv); err != nil {
				e.logger.Error("corrupt server snapshot in index",
					zap.String("path", hit.Path), zap.Error(err))
				continue
			}
			toolNames := make([]string, 0, len(srv.ToolList))
			for _, t := range srv.ToolList {
				toolNames = append(toolNames, t.Name)
			}
			final := base * Boost(tokens, srv.Name, toolNames, srv.Tags, srv.Description)
			if final > 1.0 {
				final = 1.0
			}

			if wantsKind(opts.Kinds, KindServer) {
				results.Servers = append(results.Servers, ServerResult{
					Path:      hit.Path,
					Server:    &srv,
					Relevance: final,
				})
			}
			if wantsKind(opts.Kinds, KindTool) {
				for _, m := range ExtractTools(tokens, srv.Name, srv.ToolList) {
					rel := (final + m.RawScore) / 2
					if rel > 1.0 {
						rel = 1.0
					}
					results.Tools = append(results.Tools, ToolResult{
						ServerPath: hit.Path,
						ServerName: srv.Name,
						Tool:       m.Tool,
						Relevance:  rel,
						RawScore:   m.RawScore,
					})
				}
			}

		case KindAgent:
			if !wantsKind(opts.Kinds, KindAgent) {
				continue
			}
			var agent model.Agent
			if err := json.Unmarshal(hit.Record.Snapshot, &agent); err != nil {
				e.logger.Error("corrupt agent snapshot in index",
					zap.String("path", hit.Path), zap.Error(err))
				continue
			}
			skillNames := make([]string, 0, len(agent.Skills))
			for _, s := range agent.Skills {
				skillNames = append(skillNames, s.Name)
			}
			final := base * Boost(tokens, agent.Name, skillNames, agent.Tags, agent.Description)
			if final > 1.0 {
				final = 1.0
			}
			results.Agents = append(results.Agents, AgentResult{
				Path:      hit.Path,
				Agent:     &agent,
				Relevance: final,
			})
		}
	}

	sort.SliceStable(results.Servers, func(i, j int) bool {
		return results.Servers[i].Relevance > results.Servers[j].Relevance
	})
	sort.SliceStable(results.Tools, func(i, j int) bool {
		return results.Tools[i].Relevance > results.Tools[j].Relevance
	})
	sort.SliceStable(results.Agents, func(i, j int) bool {
		return results.Agents[i].Relevance > results.Agents[j].Relevance
	})

	if len(results.Servers) > maxResults {
		results.Servers = results.Servers[:maxResults]
	}
	if len(results.Tools) > maxResults {
		results.Tools = results.Tools[:maxResults]
	}
	if len(results.Agents) > maxResults {
		results.Agents = results.Agents[:maxResults]
	}
	return results, nil
}
