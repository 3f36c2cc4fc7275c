package search

import (
	"sort"
	"strings"

	"github.com/gatewaylabs/toolgate/internal/registry/model"
)

// serverNameBaseScore is assigned to every tool of a server whose name
// matches the query even though the tool itself does not.
const serverNameBaseScore = 0.5

// maxToolsPerServer bounds how many tools one server contributes to the
// tools view.
const maxToolsPerServer = 5

// ToolMatch is one extracted tool with its lexical raw score.
type ToolMatch struct {
	Tool     model.Tool
	RawScore float64
}

// ExtractTools scores a server's tools against the query tokens. Name
// matches weigh double against description matches; a tool with no direct
// match still qualifies at the base score when the server name itself
// matched. At most five tools are returned, best first.
func ExtractTools(tokens []string, serverName string, tools []model.Tool) []ToolMatch {
	if len(tokens) == 0 {
		return nil
	}

	serverLower := strings.ToLower(serverName)
	serverMatched := false
	for _, tok := range tokens {
		if strings.Contains(serverLower, tok) {
			serverMatched = true
			break
		}
	}
	if !serverMatched {
		for _, part := range Tokenize(serverName) {
			for _, tok := range tokens {
				if strings.Contains(tok, part) {
					serverMatched = true
					break
				}
			}
			if serverMatched {
				break
			}
		}
	}

	maxPossible := float64(2 * len(tokens))
	matches := make([]ToolMatch, 0, len(tools))
	for _, tool := range tools {
		nameLower := strings.ToLower(tool.Name)
		descLower := strings.ToLower(tool.Description + " " +
			tool.ParsedDescription.Main + " " + tool.ParsedDescription.Args)

		nameMatches := 0
		descMatches := 0
		for _, tok := range tokens {
			if strings.Contains(nameLower, tok) {
				nameMatches++
			}
			if strings.Contains(descLower, tok) {
				descMatches++
			}
		}

		weighted := float64(2*nameMatches + descMatches)
		switch {
		case weighted > 0:
			matches = append(matches, ToolMatch{Tool: tool, RawScore: weighted / maxPossible})
		case serverMatched:
			matches = append(matches, ToolMatch{Tool: tool, RawScore: serverNameBaseScore})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].RawScore > matches[j].RawScore
	})
	if len(matches) > maxToolsPerServer {
		matches = matches[:maxToolsPerServer]
	}
	return matches
}
