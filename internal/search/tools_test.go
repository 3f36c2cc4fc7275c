package search_test

import (
	"fmt"
	"testing"

	"github.com/gatewaylabs/toolgate/internal/registry/model"
	"github.com/gatewaylabs/toolgate/internal/search"
)

func TestExtractTools_emptyTokens(t *testing.T) {
	tools := []model.Tool{{Name: "get-library-docs"}}
	if got := search.ExtractTools(nil, "Context7", tools); got != nil {
		t.Errorf("expected nil for empty tokens, got %v", got)
	}
}

func TestExtractTools_nameWeighsDouble(t *testing.T) {
	tokens := []string{"resolve"}
	tools := []model.Tool{
		{Name: "resolve-library-id"},
		{Name: "get-library-docs", Description: "resolve documentation for a library"},
	}
	matches := search.ExtractTools(tokens, "SomeServer", tools)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	// max possible = 2 * 1 token = 2; name match scores 2/2, description 1/2.
	if matches[0].Tool.Name != "resolve-library-id" || matches[0].RawScore != 1.0 {
		t.Errorf("first match: %s %.2f", matches[0].Tool.Name, matches[0].RawScore)
	}
	if matches[1].RawScore != 0.5 {
		t.Errorf("description match: got %.2f, want 0.5", matches[1].RawScore)
	}
}

func TestExtractTools_serverNameBaseScore(t *testing.T) {
	// Tools that match nothing still qualify at the base score when the
	// server name itself matched the query.
	tokens := search.Tokenize("context7 documentation")
	tools := []model.Tool{{Name: "ping"}}
	matches := search.ExtractTools(tokens, "Context7", tools)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].RawScore != 0.5 {
		t.Errorf("base score: got %.2f, want 0.5", matches[0].RawScore)
	}
}

func TestExtractTools_noMatchNoServer(t *testing.T) {
	matches := search.ExtractTools([]string{"weather"}, "Context7",
		[]model.Tool{{Name: "get-library-docs"}})
	if len(matches) != 0 {
		t.Errorf("expected no matches, got %d", len(matches))
	}
}

func TestExtractTools_capsAtFive(t *testing.T) {
	tools := make([]model.Tool, 8)
	for i := range tools {
		tools[i] = model.Tool{Name: fmt.Sprintf("docs-tool-%d", i)}
	}
	matches := search.ExtractTools([]string{"docs"}, "Server", tools)
	if len(matches) != 5 {
		t.Errorf("expected 5 matches, got %d", len(matches))
	}
}
