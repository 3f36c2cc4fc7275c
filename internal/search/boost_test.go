package search_test

import (
	"math"
	"reflect"
	"testing"

	"github.com/gatewaylabs/toolgate/internal/search"
)

func TestTokenize(t *testing.T) {
	cases := []struct {
		query string
		want  []string
	}{
		{"summarize pdf documents", []string{"summarize", "pdf", "documents"}},
		{"What is the weather?", []string{"weather"}},
		{"how to get docs", []string{"docs"}},
		{"a an the", []string{}},
		{"", []string{}},
		{"DB-backed KV store", []string{"backed", "store"}},
	}
	for _, tc := range cases {
		got := search.Tokenize(tc.query)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Tokenize(%q) = %v, want %v", tc.query, got, tc.want)
		}
	}
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestBoost_emptyTokens(t *testing.T) {
	if got := search.Boost(nil, "Context7", nil, nil, ""); got != 1.0 {
		t.Errorf("empty tokens: got %v, want 1.0", got)
	}
}

func TestBoost_nameMatch(t *testing.T) {
	got := search.Boost([]string{"context7"}, "Context7 Docs", nil, nil, "")
	if !closeTo(got, 1.5) {
		t.Errorf("name match: got %v, want 1.5", got)
	}
}

func TestBoost_itemCap(t *testing.T) {
	// Three matching tool names contribute 0.3 each but cap at 0.6.
	got := search.Boost([]string{"docs"}, "Server",
		[]string{"get-docs", "list-docs", "search-docs"}, nil, "")
	if !closeTo(got, 1.6) {
		t.Errorf("item contribution: got %v, want 1.6", got)
	}
}

func TestBoost_tagCap(t *testing.T) {
	got := search.Boost([]string{"docs"}, "Server", nil,
		[]string{"docs", "docs-tools", "my-docs"}, "")
	if !closeTo(got, 1.4) {
		t.Errorf("tag contribution: got %v, want 1.4", got)
	}
}

func TestBoost_descriptionFraction(t *testing.T) {
	// One of two tokens appears in the description: 1/2 * 0.2 = 0.1.
	got := search.Boost([]string{"weather", "forecast"}, "Server", nil, nil,
		"hourly weather data")
	if !closeTo(got, 1.1) {
		t.Errorf("description contribution: got %v, want 1.1", got)
	}
}

func TestBoost_cappedAtTwo(t *testing.T) {
	// Name (0.5) + items (0.6) + tags (0.4) + full description (0.2)
	// would exceed the cap; the result clamps to 2.0.
	got := search.Boost([]string{"docs"}, "Docs Server",
		[]string{"get-docs", "list-docs"},
		[]string{"docs", "more-docs"},
		"serves docs")
	if got != 2.0 {
		t.Errorf("capped boost: got %v, want 2.0", got)
	}
}
