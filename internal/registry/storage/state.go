package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// stateDoc is the per-kind enable/disable membership document. Every
// registered path appears in exactly one of the two lists.
type stateDoc struct {
	Enabled  []string `json:"enabled"`
	Disabled []string `json:"disabled"`
}

// loadState reads a state file into a path→enabled map. A missing file
// yields an empty map. A path listed in both lists counts as disabled.
func loadState(file string) (map[string]bool, error) {
	data, err := os.ReadFile(file)
	if os.IsNotExist(err) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	var doc stateDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	state := make(map[string]bool, len(doc.Enabled)+len(doc.Disabled))
	for _, p := range doc.Enabled {
		state[p] = true
	}
	for _, p := range doc.Disabled {
		state[p] = false
	}
	return state, nil
}

// writeState persists a path→enabled map as a state document with sorted
// lists, atomically.
func writeState(file string, state map[string]bool) error {
	doc := stateDoc{Enabled: []string{}, Disabled: []string{}}
	for p, enabled := range state {
		if enabled {
			doc.Enabled = append(doc.Enabled, p)
		} else {
			doc.Disabled = append(doc.Disabled, p)
		}
	}
	sort.Strings(doc.Enabled)
	sort.Strings(doc.Disabled)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state file: %w", err)
	}
	return WriteFileAtomic(file, data)
}

// sortedPaths returns the paths in state with the given enabled flag.
func sortedPaths(state map[string]bool, enabled bool) []string {
	out := []string{}
	for p, e := range state {
		if e == enabled {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
