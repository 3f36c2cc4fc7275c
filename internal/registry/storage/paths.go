package storage

import "strings"

// NormalizePath returns the canonical form of an entity path: leading slash,
// no trailing slash except for the root itself.
func NormalizePath(path string) string {
	p := strings.TrimSpace(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

// AlternatePath returns the trailing-slash variant of a canonical path.
// Lookups try the canonical form first, then this one.
func AlternatePath(path string) string {
	if strings.HasSuffix(path, "/") {
		return strings.TrimRight(path, "/")
	}
	return path + "/"
}

// SafePath converts a path into a filesystem-safe name: slashes become
// underscores and leading/trailing underscores are trimmed.
func SafePath(path string) string {
	return strings.Trim(strings.ReplaceAll(path, "/", "_"), "_")
}

// ServerFileName returns the document filename for a server path.
func ServerFileName(path string) string {
	return SafePath(path) + ".json"
}

// AgentFileName returns the document filename for an agent path.
func AgentFileName(path string) string {
	return SafePath(path) + "_agent.json"
}
