// Package storage implements the on-disk catalog of servers and agents:
// one JSON document per entity plus a per-kind state file recording
// enabled/disabled membership.
package storage

import "errors"

// Sentinel errors for the registry error taxonomy. Callers classify with
// errors.Is; the HTTP layer maps each kind to a status code in one place.
var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("already exists")
	ErrForbidden = errors.New("forbidden")
	ErrInvalid   = errors.New("invalid argument")
	ErrNoScan    = errors.New("no scan result")
)
