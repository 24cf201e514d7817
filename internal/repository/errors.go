// Package repository defines the persistence boundary of the parking
// engine and its two implementations: an in-memory store used by tests and
// single-node demos, and a MySQL store. The sentinel errors below let
// higher layers distinguish a missing row from an infrastructure failure.
package repository

import "errors"

// ErrNotFound is returned when a single-row lookup matches nothing.
// The parking service translates it into its own not-found kind.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert collides with a unique key, for
// example a username or an open parking code that is already in use.
var ErrDuplicate = errors.New("duplicate")
