// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file centralizes repository-level sentinel errors.
package repo

import "errors"

// ErrNotFound indicates that the requested row does not exist (or is
// soft-deleted).
var ErrNotFound = errors.New("not found")

// ErrDuplicate indicates a unique-constraint violation, e.g. inserting an
// event audit record for an event id that is already recorded.
var ErrDuplicate = errors.New("duplicate")
