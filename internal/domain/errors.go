// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (conditional update lost).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates a malformed request that was rejected before
// anything was persisted.
var ErrValidation = errors.New("validation failed")
