package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrPersistence marks a store write that failed even after its single
// idempotent retry. Transient: callers may repeat the operation later
// because dataset builds are idempotent and metric folds are additive.
var ErrPersistence = errors.New("storage: persistent write failure")
