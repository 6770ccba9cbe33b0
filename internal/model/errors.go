package model

import "errors"

// ErrInvalidFilter is returned when a filter or bucket specification is
// malformed (e.g. start after end). It is rejected before any computation.
var ErrInvalidFilter = errors.New("invalid filter")

// ErrWeightConfig is returned when a weight configuration fails validation
// at construction time. Scoring never re-validates.
var ErrWeightConfig = errors.New("invalid weight config")
