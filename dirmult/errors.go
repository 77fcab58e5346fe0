package dirmult

import "errors"

var (
	ErrTooFewCategories = errors.New("at least two categories are required")
	ErrNegativeCount    = errors.New("counts must be non-negative")
	ErrRaggedRow        = errors.New("row length does not match category count")
	ErrNoUsableRows     = errors.New("no rows with a positive total")
	ErrWeightLength     = errors.New("weight length does not match category count")
	ErrBadConcentration = errors.New("concentrations must be positive and finite")
)
