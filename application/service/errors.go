package service

import "errors"

var (
	// ErrLengthMismatch indicates embedding resolution produced a different
	// number of vectors than rows. It is a defect, not a data error.
	ErrLengthMismatch = errors.New("embedding count does not match row count")

	// ErrMissingValueColumn indicates no value column is configured for the
	// dataset kind being ingested.
	ErrMissingValueColumn = errors.New("value column not configured")
)
