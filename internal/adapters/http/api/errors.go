package api

import "errors"

// Sentinel kinds for status server errors.
var (
	ErrServe   = errors.New("status server failed")
	ErrNoStats = errors.New("no stats provider configured")
)
