package engine

import "errors"

// Sentinel errors returned by Engine methods. Callers use errors.Is to
// distinguish them; the HTTP facade maps each to a status code.
var (
	ErrNotFound       = errors.New("key not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrTimeout        = errors.New("request timed out")
)
