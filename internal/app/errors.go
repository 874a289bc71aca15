package service

import "errors"

// Sentinel service errors.
var (
	ErrNotStarted      = errors.New("service not started")
	ErrUnknownProfile  = errors.New("unknown profile")
	ErrPendingNotFound = errors.New("pending transfer not found")
	ErrMissingTxRef    = errors.New("confirmed resolution needs a tx ref")
)
