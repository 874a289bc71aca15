package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrIO      = errors.New("store io failure")
	ErrClosed  = errors.New("store closed")
	ErrCorrupt = errors.New("store state corrupt")
	ErrUnknown = errors.New("unknown store kind")
)
