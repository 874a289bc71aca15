package repository

import "github.com/okian/claimgate/pkg/logger"

// Option applies a configuration option to the FileStore.
type Option func(*FileStore)

// WithLogger sets the logger used for load anomalies and write failures.
func WithLogger(l logger.Logger) Option {
	return func(s *FileStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithFileNames overrides the state and event log file names inside the data dir.
func WithFileNames(state, events string) Option {
	return func(s *FileStore) {
		if state != "" {
			s.stateName = state
		}
		if events != "" {
			s.eventsName = events
		}
	}
}
