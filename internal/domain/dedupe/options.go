package dedupe

// Option configures a Deduper.
type Option func(*window)

// WithMaxSize bounds how many ids are remembered; the oldest is forgotten
// first. A non-positive size keeps everything.
func WithMaxSize(n int) Option {
	return func(w *window) {
		w.maxSize = n
	}
}
