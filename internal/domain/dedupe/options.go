package dedupe

const defaultMaxSize = 10000

// Option applies a configuration option to the key guard.
type Option func(*keyGuard)

// WithMaxSize sets how many keys are remembered.
// maxSize <= 0 disables eviction.
func WithMaxSize(maxSize int) Option {
	return func(d *keyGuard) {
		d.maxSize = maxSize
	}
}
