package collector

import "context"

// Collector is the interface implemented by every polling collector.
// A collector owns one goroutine that repeats its cycle at a fixed
// interval and publishes results to the metrics registry.
type Collector interface {
	// Name returns the collector's name (e.g., "gpu", "podusage").
	Name() string
	// Start launches the collector's polling goroutine. It must not block.
	Start(ctx context.Context) error
	// WaitForSync blocks until the first cycle has completed (successfully
	// or not), or the context expires.
	WaitForSync(ctx context.Context) error
	// Stop terminates the polling goroutine and waits for it to exit.
	Stop()
}
