package lifecycle

import "sync/atomic"

var (
	shuttingDown atomic.Bool
	datasetReady atomic.Bool
)

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// SetDatasetReady marks that a plant dataset has been loaded and forecasts
// can be served. Health reports starting until then.
func SetDatasetReady(v bool) {
	datasetReady.Store(v)
}

// IsDatasetReady reports whether a plant dataset is loaded.
func IsDatasetReady() bool {
	return datasetReady.Load()
}
