package conn

import "github.com/rcrowley/go-metrics"

// Metrics tracks wire-level transfer counters for one Engine. It is purely
// observational: the protocol logic in engine.go never reads these values
// back to make a decision, only writes to them.
type Metrics struct {
	BytesSent     metrics.Counter
	BytesReceived metrics.Counter
	FilesSent     metrics.Counter
	FilesReceived metrics.Counter
}

// NewMetrics registers a fresh set of counters in the given registry. If
// reg is nil, a private, unregistered registry is used — this lets callers
// that don't care about metrics (most tests) skip wiring one up.
func NewMetrics(reg metrics.Registry, prefix string) *Metrics {
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	return &Metrics{
		BytesSent:     metrics.GetOrRegisterCounter(prefix+".bytes_sent", reg),
		BytesReceived: metrics.GetOrRegisterCounter(prefix+".bytes_received", reg),
		FilesSent:     metrics.GetOrRegisterCounter(prefix+".files_sent", reg),
		FilesReceived: metrics.GetOrRegisterCounter(prefix+".files_received", reg),
	}
}
