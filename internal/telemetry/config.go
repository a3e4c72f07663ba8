package telemetry

// Config selects where node operation spans go.
type Config struct {
	Enabled bool

	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP/gRPC collector, host:port.
	Endpoint string
	Insecure bool

	// SampleRate is the fraction of root spans kept, 0 to 1. Child spans
	// follow their parent.
	SampleRate float64
}

// DefaultConfig has tracing off, pointing at a local plaintext collector
// and keeping every trace once enabled.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "nfs4client",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1,
	}
}
