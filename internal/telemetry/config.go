package telemetry

// Service identifies the process in traces and profiles.
type Service struct {
	Name    string // zcopy-produce or zcopy-consume
	Version string

	// Instance is the zero-copy instance name. It is a resource attribute of
	// every span and a tag of every profile, so producer and consumers of one
	// instance can be compared.
	Instance string
}

// Config configures OpenTelemetry tracing.
type Config struct {
	Enabled bool
	Service Service

	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint string
	Insecure bool

	// SampleRate is the fraction of traces kept, 0.0 to 1.0.
	SampleRate float64
}

// DefaultConfig returns tracing disabled with a local collector endpoint.
func DefaultConfig() Config {
	return Config{
		Service:    Service{Name: "zcopy", Version: "dev"},
		Endpoint:   "localhost:4317",
		Insecure:   true,
		SampleRate: 1.0,
	}
}

// ProfilingConfig configures Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled bool
	Service Service

	// Endpoint is the Pyroscope server URL, e.g. "http://localhost:4040".
	Endpoint string

	// ProfileTypes lists the profiles to collect. See profileTypes for the
	// accepted names.
	ProfileTypes []string
}
