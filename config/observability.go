package config

// MetricsConfig configures the /metrics, /health and /ready server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Addr is the listen address. Default: ":9090"
	Addr string `yaml:"addr"`
}

// PprofConfig configures the pprof debug server.
type PprofConfig struct {
	// Enabled is off by default.
	Enabled bool `yaml:"enabled,omitempty"`

	// Addr defaults to "localhost:6060".
	Addr string `yaml:"addr,omitempty"`
}
