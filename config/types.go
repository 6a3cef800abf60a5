package config

const (
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
	BackendMemory  = "memory"
)

// Log controls structured logging and optional file rotation.
type Log struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// RateLimit bounds JSON-RPC requests per client address.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
	// Disabled turns the limiter off entirely.
	Disabled bool `toml:"Disabled"`
	// TrustProxyHeaders keys clients by X-Real-IP or X-Forwarded-For. Only
	// enable it behind a proxy that overwrites those headers.
	TrustProxyHeaders bool `toml:"TrustProxyHeaders"`
}

// DefaultRateLimit returns the limits written into new configuration files.
func DefaultRateLimit() RateLimit {
	return RateLimit{RequestsPerSecond: 20, Burst: 40}
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	ServiceName string `toml:"ServiceName"`
	Endpoint    string `toml:"Endpoint"`
	Insecure    bool   `toml:"Insecure"`
	Headers     string `toml:"Headers"`
	Metrics     bool   `toml:"Metrics"`
	Traces      bool   `toml:"Traces"`
}

// Sweeper configures the background expiry sweep. Swept bounties keep their
// reward locked in escrow exactly like a late submission.
type Sweeper struct {
	Enabled         bool   `toml:"Enabled"`
	IntervalSeconds uint64 `toml:"IntervalSeconds"`
}

// Allocation credits a token balance to an account when the store is first
// created.
type Allocation struct {
	Address string `toml:"Address"`
	Token   string `toml:"Token"`
	Amount  string `toml:"Amount"`
}
