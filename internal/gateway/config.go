package gateway

import "time"

// Config holds HTTP gateway configuration.
type Config struct {
	Bind            string        `yaml:"bind"`
	Auth            AuthConfig    `yaml:"auth"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxBodyBytes caps request bodies on the API.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// DisableMCP unmounts the /mcp endpoint.
	DisableMCP bool `yaml:"disable_mcp"`

	// FeedBuffer is the per-connection buffer of the live audit feed.
	// A client that falls further behind loses records.
	FeedBuffer int `yaml:"feed_buffer"`
}

// defaults fills zero values with sensible defaults.
func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 2 << 20
	}
	if c.FeedBuffer <= 0 {
		c.FeedBuffer = 64
	}
	if c.Auth.AttemptsPerMinute <= 0 {
		c.Auth.AttemptsPerMinute = 120
	}
}

// AuthConfig configures authentication for API, MCP and feed endpoints.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BasicUser   string `yaml:"basic_user"`
	BasicPass   string `yaml:"basic_pass"`

	// AttemptsPerMinute bounds authentication attempts across all clients.
	AttemptsPerMinute int `yaml:"attempts_per_minute"`
}

// IsConfigured returns true if any auth method is configured.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}
