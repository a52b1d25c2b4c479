package model

import "time"

// Version is the client version sent to the backend in get_config
const Version = "0.4.0"

// Config is the complete client configuration.
// Field tags serve both viper (mapstructure) and `config init|show` (yaml).
type Config struct {
	Server       ServerConfig      `yaml:"server" mapstructure:"server"`
	HTTP         HTTPConfig        `yaml:"http" mapstructure:"http"`
	Cache        CacheConfig       `yaml:"cache" mapstructure:"cache"`
	RateLimiting RateLimitConfig   `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Concurrency  ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
	Workflow     WorkflowConfig    `yaml:"workflow" mapstructure:"workflow"`
	Authority    AuthorityConfig   `yaml:"authority" mapstructure:"authority"`
	Output       OutputConfig      `yaml:"output" mapstructure:"output"`
	Metrics      MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`
}

// ServerConfig locates the Doppelcheck backend
type ServerConfig struct {
	Address     string        `yaml:"address" mapstructure:"address"`           // host[:port], used for https:// and wss://
	InstanceID  string        `yaml:"instance_id" mapstructure:"instance_id"`   // Generated per run when empty
	InsecureTLS bool          `yaml:"insecure_tls" mapstructure:"insecure_tls"` // Accept self-signed backend certificates
	PlainText   bool          `yaml:"plain_text" mapstructure:"plain_text"`     // Use http:// and ws:// (local backends)
	ConfigTTL   time.Duration `yaml:"config_ttl" mapstructure:"config_ttl"`     // How long get_config answers are reused
}

// BaseURL is the backend's HTTP origin
func (s ServerConfig) BaseURL() string {
	if s.PlainText {
		return "http://" + s.Address
	}
	return "https://" + s.Address
}

// TalkURL is the backend's WebSocket endpoint
func (s ServerConfig) TalkURL() string {
	if s.PlainText {
		return "ws://" + s.Address + "/talk"
	}
	return "wss://" + s.Address + "/talk"
}

// HTTPConfig controls page fetching and backend HTTP calls
type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent     string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	InsecureTLS   bool          `yaml:"insecure_tls" mapstructure:"insecure_tls"`
	RespectRobots bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
	HTTPProxy     string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy    string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy       string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// CacheConfig controls the page cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// RateLimitConfig limits page fetches per domain
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// ConcurrencyConfig sizes the batch worker pool
type ConcurrencyConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// WorkflowConfig drives which stages run without a user click
type WorkflowConfig struct {
	AutoSources    bool          `yaml:"auto_sources" mapstructure:"auto_sources"`       // Request sources as soon as a keypoint is ready
	AutoCrosscheck bool          `yaml:"auto_crosscheck" mapstructure:"auto_crosscheck"` // Cross-check every retrievable source
	StageTimeout   time.Duration `yaml:"stage_timeout" mapstructure:"stage_timeout"`     // 0 waits indefinitely
	NGram          int           `yaml:"ngram" mapstructure:"ngram"`                     // Words per highlight pattern
	ReaderMode     bool          `yaml:"reader_mode" mapstructure:"reader_mode"`         // Check the readability article instead of the full page
}

// AuthorityConfig configures source authority classification
type AuthorityConfig struct {
	PrimaryDomains   []string          `yaml:"primary_domains" mapstructure:"primary_domains"`
	SecondaryDomains []string          `yaml:"secondary_domains" mapstructure:"secondary_domains"`
	DomainMap        map[string]string `yaml:"domain_map,omitempty" mapstructure:"domain_map"`
	PathPatterns     []PathPattern     `yaml:"path_patterns,omitempty" mapstructure:"path_patterns"`
}

// PathPattern assigns a tier to URLs whose path matches Pattern
type PathPattern struct {
	Pattern string `yaml:"pattern" mapstructure:"pattern"`
	Tier    string `yaml:"tier" mapstructure:"tier"`
}

// OutputConfig controls rendering
type OutputConfig struct {
	Verbose       bool `yaml:"verbose" mapstructure:"verbose"`
	IncludeFooter bool `yaml:"include_footer" mapstructure:"include_footer"`
	Color         bool `yaml:"color" mapstructure:"color"`
}

// MetricsConfig exposes Prometheus metrics when Addr is set
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:   "localhost:8000",
			ConfigTTL: 5 * time.Minute,
		},
		HTTP: HTTPConfig{
			Timeout:       30 * time.Second,
			UserAgent:     "Doppelcheck/" + Version + " (+https://github.com/ppiankov/doppelcheck)",
			MaxBodyBytes:  5_000_000,
			RespectRobots: true,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       ".doppelcheck-cache",
			MemoryTTL: 10 * time.Minute,
			DiskTTL:   24 * time.Hour,
		},
		RateLimiting: RateLimitConfig{
			RequestsPerSecond: 2,
			BurstSize:         5,
		},
		Concurrency: ConcurrencyConfig{
			Workers: 4,
		},
		Workflow: WorkflowConfig{
			AutoSources:    true,
			AutoCrosscheck: false,
			NGram:          5,
		},
		Authority: AuthorityConfig{
			PrimaryDomains: []string{
				"doi.org",
				"europa.eu",
				"legislation.gov.uk",
				"who.int",
				"un.org",
			},
			SecondaryDomains: []string{
				"wikipedia.org",
				"britannica.com",
				"reuters.com",
				"apnews.com",
				"bbc.co.uk",
				"tagesschau.de",
			},
		},
		Output: OutputConfig{
			IncludeFooter: true,
			Color:         true,
		},
	}
}
