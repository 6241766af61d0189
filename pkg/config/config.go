package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Override zone (locally authoritative records)
	Zone ZoneConfig `yaml:"zone"`

	// Extra forward zones routed to their own upstreams
	ForwardZones []ForwardZoneConfig `yaml:"forward_zones"`

	// Upstream DNS servers for the root forward zone
	UpstreamDNSServers []string `yaml:"upstream_dns_servers"`

	// Forwarder tuning
	Forwarder ForwarderConfig `yaml:"forwarder"`

	// Mutation queue
	Mutations MutationsConfig `yaml:"mutations"`

	// Control API
	API APIConfig `yaml:"api"`

	// Journal storage
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Telemetry (OTEL)
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds server-specific settings
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
	TCPEnabled    bool   `yaml:"tcp_enabled"`
	UDPEnabled    bool   `yaml:"udp_enabled"`
}

// ZoneConfig describes the override zone and the records it starts with
type ZoneConfig struct {
	Name    string             `yaml:"name"`
	Kind    string             `yaml:"kind"` // primary, forward, hint
	Records []LocalRecordEntry `yaml:"records"`
}

// LocalRecordEntry is a record as written in YAML or posted to the API
type LocalRecordEntry struct {
	Domain     string   `yaml:"domain" json:"domain"`
	Type       string   `yaml:"type" json:"type"`
	TTL        uint32   `yaml:"ttl,omitempty" json:"ttl,omitempty"`
	IPs        []string `yaml:"ips,omitempty" json:"ips,omitempty"`
	Target     string   `yaml:"target,omitempty" json:"target,omitempty"`
	TxtRecords []string `yaml:"txt_records,omitempty" json:"txt_records,omitempty"`
	Priority   *uint16  `yaml:"priority,omitempty" json:"priority,omitempty"`
	Weight     *uint16  `yaml:"weight,omitempty" json:"weight,omitempty"`
	Port       *uint16  `yaml:"port,omitempty" json:"port,omitempty"`

	// SOA
	Ns      string `yaml:"ns,omitempty" json:"ns,omitempty"`
	Mbox    string `yaml:"mbox,omitempty" json:"mbox,omitempty"`
	Serial  uint32 `yaml:"serial,omitempty" json:"serial,omitempty"`
	Refresh uint32 `yaml:"refresh,omitempty" json:"refresh,omitempty"`
	Retry   uint32 `yaml:"retry,omitempty" json:"retry,omitempty"`
	Expire  uint32 `yaml:"expire,omitempty" json:"expire,omitempty"`
	Minttl  uint32 `yaml:"minttl,omitempty" json:"minttl,omitempty"`

	// CAA
	CaaFlag  uint8  `yaml:"caa_flag,omitempty" json:"caa_flag,omitempty"`
	CaaTag   string `yaml:"caa_tag,omitempty" json:"caa_tag,omitempty"`
	CaaValue string `yaml:"caa_value,omitempty" json:"caa_value,omitempty"`
}

// ForwardZoneConfig routes a subtree to dedicated upstream servers
type ForwardZoneConfig struct {
	Name      string   `yaml:"name"`
	Upstreams []string `yaml:"upstreams"`
}

// ForwarderConfig holds upstream client settings
type ForwarderConfig struct {
	Timeout        time.Duration        `yaml:"timeout"`
	Retries        int                  `yaml:"retries"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"` // Failures before opening (default: 5)
	SuccessThreshold int           `yaml:"success_threshold"` // Successes to close from half-open (default: 2)
	OpenTimeout      time.Duration `yaml:"open_timeout"`      // How long to stay open (default: 30s)
}

// MutationsConfig holds mutation queue settings
type MutationsConfig struct {
	QueueCapacity int `yaml:"queue_capacity"`
}

// APIConfig holds control API settings
type APIConfig struct {
	Enabled        bool    `yaml:"enabled"`
	ListenAddress  string  `yaml:"listen_address"`
	APIKey         string  `yaml:"api_key"`
	AuthHeader     string  `yaml:"auth_header"`
	BasicUser      string  `yaml:"basic_user"`
	PasswordHash   string  `yaml:"password_hash"` // bcrypt
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// StorageConfig holds journal storage settings
type StorageConfig struct {
	Enabled       bool          `yaml:"enabled"`
	DatabasePath  string        `yaml:"database_path"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	RetentionDays int           `yaml:"retention_days"`
	LogQueries    bool          `yaml:"log_queries"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level     string `yaml:"level"`      // debug, info, warn, error
	Format    string `yaml:"format"`     // json, text
	Output    string `yaml:"output"`     // stdout, stderr, file
	FilePath  string `yaml:"file_path"`  // if output=file
	AddSource bool   `yaml:"add_source"` // include source file/line
}

// TelemetryConfig holds OpenTelemetry settings
type TelemetryConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ServiceName       string `yaml:"service_name"`
	ServiceVersion    string `yaml:"service_version"`
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port"`
}

// Zone kinds
const (
	ZoneKindPrimary = "primary"
	ZoneKindForward = "forward"
	ZoneKindHint    = "hint"
)

// DefaultUpstreams is the Google public resolver pool
var DefaultUpstreams = []string{
	"8.8.8.8:53",
	"8.8.4.4:53",
}

// Load loads the configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML bytes, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults creates a configuration with sensible defaults
func LoadWithDefaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Save writes the configuration to path atomically (temp file + rename)
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yml")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// applyDefaults sets default values for unset configuration fields
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":5300"
	}
	if !c.Server.TCPEnabled && !c.Server.UDPEnabled {
		c.Server.UDPEnabled = true
	}

	// Zone defaults
	if c.Zone.Name == "" {
		c.Zone.Name = "example.com."
	}
	c.Zone.Name = fqdn(c.Zone.Name)
	if c.Zone.Kind == "" {
		c.Zone.Kind = ZoneKindPrimary
	}
	for i := range c.ForwardZones {
		c.ForwardZones[i].Name = fqdn(c.ForwardZones[i].Name)
	}

	// Upstream DNS defaults
	if len(c.UpstreamDNSServers) == 0 {
		c.UpstreamDNSServers = append([]string(nil), DefaultUpstreams...)
	}

	// Forwarder defaults
	if c.Forwarder.Timeout == 0 {
		c.Forwarder.Timeout = 2 * time.Second
	}
	if c.Forwarder.Retries == 0 {
		c.Forwarder.Retries = 2
	}
	if c.Forwarder.CircuitBreaker.FailureThreshold == 0 {
		c.Forwarder.CircuitBreaker.FailureThreshold = 5
	}
	if c.Forwarder.CircuitBreaker.SuccessThreshold == 0 {
		c.Forwarder.CircuitBreaker.SuccessThreshold = 2
	}
	if c.Forwarder.CircuitBreaker.OpenTimeout == 0 {
		c.Forwarder.CircuitBreaker.OpenTimeout = 30 * time.Second
	}

	// Mutation queue defaults
	if c.Mutations.QueueCapacity == 0 {
		c.Mutations.QueueCapacity = 10
	}

	// API defaults
	if c.API.ListenAddress == "" {
		c.API.ListenAddress = ":8080"
	}
	if c.API.AuthHeader == "" {
		c.API.AuthHeader = "Authorization"
	}
	if c.API.RateLimitRPS == 0 {
		c.API.RateLimitRPS = 20
	}
	if c.API.RateLimitBurst == 0 {
		c.API.RateLimitBurst = 40
	}

	// Storage defaults
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "./override-dns.db"
	}
	if c.Storage.BufferSize == 0 {
		c.Storage.BufferSize = 256
	}
	if c.Storage.FlushInterval == 0 {
		c.Storage.FlushInterval = 2 * time.Second
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = 7
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	// Telemetry defaults
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "override-dns"
	}
	if c.Telemetry.ServiceVersion == "" {
		c.Telemetry.ServiceVersion = "dev"
	}
	if c.Telemetry.PrometheusPort == 0 {
		c.Telemetry.PrometheusPort = 9090
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address cannot be empty")
	}
	if !c.Server.TCPEnabled && !c.Server.UDPEnabled {
		return fmt.Errorf("at least one of TCP or UDP must be enabled")
	}

	// Validate zone
	if c.Zone.Name == "" || c.Zone.Name == "." {
		return fmt.Errorf("zone.name must be a domain below the root")
	}
	switch c.Zone.Kind {
	case ZoneKindPrimary, ZoneKindForward, ZoneKindHint:
	default:
		return fmt.Errorf("invalid zone.kind: %s (must be primary, forward, or hint)", c.Zone.Kind)
	}
	for i, rec := range c.Zone.Records {
		if strings.TrimSpace(rec.Domain) == "" || strings.TrimSpace(rec.Type) == "" {
			return fmt.Errorf("zone.records[%d]: domain and type are required", i)
		}
	}

	// Validate upstream servers
	if len(c.UpstreamDNSServers) == 0 {
		return fmt.Errorf("at least one upstream DNS server must be configured")
	}
	for i, fz := range c.ForwardZones {
		if fz.Name == "" || fz.Name == "." {
			return fmt.Errorf("forward_zones[%d]: name must be a domain below the root", i)
		}
		if len(fz.Upstreams) == 0 {
			return fmt.Errorf("forward_zones[%d] (%s): at least one upstream is required", i, fz.Name)
		}
	}

	if c.Forwarder.Timeout < 0 {
		return fmt.Errorf("forwarder.timeout cannot be negative")
	}
	if c.Forwarder.Retries < 0 {
		return fmt.Errorf("forwarder.retries cannot be negative")
	}

	if c.Mutations.QueueCapacity < 1 {
		return fmt.Errorf("mutations.queue_capacity must be at least 1")
	}

	if c.API.RateLimitRPS < 0 || c.API.RateLimitBurst < 0 {
		return fmt.Errorf("api rate limit values cannot be negative")
	}

	// Validate logging level
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	// Validate logging format
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid logging format: %s (must be json or text)", c.Logging.Format)
	}

	// Validate logging output
	validOutputs := map[string]bool{
		"stdout": true,
		"stderr": true,
		"file":   true,
	}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid logging output: %s (must be stdout, stderr, or file)", c.Logging.Output)
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path must be set when output is 'file'")
	}

	return nil
}

func fqdn(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return name
	}
	if !strings.HasSuffix(name, ".") {
		name += "."
	}
	return name
}
