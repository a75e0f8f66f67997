package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Portal   PortalConfig   `yaml:"portal" envPrefix:"PORTAL_"`
	Gather   JobConfig      `yaml:"gather,omitempty" envPrefix:"GATHER_"`
	Report   ReportConfig   `yaml:"report,omitempty" envPrefix:"REPORT_"`
	Database DatabaseConfig `yaml:"database,omitempty" envPrefix:"DB_"`
	MQTT     MQTTConfig     `yaml:"mqtt,omitempty" envPrefix:"MQTT_"`
	HTTP     HTTPConfig     `yaml:"http,omitempty" envPrefix:"HTTP_"`
	Log      LogConfig      `yaml:"log,omitempty" envPrefix:"LOG_"`
	Timezone string         `yaml:"timezone,omitempty" env:"TIMEZONE"` // IANA name, default: local
	// How long shutdown waits for in-flight jobs
	ShutdownTimeout Duration `yaml:"shutdown_timeout,omitempty" env:"SHUTDOWN_TIMEOUT"`
}

// PortalConfig holds how to reach the bandwidth portal
type PortalConfig struct {
	Mode     string `yaml:"mode,omitempty" env:"MODE"` // "api" (default), "form" or "browser"
	LoginURL string `yaml:"login_url" env:"LOGIN_URL"`
	UsageURL string `yaml:"usage_url" env:"USAGE_URL"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
	BUID     string `yaml:"bu_id,omitempty" env:"BU_ID"`
	MAC      string `yaml:"mac,omitempty" env:"MAC"`
	Case     string `yaml:"case,omitempty" env:"CASE"`
	// Accept self-signed certificates (legacy form portal)
	Insecure bool     `yaml:"insecure,omitempty" env:"INSECURE"`
	Timeout  Duration `yaml:"timeout,omitempty" env:"TIMEOUT"`
}

// JobConfig holds the cadence and breaker threshold of one job
type JobConfig struct {
	Delay         Duration `yaml:"delay,omitempty" env:"DELAY"`
	Period        Duration `yaml:"period,omitempty" env:"PERIOD"`
	MaxErrorCount int      `yaml:"max_error_count,omitempty" env:"MAX_ERROR_COUNT"`
}

// ReportConfig holds the report jobs, which share one delay and one breaker
type ReportConfig struct {
	Dir           string   `yaml:"dir,omitempty" env:"DIR"`
	Delay         Duration `yaml:"delay,omitempty" env:"DELAY"`
	TodayPeriod   Duration `yaml:"today_period,omitempty" env:"TODAY_PERIOD"`
	MonthPeriod   Duration `yaml:"month_period,omitempty" env:"MONTH_PERIOD"`
	AllPeriod     Duration `yaml:"all_period,omitempty" env:"ALL_PERIOD"`
	MaxErrorCount int      `yaml:"max_error_count,omitempty" env:"MAX_ERROR_COUNT"`
}

// DatabaseConfig holds the store connection parameters
type DatabaseConfig struct {
	Path string `yaml:"path,omitempty" env:"PATH"`
}

// MQTTConfig holds the optional report sink
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled" env:"ENABLED"`
	Broker      string `yaml:"broker" env:"BROKER"` // host:port
	Username    string `yaml:"username,omitempty" env:"USERNAME"`
	Password    string `yaml:"password,omitempty" env:"PASSWORD"`
	TopicPrefix string `yaml:"topic_prefix,omitempty" env:"TOPIC_PREFIX"`
}

// HTTPConfig holds the optional control API listener
type HTTPConfig struct {
	Addr string `yaml:"addr,omitempty" env:"ADDR"` // e.g. "127.0.0.1:8088", empty disables
}

// LogConfig holds logging options
type LogConfig struct {
	Level string `yaml:"level,omitempty" env:"LEVEL"`
	Dir   string `yaml:"dir,omitempty" env:"DIR"` // rotate into <dir>/bwusage.log when set
}

// Duration is a time.Duration that reads and writes as "10m"
type Duration time.Duration

// UnmarshalYAML parses a Go duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalYAML writes the duration string
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalText lets env parse durations too
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// Load reads the config file, then applies .env and BWUSAGE_* environment overrides
func Load(configPath string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		// Missing file means defaults plus environment
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// .env is optional
	_ = godotenv.Load()

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "BWUSAGE_"}); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	return &cfg, nil
}

// Save writes the config to file
func Save(configPath string, cfg *Config) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default config file path (local directory)
func DefaultConfigPath() string {
	return "config.yaml"
}

func orDefault(d Duration, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return time.Duration(d)
}

func orDefaultInt(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

// GetPortalMode returns the fetch mode, defaulting to "api"
func (c *Config) GetPortalMode() string {
	if c.Portal.Mode == "" {
		return "api"
	}
	return c.Portal.Mode
}

// GetPortalTimeout returns the HTTP timeout for portal calls
func (c *Config) GetPortalTimeout() time.Duration {
	return orDefault(c.Portal.Timeout, 30*time.Second)
}

// GetGatherDelay returns the delay before the first gather (default: immediately)
func (c *Config) GetGatherDelay() time.Duration {
	if c.Gather.Delay < 0 {
		return 0
	}
	return time.Duration(c.Gather.Delay)
}

// GetGatherPeriod returns the gather period (default: 10 minutes)
func (c *Config) GetGatherPeriod() time.Duration {
	return orDefault(c.Gather.Period, 10*time.Minute)
}

// GetGatherMaxErrorCount returns the gather breaker threshold (default: 5)
func (c *Config) GetGatherMaxErrorCount() int {
	return orDefaultInt(c.Gather.MaxErrorCount, 5)
}

// GetReportDir returns the directory reports are written into
func (c *Config) GetReportDir() string {
	if c.Report.Dir == "" {
		return filepath.Join("data", "reports")
	}
	return c.Report.Dir
}

// GetReportDelay returns the delay before the first report run (default: 1 minute)
func (c *Config) GetReportDelay() time.Duration {
	return orDefault(c.Report.Delay, time.Minute)
}

// GetReportPeriod returns the period for a report kind
func (c *Config) GetReportPeriod(kind string) time.Duration {
	switch kind {
	case "today":
		return orDefault(c.Report.TodayPeriod, 5*time.Minute)
	case "month":
		return orDefault(c.Report.MonthPeriod, time.Hour)
	default:
		return orDefault(c.Report.AllPeriod, 24*time.Hour)
	}
}

// GetReportMaxErrorCount returns the shared report breaker threshold (default: 5)
func (c *Config) GetReportMaxErrorCount() int {
	return orDefaultInt(c.Report.MaxErrorCount, 5)
}

// GetDBPath returns the database file path
func (c *Config) GetDBPath() string {
	if c.Database.Path == "" {
		return filepath.Join("data", "db", "bwusage.db")
	}
	return c.Database.Path
}

// GetTopicPrefix returns the MQTT topic prefix (default: "bwusage")
func (c *Config) GetTopicPrefix() string {
	if c.MQTT.TopicPrefix == "" {
		return "bwusage"
	}
	return c.MQTT.TopicPrefix
}

// GetShutdownTimeout returns how long shutdown waits for running jobs (default: 1 minute)
func (c *Config) GetShutdownTimeout() time.Duration {
	return orDefault(c.ShutdownTimeout, time.Minute)
}

// GetLocation returns the calendar location used for day and month boundaries
func (c *Config) GetLocation() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
