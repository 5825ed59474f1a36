package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/lightctl/internal/ensure"
)

// Backends supported by the host section.
const (
	BackendHue  = "hue"
	BackendMQTT = "mqtt"
	BackendSim  = "sim"
)

// Config represents the application configuration
type Config struct {
	Host            HostConfig     `yaml:"host"`
	Hue             HueConfig      `yaml:"hue"`
	MQTT            MQTTConfig     `yaml:"mqtt"`
	Sim             SimConfig      `yaml:"sim"`
	Database        DatabaseConfig `yaml:"database"`
	Log             LogConfig      `yaml:"log"`
	Ensure          EnsureConfig   `yaml:"ensure"`
	Ledger          LedgerConfig   `yaml:"ledger"`
	EventBus        EventBusConfig `yaml:"eventbus"`
	HTTP            HTTPConfig     `yaml:"http"`
	Script          string         `yaml:"script"`           // Optional Lua file run at startup
	ShutdownTimeout Duration       `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// HostConfig selects the platform adapter
type HostConfig struct {
	Backend string `yaml:"backend"` // hue | mqtt | sim
}

// HueConfig contains Hue bridge connection settings
type HueConfig struct {
	Bridge       string  `yaml:"bridge"`
	Token        string  `yaml:"token"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"` // Bridge request budget (default: 10)
}

// MQTTConfig contains Zigbee2MQTT broker settings
type MQTTConfig struct {
	Broker         string   `yaml:"broker"`
	ClientID       string   `yaml:"client_id"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	BaseTopic      string   `yaml:"base_topic"` // default: zigbee2mqtt
	QoS            int      `yaml:"qos"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
}

// SimConfig describes an in-memory light mesh
type SimConfig struct {
	Lights   []SimLight          `yaml:"lights"`
	Groups   map[string][]string `yaml:"groups"`
	DropRate float64             `yaml:"drop_rate"` // Probability a device ignores a command, 0..1
	Seed     int64               `yaml:"seed"`
	Latency  Duration            `yaml:"latency"` // Per-command delay
}

// SimLight is one simulated device
type SimLight struct {
	ID          string   `yaml:"id"`
	Modes       []string `yaml:"modes"` // supported colour modes; empty = brightness only
	Unavailable bool     `yaml:"unavailable"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

// ToleranceConfig holds verification tolerances. nil = built-in default.
type ToleranceConfig struct {
	Brightness *int `yaml:"brightness"`
	RGB        *int `yaml:"rgb"`
	Kelvin     *int `yaml:"kelvin"`
}

// EnsureConfig holds the defaults applied under every ensure_state call
type EnsureConfig struct {
	BrightnessPct         int             `yaml:"brightness_pct"`
	Transition            float64         `yaml:"transition"` // seconds, 0 = none
	Tolerance             ToleranceConfig `yaml:"tolerance"`
	DelayAfterSend        Duration        `yaml:"delay_after_send"`
	MaxRetries            int             `yaml:"max_retries"`
	MaxRuntime            Duration        `yaml:"max_runtime"`
	UseExponentialBackoff bool            `yaml:"use_exponential_backoff"`
	MaxBackoff            Duration        `yaml:"max_backoff"`
	RetryScope            string          `yaml:"retry_scope"` // batch | device
	LogSuccess            bool            `yaml:"log_success"`
}

// Tolerances returns the configured tolerances over the built-in ones
func (c *EnsureConfig) Tolerances() ensure.ColorTolerance {
	tol := ensure.DefaultTolerance()
	if c.Tolerance.Brightness != nil {
		tol.Brightness = *c.Tolerance.Brightness
	}
	if c.Tolerance.RGB != nil {
		tol.RGB = *c.Tolerance.RGB
	}
	if c.Tolerance.Kelvin != nil {
		tol.Kelvin = *c.Tolerance.Kelvin
	}
	return tol
}

// Retry returns the configured retry settings
func (c *EnsureConfig) Retry() ensure.RetryConfig {
	return ensure.RetryConfig{
		DelayAfterSend:        c.DelayAfterSend.Duration(),
		MaxRetries:            c.MaxRetries,
		MaxRuntime:            c.MaxRuntime.Duration(),
		UseExponentialBackoff: c.UseExponentialBackoff,
		MaxBackoff:            c.MaxBackoff.Duration(),
		Scope:                 ensure.RetryScope(c.RetryScope),
	}
}

// Settings returns the default light settings layer
func (c *EnsureConfig) Settings() ensure.Settings {
	bri := c.BrightnessPct
	s := ensure.Settings{BrightnessPct: &bri}
	if c.Transition > 0 {
		tr := c.Transition
		s.Transition = &tr
	}
	return s
}

// LedgerConfig contains operation ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// HTTPConfig contains API server settings
type HTTPConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"` // empty = no cross-origin access
}

// Addr returns host:port
func (c *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration in time.Duration string form
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration bytes, expands environment variables,
// fills defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Host.Backend == "" {
		cfg.Host.Backend = BackendHue
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./lightctl.sqlite"
	}

	// Hue defaults
	if cfg.Hue.RateLimitRPS == 0 {
		cfg.Hue.RateLimitRPS = 10.0
	}

	// MQTT defaults
	if cfg.MQTT.BaseTopic == "" {
		cfg.MQTT.BaseTopic = "zigbee2mqtt"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "lightctl"
	}
	if cfg.MQTT.ConnectTimeout == 0 {
		cfg.MQTT.ConnectTimeout = Duration(10 * time.Second)
	}
	if cfg.MQTT.RateLimitRPS == 0 {
		cfg.MQTT.RateLimitRPS = 20.0
	}

	// Ensure defaults, matching the built-in pipeline defaults
	builtin := ensure.DefaultRetryConfig()
	if cfg.Ensure.BrightnessPct == 0 {
		cfg.Ensure.BrightnessPct = ensure.DefaultBrightnessPct
	}
	if cfg.Ensure.DelayAfterSend == 0 {
		cfg.Ensure.DelayAfterSend = Duration(builtin.DelayAfterSend)
	}
	if cfg.Ensure.MaxRetries == 0 {
		cfg.Ensure.MaxRetries = builtin.MaxRetries
	}
	if cfg.Ensure.MaxRuntime == 0 {
		cfg.Ensure.MaxRuntime = Duration(builtin.MaxRuntime)
	}
	if cfg.Ensure.MaxBackoff == 0 {
		cfg.Ensure.MaxBackoff = Duration(builtin.MaxBackoff)
	}
	if cfg.Ensure.RetryScope == "" {
		cfg.Ensure.RetryScope = string(ensure.RetryBatch)
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// HTTP defaults
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 9090
	}
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate reports every configuration problem at once
func (cfg *Config) Validate() error {
	var errs []error

	switch cfg.Host.Backend {
	case BackendHue:
		if cfg.Hue.Bridge == "" || cfg.Hue.Token == "" {
			errs = append(errs, errors.New("hue: bridge and token are required"))
		}
	case BackendMQTT:
		if cfg.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt: broker is required"))
		}
		if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt: qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS))
		}
	case BackendSim:
		if cfg.Sim.DropRate < 0 || cfg.Sim.DropRate > 1 {
			errs = append(errs, fmt.Errorf("sim: drop_rate must be within [0, 1], got %v", cfg.Sim.DropRate))
		}
	default:
		errs = append(errs, fmt.Errorf("host: unknown backend %q (want hue, mqtt or sim)", cfg.Host.Backend))
	}

	e := &cfg.Ensure
	if e.BrightnessPct < 1 || e.BrightnessPct > 100 {
		errs = append(errs, fmt.Errorf("ensure: brightness_pct must be within [1, 100], got %d", e.BrightnessPct))
	}
	if e.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("ensure: max_retries must be at least 1, got %d", e.MaxRetries))
	}
	if e.Transition < 0 {
		errs = append(errs, fmt.Errorf("ensure: transition must not be negative, got %v", e.Transition))
	}
	tol := e.Tolerances()
	if tol.Brightness < 0 || tol.RGB < 0 || tol.Kelvin < 0 {
		errs = append(errs, errors.New("ensure: tolerances must not be negative"))
	}
	switch ensure.RetryScope(e.RetryScope) {
	case ensure.RetryBatch, ensure.RetryDevice:
	default:
		errs = append(errs, fmt.Errorf("ensure: retry_scope must be batch or device, got %q", e.RetryScope))
	}

	if cfg.HTTP.Port < 0 || cfg.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http: invalid port %d", cfg.HTTP.Port))
	}

	return errors.Join(errs...)
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
