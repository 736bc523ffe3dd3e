package config

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/c360/reliabus/errors"
)

// Defaults
const (
	DefaultNATSURL        = "nats://localhost:4222"
	DefaultRouterSubject  = "bus.router"
	DefaultPublisherCount = 2
	DefaultReceiveBuffer  = 4096
	DefaultGroupSize      = 100
	DefaultResendInterval = 5 * time.Second
	DefaultRetryDelay     = 100 * time.Millisecond
	DefaultMaxOperand     = 255
	MaxOperandLimit       = math.MaxInt32
	DefaultTombstones     = 65536
	DefaultMetricsPath    = "/metrics"
	DefaultRTTInterval    = 10 * time.Second
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
)

// Config is the process-wide configuration. It is built once at startup
// and only read afterwards.
type Config struct {
	NATS    NATSConfig    `yaml:"nats" envPrefix:"NATS_"`
	Bus     BusConfig     `yaml:"bus" envPrefix:"BUS_"`
	Relay   RelayConfig   `yaml:"relay" envPrefix:"RELAY_"`
	Echo    EchoConfig    `yaml:"echo" envPrefix:"ECHO_"`
	Metrics MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URL            string        `yaml:"url" env:"URL"`
	Name           string        `yaml:"name" env:"NAME"`
	Username       string        `yaml:"username" env:"USERNAME"`
	Password       string        `yaml:"password" env:"PASSWORD"`
	Token          string        `yaml:"token" env:"TOKEN"`
	MaxReconnects  int           `yaml:"max_reconnects" env:"MAX_RECONNECTS"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait" env:"RECONNECT_WAIT"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	PingInterval   time.Duration `yaml:"ping_interval" env:"PING_INTERVAL"`
	DrainTimeout   time.Duration `yaml:"drain_timeout" env:"DRAIN_TIMEOUT"`

	// ReconnectBuffer is the byte budget for publishes buffered during a
	// reconnect. -1 makes publishes fail while disconnected.
	ReconnectBuffer  int           `yaml:"reconnect_buffer" env:"RECONNECT_BUFFER"`
	CircuitThreshold int32         `yaml:"circuit_threshold" env:"CIRCUIT_THRESHOLD"`
	MaxBackoff       time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
}

// BusConfig names the router and publisher subjects
type BusConfig struct {
	RouterSubject     string   `yaml:"router_subject" env:"ROUTER_SUBJECT"`
	PublisherSubjects []string `yaml:"publisher_subjects" env:"PUBLISHER_SUBJECTS" envSeparator:","`
	// RouterStream, when set, backs the router subject with a JetStream
	// stream of that name and makes sends wait for the stream ack.
	RouterStream  string `yaml:"router_stream" env:"ROUTER_STREAM"`
	ReceiveBuffer int    `yaml:"receive_buffer" env:"RECEIVE_BUFFER"`

	// SendRate caps publishes per second on each sender. 0 is unlimited.
	SendRate  float64 `yaml:"send_rate" env:"SEND_RATE"`
	SendBurst int     `yaml:"send_burst" env:"SEND_BURST"`
}

// RelayConfig holds the dispatch and response loop parameters
type RelayConfig struct {
	GroupSize      int           `yaml:"group_size" env:"GROUP_SIZE"`
	ResendInterval time.Duration `yaml:"resend_interval" env:"RESEND_INTERVAL"`
	RetryDelay     time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	MaxOperand     int64         `yaml:"max_operand" env:"MAX_OPERAND"`
	Tombstones     int           `yaml:"tombstones" env:"TOMBSTONES"`
}

// EchoConfig holds the fault probabilities of the echo service
type EchoConfig struct {
	Drop      float64 `yaml:"drop" env:"DROP"`
	Duplicate float64 `yaml:"duplicate" env:"DUPLICATE"`
	Corrupt   float64 `yaml:"corrupt" env:"CORRUPT"`
}

// MetricsConfig configures the metrics endpoint. Port 0 disables it.
type MetricsConfig struct {
	Port int    `yaml:"port" env:"PORT"`
	Path string `yaml:"path" env:"PATH"`
	// RTTInterval is how often the NATS round trip is sampled
	RTTInterval time.Duration `yaml:"rtt_interval" env:"RTT_INTERVAL"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// PublisherSubjects returns bus.publisher.0 through bus.publisher.n-1
func PublisherSubjects(n int) []string {
	subjects := make([]string, n)
	for i := range subjects {
		subjects[i] = fmt.Sprintf("bus.publisher.%d", i)
	}
	return subjects
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:              DefaultNATSURL,
			MaxReconnects:    -1,
			ReconnectWait:    2 * time.Second,
			ConnectTimeout:   5 * time.Second,
			PingInterval:     30 * time.Second,
			DrainTimeout:     30 * time.Second,
			ReconnectBuffer:  -1,
			CircuitThreshold: 5,
			MaxBackoff:       time.Minute,
		},
		Bus: BusConfig{
			RouterSubject:     DefaultRouterSubject,
			PublisherSubjects: PublisherSubjects(DefaultPublisherCount),
			ReceiveBuffer:     DefaultReceiveBuffer,
		},
		Relay: RelayConfig{
			GroupSize:      DefaultGroupSize,
			ResendInterval: DefaultResendInterval,
			RetryDelay:     DefaultRetryDelay,
			MaxOperand:     DefaultMaxOperand,
			Tombstones:     DefaultTombstones,
		},
		Metrics: MetricsConfig{
			Path:        DefaultMetricsPath,
			RTTInterval: DefaultRTTInterval,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// Validate checks the configuration and normalizes the log settings
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return invalid("nats.url is required")
	}
	if (c.NATS.Username == "") != (c.NATS.Password == "") {
		return invalid("nats.username and nats.password must be set together")
	}
	if c.NATS.PingInterval <= 0 {
		return invalid("nats.ping_interval must be positive")
	}
	if c.NATS.DrainTimeout <= 0 {
		return invalid("nats.drain_timeout must be positive")
	}
	if c.NATS.ReconnectBuffer < -1 {
		return invalid("nats.reconnect_buffer must be -1 or a byte count")
	}
	if c.NATS.CircuitThreshold < 1 {
		return invalid("nats.circuit_threshold must be positive")
	}
	if c.NATS.MaxBackoff < time.Second {
		return invalid("nats.max_backoff must be at least 1s")
	}

	if !isValidSubject(c.Bus.RouterSubject) {
		return invalid("bus.router_subject %q is not a valid NATS subject", c.Bus.RouterSubject)
	}
	if len(c.Bus.PublisherSubjects) == 0 {
		return invalid("bus.publisher_subjects must not be empty")
	}
	seen := make(map[string]struct{}, len(c.Bus.PublisherSubjects))
	for _, s := range c.Bus.PublisherSubjects {
		if !isValidSubject(s) {
			return invalid("bus.publisher_subjects entry %q is not a valid NATS subject", s)
		}
		if s == c.Bus.RouterSubject {
			return invalid("bus.publisher_subjects must not include the router subject %q", s)
		}
		if _, dup := seen[s]; dup {
			return invalid("bus.publisher_subjects lists %q twice", s)
		}
		seen[s] = struct{}{}
	}
	if c.Bus.RouterStream != "" && !isValidStreamName(c.Bus.RouterStream) {
		return invalid("bus.router_stream %q is not a valid stream name", c.Bus.RouterStream)
	}
	if c.Bus.ReceiveBuffer < 1 {
		return invalid("bus.receive_buffer must be positive")
	}
	if c.Bus.SendRate < 0 {
		return invalid("bus.send_rate must not be negative")
	}
	if c.Bus.SendBurst < 0 {
		return invalid("bus.send_burst must not be negative")
	}

	if c.Relay.GroupSize < 1 {
		return invalid("relay.group_size must be positive")
	}
	if c.Relay.ResendInterval <= 0 {
		return invalid("relay.resend_interval must be positive")
	}
	if c.Relay.RetryDelay < 0 {
		return invalid("relay.retry_delay must not be negative")
	}
	if c.Relay.MaxOperand < 0 || c.Relay.MaxOperand > MaxOperandLimit {
		return invalid("relay.max_operand must be within [0, %d]", MaxOperandLimit)
	}
	if c.Relay.Tombstones < 0 {
		return invalid("relay.tombstones must not be negative")
	}

	for name, p := range map[string]float64{"drop": c.Echo.Drop, "duplicate": c.Echo.Duplicate, "corrupt": c.Echo.Corrupt} {
		if p < 0 || p > 1 {
			return invalid("echo.%s must be within [0, 1]", name)
		}
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return invalid("metrics.port %d out of range", c.Metrics.Port)
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Metrics.RTTInterval <= 0 {
		return invalid("metrics.rtt_interval must be positive")
	}

	c.Log.Level = strings.ToLower(c.Log.Level)
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	case "":
		c.Log.Level = DefaultLogLevel
	default:
		return invalid("log.level %q must be one of trace, debug, info, warn, error", c.Log.Level)
	}
	c.Log.Format = strings.ToLower(c.Log.Format)
	switch c.Log.Format {
	case "json", "text":
	case "":
		c.Log.Format = DefaultLogFormat
	default:
		return invalid("log.format %q must be json or text", c.Log.Format)
	}

	return nil
}

func invalid(format string, args ...any) error {
	return errors.WrapFatal(
		fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...)),
		"Config", "Validate", "validate configuration")
}

// isValidSubject accepts dot separated tokens of alphanumerics, dashes and
// underscores. Wildcards are rejected since these subjects are published to.
func isValidSubject(s string) bool {
	if s == "" {
		return false
	}
	for _, token := range strings.Split(s, ".") {
		if token == "" {
			return false
		}
		for _, r := range token {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
				return false
			}
		}
	}
	return true
}

func isValidStreamName(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return s != ""
}
