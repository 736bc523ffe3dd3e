package cli

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/c360/reliabus/config"
)

// Flags holds command-line configuration. Flags explicitly given on the
// command line override the file and environment layers.
type Flags struct {
	ConfigPath  string
	NATSURL     string
	LogLevel    string
	LogFormat   string
	MetricsPort int
	ShowVersion bool
	ShowHelp    bool
	Validate    bool

	set map[string]bool
}

// Parse parses args for the named binary
func Parse(name string, args []string, output io.Writer) (*Flags, error) {
	f := &Flags{set: make(map[string]bool)}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&f.ConfigPath, "config",
		getEnv("RELIABUS_CONFIG", ""),
		"Path to a YAML configuration file (env: RELIABUS_CONFIG)")
	fs.StringVar(&f.ConfigPath, "c",
		getEnv("RELIABUS_CONFIG", ""),
		"Path to a YAML configuration file (env: RELIABUS_CONFIG)")

	fs.StringVar(&f.NATSURL, "nats-url", config.DefaultNATSURL,
		"NATS server URL (env: RELIABUS_NATS_URL)")
	fs.StringVar(&f.LogLevel, "log-level", config.DefaultLogLevel,
		"Log level: trace, debug, info, warn, error (env: RELIABUS_LOG_LEVEL)")
	fs.StringVar(&f.LogFormat, "log-format", config.DefaultLogFormat,
		"Log format: json, text (env: RELIABUS_LOG_FORMAT)")
	fs.IntVar(&f.MetricsPort, "metrics-port", 0,
		"Metrics server port, 0 to disable (env: RELIABUS_METRICS_PORT)")

	fs.BoolVar(&f.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&f.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&f.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&f.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&f.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(output, "Usage: %s [options]\n\nOptions:\n", name)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	if f.ShowHelp {
		fs.Usage()
	}

	return f, nil
}

// Apply overrides cfg with the flags set on the command line
func (f *Flags) Apply(cfg *config.Config) {
	if f.set["nats-url"] {
		cfg.NATS.URL = f.NATSURL
	}
	if f.set["log-level"] {
		cfg.Log.Level = f.LogLevel
	}
	if f.set["log-format"] {
		cfg.Log.Format = f.LogFormat
	}
	if f.set["metrics-port"] {
		cfg.Metrics.Port = f.MetricsPort
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
