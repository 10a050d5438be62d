package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Mode constants
	ModeServer = "server"
	ModeStdio  = "stdio"

	// Process roles
	RoleSupervisor = "supervisor"
	RoleWorker     = "worker"

	// Metadata engines
	EnginePDFCPU     = "pdfcpu"
	EngineLedongthuc = "ledongthuc"

	// Restart policies
	PolicyAlways = "always"
	PolicyMax    = "max"

	// Default values
	DefaultPort            = 3000
	DefaultHost            = ""
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultMaxBodySize     = 50 * 1024 * 1024 // 50MB
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMaxRestarts     = 5
	DefaultRestartWindow   = time.Minute

	// EnvPrefix is prepended to every environment variable read by viper
	EnvPrefix = "PDFCONV"

	// RoleEnv is the environment variable the supervisor sets on its children
	RoleEnv = EnvPrefix + "_ROLE"
)

// envKeyReplacer maps dashed keys to underscored environment variables
var envKeyReplacer = strings.NewReplacer("-", "_")

// Config holds all configuration for the conversion service
type Config struct {
	// Process configuration
	Mode    string // "server" or "stdio"
	Role    string // "supervisor" or "worker", only meaningful in server mode
	Workers int

	// HTTP configuration
	Host            string
	Port            int
	MaxBodySize     int64
	ShutdownTimeout time.Duration

	// Extraction configuration
	MetadataEngine string

	// Supervision configuration
	RestartPolicy string
	MaxRestarts   int
	RestartWindow time.Duration

	// Application configuration
	Version    string
	ServerName string
	LogLevel   string
	LogFormat  string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Mode:            ModeServer,
		Role:            RoleSupervisor,
		Workers:         runtime.NumCPU(),
		Host:            DefaultHost,
		Port:            DefaultPort,
		MaxBodySize:     DefaultMaxBodySize,
		ShutdownTimeout: DefaultShutdownTimeout,
		MetadataEngine:  EnginePDFCPU,
		RestartPolicy:   PolicyAlways,
		MaxRestarts:     DefaultMaxRestarts,
		RestartWindow:   DefaultRestartWindow,
		Version:         "1.0.0",
		ServerName:      "pdfconvd",
		LogLevel:        DefaultLogLevel,
		LogFormat:       DefaultLogFormat,
	}
}

// LoadFromFlags parses command line flags and returns a configuration
func LoadFromFlags() (*Config, error) {
	return Load(pflag.CommandLine, os.Args[1:])
}

// Load reads configuration from a .env file (if any), the environment and
// the given flag set, in increasing order of precedence
func Load(fs *pflag.FlagSet, args []string) (*Config, error) {
	// A missing .env file is the normal case
	_ = godotenv.Load()

	cfg := DefaultConfig()
	v := viper.New()

	setupViperEnvironment(v, cfg)
	defineCommandLineFlags(fs, cfg)
	setupUsageMessage(fs)

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	populateConfigFromViper(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(v *viper.Viper, cfg *Config) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("role", cfg.Role)
	v.SetDefault("workers", cfg.Workers)
	v.SetDefault("host", cfg.Host)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("maxbodysize", cfg.MaxBodySize)
	v.SetDefault("shutdown-timeout", cfg.ShutdownTimeout)
	v.SetDefault("metadata-engine", cfg.MetadataEngine)
	v.SetDefault("restart-policy", cfg.RestartPolicy)
	v.SetDefault("max-restarts", cfg.MaxRestarts)
	v.SetDefault("restart-window", cfg.RestartWindow)
	v.SetDefault("loglevel", cfg.LogLevel)
	v.SetDefault("logformat", cfg.LogFormat)
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.String("mode", cfg.Mode, "Run mode: 'server' for the HTTP worker pool, 'stdio' for an MCP stdio server")
	fs.Int("workers", cfg.Workers, "Number of worker processes (defaults to the number of CPUs)")
	fs.String("host", cfg.Host, "Listen host (empty for all interfaces)")
	fs.Int("port", cfg.Port, "Listen port shared by every worker")
	fs.Int64("maxbodysize", cfg.MaxBodySize, "Maximum request body size in bytes")
	fs.Duration("shutdown-timeout", cfg.ShutdownTimeout, "Graceful shutdown timeout for workers")
	fs.String("metadata-engine", cfg.MetadataEngine, "Metadata reader: 'pdfcpu' or 'ledongthuc'")
	fs.String("restart-policy", cfg.RestartPolicy, "Worker restart policy: 'always' or 'max'")
	fs.Int("max-restarts", cfg.MaxRestarts, "Restarts allowed per slot within the restart window (max policy)")
	fs.Duration("restart-window", cfg.RestartWindow, "Window for counting restarts (max policy)")
	fs.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.String("logformat", cfg.LogFormat, "Log format (json, console)")
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage(fs *pflag.FlagSet) {
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\npdfconvd - converts PDF documents to JSON text and metadata\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                            # one worker per CPU on :3000\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --workers=1 --port=8081    # single worker\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=stdio               # MCP stdio server\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  PDFCONV_MODE             Run mode\n")
		fmt.Fprintf(os.Stderr, "  PDFCONV_WORKERS          Worker count\n")
		fmt.Fprintf(os.Stderr, "  PDFCONV_HOST             Listen host\n")
		fmt.Fprintf(os.Stderr, "  PDFCONV_PORT             Listen port\n")
		fmt.Fprintf(os.Stderr, "  PDFCONV_MAXBODYSIZE      Maximum body size\n")
		fmt.Fprintf(os.Stderr, "  PDFCONV_METADATA_ENGINE  Metadata reader\n")
		fmt.Fprintf(os.Stderr, "  PDFCONV_RESTART_POLICY   Restart policy\n")
		fmt.Fprintf(os.Stderr, "  PDFCONV_LOGLEVEL         Log level\n")
		fmt.Fprintf(os.Stderr, "  PDFCONV_LOGFORMAT        Log format\n")
	}
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(v *viper.Viper, cfg *Config) {
	cfg.Mode = v.GetString("mode")
	cfg.Role = v.GetString("role")
	cfg.Workers = v.GetInt("workers")
	cfg.Host = v.GetString("host")
	cfg.Port = v.GetInt("port")
	cfg.MaxBodySize = v.GetInt64("maxbodysize")
	cfg.ShutdownTimeout = v.GetDuration("shutdown-timeout")
	cfg.MetadataEngine = v.GetString("metadata-engine")
	cfg.RestartPolicy = v.GetString("restart-policy")
	cfg.MaxRestarts = v.GetInt("max-restarts")
	cfg.RestartWindow = v.GetDuration("restart-window")
	cfg.LogLevel = v.GetString("loglevel")
	cfg.LogFormat = v.GetString("logformat")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Mode != ModeServer && c.Mode != ModeStdio {
		return errors.New("mode must be either 'server' or 'stdio'")
	}

	if c.Role != RoleSupervisor && c.Role != RoleWorker {
		return fmt.Errorf("invalid role: %s", c.Role)
	}

	if c.Mode == ModeServer {
		if c.Port < 1 || c.Port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		if c.Workers < 1 {
			return errors.New("workers must be at least 1")
		}
	}

	if c.MaxBodySize <= 0 {
		return errors.New("maximum body size must be positive")
	}

	if c.ShutdownTimeout < 0 {
		return errors.New("shutdown timeout cannot be negative")
	}

	if c.MetadataEngine != EnginePDFCPU && c.MetadataEngine != EngineLedongthuc {
		return fmt.Errorf("invalid metadata engine: %s (must be one of: pdfcpu, ledongthuc)", c.MetadataEngine)
	}

	switch c.RestartPolicy {
	case PolicyAlways:
	case PolicyMax:
		if c.MaxRestarts < 1 {
			return errors.New("max-restarts must be at least 1 with the 'max' policy")
		}
		if c.RestartWindow <= 0 {
			return errors.New("restart-window must be positive with the 'max' policy")
		}
	default:
		return fmt.Errorf("invalid restart policy: %s (must be one of: always, max)", c.RestartPolicy)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("invalid log format: %s (must be one of: json, console)", c.LogFormat)
	}

	return nil
}

// Address returns the listen address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// IsServerMode returns true when running the HTTP worker pool
func (c *Config) IsServerMode() bool {
	return c.Mode == ModeServer
}

// IsStdioMode returns true when running the MCP stdio server
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}

// IsWorker returns true when this process was spawned by the supervisor
func (c *Config) IsWorker() bool {
	return c.Role == RoleWorker
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{Mode: %s, Role: %s, Workers: %d, Address: %s, MaxBodySize: %d, "+
		"MetadataEngine: %s, RestartPolicy: %s, LogLevel: %s, LogFormat: %s}",
		c.Mode, c.Role, c.Workers, c.Address(), c.MaxBodySize,
		c.MetadataEngine, c.RestartPolicy, c.LogLevel, c.LogFormat)
}
