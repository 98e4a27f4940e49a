// Package config loads runtime configuration from environment variables and
// flags. Flags win over the environment; the environment wins over defaults.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarListenAddr      = "SWITCHBOARD_LISTEN_ADDR"
	envVarMode            = "SWITCHBOARD_MODE"
	envVarLogFormat       = "SWITCHBOARD_LOG_FORMAT"
	envVarLogLevel        = "SWITCHBOARD_LOG_LEVEL"
	envVarShutdownTimeout = "SWITCHBOARD_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// Signaling / WebSocket hardening.
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarSendQueueSize                 = "SEND_QUEUE_SIZE"

	// Call coordinator knobs.
	envVarCallRingTimeout = "CALL_RING_TIMEOUT"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultMode            = ModeDev
	DefaultShutdownTimeout = 15 * time.Second

	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultSendQueueSize                 = 64

	DefaultCallRingTimeout = 30 * time.Second
)

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// AllowedOrigins restricts browser origins on the WebSocket endpoint.
	// Empty means any origin (the original service ran with CORS "*").
	AllowedOrigins []string

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration

	// SendQueueSize bounds each connection's outbound event queue; a client
	// that cannot drain it is dropped rather than allowed to stall others.
	SendQueueSize int

	// CallRingTimeout ends an unanswered Ringing session. Zero disables the
	// timeout.
	CallRingTimeout time.Duration
}

// Load reads configuration from the process environment and the given
// command-line arguments (normally os.Args[1:]).
func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	cfg := Config{
		ListenAddr:      envOrDefault(lookup, envVarListenAddr, DefaultListenAddr),
		Mode:            DefaultMode,
		ShutdownTimeout: DefaultShutdownTimeout,

		MaxSignalingMessageBytes:      DefaultMaxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: DefaultMaxSignalingMessagesPerSecond,
		SignalingWSIdleTimeout:        DefaultSignalingWSIdleTimeout,
		SignalingWSPingInterval:       DefaultSignalingWSPingInterval,
		SendQueueSize:                 DefaultSendQueueSize,

		CallRingTimeout: DefaultCallRingTimeout,
	}

	if raw, ok := lookup(envVarMode); ok && strings.TrimSpace(raw) != "" {
		mode, err := parseMode(raw)
		if err != nil {
			return Config{}, err
		}
		cfg.Mode = mode
	}

	var err error
	if cfg.ShutdownTimeout, err = envDurationOrDefault(lookup, envVarShutdownTimeout, cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SignalingWSIdleTimeout, err = envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, cfg.SignalingWSIdleTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SignalingWSPingInterval, err = envDurationOrDefault(lookup, envVarSignalingWSPingInterval, cfg.SignalingWSPingInterval); err != nil {
		return Config{}, err
	}
	if cfg.CallRingTimeout, err = envDurationOrDefault(lookup, envVarCallRingTimeout, cfg.CallRingTimeout); err != nil {
		return Config{}, err
	}

	if n, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, cfg.MaxSignalingMessagesPerSecond); err != nil {
		return Config{}, err
	} else {
		cfg.MaxSignalingMessagesPerSecond = n
	}
	if n, err := envIntOrDefault(lookup, envVarSendQueueSize, cfg.SendQueueSize); err != nil {
		return Config{}, err
	} else {
		cfg.SendQueueSize = n
	}
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid %s %q", envVarMaxSignalingMessageBytes, raw)
		}
		cfg.MaxSignalingMessageBytes = n
	}

	if raw, ok := lookup(envVarAllowedOrigins); ok {
		cfg.AllowedOrigins = splitCommaList(raw)
	}

	logFormat := envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(cfg.Mode))
	logLevel := envOrDefault(lookup, envVarLogLevel, "info")

	fs := flag.NewFlagSet("switchboard", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "TCP address to listen on")
	modeFlag := fs.String("mode", string(cfg.Mode), "run mode: dev or prod")
	fs.StringVar(&logFormat, "log-format", logFormat, "log format: text or json")
	fs.StringVar(&logLevel, "log-level", logLevel, "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.Mode, err = parseMode(*modeFlag); err != nil {
		return Config{}, err
	}
	if cfg.LogFormat, err = parseLogFormat(logFormat); err != nil {
		return Config{}, err
	}
	if cfg.LogLevel, err = parseLogLevel(logLevel); err != nil {
		return Config{}, err
	}

	if cfg.SendQueueSize <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarSendQueueSize)
	}
	if cfg.MaxSignalingMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarMaxSignalingMessagesPerSecond)
	}

	return cfg, nil
}

// NewLogger builds the process logger from the configured format and level.
func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}
	return slog.New(handler), nil
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("unsupported mode %q", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported log format %q", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return 0, fmt.Errorf("unsupported log level %q", raw)
	}
	return level, nil
}

func defaultLogFormatForMode(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", key, raw)
	}
	return d, nil
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
