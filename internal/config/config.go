// Package config loads gateway settings from the environment and an
// optional YAML file.
//
// A file is used only when named explicitly, by the --config flag or the
// CONFIG_FILE environment variable. Its keys are the environment variable
// names in lower case (relp_address, token_expiry, ...). Environment
// variables override file values.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        int
	GinMode     string
	TLSCertFile string
	TLSKeyFile  string

	RELPAddress           string
	RELPConnectTimeout    time.Duration
	RELPAckTimeout        time.Duration
	RELPReconnectInterval time.Duration

	SyslogHostname string
	SyslogAppName  string

	TokenSecret string
	TokenExpiry time.Duration

	SessionIdleTimeout   time.Duration
	SessionSweepInterval time.Duration

	StateFile         string
	StateSaveInterval time.Duration

	RateLimitPerMinute int
	MaxBodyBytes       int64
	MaxAcksPerChannel  int

	LogFormat string
	LogLevel  string
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

// hostname is swapped out in tests.
var hostname = os.Hostname

// LoadConfig reads the process environment, layered over the YAML file at
// path when path (or CONFIG_FILE) is set.
func LoadConfig(path string) (Config, error) {
	var env Env = osEnv{}
	if path == "" {
		path = env.Getenv("CONFIG_FILE")
	}
	if path != "" {
		file, err := ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		env = Layered(env, file)
	}
	return LoadConfigFromEnv(env)
}

func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		Port:                  3000,
		GinMode:               "release",
		RELPConnectTimeout:    5 * time.Second,
		RELPAckTimeout:        30 * time.Second,
		RELPReconnectInterval: 500 * time.Millisecond,
		SyslogAppName:         "hec-relp-gateway",
		TokenExpiry:           7 * 24 * time.Hour,
		SessionSweepInterval:  time.Minute,
		StateSaveInterval:     30 * time.Second,
		MaxBodyBytes:          1 << 20,
		MaxAcksPerChannel:     10000,
		LogFormat:             "text",
		LogLevel:              "info",
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	cfg.TLSCertFile = env.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = env.Getenv("TLS_KEY_FILE")
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return Config{}, fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	cfg.RELPAddress = env.Getenv("RELP_ADDRESS")
	if cfg.RELPAddress == "" {
		return Config{}, fmt.Errorf("RELP_ADDRESS is required")
	}
	if _, _, err := net.SplitHostPort(cfg.RELPAddress); err != nil {
		return Config{}, fmt.Errorf("invalid RELP_ADDRESS: %w", err)
	}

	durations := []struct {
		key       string
		dst       *time.Duration
		allowZero bool
	}{
		{"RELP_CONNECT_TIMEOUT", &cfg.RELPConnectTimeout, false},
		{"RELP_ACK_TIMEOUT", &cfg.RELPAckTimeout, false},
		{"RELP_RECONNECT_INTERVAL", &cfg.RELPReconnectInterval, false},
		{"TOKEN_EXPIRY", &cfg.TokenExpiry, false},
		{"SESSION_IDLE_TIMEOUT", &cfg.SessionIdleTimeout, true},
		{"SESSION_SWEEP_INTERVAL", &cfg.SessionSweepInterval, false},
		{"STATE_SAVE_INTERVAL", &cfg.StateSaveInterval, false},
	}
	for _, d := range durations {
		raw := env.Getenv(d.key)
		if raw == "" {
			continue
		}
		v, err := ParseDuration(raw)
		if err != nil || v < 0 || (v == 0 && !d.allowZero) {
			return Config{}, fmt.Errorf("invalid %s", d.key)
		}
		*d.dst = v
	}

	cfg.SyslogHostname = env.Getenv("SYSLOG_HOSTNAME")
	if cfg.SyslogHostname != "" {
		if !printUSASCII(cfg.SyslogHostname, 255) {
			return Config{}, fmt.Errorf("invalid SYSLOG_HOSTNAME")
		}
	} else {
		name, err := hostname()
		if err != nil || !printUSASCII(name, 255) {
			name = "-"
		}
		cfg.SyslogHostname = name
	}
	if raw := env.Getenv("SYSLOG_APP_NAME"); raw != "" {
		if !printUSASCII(raw, 48) {
			return Config{}, fmt.Errorf("invalid SYSLOG_APP_NAME")
		}
		cfg.SyslogAppName = raw
	}

	cfg.TokenSecret = env.Getenv("TOKEN_SECRET")
	cfg.StateFile = env.Getenv("STATE_FILE")

	if raw := env.Getenv("RATE_LIMIT_PER_MINUTE"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE")
		}
		cfg.RateLimitPerMinute = n
	}

	if raw := env.Getenv("MAX_BODY_BYTES"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid MAX_BODY_BYTES")
		}
		cfg.MaxBodyBytes = n
	}

	if raw := env.Getenv("MAX_ACKS_PER_CHANNEL"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid MAX_ACKS_PER_CHANNEL")
		}
		cfg.MaxAcksPerChannel = n
	}

	if raw := env.Getenv("LOG_FORMAT"); raw != "" {
		switch raw {
		case "text", "json":
			cfg.LogFormat = raw
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT %q", raw)
		}
	}
	if raw := env.Getenv("LOG_LEVEL"); raw != "" {
		switch strings.ToLower(raw) {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = strings.ToLower(raw)
		default:
			return Config{}, fmt.Errorf("invalid LOG_LEVEL %q", raw)
		}
	}

	return cfg, nil
}

// printUSASCII reports whether s is 1..max characters in the RFC5424
// PRINTUSASCII range (33-126).
func printUSASCII(s string, max int) bool {
	if s == "" || len(s) > max {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 33 || s[i] > 126 {
			return false
		}
	}
	return true
}

// ParseDuration accepts Go duration syntax, a day count such as "7d", or a
// plain integer number of seconds.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(raw)
}
