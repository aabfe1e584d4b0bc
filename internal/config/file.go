package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var fileKeys = map[string]bool{
	"PORT": true, "GIN_MODE": true, "TLS_CERT_FILE": true, "TLS_KEY_FILE": true,
	"RELP_ADDRESS": true, "RELP_CONNECT_TIMEOUT": true, "RELP_ACK_TIMEOUT": true,
	"RELP_RECONNECT_INTERVAL": true,
	"SYSLOG_HOSTNAME": true, "SYSLOG_APP_NAME": true,
	"TOKEN_SECRET": true, "TOKEN_EXPIRY": true,
	"SESSION_IDLE_TIMEOUT": true, "SESSION_SWEEP_INTERVAL": true,
	"STATE_FILE": true, "STATE_SAVE_INTERVAL": true,
	"RATE_LIMIT_PER_MINUTE": true, "MAX_BODY_BYTES": true, "MAX_ACKS_PER_CHANNEL": true,
	"LOG_FORMAT": true, "LOG_LEVEL": true,
}

// FileEnv holds the values of a YAML config file keyed by environment
// variable name.
type FileEnv map[string]string

func (f FileEnv) Getenv(key string) string { return f[key] }

// ReadFile loads a YAML config file. Unknown keys and non-scalar values
// are rejected.
func ReadFile(path string) (FileEnv, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseFile(data)
}

func ParseFile(data []byte) (FileEnv, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(FileEnv, len(raw))
	for _, k := range keys {
		key := strings.ToUpper(strings.ReplaceAll(k, "-", "_"))
		if !fileKeys[key] {
			return nil, fmt.Errorf("config: unknown key %q", k)
		}
		switch v := raw[k].(type) {
		case nil:
			continue
		case map[string]any, []any:
			return nil, fmt.Errorf("config: %q must be a scalar", k)
		default:
			out[key] = fmt.Sprint(v)
		}
	}
	return out, nil
}

type layered []Env

func (l layered) Getenv(key string) string {
	for _, env := range l {
		if v := env.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// Layered returns an Env that consults envs in order and yields the first
// non-empty value.
func Layered(envs ...Env) Env {
	return layered(envs)
}
