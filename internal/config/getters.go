// Package config provides functions for reading configuration settings.
//
// Settings are read through a process-wide viper instance. Every key can be set in the
// optional YAML config file (nested, e.g. database.url) or as an environment variable with
// the SCREENRESULTS_ prefix and dots replaced by underscores (SCREENRESULTS_DATABASE_URL).
// Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "SCREENRESULTS"

var (
	mu sync.RWMutex
	v  = newViper()
)

func newViper() *viper.Viper {
	nv := viper.New()
	nv.SetEnvPrefix(EnvPrefix)
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	nv.AutomaticEnv()

	return nv
}

// Load reads the YAML config file at path into the shared instance.
// An empty path or a missing file is not an error: env vars and defaults still apply.
//
// Example:
//
//	if err := config.Load(os.Getenv("SCREENRESULTS_CONFIG")); err != nil {
//		return err
//	}
func Load(path string) error {
	mu.Lock()
	defer mu.Unlock()

	v = newViper()

	if path == "" {
		return nil
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			slog.Debug("Config file not found, using environment and defaults",
				slog.String("path", path))

			return nil
		}

		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return nil
}

// Set overrides a key for the lifetime of the process. Used by CLI flags and tests.
func Set(key string, value any) {
	mu.Lock()
	defer mu.Unlock()

	v.Set(key, value)
}

// Reset discards the config file and any overrides.
func Reset() {
	mu.Lock()
	defer mu.Unlock()

	v = newViper()
}

func lookup(key string) (any, bool) {
	mu.RLock()
	defer mu.RUnlock()

	if !v.IsSet(key) {
		return nil, false
	}

	return v.Get(key), true
}

// GetString returns a string setting or a default if not set.
//
// Parameters:
//   - key[string]: dotted config key, e.g. "server.host"
//   - defaultValue[string]: value returned when the key is not set
//
// Example:
//
//	s := GetString("server.host", "0.0.0.0")
func GetString(key, defaultValue string) string {
	raw, ok := lookup(key)
	if !ok {
		return defaultValue
	}

	if s := strings.TrimSpace(fmt.Sprint(raw)); s != "" {
		return s
	}

	return defaultValue
}

// GetInt returns an int setting or a default if not set or not a number.
//
// Example:
//
//	i := GetInt("server.port", 8080)
func GetInt(key string, defaultValue int) int {
	if _, ok := lookup(key); !ok {
		return defaultValue
	}

	mu.RLock()
	defer mu.RUnlock()

	i, err := cast.ToInt64E(strings.TrimSpace(fmt.Sprint(v.Get(key))))
	if err != nil {
		return defaultValue
	}

	return int(i)
}

// GetInt64 returns an int64 setting or a default if not set or not a number.
//
// Example:
//
//	i := GetInt64("cache.max_rows", 5_000_000)
func GetInt64(key string, defaultValue int64) int64 {
	if _, ok := lookup(key); !ok {
		return defaultValue
	}

	mu.RLock()
	defer mu.RUnlock()

	i, err := cast.ToInt64E(strings.TrimSpace(fmt.Sprint(v.Get(key))))
	if err != nil {
		return defaultValue
	}

	return i
}

// GetBool returns a bool setting or a default if not set.
// Accepts: "true", "1", "yes" as true; "false", "0", "no" as false (case-insensitive).
//
// Example:
//
//	b := GetBool("serve.migrate", false)
func GetBool(key string, defaultValue bool) bool {
	raw, ok := lookup(key)
	if !ok {
		return defaultValue
	}

	switch strings.ToLower(strings.TrimSpace(fmt.Sprint(raw))) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}

	return defaultValue
}

// GetDuration returns a duration setting or a default if not set or unparseable.
//
// Example:
//
//	d := GetDuration("server.read_timeout", 30*time.Second)
func GetDuration(key string, defaultValue time.Duration) time.Duration {
	raw, ok := lookup(key)
	if !ok {
		return defaultValue
	}

	if d, isDuration := raw.(time.Duration); isDuration {
		return d
	}

	if d, err := time.ParseDuration(strings.TrimSpace(fmt.Sprint(raw))); err == nil {
		return d
	}

	return defaultValue
}

// GetLogLevel returns a slog level setting or a default if not set.
//
// Example:
//
//	l := GetLogLevel("log.level", slog.LevelInfo)
func GetLogLevel(key string, defaultValue slog.Level) slog.Level {
	raw, ok := lookup(key)
	if !ok {
		return defaultValue
	}

	switch strings.ToLower(strings.TrimSpace(fmt.Sprint(raw))) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}

	return defaultValue
}

// GetStringList returns a list setting. YAML sequences are used as is; scalar values are
// split on commas.
//
// Example:
//
//	brokers := GetStringList("kafka.brokers", []string{"localhost:9092"})
func GetStringList(key string, defaultValue []string) []string {
	raw, ok := lookup(key)
	if !ok {
		return defaultValue
	}

	var out []string

	switch typed := raw.(type) {
	case []any:
		for _, item := range typed {
			out = append(out, ParseCommaSeparatedList(fmt.Sprint(item))...)
		}
	case []string:
		for _, item := range typed {
			out = append(out, ParseCommaSeparatedList(item)...)
		}
	default:
		out = ParseCommaSeparatedList(fmt.Sprint(raw))
	}

	if len(out) == 0 {
		return defaultValue
	}

	return out
}

// ParseCommaSeparatedList parses a comma-separated string into a slice of trimmed strings.
// Empty values are filtered out.
func ParseCommaSeparatedList(input string) []string {
	if input == "" {
		return []string{}
	}

	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
