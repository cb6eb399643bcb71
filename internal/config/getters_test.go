package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGettersDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	assert.Equal(t, "fallback", GetString("nothing.here", "fallback"))
	assert.Equal(t, 7, GetInt("nothing.here", 7))
	assert.Equal(t, int64(9), GetInt64("nothing.here", 9))
	assert.True(t, GetBool("nothing.here", true))
	assert.Equal(t, time.Minute, GetDuration("nothing.here", time.Minute))
	assert.Equal(t, slog.LevelWarn, GetLogLevel("nothing.here", slog.LevelWarn))
	assert.Equal(t, []string{"a"}, GetStringList("nothing.here", []string{"a"}))
}

func TestGettersFromEnvironment(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	t.Setenv("SCREENRESULTS_SERVER_PORT", "9090")
	t.Setenv("SCREENRESULTS_CACHE_MAX_ROWS", "123456789012")
	t.Setenv("SCREENRESULTS_SERVE_MIGRATE", "yes")
	t.Setenv("SCREENRESULTS_SERVER_READ_TIMEOUT", "5s")
	t.Setenv("SCREENRESULTS_LOG_LEVEL", "DEBUG")
	t.Setenv("SCREENRESULTS_KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("SCREENRESULTS_SERVER_WRITE_TIMEOUT", "not-a-duration")
	t.Setenv("SCREENRESULTS_SERVER_MAX_OPEN", "many")

	assert.Equal(t, 9090, GetInt("server.port", 8080))
	assert.Equal(t, int64(123456789012), GetInt64("cache.max_rows", 0))
	assert.True(t, GetBool("serve.migrate", false))
	assert.Equal(t, 5*time.Second, GetDuration("server.read_timeout", time.Second))
	assert.Equal(t, slog.LevelDebug, GetLogLevel("log.level", slog.LevelInfo))
	assert.Equal(t, []string{"a:9092", "b:9092"}, GetStringList("kafka.brokers", nil))

	// Unparseable values fall back to the default.
	assert.Equal(t, time.Second, GetDuration("server.write_timeout", time.Second))
	assert.Equal(t, 3, GetInt("server.max_open", 3))
}

func TestLoadConfigFile(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	path := filepath.Join(t.TempDir(), "screenresults.yaml")
	doc := "server:\n  port: 7070\nkafka:\n  brokers:\n    - k1:9092\n    - k2:9092\ncache:\n  max_age: 2h\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	require.NoError(t, Load(path))

	assert.Equal(t, 7070, GetInt("server.port", 8080))
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, GetStringList("kafka.brokers", nil))
	assert.Equal(t, 2*time.Hour, GetDuration("cache.max_age", 0))

	t.Run("environment wins over file", func(t *testing.T) {
		t.Setenv("SCREENRESULTS_SERVER_PORT", "6060")
		assert.Equal(t, 6060, GetInt("server.port", 8080))
	})
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	require.NoError(t, Load(filepath.Join(t.TempDir(), "missing.yaml")))
	require.NoError(t, Load(""))
}

func TestLoadInvalidFile(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [\n"), 0o600))

	require.Error(t, Load(path))
}

func TestSetOverrides(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	Set("cache.max_rows", 42)
	assert.Equal(t, int64(42), GetInt64("cache.max_rows", 0))
}

func TestParseCommaSeparatedList(t *testing.T) {
	assert.Equal(t, []string{}, ParseCommaSeparatedList(""))
	assert.Equal(t, []string{"a", "b"}, ParseCommaSeparatedList(" a ,, b ,"))
}
