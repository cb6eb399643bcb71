package invalidation

import (
	"errors"
	"time"

	"github.com/labscreen/screenresults/internal/config"
)

const (
	defaultTopic        = "screenresults.dataset-changed"
	defaultGroup        = "screenresults"
	defaultMaxAttempts  = 5
	defaultRetryBackoff = 200 * time.Millisecond
)

var (
	// ErrNoBrokers is returned when invalidation is enabled without brokers.
	ErrNoBrokers = errors.New("invalidation: no kafka brokers configured")

	// ErrNoTopic is returned for an empty topic.
	ErrNoTopic = errors.New("invalidation: topic is required")
)

// Config holds the Kafka settings of the invalidation consumer and publisher.
type Config struct {
	Enabled      bool
	Brokers      []string
	Topic        string
	Group        string
	MaxAttempts  int
	RetryBackoff time.Duration
}

// LoadConfig reads invalidation.* settings.
func LoadConfig() *Config {
	return &Config{
		Enabled:      config.GetBool("invalidation.enabled", false),
		Brokers:      config.GetStringList("invalidation.brokers", []string{"localhost:9092"}),
		Topic:        config.GetString("invalidation.topic", defaultTopic),
		Group:        config.GetString("invalidation.group", defaultGroup),
		MaxAttempts:  config.GetInt("invalidation.max_attempts", defaultMaxAttempts),
		RetryBackoff: config.GetDuration("invalidation.retry_backoff", defaultRetryBackoff),
	}
}

// Validate checks the settings needed to reach Kafka.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return ErrNoBrokers
	}

	if c.Topic == "" {
		return ErrNoTopic
	}

	return nil
}
