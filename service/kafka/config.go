package kafka

import (
	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
)

type Config struct {
	Brokers     []string `mapstructure:"brokers"`
	Topic       string   `mapstructure:"topic"`
	Version     string   `mapstructure:"version"`
	Compression string   `mapstructure:"compression"` // none/snappy/lz4/zstd
	Retries     int      `mapstructure:"retries"`
	// EnsureTopic creates Topic on start if it is missing.
	EnsureTopic       bool  `mapstructure:"ensure_topic"`
	Partitions        int32 `mapstructure:"partitions"`
	ReplicationFactor int16 `mapstructure:"replication_factor"`
}

func (c *Config) setDefaults() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka brokers missing")
	}
	if c.Topic == "" {
		c.Topic = "statusbridge.status"
	}
	if c.Version == "" {
		c.Version = sarama.V2_1_0_0.String()
	}
	if c.Retries <= 0 {
		c.Retries = 5
	}
	if c.Partitions <= 0 {
		c.Partitions = 8
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = 1
	}
	return nil
}
