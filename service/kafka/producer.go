package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/Shopify/sarama"

	"statusbridge/service/events"
	"statusbridge/tools/errs"
)

func BuildBaseConfig(c *Config) (*sarama.Config, error) {
	version, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return nil, errs.WrapMsg(err, "parse kafka version", "version", c.Version)
	}
	cfg := sarama.NewConfig()
	cfg.Version = version
	cfg.ClientID = "statusbridge"

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = c.Retries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // ★ Key 控制分区：同一用户的事件保序
	switch strings.ToLower(c.Compression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg, nil
}

// EventProducer writes status events to one topic keyed by chat user id.
type EventProducer struct {
	client   sarama.Client
	producer sarama.SyncProducer
	topic    string
}

func NewEventProducer(c Config) (*EventProducer, error) {
	if err := c.setDefaults(); err != nil {
		return nil, err
	}
	cfg, err := BuildBaseConfig(&c)
	if err != nil {
		return nil, err
	}
	client, err := sarama.NewClient(c.Brokers, cfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka client", "brokers", strings.Join(c.Brokers, ","))
	}
	if c.EnsureTopic {
		admin, err := sarama.NewClusterAdminFromClient(client)
		if err != nil {
			_ = client.Close()
			return nil, errs.WrapMsg(err, "kafka admin")
		}
		// admin shares the client; closing it would close the client too
		if err := EnsureTopic(admin, c.Topic, c.Partitions, c.ReplicationFactor); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	p, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errs.WrapMsg(err, "kafka sync producer")
	}
	return &EventProducer{client: client, producer: p, topic: c.Topic}, nil
}

func (p *EventProducer) Name() string { return "kafka" }

// Publish sends synchronously. sarama's SyncProducer ignores ctx; the
// producer's own retry and timeout settings bound the call.
func (p *EventProducer) Publish(_ context.Context, ev events.StatusEvent) error {
	msg, err := eventMessage(p.topic, ev)
	if err != nil {
		return err
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return errs.WrapMsg(err, "kafka send", "topic", p.topic, "user", ev.ChatUserID)
	}
	return nil
}

func (p *EventProducer) Close() error {
	err := p.producer.Close()
	if p.client != nil && !p.client.Closed() {
		if cerr := p.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func eventMessage(topic string, ev events.StatusEvent) (*sarama.ProducerMessage, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, errs.WrapMsg(err, "marshal status event", "id", ev.ID)
	}
	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(ev.ChatUserID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_id"), Value: []byte(ev.ID)},
			{Key: []byte("kind"), Value: []byte(ev.Kind)},
		},
		Timestamp: ev.At,
	}, nil
}
