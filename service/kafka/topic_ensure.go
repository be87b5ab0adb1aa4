package kafka

import (
	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"statusbridge/logger"
	"statusbridge/tools/errs"
)

// EnsureTopic creates the topic when it doesn't exist yet. Existing
// topics are left as they are.
func EnsureTopic(admin sarama.ClusterAdmin, topic string, partitions int32, rf int16) error {
	desc, err := admin.DescribeTopics([]string{topic})
	if err == nil && len(desc) == 1 && desc[0].Err == sarama.ErrNoError {
		logger.Info("kafka topic exists", zap.String("topic", topic), zap.Int("partitions", len(desc[0].Partitions)))
		return nil
	}

	minISR := "1"
	if rf >= 3 {
		minISR = "2"
	}
	td := &sarama.TopicDetail{
		NumPartitions:     partitions,
		ReplicationFactor: rf,
		ConfigEntries: map[string]*string{
			"cleanup.policy":                 strPtr("delete"),
			"min.insync.replicas":            strPtr(minISR),
			"unclean.leader.election.enable": strPtr("false"),
			"compression.type":               strPtr("producer"),
		},
	}
	if err := admin.CreateTopic(topic, td, false); err != nil {
		// CreateTopic 可能返回 *sarama.TopicError 或通用 error
		var te *sarama.TopicError
		if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
			return nil
		}
		return errs.WrapMsg(err, "create kafka topic", "topic", topic)
	}
	logger.Info("kafka topic created", zap.String("topic", topic), zap.Int32("partitions", partitions), zap.Int16("rf", rf))
	return nil
}

func strPtr(s string) *string { return &s }
