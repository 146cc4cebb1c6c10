// Package events publishes and consumes the workflow's domain events over
// Kafka-compatible brokers.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Topic names for the review workflow.
const (
	TopicPrescriptionSubmitted = "prescription.submitted"
	TopicPrescriptionReviewed  = "prescription.reviewed"
	TopicBookingCreated        = "booking.created"
	TopicDeadLetter            = "dead.letter"
)

// TopicConfig holds configuration for one topic.
type TopicConfig struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	RetentionMS       string
}

// DefaultTopicConfigs returns the topics this service expects to exist.
func DefaultTopicConfigs() []TopicConfig {
	return []TopicConfig{
		{Name: TopicPrescriptionSubmitted, Partitions: 3, ReplicationFactor: 1, RetentionMS: "604800000"},
		{Name: TopicPrescriptionReviewed, Partitions: 3, ReplicationFactor: 1, RetentionMS: "604800000"},
		{Name: TopicBookingCreated, Partitions: 3, ReplicationFactor: 1, RetentionMS: "604800000"},
		{Name: TopicDeadLetter, Partitions: 1, ReplicationFactor: 1, RetentionMS: "2592000000"},
	}
}

// EnsureTopics creates any missing workflow topics.
func EnsureTopics(ctx context.Context, brokers []string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("create admin client: %w", err)
	}
	defer client.Close()

	adm := kadm.NewClient(client)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	existing, err := adm.ListTopics(ctx)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}

	for _, cfg := range DefaultTopicConfigs() {
		if existing.Has(cfg.Name) {
			continue
		}

		configs := map[string]*string{
			"retention.ms":   strPtr(cfg.RetentionMS),
			"cleanup.policy": strPtr("delete"),
		}
		_, err := adm.CreateTopic(ctx, cfg.Partitions, cfg.ReplicationFactor, configs, cfg.Name)
		if err != nil {
			return fmt.Errorf("create topic %s: %w", cfg.Name, err)
		}
		logger.Info("topic created",
			zap.String("topic", cfg.Name),
			zap.Int32("partitions", cfg.Partitions))
	}
	return nil
}

func strPtr(s string) *string { return &s }
