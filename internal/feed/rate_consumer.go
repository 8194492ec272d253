package feed

import (
	"context"
	"encoding/json"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/crystalmix/exchange-core/internal/domain"
	"github.com/crystalmix/exchange-core/internal/rates"
)

// RateConsumer consumes rate ticks and writes them into the rate cache.
// The cache is last-write-wins, so ordering hiccups within a partition
// burst are harmless.
type RateConsumer interface {
	Start() func()
}

// RateConsumerConfig holds configuration and dependencies for the rate
// feed consumer.
type RateConsumerConfig struct {
	Context       context.Context
	Logger        *zap.Logger
	Brokers       string
	Topic         string
	ConsumerGroup string
	Cache         *rates.Cache

	consumer *kafka.Consumer
}

func NewRateConsumer(cfg RateConsumerConfig) RateConsumer {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"group.id":          cfg.ConsumerGroup,
		"auto.offset.reset": "latest", // only current rates matter
		// Rate ticks are idempotent overwrites; auto-commit is fine here.
		"enable.auto.commit": true,
	})
	if err != nil {
		cfg.Logger.Fatal("Failed to create rate feed consumer", zap.Error(err))
	}
	cfg.consumer = consumer
	return &cfg
}

// Start begins the consumption loop and returns a cleanup function.
func (k *RateConsumerConfig) Start() func() {
	if err := k.consumer.SubscribeTopics([]string{k.Topic}, nil); err != nil {
		k.Logger.Fatal("Failed to subscribe to rate topic", zap.Error(err))
	}
	k.Logger.Info("Listening to rate feed", zap.String("topic", k.Topic))

	go func() {
		for {
			select {
			case <-k.Context.Done():
				return
			default:
			}
			msg, err := k.consumer.ReadMessage(-1)
			if err != nil {
				k.Logger.Error("Failed to read rate tick", zap.Error(err))
				continue
			}

			var rate domain.Rate
			if err := json.Unmarshal(msg.Value, &rate); err != nil {
				// A malformed tick is dropped; the next tick supersedes it.
				k.Logger.Warn("Discarding malformed rate tick", zap.Error(err))
				continue
			}
			if err := k.Cache.Put(rate); err != nil {
				k.Logger.Warn("Discarding rejected rate tick",
					zap.String("pair", rate.Pair.String()), zap.Error(err))
			}
		}
	}()

	return func() {
		if err := k.consumer.Close(); err != nil {
			k.Logger.Error("Failed to close rate consumer", zap.Error(err))
			return
		}
		k.Logger.Info("Rate feed consumer closed")
	}
}
