// Package feed connects the exchange core to its external feeds: deposit
// notifications from the chain monitor and rate ticks from the pricing
// service, both delivered over Kafka.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/crystalmix/exchange-core/internal/domain"
	"github.com/crystalmix/exchange-core/internal/reconcile"
	kafkautils "github.com/crystalmix/exchange-core/pkg/kafka"
)

// DepositConsumer consumes deposit notifications and feeds the reconciler.
type DepositConsumer interface {
	Start() func()
}

// DepositConsumerConfig holds configuration and dependencies for the
// deposit feed consumer.
type DepositConsumerConfig struct {
	Context       context.Context
	Logger        *zap.Logger
	Brokers       string
	Topic         string
	DLQTopic      string
	ConsumerGroup string
	MaxConcurrent int
	Reconciler    *reconcile.Reconciler

	// internal initialization
	consumer    *kafka.Consumer
	dlqProducer *kafka.Producer
	commits     *kafkautils.CommitManager
	sem         chan struct{}
}

// NewDepositConsumer initializes the consumer, its DLQ producer, and the
// concurrency semaphore.
func NewDepositConsumer(cfg DepositConsumerConfig) DepositConsumer {
	kafkaConfig := &kafka.ConfigMap{
		"bootstrap.servers":  cfg.Brokers,
		"group.id":           cfg.ConsumerGroup,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false, // manual offset management
	}
	consumer, err := kafka.NewConsumer(kafkaConfig)
	if err != nil {
		cfg.Logger.Fatal("Failed to create deposit feed consumer", zap.Error(err))
	}

	dlqProducer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Brokers,
		"acks":               "all",
		"enable.idempotence": true,
	})
	if err != nil {
		cfg.Logger.Fatal("Failed to create deposit DLQ producer", zap.Error(err))
	}

	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	cfg.consumer = consumer
	cfg.dlqProducer = dlqProducer
	cfg.commits = kafkautils.NewCommitManager(consumer, cfg.Logger)
	cfg.sem = make(chan struct{}, cfg.MaxConcurrent)
	return &cfg
}

// Start begins the consumption loop and returns a cleanup function.
func (k *DepositConsumerConfig) Start() func() {
	if err := k.consumer.SubscribeTopics([]string{k.Topic}, nil); err != nil {
		k.Logger.Fatal("Failed to subscribe to deposit topic", zap.Error(err))
	}
	k.Logger.Info("Listening to deposit feed",
		zap.String("topic", k.Topic),
		zap.String("group", k.ConsumerGroup))

	go func() {
		for {
			msg, err := k.consumer.ReadMessage(-1)
			if err != nil {
				var kafkaErr kafka.Error
				if errors.As(err, &kafkaErr) && kafkaErr.Code() == kafka.ErrAllBrokersDown {
					k.Logger.Error("All Kafka brokers down", zap.Error(err))
				} else {
					k.Logger.Error("Failed to read deposit message", zap.Error(err))
				}
				continue
			}
			k.commits.Track(msg)
			k.sem <- struct{}{}
			go func(m *kafka.Message) {
				defer func() { <-k.sem }()
				k.processMessage(m)
			}(msg)
		}
	}()

	return func() {
		if k.dlqProducer != nil {
			k.dlqProducer.Flush(5000)
			k.dlqProducer.Close()
		}
		if err := k.consumer.Close(); err != nil {
			k.Logger.Error("Failed to close deposit consumer", zap.Error(err))
			return
		}
		k.Logger.Info("Deposit feed consumer closed")
	}
}

func (k *DepositConsumerConfig) processMessage(msg *kafka.Message) {
	select {
	case <-k.Context.Done():
		return
	default:
	}

	var dep domain.DepositNotification
	if err := json.Unmarshal(msg.Value, &dep); err != nil {
		k.Logger.Error("Failed to decode deposit notification", zap.Error(err))
		k.sendToDLQ(msg, "json unmarshal error", err.Error())
		k.commits.Ack("", msg) // skip the poison message
		return
	}
	if dep.TxID == "" {
		k.Logger.Error("Deposit notification missing txId")
		k.sendToDLQ(msg, "missing txId", "")
		k.commits.Ack("", msg)
		return
	}

	orderID, err := k.Reconciler.Reconcile(k.Context, dep)
	if err != nil {
		// NoMatch and ambiguity are terminal for this delivery: the feed is
		// not trusted to redeliver, and retrying cannot change the outcome.
		if !errors.Is(err, domain.ErrNoMatch) && !errors.Is(err, domain.ErrAmbiguousMatch) && !errors.Is(err, domain.ErrInvalidTransition) {
			k.Logger.Error("Failed to reconcile deposit, sending to DLQ",
				zap.String("tx_id", dep.TxID), zap.Error(err))
			k.sendToDLQ(msg, "reconcile error", err.Error())
		}
		k.commits.Ack(dep.TxID, msg)
		return
	}

	k.commits.Ack(dep.TxID, msg)
	if orderID != "" {
		k.Logger.Info("Deposit reconciled from feed",
			zap.String("tx_id", dep.TxID), zap.String("order_id", orderID))
	}
}

func (k *DepositConsumerConfig) sendToDLQ(original *kafka.Message, reason, errMsg string) {
	if k.dlqProducer == nil {
		k.Logger.Error("DLQ producer not initialized; dropping message", zap.String("reason", reason))
		return
	}
	payload := map[string]any{
		"original_topic":     topicOf(original),
		"original_partition": original.TopicPartition.Partition,
		"original_offset":    original.TopicPartition.Offset,
		"value":              string(original.Value),
		"failure_reason":     reason,
		"error":              errMsg,
		"failed_at":          time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, _ := json.Marshal(payload)

	err := k.dlqProducer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &k.DLQTopic, Partition: kafka.PartitionAny},
		Key:            original.Key,
		Value:          b,
		Headers:        append(original.Headers, kafka.Header{Key: "x-dlq-reason", Value: []byte(reason)}),
	}, nil)
	if err != nil {
		k.Logger.Error("Failed to produce to DLQ", zap.Error(err))
	}
}

func topicOf(msg *kafka.Message) string {
	if msg.TopicPartition.Topic == nil {
		return ""
	}
	return *msg.TopicPartition.Topic
}
