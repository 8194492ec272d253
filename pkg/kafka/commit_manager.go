package kafkautils

import (
	"sync"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

type tp struct {
	topic     string
	partition int32
}

// CommitManager commits offsets in partition order even when messages are
// processed concurrently. An offset is only committed once every offset
// below it on the same partition has been acknowledged.
type CommitManager struct {
	mu       sync.Mutex
	high     map[tp]int64              // last committed offset per partition
	done     map[tp]map[int64]struct{} // processed offsets not yet committed
	consumer *kafka.Consumer
	log      *zap.Logger
}

func NewCommitManager(c *kafka.Consumer, l *zap.Logger) *CommitManager {
	return &CommitManager{
		high:     make(map[tp]int64),
		done:     make(map[tp]map[int64]struct{}),
		consumer: c,
		log:      l,
	}
}

// Track anchors the contiguity scan at the first offset delivered on a
// partition. Call it from the read loop, before handing the message to a
// worker; deliveries are in order there, acks are not.
func (m *CommitManager) Track(msg *kafka.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := tp{topic: *msg.TopicPartition.Topic, partition: msg.TopicPartition.Partition}
	if _, seen := m.high[k]; !seen {
		m.high[k] = int64(msg.TopicPartition.Offset) - 1
	}
}

// Ack marks msg as processed. key identifies the payload in logs (the
// deposit tx id for the deposit feed).
func (m *CommitManager) Ack(key string, msg *kafka.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := tp{topic: *msg.TopicPartition.Topic, partition: msg.TopicPartition.Partition}
	off := int64(msg.TopicPartition.Offset)

	if m.done[k] == nil {
		m.done[k] = map[int64]struct{}{}
	}
	m.done[k][off] = struct{}{}

	next := m.high[k]
	for {
		if _, ok := m.done[k][next+1]; ok {
			next++
			delete(m.done[k], next)
		} else {
			break
		}
	}

	if next > m.high[k] {
		tpToCommit := kafka.TopicPartition{Topic: &k.topic, Partition: k.partition, Offset: kafka.Offset(next + 1)}
		if _, err := m.consumer.CommitOffsets([]kafka.TopicPartition{tpToCommit}); err != nil {
			m.log.Error("offset_commit_failed",
				zap.String("key", key),
				zap.String("topic", k.topic),
				zap.Int32("partition", k.partition),
				zap.Int64("attempted_offset", next), zap.Error(err))
			return
		}
		m.high[k] = next
	}
}
