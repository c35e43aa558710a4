package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/oriys/alarmgen/internal/logging"
)

// KafkaConsumer implements Consumer over a sarama consumer-group client,
// grounded on the pack's Kafka consumer client (partition-claim event loop)
// and the vendored sarama library it wraps.
type KafkaConsumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	batchCh chan []Record
	resCh   chan ResourceEvent

	mu     sync.Mutex
	claims map[int32]*claimState

	cancel context.CancelFunc
	done   chan struct{}
}

type claimState struct {
	session sarama.ConsumerGroupSession
	claim   sarama.ConsumerGroupClaim
}

// KafkaConfig configures the sarama client.
type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
}

// NewKafkaConsumer connects to the given brokers and joins a consumer group
// over the given topics (one "<prefix>-uve-topic-<partition>"-style topic per
// partition, per spec.md §6).
func NewKafkaConsumer(cfg KafkaConfig) (*KafkaConsumer, error) {
	scfg := sarama.NewConfig()
	scfg.Version = sarama.V2_8_0_0
	scfg.Consumer.Return.Errors = true
	scfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, scfg)
	if err != nil {
		return nil, fmt.Errorf("bus: join consumer group: %w", err)
	}

	kc := &KafkaConsumer{
		group:   group,
		topics:  cfg.Topics,
		batchCh: make(chan []Record, 64),
		resCh:   make(chan ResourceEvent, 16),
		claims:  make(map[int32]*claimState),
		done:    make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	kc.cancel = cancel
	go kc.run(ctx)
	go kc.watchErrors()

	return kc, nil
}

func (kc *KafkaConsumer) run(ctx context.Context) {
	defer close(kc.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := kc.group.Consume(ctx, kc.topics, kc); err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Op().Error("bus: consumer group session error, reconnecting", "error", err)
			time.Sleep(time.Second) // transient bus I/O: reconnect with backoff, per spec.md §7
		}
	}
}

func (kc *KafkaConsumer) watchErrors() {
	for err := range kc.group.Errors() {
		logging.Op().Error("bus: consumer group error", "error", err)
	}
}

// Setup implements sarama.ConsumerGroupHandler.
func (kc *KafkaConsumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler.
func (kc *KafkaConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim implements sarama.ConsumerGroupHandler, draining one claimed
// partition into bounded batches per spec.md §4.1 ("Poll in bounded batches
// (≤ 50 records) with ≤ 0.1 s idle pacing").
func (kc *KafkaConsumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	const maxBatch = 50
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	batch := make([]Record, 0, maxBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		kc.batchCh <- batch
		batch = make([]Record, 0, maxBatch)
	}

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				flush()
				return nil
			}
			batch = append(batch, Record{
				Topic:     msg.Topic,
				Partition: int(msg.Partition),
				Offset:    msg.Offset,
				Key:       string(msg.Key),
				Value:     msg.Value,
			})
			sess.MarkMessage(msg, "")
			if len(batch) >= maxBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-sess.Context().Done():
			flush()
			return nil
		}
	}
}

// Poll returns the next available batch of records, bounded by maxRecords.
func (kc *KafkaConsumer) Poll(ctx context.Context, maxRecords int) ([]Record, error) {
	select {
	case batch := <-kc.batchCh:
		if len(batch) > maxRecords {
			return batch[:maxRecords], nil
		}
		return batch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resources returns the collector appear/disappear event channel.
func (kc *KafkaConsumer) Resources() <-chan ResourceEvent { return kc.resCh }

// CommitOffset is a no-op beyond sarama's automatic session-based marking;
// sess.MarkMessage in ConsumeClaim already advances the committed offset.
func (kc *KafkaConsumer) CommitOffset(ctx context.Context, partition int, offset int64) error {
	return nil
}

// Close shuts down the consumer group and stops the background event loop.
func (kc *KafkaConsumer) Close() error {
	kc.cancel()
	<-kc.done
	return kc.group.Close()
}
