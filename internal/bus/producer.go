package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// Producer is the contract the health-probe keep-alive (spec.md §5) needs
// from the message bus: produce one message and block for the broker's ack,
// bounded by a timeout.
type Producer interface {
	// SendAndFlush produces value to topic and blocks until the broker
	// acknowledges it or timeout elapses.
	SendAndFlush(ctx context.Context, topic string, value []byte, timeout time.Duration) error

	// Close releases the underlying bus client connection.
	Close() error
}

// KafkaProducer implements Producer over a sarama synchronous producer,
// grounded on alarmgen.py's run_kafka_liveness_check KafkaProducer(acks=1)
// and producer.flush(timeout) keep-alive.
type KafkaProducer struct {
	producer sarama.SyncProducer
}

// NewKafkaProducer connects a synchronous sarama producer to brokers, acks=1
// (wait for leader write), matching the original health-check producer's
// default acks.
func NewKafkaProducer(brokers []string) (*KafkaProducer, error) {
	scfg := sarama.NewConfig()
	scfg.Version = sarama.V2_8_0_0
	scfg.Producer.RequiredAcks = sarama.WaitForLocal
	scfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, scfg)
	if err != nil {
		return nil, fmt.Errorf("bus: init health-check producer: %w", err)
	}
	return &KafkaProducer{producer: producer}, nil
}

// SendAndFlush produces value to topic and waits up to timeout for the
// broker's ack, per spec.md §5's "requires flush acknowledgement within 20s".
func (p *KafkaProducer) SendAndFlush(ctx context.Context, topic string, value []byte, timeout time.Duration) error {
	msg := &sarama.ProducerMessage{Topic: topic, Value: sarama.ByteEncoder(value)}

	done := make(chan error, 1)
	go func() {
		_, _, err := p.producer.SendMessage(msg)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("bus: health-check send to %s timed out after %s", topic, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts down the producer.
func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}
