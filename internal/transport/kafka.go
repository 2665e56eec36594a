package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/danmuck/ghostwire/internal/protocol/frame"
)

// KafkaSender produces encoded messages to one topic, keyed by the first
// frame so a device's traffic stays in one partition.
type KafkaSender struct {
	producer sarama.SyncProducer
	topic    string
	codec    Codec
}

func NewKafkaSender(producer sarama.SyncProducer, topic string, codec Codec) *KafkaSender {
	return &KafkaSender{producer: producer, topic: topic, codec: codec}
}

func DialKafkaSender(ep Endpoint, codec Codec) (*KafkaSender, error) {
	producer, err := sarama.NewSyncProducer(brokerList(ep.Address), producerConfig())
	if err != nil {
		return nil, fmt.Errorf("transport: kafka producer %s: %w", ep.Address, err)
	}
	return NewKafkaSender(producer, ep.Topic, codec), nil
}

func producerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	// Delivery is best effort; a failed produce is reported, not retried.
	config.Producer.Retry.Max = 0
	return config
}

func (s *KafkaSender) Send(ctx context.Context, msg frame.Frames) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := s.codec.Marshal(msg)
	if err != nil {
		return err
	}
	pm := &sarama.ProducerMessage{
		Topic: s.topic,
		Value: sarama.ByteEncoder(data),
	}
	if msg.Len() > 0 {
		pm.Key = sarama.ByteEncoder(msg[0])
	}
	_, _, err = s.producer.SendMessage(pm)
	return err
}

func (s *KafkaSender) Close() error {
	return s.producer.Close()
}

// KafkaReceiver consumes one partition from the newest offset.
type KafkaReceiver struct {
	consumer sarama.Consumer
	pc       sarama.PartitionConsumer
	codec    Codec
}

func NewKafkaReceiver(consumer sarama.Consumer, topic string, partition int32, codec Codec) (*KafkaReceiver, error) {
	pc, err := consumer.ConsumePartition(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return nil, fmt.Errorf("transport: kafka consume %s/%d: %w", topic, partition, err)
	}
	return &KafkaReceiver{consumer: consumer, pc: pc, codec: codec}, nil
}

func DialKafkaReceiver(ep Endpoint, codec Codec) (*KafkaReceiver, error) {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true
	consumer, err := sarama.NewConsumer(brokerList(ep.Address), config)
	if err != nil {
		return nil, fmt.Errorf("transport: kafka consumer %s: %w", ep.Address, err)
	}
	r, err := NewKafkaReceiver(consumer, ep.Topic, 0, codec)
	if err != nil {
		_ = consumer.Close()
		return nil, err
	}
	return r, nil
}

func (r *KafkaReceiver) Receive(ctx context.Context) (frame.Frames, error) {
	select {
	case m, ok := <-r.pc.Messages():
		if !ok {
			return nil, ErrClosed
		}
		msg, err := r.codec.Unmarshal(m.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return msg, nil
	case err, ok := <-r.pc.Errors():
		if !ok {
			return nil, ErrClosed
		}
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *KafkaReceiver) Close() error {
	err := r.pc.Close()
	if cerr := r.consumer.Close(); err == nil {
		err = cerr
	}
	return err
}

func brokerList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
