// Package kafkasink streams audit events to a Kafka topic.
package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrEthical07/trustcore/audit"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer is the part of *kgo.Client the sink uses.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Sink publishes each event as one JSON record keyed by identity id, so a
// partition sees an identity's events in order.
type Sink struct {
	producer Producer
	topic    string
}

var _ audit.Sink = (*Sink)(nil)

func New(producer Producer, topic string) (*Sink, error) {
	if producer == nil {
		return nil, errors.New("kafkasink: producer is required")
	}
	if topic == "" {
		return nil, errors.New("kafkasink: topic is required")
	}
	return &Sink{producer: producer, topic: topic}, nil
}

// Dial builds a franz-go client for brokers and wraps it. The caller closes
// the returned client.
func Dial(brokers []string, topic string, opts ...kgo.Opt) (*Sink, *kgo.Client, error) {
	opts = append([]kgo.Opt{kgo.SeedBrokers(brokers...), kgo.DefaultProduceTopic(topic)}, opts...)
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("kafkasink: client: %w", err)
	}
	s, err := New(client, topic)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return s, client, nil
}

func (s *Sink) Emit(ctx context.Context, event audit.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafkasink: encode: %w", err)
	}
	rec := &kgo.Record{
		Topic: s.topic,
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(event.Action)},
			{Key: "status", Value: []byte(event.Status)},
		},
	}
	if event.IdentityID != "" {
		rec.Key = []byte(event.IdentityID)
	}
	if err := s.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafkasink: produce: %w", err)
	}
	return nil
}
