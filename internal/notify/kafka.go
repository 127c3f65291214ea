package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaSink produces one message per alert change.
type KafkaSink struct {
	writer messageWriter
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{writer: w}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Publish(ctx context.Context, ev Event) error {
	msg, err := serializeToMessage(ev)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, msg)
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

// serializeToMessage keys the message by alert id so every change to one
// alert lands on the same partition.
func serializeToMessage(ev Event) (kafkago.Message, error) {
	data, err := json.Marshal(ev.Change)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize alert change: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(ev.Change.Alert.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "kind", Value: []byte(ev.Change.Alert.Kind)},
			{Key: "change", Value: []byte(ev.Change.Type)},
			{Key: "at", Value: []byte(ev.Change.At.Format(time.RFC3339))},
		},
	}, nil
}
