package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/mr1hm/offline-alert-relay/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaIncidentLog publishes incident log entries to a topic, keyed by record ID.
type KafkaIncidentLog struct {
	writer messageWriter
}

func NewKafkaIncidentLog(brokers []string, topic string) *KafkaIncidentLog {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &KafkaIncidentLog{writer: w}
}

func (k *KafkaIncidentLog) Channel() models.Channel {
	return models.ChannelIncidentLog
}

func (k *KafkaIncidentLog) Send(ctx context.Context, rec models.EmergencyRecord) error {
	msg, err := incidentMessage(rec)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return models.NewTransportError(string(models.ChannelIncidentLog), err)
	}
	return nil
}

func (k *KafkaIncidentLog) Close() error {
	return k.writer.Close()
}

func incidentMessage(rec models.EmergencyRecord) (kafkago.Message, error) {
	payload := newIncidentRequest(rec)
	data, err := json.Marshal(payload)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize incident: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(rec.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "district", Value: []byte(rec.District)},
			{Key: "alert_status", Value: []byte(payload.AlertStatus)},
		},
	}, nil
}
