package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/river-level-sync/internal/config"
	"github.com/couchcryptid/river-level-sync/internal/domain"
	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
)

// Event types carried in the event_type header.
const (
	EventSnapshot = "district_summary"
	EventAlert    = "station_alert"
)

const snapshotKey = "summary"

// messageWriter is the subset of kafkago.Writer used by Publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces water-level cycle events to a Kafka topic.
// It implements pipeline.Publisher.
type Publisher struct {
	writer messageWriter
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured topic. Messages are
// hashed by key so every alert for a station lands on the same partition.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return newPublisher(w, clockwork.NewRealClock(), logger)
}

func newPublisher(w messageWriter, clock clockwork.Clock, logger *slog.Logger) *Publisher {
	return &Publisher{writer: w, clock: clock, logger: logger}
}

// PublishSnapshot emits one district summary message.
func (p *Publisher) PublishSnapshot(ctx context.Context, snap domain.DistrictSummarySnapshot) error {
	msg, err := serializeSnapshot(snap, p.clock.Now())
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	p.logger.Debug("snapshot published", "snapshot_id", snap.ID, "overall_status", snap.OverallStatus)
	return nil
}

// PublishAlerts emits one message per event in a single WriteMessages call.
func (p *Publisher) PublishAlerts(ctx context.Context, events []domain.AlertEvent) error {
	if len(events) == 0 {
		return nil
	}
	now := p.clock.Now()
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msg, err := serializeAlert(events[i], now)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish alerts: %w", err)
	}
	p.logger.Debug("alerts published", "count", len(events))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeSnapshot marshals a snapshot into a Kafka message.
func serializeSnapshot(snap domain.DistrictSummarySnapshot, producedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize snapshot: %w", err)
	}
	return kafkago.Message{
		Key:     []byte(snapshotKey),
		Value:   data,
		Headers: headers(EventSnapshot, snap.OverallStatus, producedAt),
	}, nil
}

// serializeAlert marshals an alert event keyed by station external id.
func serializeAlert(event domain.AlertEvent, producedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize alert %s: %w", event.StationExternalID, err)
	}
	return kafkago.Message{
		Key:     []byte(event.StationExternalID),
		Value:   data,
		Headers: headers(EventAlert, event.AlertStatus, producedAt),
	}, nil
}

func headers(eventType, status string, producedAt time.Time) []kafkago.Header {
	return []kafkago.Header{
		{Key: "event_type", Value: []byte(eventType)},
		{Key: "alert_status", Value: []byte(status)},
		{Key: "produced_at", Value: []byte(producedAt.UTC().Format(time.RFC3339))},
	}
}
