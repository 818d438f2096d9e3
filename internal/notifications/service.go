package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"reelsmith/internal/config"
	"reelsmith/internal/services"
)

// Event names a job lifecycle milestone.
type Event string

const (
	EventJobStarted     Event = "job_started"
	EventStageCompleted Event = "stage_completed"
	EventJobCompleted   Event = "job_completed"
	EventJobFailed      Event = "job_failed"
	EventJobCancelled   Event = "job_cancelled"
	EventQueueStarted   Event = "queue_started"
	EventQueueCompleted Event = "queue_completed"
)

// Payload carries event fields. The job_id entry, when present, becomes the
// record key.
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
	Close() error
}

// NewService builds a Kafka backed service when brokers are configured and
// a no-op otherwise.
func NewService(cfg *config.Config) (Service, error) {
	if cfg == nil || len(cfg.Events.Brokers) == 0 || strings.TrimSpace(cfg.Events.Topic) == "" {
		return Noop{}, nil
	}
	producer, err := sarama.NewSyncProducer(cfg.Events.Brokers, ProducerConfig(cfg.Events))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "events_connect", "connect to event brokers", err,
			services.WithDetail("brokers", strings.Join(cfg.Events.Brokers, ",")))
	}
	return NewKafkaService(producer, cfg.Events.Topic), nil
}

// ProducerConfig returns the sarama settings used for event publishing.
func ProducerConfig(events config.Events) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.ClientID = "reelsmith"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Idempotent = false
	timeout := time.Duration(events.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cfg.Producer.Timeout = timeout
	cfg.Net.DialTimeout = timeout
	return cfg
}

// KafkaService publishes events with a synchronous producer.
type KafkaService struct {
	producer sarama.SyncProducer
	topic    string
	now      func() time.Time
}

// NewKafkaService wraps producer.
func NewKafkaService(producer sarama.SyncProducer, topic string) *KafkaService {
	return &KafkaService{producer: producer, topic: strings.TrimSpace(topic), now: time.Now}
}

// Record is the JSON body of a published event.
type Record struct {
	Event  Event          `json:"event"`
	At     time.Time      `json:"at"`
	JobID  string         `json:"job_id,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Publish sends one event and waits for the broker acknowledgement.
func (k *KafkaService) Publish(ctx context.Context, event Event, payload Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	record := encode(event, payload, k.now())
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(event)},
		},
	}
	if record.JobID != "" {
		msg.Key = sarama.StringEncoder(record.JobID)
	}
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return services.Wrap(services.ErrTransient, "", "events_publish", "publish event", err,
			services.WithDetail("event", string(event)))
	}
	return nil
}

// Close flushes and closes the producer.
func (k *KafkaService) Close() error {
	return k.producer.Close()
}

func encode(event Event, payload Payload, at time.Time) Record {
	record := Record{Event: event, At: at.UTC()}
	if len(payload) == 0 {
		return record
	}
	record.Fields = make(map[string]any, len(payload))
	for key, value := range payload {
		switch v := value.(type) {
		case error:
			record.Fields[key] = v.Error()
		case time.Duration:
			record.Fields[key] = v.Seconds()
		default:
			record.Fields[key] = v
		}
	}
	if id, ok := record.Fields["job_id"].(string); ok {
		record.JobID = id
		delete(record.Fields, "job_id")
	}
	return record
}

// Noop drops every event.
type Noop struct{}

// Publish implements Service.
func (Noop) Publish(context.Context, Event, Payload) error { return nil }

// Close implements Service.
func (Noop) Close() error { return nil }
