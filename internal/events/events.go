// Пакет events — события жизненного цикла загрузок для внешних
// потребителей. Публикация в Kafka; без брокеров — no-op.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// EventType — тип события.
type EventType string

const (
	UploadIngested   EventType = "upload.ingested"
	UploadProcessing EventType = "upload.processing"
	UploadCompleted  EventType = "upload.completed"
	UploadFailed     EventType = "upload.failed"
	UploadDeleted    EventType = "upload.deleted"
)

// source — значение поля source во всех событиях модуля.
const source = "intake-module"

// DefaultPublishTimeout — предельное время публикации, если у контекста
// нет собственного дедлайна.
const DefaultPublishTimeout = 5 * time.Second

// Event — конверт события.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	UploadID  uuid.UUID      `json:"upload_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent создаёт событие о загрузке.
func NewEvent(eventType EventType, uploadID uuid.UUID, data map[string]any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Source:    source,
		UploadID:  uploadID,
		Data:      data,
	}
}

// ToJSON сериализует событие.
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher публикует события.
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
	Close() error
}

// messageWriter — часть kafka.Writer, нужная публикатору.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher публикует события в топик Kafka.
// Ключ сообщения — ID загрузки: события одной загрузки попадают
// в одну партицию и сохраняют порядок.
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewKafkaPublisher создаёт публикатор для brokers/topic.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: DefaultPublishTimeout,
	}
	return newKafkaPublisher(w, topic, logger)
}

func newKafkaPublisher(w messageWriter, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer:  w,
		topic:   topic,
		timeout: DefaultPublishTimeout,
		logger:  logger.With(slog.String("component", "kafka_publisher")),
	}
}

// Publish отправляет событие синхронно. Без дедлайна в ctx ожидание
// брокера ограничено timeout.
func (p *KafkaPublisher) Publish(ctx context.Context, e *Event) error {
	value, err := e.ToJSON()
	if err != nil {
		return fmt.Errorf("ошибка сериализации события: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok && p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	msg := kafka.Message{
		Key:   []byte(e.UploadID.String()),
		Value: value,
		Time:  e.Timestamp,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("ошибка публикации события %s в %s: %w", e.Type, p.topic, err)
	}

	p.logger.Debug("Событие опубликовано",
		slog.String("type", string(e.Type)),
		slog.String("upload_id", e.UploadID.String()),
	)
	return nil
}

// Close сбрасывает буфер и закрывает соединения.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher отбрасывает события.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *Event) error { return nil }

func (NopPublisher) Close() error { return nil }

// New возвращает KafkaPublisher, если заданы брокеры, иначе NopPublisher.
func New(brokers []string, topic string, logger *slog.Logger) Publisher {
	if len(brokers) == 0 {
		logger.Info("Kafka не настроена, события загрузок не публикуются")
		return NopPublisher{}
	}
	logger.Info("Публикация событий в Kafka",
		slog.Any("brokers", brokers),
		slog.String("topic", topic),
	)
	return NewKafkaPublisher(brokers, topic, logger)
}
