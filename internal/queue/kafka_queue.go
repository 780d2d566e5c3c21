package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaQueue publishes jobs keyed by mobile, so every job for one number
// lands on the same partition in enqueue order.
type KafkaQueue struct {
	writer          messageWriter
	reader          messageReader
	topic           string
	deadLetterTopic string
	logger          *zap.Logger
}

// NewKafkaQueue wires a writer and an optional reader. API processes pass a
// nil reader; only the worker consumes.
func NewKafkaQueue(writer messageWriter, reader messageReader, topic, deadLetterTopic string, logger *zap.Logger) *KafkaQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaQueue{
		writer:          writer,
		reader:          reader,
		topic:           topic,
		deadLetterTopic: deadLetterTopic,
		logger:          logger,
	}
}

func (q *KafkaQueue) Enqueue(ctx context.Context, job SendJob) error {
	return q.publish(ctx, q.topic, job, "")
}

func (q *KafkaQueue) DeadLetter(ctx context.Context, job SendJob, reason string) error {
	if q.deadLetterTopic == "" {
		q.logger.Warn("No dead-letter topic configured, dropping job",
			zap.String("job_id", job.ID),
			zap.String("reason", reason))
		return nil
	}
	return q.publish(ctx, q.deadLetterTopic, job, reason)
}

func (q *KafkaQueue) publish(ctx context.Context, topic string, job SendJob, reason string) error {
	value, err := encodeJob(job, reason)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(job.Mobile),
		Value: value,
		Headers: []kafka.Header{
			{Key: "task_name", Value: []byte(TaskSendSMSCode)},
		},
	}
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	q.logger.Debug("Produced kafka message",
		zap.String("topic", topic),
		zap.String("job_id", job.ID),
		zap.Int("value_size", len(value)))
	return nil
}

// Fetch returns the next well-formed job. Malformed messages are logged and
// committed so they do not block the partition.
func (q *KafkaQueue) Fetch(ctx context.Context) (*Delivery, error) {
	if q.reader == nil {
		return nil, errors.New("kafka queue has no reader")
	}

	for {
		msg, err := q.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to read kafka message: %w", err)
		}

		job, err := decodeJob(msg.Value)
		if err != nil {
			q.logger.Error("Discarding malformed queue message",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			if err := q.reader.CommitMessages(ctx, msg); err != nil {
				return nil, fmt.Errorf("failed to commit malformed message: %w", err)
			}
			continue
		}

		committed := msg
		return &Delivery{
			Job: job,
			ack: func(ctx context.Context) error {
				return q.reader.CommitMessages(ctx, committed)
			},
		}, nil
	}
}

var (
	_ Producer     = (*KafkaQueue)(nil)
	_ Consumer     = (*KafkaQueue)(nil)
	_ DeadLetterer = (*KafkaQueue)(nil)
)
