package audit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	createTableQuery = `CREATE TABLE IF NOT EXISTS verification_events (
	event_time DateTime64(3, 'UTC'),
	event_type LowCardinality(String),
	mobile     String,
	detail     String
) ENGINE = MergeTree
PARTITION BY toYYYYMM(event_time)
ORDER BY (event_type, event_time)
TTL toDateTime(event_time) + INTERVAL 90 DAY`

	insertQuery = "INSERT INTO verification_events (event_time, event_type, mobile, detail)"
)

type batchWriter interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	BatchInsert(ctx context.Context, query string, data [][]interface{}) error
}

// ClickHouseRecorder buffers events and writes them in batches, either when
// the batch fills or on every flush interval.
type ClickHouseRecorder struct {
	writer        batchWriter
	events        chan Event
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger
	dropped       atomic.Int64
}

func NewClickHouseRecorder(writer batchWriter, batchSize int, flushInterval time.Duration, logger *zap.Logger) *ClickHouseRecorder {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	return &ClickHouseRecorder{
		writer:        writer,
		events:        make(chan Event, batchSize*4),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
	}
}

func (r *ClickHouseRecorder) EnsureSchema(ctx context.Context) error {
	if err := r.writer.Exec(ctx, createTableQuery); err != nil {
		return fmt.Errorf("failed to create verification_events table: %w", err)
	}
	return nil
}

// Record never blocks. Events are dropped when the buffer is full.
func (r *ClickHouseRecorder) Record(_ context.Context, event Event) {
	select {
	case r.events <- event:
	default:
		if r.dropped.Add(1)%100 == 1 {
			r.logger.Warn("Audit buffer full, dropping events",
				zap.Int64("dropped_total", r.dropped.Load()))
		}
	}
}

// Run flushes batches until ctx is cancelled, then drains what is buffered.
func (r *ClickHouseRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, r.batchSize)
	for {
		select {
		case event := <-r.events:
			batch = append(batch, event)
			if len(batch) >= r.batchSize {
				batch = r.flush(ctx, batch)
			}
		case <-ticker.C:
			batch = r.flush(ctx, batch)
		case <-ctx.Done():
			for {
				select {
				case event := <-r.events:
					batch = append(batch, event)
				default:
					drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					r.flush(drainCtx, batch)
					cancel()
					return nil
				}
			}
		}
	}
}

func (r *ClickHouseRecorder) flush(ctx context.Context, batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}

	rows := make([][]interface{}, 0, len(batch))
	for _, e := range batch {
		rows = append(rows, []interface{}{e.Time, string(e.Type), e.Mobile, e.Detail})
	}

	if err := r.writer.BatchInsert(ctx, insertQuery, rows); err != nil {
		r.logger.Error("Failed to write audit events",
			zap.Int("count", len(rows)),
			zap.Error(err))
	}
	return batch[:0]
}

func (r *ClickHouseRecorder) Dropped() int64 {
	return r.dropped.Load()
}
