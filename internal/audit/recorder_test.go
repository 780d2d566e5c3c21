package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeWriter struct {
	mu      sync.Mutex
	execs   []string
	batches [][][]interface{}
	err     error
}

func (w *fakeWriter) Exec(_ context.Context, query string, _ ...interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.execs = append(w.execs, query)
	return w.err
}

func (w *fakeWriter) BatchInsert(_ context.Context, _ string, data [][]interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches = append(w.batches, data)
	return w.err
}

func (w *fakeWriter) rowCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.batches {
		n += len(b)
	}
	return n
}

func TestNewEvent_MasksMobile(t *testing.T) {
	e := NewEvent(SMSCodeIssued, "13812345678", "")
	assert.Equal(t, "138****5678", e.Mobile)
	assert.Equal(t, SMSCodeIssued, e.Type)
	assert.False(t, e.Time.IsZero())
}

func TestClickHouseRecorder_FlushesFullBatch(t *testing.T) {
	w := &fakeWriter{}
	r := NewClickHouseRecorder(w, 2, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	r.Record(ctx, NewEvent(SMSCodeIssued, "13800000001", ""))
	r.Record(ctx, NewEvent(SMSDelivered, "13800000001", ""))

	assert.Eventually(t, func() bool { return w.rowCount() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestClickHouseRecorder_DrainsOnShutdown(t *testing.T) {
	w := &fakeWriter{}
	r := NewClickHouseRecorder(w, 100, time.Hour, zap.NewNop())

	r.Record(context.Background(), NewEvent(ImageCodeIssued, "", "id"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))

	assert.Equal(t, 1, w.rowCount())
}

func TestClickHouseRecorder_DropsWhenFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := NewClickHouseRecorder(&fakeWriter{}, 1, time.Hour, zap.New(core))

	for i := 0; i < 10; i++ {
		r.Record(context.Background(), NewEvent(SMSRateLimited, "13800000001", ""))
	}

	assert.Equal(t, int64(6), r.Dropped())
	assert.Equal(t, 1, logs.FilterMessage("Audit buffer full, dropping events").Len())
}

func TestClickHouseRecorder_WriteFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	w := &fakeWriter{err: errors.New("clickhouse down")}
	r := NewClickHouseRecorder(w, 10, time.Hour, zap.New(core))

	r.Record(context.Background(), NewEvent(SMSDelivered, "13800000001", ""))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))

	assert.Equal(t, 1, logs.FilterMessage("Failed to write audit events").Len())
}

func TestClickHouseRecorder_EnsureSchema(t *testing.T) {
	w := &fakeWriter{}
	r := NewClickHouseRecorder(w, 10, time.Hour, zap.NewNop())

	require.NoError(t, r.EnsureSchema(context.Background()))
	require.Len(t, w.execs, 1)
	assert.Contains(t, w.execs[0], "verification_events")
}
