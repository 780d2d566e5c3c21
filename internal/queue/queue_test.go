package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

type fakeReader struct {
	pending   []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.pending) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.pending[0]
	r.pending = r.pending[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func TestEncodeDecodeJob_WireShape(t *testing.T) {
	job := NewSendJob("13800000000", "042042")

	data, err := encodeJob(job, "")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"task_name":"send_sms_code"`)
	assert.Contains(t, string(data), `"args":["13800000000","042042"]`)
	assert.NotContains(t, string(data), "reason")

	decoded, err := decodeJob(data)
	require.NoError(t, err)
	assert.Equal(t, job.ID, decoded.ID)
	assert.Equal(t, "13800000000", decoded.Mobile)
	assert.Equal(t, "042042", decoded.Code)
}

func TestDecodeJob_RejectsMalformed(t *testing.T) {
	inputs := []string{
		`not json`,
		`{"task_name":"send_email","args":["a","b"]}`,
		`{"task_name":"send_sms_code","args":["13800000000"]}`,
		`{"task_name":"send_sms_code","args":["","123456"]}`,
	}
	for _, in := range inputs {
		_, err := decodeJob([]byte(in))
		assert.ErrorIs(t, err, ErrMalformedMessage, in)
	}
}

func TestKafkaQueue_EnqueueKeysByMobile(t *testing.T) {
	w := &fakeWriter{}
	q := NewKafkaQueue(w, nil, "sms.send", "sms.send.dlq", zap.NewNop())

	require.NoError(t, q.Enqueue(context.Background(), NewSendJob("13800000000", "111111")))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "sms.send", w.msgs[0].Topic)
	assert.Equal(t, []byte("13800000000"), w.msgs[0].Key)
}

func TestKafkaQueue_EnqueueWriteFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unavailable")}
	q := NewKafkaQueue(w, nil, "sms.send", "sms.send.dlq", zap.NewNop())

	err := q.Enqueue(context.Background(), NewSendJob("13800000000", "111111"))
	assert.ErrorContains(t, err, "broker unavailable")
}

func TestKafkaQueue_DeadLetterCarriesReason(t *testing.T) {
	w := &fakeWriter{}
	q := NewKafkaQueue(w, nil, "sms.send", "sms.send.dlq", zap.NewNop())

	require.NoError(t, q.DeadLetter(context.Background(), NewSendJob("13800000000", "111111"), "gateway rejected"))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "sms.send.dlq", w.msgs[0].Topic)
	assert.Contains(t, string(w.msgs[0].Value), `"reason":"gateway rejected"`)
}

func TestKafkaQueue_FetchSkipsMalformedAndAcksOnDemand(t *testing.T) {
	good, err := encodeJob(NewSendJob("13800000000", "222222"), "")
	require.NoError(t, err)

	r := &fakeReader{pending: []kafka.Message{
		{Topic: "sms.send", Offset: 1, Value: []byte("garbage")},
		{Topic: "sms.send", Offset: 2, Value: good},
	}}
	core, logs := observer.New(zap.ErrorLevel)
	q := NewKafkaQueue(&fakeWriter{}, r, "sms.send", "sms.send.dlq", zap.New(core))

	d, err := q.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "222222", d.Job.Code)
	assert.Equal(t, []int64{1}, r.committed, "malformed message is committed, good one waits for ack")
	assert.Equal(t, 1, logs.FilterMessage("Discarding malformed queue message").Len())

	require.NoError(t, d.Ack(context.Background()))
	assert.Equal(t, []int64{1, 2}, r.committed)
}

func TestKafkaQueue_FetchHonoursContext(t *testing.T) {
	q := NewKafkaQueue(&fakeWriter{}, &fakeReader{}, "sms.send", "", zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Fetch(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueue_FIFOAndDeadLetters(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(4)

	require.NoError(t, q.Enqueue(ctx, NewSendJob("13800000001", "1")))
	require.NoError(t, q.Enqueue(ctx, NewSendJob("13800000002", "2")))
	assert.Equal(t, 2, q.Len())

	d, err := q.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "13800000001", d.Job.Mobile)
	require.NoError(t, d.Ack(ctx))

	require.NoError(t, q.DeadLetter(ctx, d.Job, "boom"))
	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "boom", dead[0].Reason)
}

func TestMemoryQueue_Close(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(1)
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Enqueue(ctx, NewSendJob("13800000001", "1")), ErrQueueClosed)
	_, err := q.Fetch(ctx)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestMemoryQueue_EnqueueBlocksUntilContextDone(t *testing.T) {
	q := NewMemoryQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), NewSendJob("13800000001", "1")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Enqueue(ctx, NewSendJob("13800000002", "2")), context.DeadlineExceeded)
}
