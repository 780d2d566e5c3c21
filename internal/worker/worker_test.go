package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"verification-service/internal/audit"
	"verification-service/internal/queue"
	"verification-service/internal/sms"
)

type sendCall struct {
	Mobile     string
	Params     []string
	TemplateID string
}

// flakyGateway fails the first failures sends, then succeeds.
type flakyGateway struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    []sendCall
}

func (g *flakyGateway) Send(_ context.Context, mobile string, params []string, templateID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, sendCall{Mobile: mobile, Params: params, TemplateID: templateID})
	if len(g.calls) <= g.failures {
		return g.err
	}
	return nil
}

func (g *flakyGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type captureRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *captureRecorder) Record(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *captureRecorder) types() []audit.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func testConfig() Config {
	return Config{
		Concurrency: 2,
		MaxAttempts: 3,
		TemplateID:  "1",
		TTLMinutes:  "5",
	}
}

func newTestWorker(gw sms.Gateway, q *queue.MemoryQueue, rec audit.Recorder) *Worker {
	w := New(q, q, gw, rec, testConfig(), zap.NewNop())
	w.sleep = func(context.Context, time.Duration) error { return nil }
	return w
}

func fetchOne(t *testing.T, q *queue.MemoryQueue, job queue.SendJob) *queue.Delivery {
	t.Helper()
	require.NoError(t, q.Enqueue(context.Background(), job))
	d, err := q.Fetch(context.Background())
	require.NoError(t, err)
	return d
}

func TestHandle_DeliversWithTemplateParams(t *testing.T) {
	q := queue.NewMemoryQueue(1)
	gw := &flakyGateway{}
	rec := &captureRecorder{}
	w := newTestWorker(gw, q, rec)

	d := fetchOne(t, q, queue.NewSendJob("13800000000", "042042"))
	require.NoError(t, w.Handle(context.Background(), d))

	require.Len(t, gw.calls, 1)
	assert.Equal(t, sendCall{Mobile: "13800000000", Params: []string{"042042", "5"}, TemplateID: "1"}, gw.calls[0])
	assert.Empty(t, q.DeadLetters())
	assert.Equal(t, []audit.EventType{audit.SMSDelivered}, rec.types())
}

func TestHandle_RetriesTransientFailures(t *testing.T) {
	q := queue.NewMemoryQueue(1)
	gw := &flakyGateway{failures: 2, err: errors.New("timeout")}
	rec := &captureRecorder{}
	w := newTestWorker(gw, q, rec)

	d := fetchOne(t, q, queue.NewSendJob("13800000000", "042042"))
	require.NoError(t, w.Handle(context.Background(), d))

	assert.Equal(t, 3, gw.callCount())
	assert.Empty(t, q.DeadLetters())
	assert.Equal(t, []audit.EventType{audit.SMSDeliveryFailed, audit.SMSDeliveryFailed, audit.SMSDelivered}, rec.types())
}

func TestHandle_DeadLettersAfterMaxAttempts(t *testing.T) {
	q := queue.NewMemoryQueue(1)
	gw := &flakyGateway{failures: 10, err: errors.New("provider unavailable")}
	rec := &captureRecorder{}
	w := newTestWorker(gw, q, rec)

	job := queue.NewSendJob("13800000000", "042042")
	d := fetchOne(t, q, job)
	require.NoError(t, w.Handle(context.Background(), d))

	assert.Equal(t, 3, gw.callCount())
	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, job.ID, dead[0].Job.ID)
	assert.Equal(t, "provider unavailable", dead[0].Reason)
	assert.Contains(t, rec.types(), audit.SMSDeadLettered)
}

func TestHandle_PermanentFailureIsNotRetried(t *testing.T) {
	q := queue.NewMemoryQueue(1)
	gw := &flakyGateway{failures: 10, err: fmt.Errorf("%w: bad number", sms.ErrPermanent)}
	w := newTestWorker(gw, q, nil)

	d := fetchOne(t, q, queue.NewSendJob("13800000000", "042042"))
	require.NoError(t, w.Handle(context.Background(), d))

	assert.Equal(t, 1, gw.callCount())
	assert.Len(t, q.DeadLetters(), 1)
}

func TestRun_DrainsQueueAndStopsOnClose(t *testing.T) {
	q := queue.NewMemoryQueue(16)
	gw := &flakyGateway{}
	w := newTestWorker(gw, q, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(context.Background(), queue.NewSendJob(fmt.Sprintf("1380000000%d", i), "123456")))
	}

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	assert.Eventually(t, func() bool { return gw.callCount() == 5 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	q := queue.NewMemoryQueue(1)
	w := newTestWorker(&flakyGateway{}, q, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
