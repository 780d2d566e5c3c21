// Package worker delivers queued verification codes through the SMS gateway.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"verification-service/internal/audit"
	"verification-service/internal/queue"
	"verification-service/internal/sms"
	"verification-service/internal/util"
)

type Config struct {
	Concurrency  int
	MaxAttempts  int
	RetryBackoff time.Duration
	SendTimeout  time.Duration
	TemplateID   string
	// TTLMinutes is quoted to the user as the code lifetime.
	TTLMinutes string
}

type Worker struct {
	consumer   queue.Consumer
	deadLetter queue.DeadLetterer
	gateway    sms.Gateway
	recorder   audit.Recorder
	cfg        Config
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

func New(consumer queue.Consumer, deadLetter queue.DeadLetterer, gateway sms.Gateway, recorder audit.Recorder, cfg Config, logger *zap.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Worker{
		consumer:   consumer,
		deadLetter: deadLetter,
		gateway:    gateway,
		recorder:   recorder,
		cfg:        cfg,
		logger:     logger,
		sleep:      sleepContext,
	}
}

// Run starts Concurrency consumer loops and blocks until ctx is cancelled or
// a loop hits an unrecoverable queue error.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("SMS worker started",
		zap.Int("concurrency", w.cfg.Concurrency),
		zap.Int("max_attempts", w.cfg.MaxAttempts))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		id := i
		g.Go(func() error {
			return w.loop(ctx, id)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	w.logger.Info("SMS worker stopped")
	return err
}

func (w *Worker) loop(ctx context.Context, id int) error {
	for {
		d, err := w.consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, queue.ErrQueueClosed) {
				return nil
			}
			w.logger.Error("Failed to fetch job", zap.Int("loop", id), zap.Error(err))
			if err := w.sleep(ctx, w.cfg.RetryBackoff); err != nil {
				return err
			}
			continue
		}

		if err := w.Handle(ctx, d); err != nil {
			return err
		}
	}
}

// Handle delivers one job, retrying and dead-lettering as needed, then acks it.
// It returns an error only when the job could not be settled, so it will be
// redelivered.
func (w *Worker) Handle(ctx context.Context, d *queue.Delivery) error {
	job := d.Job
	logger := w.logger.With(zap.String("job_id", job.ID), util.Mobile("mobile", job.Mobile))

	sendErr := w.deliver(ctx, job, logger)
	if sendErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reason := sendErr.Error()
		if err := w.deadLetter.DeadLetter(ctx, job, reason); err != nil {
			logger.Error("Failed to dead-letter job", zap.Error(err))
			return fmt.Errorf("dead-letter job %s: %w", job.ID, err)
		}
		w.recorder.Record(ctx, audit.NewEvent(audit.SMSDeadLettered, job.Mobile, reason))
		logger.Warn("Job dead-lettered", zap.String("reason", reason))
	}

	if err := d.Ack(ctx); err != nil {
		logger.Error("Failed to ack job", zap.Error(err))
		return fmt.Errorf("ack job %s: %w", job.ID, err)
	}
	return nil
}

func (w *Worker) deliver(ctx context.Context, job queue.SendJob, logger *zap.Logger) error {
	params := []string{job.Code, w.cfg.TTLMinutes}

	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		sendCtx, cancel := w.sendContext(ctx)
		err := w.gateway.Send(sendCtx, job.Mobile, params, w.cfg.TemplateID)
		cancel()

		if err == nil {
			w.recorder.Record(ctx, audit.NewEvent(audit.SMSDelivered, job.Mobile, ""))
			logger.Info("SMS delivered", zap.Int("attempt", attempt))
			return nil
		}

		lastErr = err
		w.recorder.Record(ctx, audit.NewEvent(audit.SMSDeliveryFailed, job.Mobile, err.Error()))
		logger.Warn("SMS delivery failed", zap.Int("attempt", attempt), zap.Error(err))

		if errors.Is(err, sms.ErrPermanent) || attempt == w.cfg.MaxAttempts {
			break
		}
		if err := w.sleep(ctx, w.cfg.RetryBackoff*time.Duration(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

func (w *Worker) sendContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.cfg.SendTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, w.cfg.SendTimeout)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
