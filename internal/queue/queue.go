// Package queue carries SMS send jobs from the API process to the delivery
// worker. Delivery is at-least-once: a job is acknowledged only after the
// worker has finished with it, so a crash mid-job redelivers it.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskSendSMSCode is the only task name carried on the SMS queue.
const TaskSendSMSCode = "send_sms_code"

var (
	ErrQueueClosed      = errors.New("queue closed")
	ErrMalformedMessage = errors.New("malformed queue message")
)

// SendJob asks the worker to deliver one verification code.
type SendJob struct {
	ID         string    `json:"id"`
	Mobile     string    `json:"mobile"`
	Code       string    `json:"code"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func NewSendJob(mobile, code string) SendJob {
	return SendJob{
		ID:         uuid.NewString(),
		Mobile:     mobile,
		Code:       code,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Producer hands jobs to the queue. Enqueue returns once the queue has
// accepted the job; it says nothing about delivery.
type Producer interface {
	Enqueue(ctx context.Context, job SendJob) error
}

// Consumer yields jobs one at a time.
type Consumer interface {
	Fetch(ctx context.Context) (*Delivery, error)
}

// DeadLetterer parks jobs the worker gave up on.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, job SendJob, reason string) error
}

// Delivery is a fetched job plus its acknowledgement hook.
type Delivery struct {
	Job SendJob
	ack func(ctx context.Context) error
}

// Ack marks the job as handled so it is not redelivered.
func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// envelope is the wire format: {task_name, args: [mobile, code]}.
type envelope struct {
	ID         string    `json:"id"`
	TaskName   string    `json:"task_name"`
	Args       []string  `json:"args"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Reason     string    `json:"reason,omitempty"`
}

func encodeJob(job SendJob, reason string) ([]byte, error) {
	return json.Marshal(envelope{
		ID:         job.ID,
		TaskName:   TaskSendSMSCode,
		Args:       []string{job.Mobile, job.Code},
		EnqueuedAt: job.EnqueuedAt,
		Reason:     reason,
	})
}

func decodeJob(data []byte) (SendJob, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return SendJob{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.TaskName != TaskSendSMSCode {
		return SendJob{}, fmt.Errorf("%w: unknown task %q", ErrMalformedMessage, env.TaskName)
	}
	if len(env.Args) != 2 || env.Args[0] == "" || env.Args[1] == "" {
		return SendJob{}, fmt.Errorf("%w: expected [mobile, code] args", ErrMalformedMessage)
	}
	return SendJob{
		ID:         env.ID,
		Mobile:     env.Args[0],
		Code:       env.Args[1],
		EnqueuedAt: env.EnqueuedAt,
	}, nil
}
