// Package audit records verification events for later analysis. Recording
// never fails a request: events are buffered and dropped when the sink lags.
package audit

import (
	"context"
	"time"

	"verification-service/internal/util"
)

type EventType string

const (
	ImageCodeIssued   EventType = "image_code_issued"
	SMSCodeIssued     EventType = "sms_code_issued"
	SMSRateLimited    EventType = "sms_rate_limited"
	SMSDelivered      EventType = "sms_delivered"
	SMSDeliveryFailed EventType = "sms_delivery_failed"
	SMSDeadLettered   EventType = "sms_dead_lettered"
)

type Event struct {
	Time   time.Time
	Type   EventType
	Mobile string
	Detail string
}

// NewEvent stamps the event with the current time and masks mobile.
func NewEvent(eventType EventType, mobile, detail string) Event {
	if mobile != "" {
		mobile = util.MaskMobile(mobile)
	}
	return Event{
		Time:   time.Now().UTC(),
		Type:   eventType,
		Mobile: mobile,
		Detail: detail,
	}
}

type Recorder interface {
	Record(ctx context.Context, event Event)
}

type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Event) {}
