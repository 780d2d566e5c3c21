package redis

import (
	"context"
	"time"

	"verification-service/internal/config"
)

const (
	imageCodePrefix = "img_"
	smsCodePrefix   = "sms_"
	sendFlagPrefix  = "send_flag_"

	sendFlagValue = "1"
)

// VerificationCache gives typed access to the three record kinds kept in the
// shared code store: image captcha answers, SMS codes and send flags.
type VerificationCache struct {
	store        CodeStore
	imageCodeTTL time.Duration
	smsCodeTTL   time.Duration
	sendInterval time.Duration
}

func NewVerificationCache(store CodeStore, cfg config.VerificationConfig) *VerificationCache {
	return &VerificationCache{
		store:        store,
		imageCodeTTL: cfg.ImageCodeTTL,
		smsCodeTTL:   cfg.SMSCodeTTL,
		sendInterval: cfg.SendInterval,
	}
}

func (c *VerificationCache) SaveImageCode(ctx context.Context, imageCodeID, text string) error {
	return c.store.PutWithExpiry(ctx, imageCodePrefix+imageCodeID, text, c.imageCodeTTL)
}

// ConsumeImageCode returns ErrCodeNotFound when the id was never issued or was already used.
func (c *VerificationCache) ConsumeImageCode(ctx context.Context, imageCodeID string) (string, error) {
	return c.store.GetAndConsume(ctx, imageCodePrefix+imageCodeID)
}

// AcquireSendFlag sets the send flag for mobile unless it is already set.
// It returns false when another send holds the flag.
func (c *VerificationCache) AcquireSendFlag(ctx context.Context, mobile string) (bool, error) {
	return c.store.PutIfAbsent(ctx, sendFlagPrefix+mobile, sendFlagValue, c.sendInterval)
}

// ReleaseSMSCode drops the code and the send flag for mobile so a failed
// delivery does not hold the mobile for the send interval.
func (c *VerificationCache) ReleaseSMSCode(ctx context.Context, mobile string) error {
	return c.store.Delete(ctx, smsCodePrefix+mobile, sendFlagPrefix+mobile)
}

// SaveSMSCode stores the code and the send flag for mobile in one atomic batch.
func (c *VerificationCache) SaveSMSCode(ctx context.Context, mobile, code string) error {
	return c.store.PutBatch(ctx,
		Entry{Key: smsCodePrefix + mobile, Value: code, TTL: c.smsCodeTTL},
		Entry{Key: sendFlagPrefix + mobile, Value: sendFlagValue, TTL: c.sendInterval},
	)
}

func (c *VerificationCache) ConsumeSMSCode(ctx context.Context, mobile string) (string, error) {
	return c.store.GetAndConsume(ctx, smsCodePrefix+mobile)
}

// IsSendLocked reports whether an SMS was sent to mobile within the send interval.
func (c *VerificationCache) IsSendLocked(ctx context.Context, mobile string) (bool, error) {
	return c.store.Exists(ctx, sendFlagPrefix+mobile)
}

func (c *VerificationCache) SMSCodeTTL(ctx context.Context, mobile string) (time.Duration, error) {
	return c.store.TTL(ctx, smsCodePrefix+mobile)
}

func (c *VerificationCache) SendFlagTTL(ctx context.Context, mobile string) (time.Duration, error) {
	return c.store.TTL(ctx, sendFlagPrefix+mobile)
}
