package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"verification-service/internal/audit"
	"verification-service/internal/captcha"
	"verification-service/internal/queue"
	redisrepo "verification-service/internal/repository/redis"
	"verification-service/internal/util"
)

var smsCodeSpace = big.NewInt(1_000_000)

// SendSMSCodeRequest is the image-code-guarded send request.
type SendSMSCodeRequest struct {
	Mobile      string `json:"mobile" validate:"required,mobile"`
	ImageCodeID string `json:"image_code_id" validate:"required,uuid"`
	ImageCode   string `json:"text" validate:"required,len=4"`
}

// VerificationService issues image and SMS codes and checks them on use.
// It holds no per-request state; concurrent requests meet only in the store.
type VerificationService struct {
	cache        *redisrepo.VerificationCache
	captcha      captcha.Generator
	producer     queue.Producer
	tokens       *TokenSet
	recorder     audit.Recorder
	validate     *validator.Validate
	storeTimeout time.Duration
	logger       *zap.Logger
	newCode      func() (string, error)
}

func NewVerificationService(
	cache *redisrepo.VerificationCache,
	generator captcha.Generator,
	producer queue.Producer,
	tokens *TokenSet,
	recorder audit.Recorder,
	storeTimeout time.Duration,
	logger *zap.Logger,
) *VerificationService {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &VerificationService{
		cache:        cache,
		captcha:      generator,
		producer:     producer,
		tokens:       tokens,
		recorder:     recorder,
		validate:     newValidator(),
		storeTimeout: storeTimeout,
		logger:       logger,
		newCode:      generateSMSCode,
	}
}

// IssueImageCode renders a captcha, stores its answer under imageCodeID and
// returns the PNG. Re-issuing for the same id replaces the stored answer.
func (s *VerificationService) IssueImageCode(ctx context.Context, imageCodeID string) ([]byte, error) {
	if _, err := uuid.Parse(imageCodeID); err != nil {
		return nil, fmt.Errorf("%w: image_code_id must be a uuid", ErrInvalidInput)
	}

	img, err := s.captcha.Generate()
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.cache.SaveImageCode(ctx, imageCodeID, img.Answer); err != nil {
		s.logger.Error("Failed to save image code", zap.String("image_code_id", imageCodeID), zap.Error(err))
		return nil, fmt.Errorf("failed to save image code: %w", err)
	}

	s.recorder.Record(ctx, audit.NewEvent(audit.ImageCodeIssued, "", imageCodeID))
	return img.PNG, nil
}

// SendSMSCode checks the send flag first, so a rate-limited request leaves
// the image code in place.
func (s *VerificationService) SendSMSCode(ctx context.Context, req SendSMSCodeRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return validationError(err)
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	if err := s.checkSendFlag(ctx, req.Mobile); err != nil {
		return err
	}
	if err := s.CheckImageCode(ctx, req.ImageCodeID, req.ImageCode); err != nil {
		return err
	}
	return s.issueSMSCode(ctx, req.Mobile)
}

// SendSMSCodeByToken sends to the mobile carried in an sms_code access token.
func (s *VerificationService) SendSMSCodeByToken(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return fmt.Errorf("%w: access_token is required", ErrInvalidInput)
	}

	claims, err := s.tokens.SMSCode.Verify(accessToken, s.tokens.SMSCodeTTL)
	if err != nil {
		return ErrInvalidToken
	}
	mobile := claims["mobile"]
	if !util.IsValidMobile(mobile) {
		return ErrInvalidToken
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	if err := s.checkSendFlag(ctx, mobile); err != nil {
		return err
	}
	return s.issueSMSCode(ctx, mobile)
}

// CheckImageCode consumes the stored answer and compares it case-insensitively.
func (s *VerificationService) CheckImageCode(ctx context.Context, imageCodeID, text string) error {
	stored, err := s.cache.ConsumeImageCode(ctx, imageCodeID)
	if err != nil {
		if errors.Is(err, redisrepo.ErrCodeNotFound) {
			return ErrInvalidImageCode
		}
		return fmt.Errorf("failed to read image code: %w", err)
	}
	if !strings.EqualFold(stored, text) {
		return ErrMismatchedImageCode
	}
	return nil
}

// CheckSMSCode consumes the stored code for mobile. A code is usable once,
// whether or not the comparison succeeds.
func (s *VerificationService) CheckSMSCode(ctx context.Context, mobile, code string) error {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	stored, err := s.cache.ConsumeSMSCode(ctx, mobile)
	if err != nil {
		if errors.Is(err, redisrepo.ErrCodeNotFound) {
			return ErrInvalidSMSCode
		}
		return fmt.Errorf("failed to read sms code: %w", err)
	}
	if stored != code {
		return ErrMismatchedSMSCode
	}
	return nil
}

// checkSendFlag is a read-only early exit; the flag is taken in issueSMSCode.
func (s *VerificationService) checkSendFlag(ctx context.Context, mobile string) error {
	locked, err := s.cache.IsSendLocked(ctx, mobile)
	if err != nil {
		return fmt.Errorf("failed to check send flag: %w", err)
	}
	if locked {
		return s.rateLimited(ctx, mobile)
	}
	return nil
}

func (s *VerificationService) rateLimited(ctx context.Context, mobile string) error {
	s.recorder.Record(ctx, audit.NewEvent(audit.SMSRateLimited, mobile, ""))
	s.logger.Info("SMS send rate limited", util.Mobile("mobile", mobile))
	return ErrRateLimited
}

// issueSMSCode takes the send flag with SET NX, so of two concurrent sends
// for one mobile only one reaches the queue. Any later failure releases it.
func (s *VerificationService) issueSMSCode(ctx context.Context, mobile string) error {
	code, err := s.newCode()
	if err != nil {
		return fmt.Errorf("failed to generate sms code: %w", err)
	}

	acquired, err := s.cache.AcquireSendFlag(ctx, mobile)
	if err != nil {
		return fmt.Errorf("failed to set send flag: %w", err)
	}
	if !acquired {
		return s.rateLimited(ctx, mobile)
	}

	if err := s.cache.SaveSMSCode(ctx, mobile, code); err != nil {
		s.logger.Error("Failed to save sms code", util.Mobile("mobile", mobile), zap.Error(err))
		s.release(ctx, mobile)
		return fmt.Errorf("failed to save sms code: %w", err)
	}

	job := queue.NewSendJob(mobile, code)
	if err := s.producer.Enqueue(ctx, job); err != nil {
		s.logger.Error("Failed to enqueue sms job", util.Mobile("mobile", mobile), zap.Error(err))
		s.release(ctx, mobile)
		return fmt.Errorf("failed to enqueue sms job: %w", err)
	}

	s.recorder.Record(ctx, audit.NewEvent(audit.SMSCodeIssued, mobile, job.ID))
	s.logger.Info("SMS code issued",
		util.Mobile("mobile", mobile),
		zap.String("job_id", job.ID))
	return nil
}

// release is best effort; if it fails the flag still expires after the send interval.
func (s *VerificationService) release(ctx context.Context, mobile string) {
	if err := s.cache.ReleaseSMSCode(ctx, mobile); err != nil {
		s.logger.Warn("Failed to release send flag", util.Mobile("mobile", mobile), zap.Error(err))
	}
}

func (s *VerificationService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

// generateSMSCode draws uniformly from 000000..999999.
func generateSMSCode() (string, error) {
	n, err := rand.Int(rand.Reader, smsCodeSpace)
	if err != nil {
		return "", err
	}
	return formatSMSCode(n.Int64()), nil
}

// formatSMSCode zero-pads n to six digits.
func formatSMSCode(n int64) string {
	return fmt.Sprintf("%06d", n)
}
