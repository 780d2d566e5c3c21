package service

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIssueImageCode_StoresAnswer(t *testing.T) {
	env := newTestEnv(t)

	png, err := env.verification.IssueImageCode(context.Background(), testImageCodeID)
	require.NoError(t, err)
	assert.NotEmpty(t, png)

	stored, err := env.mr.Get("img_" + testImageCodeID)
	require.NoError(t, err)
	assert.Equal(t, "ab12", stored)
	assert.Equal(t, 300*time.Second, env.mr.TTL("img_"+testImageCodeID))
}

func TestIssueImageCode_RejectsNonUUID(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.verification.IssueImageCode(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSendSMSCode_IssuesAndEnqueues(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.verification.IssueImageCode(ctx, testImageCodeID)
	require.NoError(t, err)

	err = env.verification.SendSMSCode(ctx, SendSMSCodeRequest{
		Mobile:      testMobile,
		ImageCodeID: testImageCodeID,
		ImageCode:   "AB12",
	})
	require.NoError(t, err)

	code, err := env.mr.Get("sms_" + testMobile)
	require.NoError(t, err)
	assert.Regexp(t, `^\d{6}$`, code)
	assert.True(t, env.mr.Exists("send_flag_"+testMobile))
	assert.False(t, env.mr.Exists("img_"+testImageCodeID), "image code is single use")

	job := env.nextJob(t)
	assert.Equal(t, testMobile, job.Mobile)
	assert.Equal(t, code, job.Code)
}

func TestSendSMSCode_RateLimitedConsumesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.verification.IssueImageCode(ctx, testImageCodeID)
	require.NoError(t, err)
	require.NoError(t, env.mr.Set("send_flag_"+testMobile, "1"))

	err = env.verification.SendSMSCode(ctx, SendSMSCodeRequest{
		Mobile:      testMobile,
		ImageCodeID: testImageCodeID,
		ImageCode:   "ab12",
	})
	assert.ErrorIs(t, err, ErrRateLimited)

	assert.True(t, env.mr.Exists("img_"+testImageCodeID), "image code survives a rate-limited request")
	assert.False(t, env.mr.Exists("sms_"+testMobile))
	assert.Equal(t, 0, env.queue.Len())
}

func TestSendSMSCode_SecondSendWithinIntervalIsLimited(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.verification.IssueImageCode(ctx, testImageCodeID)
	require.NoError(t, err)
	req := SendSMSCodeRequest{Mobile: testMobile, ImageCodeID: testImageCodeID, ImageCode: "ab12"}
	require.NoError(t, env.verification.SendSMSCode(ctx, req))

	_, err = env.verification.IssueImageCode(ctx, testImageCodeID)
	require.NoError(t, err)
	assert.ErrorIs(t, env.verification.SendSMSCode(ctx, req), ErrRateLimited)

	env.mr.FastForward(61 * time.Second)
	assert.NoError(t, env.verification.SendSMSCode(ctx, req))
}

func TestSendSMSCode_ImageCodeFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := SendSMSCodeRequest{Mobile: testMobile, ImageCodeID: testImageCodeID, ImageCode: "zz99"}

	assert.ErrorIs(t, env.verification.SendSMSCode(ctx, req), ErrInvalidImageCode)

	_, err := env.verification.IssueImageCode(ctx, testImageCodeID)
	require.NoError(t, err)
	assert.ErrorIs(t, env.verification.SendSMSCode(ctx, req), ErrMismatchedImageCode)

	req.ImageCode = "ab12"
	assert.ErrorIs(t, env.verification.SendSMSCode(ctx, req), ErrInvalidImageCode, "a failed attempt still consumes the image code")
	assert.Equal(t, 0, env.queue.Len())
}

func TestSendSMSCode_InvalidInput(t *testing.T) {
	env := newTestEnv(t)

	cases := []SendSMSCodeRequest{
		{Mobile: "12345678901", ImageCodeID: testImageCodeID, ImageCode: "ab12"},
		{Mobile: testMobile, ImageCodeID: "nope", ImageCode: "ab12"},
		{Mobile: testMobile, ImageCodeID: testImageCodeID, ImageCode: "ab1"},
		{Mobile: testMobile, ImageCodeID: testImageCodeID},
	}
	for _, req := range cases {
		assert.ErrorIs(t, env.verification.SendSMSCode(context.Background(), req), ErrInvalidInput, req)
	}
}

func TestSendSMSCode_EnqueueFailureFailsRequest(t *testing.T) {
	env := newTestEnv(t)
	env.verification.producer = failingProducer{}
	ctx := context.Background()
	_, err := env.verification.IssueImageCode(ctx, testImageCodeID)
	require.NoError(t, err)

	err = env.verification.SendSMSCode(ctx, SendSMSCodeRequest{Mobile: testMobile, ImageCodeID: testImageCodeID, ImageCode: "ab12"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "broker unavailable")

	assert.False(t, env.mr.Exists("send_flag_"+testMobile), "a failed enqueue does not lock the mobile")
	assert.False(t, env.mr.Exists("sms_"+testMobile), "no code is left for an sms that was never sent")

	env.verification.producer = env.queue
	require.NoError(t, env.verification.SendSMSCodeByToken(ctx, mustSMSToken(t, env)))
	assert.Equal(t, testMobile, env.nextJob(t).Mobile)
}

func mustSMSToken(t *testing.T, env *testEnv) string {
	t.Helper()
	tok, err := env.tokens.SMSCode.Issue(map[string]string{"mobile": testMobile}, env.tokens.SMSCodeTTL)
	require.NoError(t, err)
	return tok
}

func TestSendSMSCodeByToken_ConcurrentSendsEnqueueOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tok := mustSMSToken(t, env)

	const senders = 8
	var wg sync.WaitGroup
	errs := make([]error, senders)
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = env.verification.SendSMSCodeByToken(ctx, tok)
		}(i)
	}
	wg.Wait()

	sent := 0
	for _, err := range errs {
		if err == nil {
			sent++
			continue
		}
		assert.ErrorIs(t, err, ErrRateLimited)
	}
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, env.queue.Len())
}

func TestSendSMSCodeByToken_FlagTakenAfterCheckIsLimited(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Another request takes the flag between the early check and issuance.
	env.verification.newCode = func() (string, error) {
		require.NoError(t, env.mr.Set("send_flag_"+testMobile, "1"))
		return "123456", nil
	}

	assert.ErrorIs(t, env.verification.SendSMSCodeByToken(ctx, mustSMSToken(t, env)), ErrRateLimited)
	assert.False(t, env.mr.Exists("sms_"+testMobile))
	assert.Equal(t, 0, env.queue.Len())
}

func TestSendSMSCode_StoreFailureIsNotRateLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.verification.IssueImageCode(ctx, testImageCodeID)
	require.NoError(t, err)
	env.mr.SetError("LOADING server is loading")

	err = env.verification.SendSMSCode(ctx, SendSMSCodeRequest{Mobile: testMobile, ImageCodeID: testImageCodeID, ImageCode: "ab12"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRateLimited)
	assert.NotErrorIs(t, err, ErrInvalidImageCode)
}

func TestSendSMSCodeByToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tok, err := env.tokens.SMSCode.Issue(map[string]string{"mobile": testMobile}, env.tokens.SMSCodeTTL)
	require.NoError(t, err)

	require.NoError(t, env.verification.SendSMSCodeByToken(ctx, tok))
	assert.Equal(t, testMobile, env.nextJob(t).Mobile)

	assert.ErrorIs(t, env.verification.SendSMSCodeByToken(ctx, tok), ErrRateLimited)
}

func TestSendSMSCodeByToken_RejectsBadTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.ErrorIs(t, env.verification.SendSMSCodeByToken(ctx, ""), ErrInvalidInput)
	assert.ErrorIs(t, env.verification.SendSMSCodeByToken(ctx, "garbage"), ErrInvalidToken)

	other, err := env.tokens.SetPassword.Issue(map[string]string{"mobile": testMobile}, time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, env.verification.SendSMSCodeByToken(ctx, other), ErrInvalidToken, "token for another audience")

	noMobile, err := env.tokens.SMSCode.Issue(map[string]string{"user_id": "1"}, time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, env.verification.SendSMSCodeByToken(ctx, noMobile), ErrInvalidToken)
}

func TestCheckSMSCode_SingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.mr.Set("sms_"+testMobile, "123456"))

	assert.ErrorIs(t, env.verification.CheckSMSCode(ctx, testMobile, "654321"), ErrMismatchedSMSCode)
	assert.ErrorIs(t, env.verification.CheckSMSCode(ctx, testMobile, "123456"), ErrInvalidSMSCode)

	require.NoError(t, env.mr.Set("sms_"+testMobile, "123456"))
	assert.NoError(t, env.verification.CheckSMSCode(ctx, testMobile, "123456"))
}

func TestGenerateSMSCode_Format(t *testing.T) {
	re := regexp.MustCompile(`^\d{6}$`)
	for i := 0; i < 1000; i++ {
		code, err := generateSMSCode()
		require.NoError(t, err)
		require.True(t, re.MatchString(code), code)
	}
}

func TestFormatSMSCode_ZeroPads(t *testing.T) {
	assert.Equal(t, "000042", formatSMSCode(42))
	assert.Equal(t, "000000", formatSMSCode(0))
	assert.Equal(t, "999999", formatSMSCode(999999))
}

func TestSendSMSCode_StoresZeroPaddedCode(t *testing.T) {
	env := newTestEnv(t)
	env.verification.newCode = func() (string, error) { return formatSMSCode(42), nil }

	require.NoError(t, env.verification.SendSMSCodeByToken(context.Background(), mustSMSToken(t, env)))

	code, err := env.mr.Get("sms_" + testMobile)
	require.NoError(t, err)
	assert.Equal(t, "000042", code)
	assert.Equal(t, "000042", env.nextJob(t).Code)
}

func TestNewVerificationService_NilRecorder(t *testing.T) {
	s := NewVerificationService(nil, nil, nil, nil, nil, 0, zap.NewNop())
	assert.NotNil(t, s.recorder)
}
