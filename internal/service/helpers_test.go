package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"verification-service/internal/captcha"
	"verification-service/internal/client"
	"verification-service/internal/config"
	"verification-service/internal/hashing"
	"verification-service/internal/model"
	"verification-service/internal/oauth"
	"verification-service/internal/queue"
	redisrepo "verification-service/internal/repository/redis"
)

const (
	testImageCodeID = "7b1b2f0e-7c4a-4b8e-9a53-2d0c3f1e9a10"
	testMobile      = "13812345678"
)

type fixedCaptcha struct{ answer string }

func (c fixedCaptcha) Generate() (*captcha.Image, error) {
	return &captcha.Image{Answer: c.answer, PNG: []byte("\x89PNG")}, nil
}

type failingProducer struct{}

func (failingProducer) Enqueue(context.Context, queue.SendJob) error {
	return errors.New("broker unavailable")
}

type mockAccountRepo struct {
	mock.Mock
}

func (m *mockAccountRepo) Create(ctx context.Context, account *model.Account) error {
	return m.Called(ctx, account).Error(0)
}

func (m *mockAccountRepo) GetByID(ctx context.Context, accountID string) (*model.Account, error) {
	args := m.Called(ctx, accountID)
	a, _ := args.Get(0).(*model.Account)
	return a, args.Error(1)
}

func (m *mockAccountRepo) GetByUsername(ctx context.Context, username string) (*model.Account, error) {
	args := m.Called(ctx, username)
	a, _ := args.Get(0).(*model.Account)
	return a, args.Error(1)
}

func (m *mockAccountRepo) GetByMobile(ctx context.Context, mobile string) (*model.Account, error) {
	args := m.Called(ctx, mobile)
	a, _ := args.Get(0).(*model.Account)
	return a, args.Error(1)
}

func (m *mockAccountRepo) UpdatePassword(ctx context.Context, accountID, passwordHash string) error {
	return m.Called(ctx, accountID, passwordHash).Error(0)
}

func (m *mockAccountRepo) UpdateEmail(ctx context.Context, accountID, email string, active bool) error {
	return m.Called(ctx, accountID, email, active).Error(0)
}

func (m *mockAccountRepo) GetByOpenID(ctx context.Context, openID string) (*model.Account, error) {
	args := m.Called(ctx, openID)
	a, _ := args.Get(0).(*model.Account)
	return a, args.Error(1)
}

func (m *mockAccountRepo) BindOpenID(ctx context.Context, openID, accountID string) error {
	return m.Called(ctx, openID, accountID).Error(0)
}

// fakeProvider maps authorization codes to openids.
type fakeProvider struct {
	openIDs map[string]string
}

func (p *fakeProvider) AuthURL(state string) string {
	return "https://graph.qq.test/oauth2.0/authorize?state=" + state
}

func (p *fakeProvider) OpenID(_ context.Context, code string) (string, error) {
	if id, ok := p.openIDs[code]; ok {
		return id, nil
	}
	return "", oauth.ErrProviderUnavailable
}

type testEnv struct {
	mr           *miniredis.Miniredis
	queue        *queue.MemoryQueue
	tokens       *TokenSet
	repo         *mockAccountRepo
	hasher       *hashing.Hasher
	verification *VerificationService
	accounts     *AccountService
	oauth        *OAuthService
	provider     *fakeProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := redisrepo.NewRedisCodeStore(client.NewRedisClientFromClient(rdb), zap.NewNop())
	cache := redisrepo.NewVerificationCache(store, config.VerificationConfig{
		ImageCodeTTL: 300 * time.Second,
		SMSCodeTTL:   300 * time.Second,
		SendInterval: 60 * time.Second,
	})

	tokens, err := NewTokenSet(config.TokenConfig{
		Secret:         "test-secret-key-at-least-32-chars",
		Issuer:         "test",
		SMSCodeTTL:     300 * time.Second,
		SetPasswordTTL: 300 * time.Second,
		VerifyEmailTTL: 24 * time.Hour,
		SessionTTL:     24 * time.Hour,
		OAuthTTL:       300 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)

	q := queue.NewMemoryQueue(16)
	repo := &mockAccountRepo{}
	provider := &fakeProvider{openIDs: map[string]string{}}
	hasher := hashing.NewHasher(config.HashingConfig{Argon2MemoryCost: 1024, Argon2TimeCost: 1, Argon2Parallelism: 1})

	factory := NewServiceFactory(ServiceDeps{
		Cache:          cache,
		Captcha:        fixedCaptcha{answer: "ab12"},
		Producer:       q,
		Accounts:       repo,
		Hasher:         hasher,
		Tokens:         tokens,
		StoreTimeout:   time.Second,
		EmailVerifyURL: "http://example.test/verify",
		OAuthProvider:  provider,
	}, zap.NewNop())

	return &testEnv{
		mr:           mr,
		queue:        q,
		tokens:       tokens,
		repo:         repo,
		hasher:       hasher,
		verification: factory.VerificationService(),
		accounts:     factory.AccountService(),
		oauth:        factory.OAuthService(),
		provider:     provider,
	}
}

// nextJob returns the next queued job or fails the test.
func (e *testEnv) nextJob(t *testing.T) queue.SendJob {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := e.queue.Fetch(ctx)
	require.NoError(t, err)
	return d.Job
}

// expectAvailable lets Register's uniqueness check pass for the default request.
func (e *testEnv) expectAvailable() {
	e.repo.On("GetByUsername", mock.Anything, "alice_01").Return(nil, model.ErrAccountNotFound)
	e.repo.On("GetByMobile", mock.Anything, testMobile).Return(nil, model.ErrAccountNotFound)
}

// withPassword returns an account whose stored hash matches password.
func (e *testEnv) withPassword(t *testing.T, account *model.Account, password string) *model.Account {
	t.Helper()
	hash, err := e.hasher.HashPassword(password)
	require.NoError(t, err)
	account.PasswordHash = hash
	return account
}
