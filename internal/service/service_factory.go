package service

import (
	"time"

	"go.uber.org/zap"

	"verification-service/internal/audit"
	"verification-service/internal/captcha"
	"verification-service/internal/hashing"
	"verification-service/internal/model"
	"verification-service/internal/oauth"
	"verification-service/internal/queue"
	redisrepo "verification-service/internal/repository/redis"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	cache          *redisrepo.VerificationCache
	captcha        captcha.Generator
	producer       queue.Producer
	accounts       model.AccountRepository
	hasher         *hashing.Hasher
	tokens         *TokenSet
	recorder       audit.Recorder
	storeTimeout   time.Duration
	emailVerifyURL string
	oauthProvider  oauth.Provider
	logger         *zap.Logger

	verificationService *VerificationService
	accountService      *AccountService
	oauthService        *OAuthService
}

type ServiceDeps struct {
	Cache          *redisrepo.VerificationCache
	Captcha        captcha.Generator
	Producer       queue.Producer
	Accounts       model.AccountRepository
	Hasher         *hashing.Hasher
	Tokens         *TokenSet
	Recorder       audit.Recorder
	StoreTimeout   time.Duration
	EmailVerifyURL string
	// OAuthProvider is nil when QQ login is not configured.
	OAuthProvider oauth.Provider
}

func NewServiceFactory(deps ServiceDeps, logger *zap.Logger) *ServiceFactory {
	return &ServiceFactory{
		cache:          deps.Cache,
		captcha:        deps.Captcha,
		producer:       deps.Producer,
		accounts:       deps.Accounts,
		hasher:         deps.Hasher,
		tokens:         deps.Tokens,
		recorder:       deps.Recorder,
		storeTimeout:   deps.StoreTimeout,
		emailVerifyURL: deps.EmailVerifyURL,
		oauthProvider:  deps.OAuthProvider,
		logger:         logger,
	}
}

// VerificationService returns the verification service instance (singleton)
func (f *ServiceFactory) VerificationService() *VerificationService {
	if f.verificationService == nil {
		f.verificationService = NewVerificationService(
			f.cache,
			f.captcha,
			f.producer,
			f.tokens,
			f.recorder,
			f.storeTimeout,
			f.logger.Named("verification"),
		)
	}
	return f.verificationService
}

// AccountService returns the account service instance (singleton)
func (f *ServiceFactory) AccountService() *AccountService {
	if f.accountService == nil {
		f.accountService = NewAccountService(
			f.accounts,
			f.VerificationService(),
			f.hasher,
			f.tokens,
			f.emailVerifyURL,
			f.logger.Named("account"),
		)
	}
	return f.accountService
}

// OAuthService returns nil when no OAuth provider is configured.
func (f *ServiceFactory) OAuthService() *OAuthService {
	if f.oauthProvider == nil {
		return nil
	}
	if f.oauthService == nil {
		f.oauthService = NewOAuthService(
			f.oauthProvider,
			f.accounts,
			f.AccountService(),
			f.logger.Named("oauth"),
		)
	}
	return f.oauthService
}
