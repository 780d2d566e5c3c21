package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"verification-service/internal/model"
	"verification-service/internal/oauth"
	"verification-service/internal/util"
)

// QQLoginResult carries a session when the openid is already bound, and
// otherwise an access token for the bind step.
type QQLoginResult struct {
	*LoginResult
	AccessToken string `json:"access_token,omitempty"`
}

type QQBindRequest struct {
	AccessToken string `json:"access_token" validate:"required"`
	Mobile      string `json:"mobile" validate:"required,mobile"`
	Password    string `json:"password" validate:"required,min=8,max=20"`
	SMSCode     string `json:"sms_code" validate:"required"`
}

// OAuthService links QQ identities to accounts.
type OAuthService struct {
	provider oauth.Provider
	repo     model.AccountRepository
	accounts *AccountService
	validate *validator.Validate
	logger   *zap.Logger
}

func NewOAuthService(provider oauth.Provider, repo model.AccountRepository, accounts *AccountService, logger *zap.Logger) *OAuthService {
	return &OAuthService{
		provider: provider,
		repo:     repo,
		accounts: accounts,
		validate: newValidator(),
		logger:   logger,
	}
}

// QQAuthURL returns the QQ login page; next defaults to the site root.
func (s *OAuthService) QQAuthURL(next string) string {
	if next == "" {
		next = "/"
	}
	return s.provider.AuthURL(next)
}

// QQLogin resolves code to an openid and logs in the bound account, or
// returns an oauth_qq token carrying the openid when none is bound.
func (s *OAuthService) QQLogin(ctx context.Context, code string) (*QQLoginResult, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidInput)
	}

	openID, err := s.provider.OpenID(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOAuthUnavailable, err)
	}

	account, err := s.repo.GetByOpenID(ctx, openID)
	if err == nil {
		result, err := s.accounts.loginResult(account)
		if err != nil {
			return nil, err
		}
		return &QQLoginResult{LoginResult: result}, nil
	}
	if !errors.Is(err, model.ErrAccountNotFound) {
		return nil, err
	}

	tok, err := s.accounts.tokens.OAuthQQ.Issue(map[string]string{"openid": openID}, s.accounts.tokens.OAuthTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue oauth token: %w", err)
	}
	return &QQLoginResult{AccessToken: tok}, nil
}

// BindQQ attaches the openid in req.AccessToken to the account owning
// req.Mobile, creating it with the mobile as username when there is none.
// An existing account must present its password.
func (s *OAuthService) BindQQ(ctx context.Context, req QQBindRequest) (*LoginResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	claims, err := s.accounts.tokens.OAuthQQ.Verify(req.AccessToken, s.accounts.tokens.OAuthTTL)
	if err != nil || claims["openid"] == "" {
		return nil, ErrInvalidToken
	}
	openID := claims["openid"]

	if err := s.accounts.verification.CheckSMSCode(ctx, req.Mobile, req.SMSCode); err != nil {
		return nil, err
	}

	account, err := s.repo.GetByMobile(ctx, req.Mobile)
	switch {
	case err == nil:
		if err := s.accounts.checkPassword(account, req.Password); err != nil {
			return nil, err
		}
	case errors.Is(err, model.ErrAccountNotFound):
		account, err = s.createForMobile(ctx, req.Mobile, req.Password)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if err := s.repo.BindOpenID(ctx, openID, account.AccountID); err != nil {
		return nil, err
	}

	s.logger.Info("QQ account bound",
		zap.String("user_id", account.AccountID),
		util.Mobile("mobile", account.Mobile))
	return s.accounts.loginResult(account)
}

func (s *OAuthService) createForMobile(ctx context.Context, mobile, password string) (*model.Account, error) {
	hash, err := s.accounts.hasher.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	account := &model.Account{
		Username:     mobile,
		Mobile:       mobile,
		PasswordHash: hash,
	}
	if err := s.repo.Create(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}
