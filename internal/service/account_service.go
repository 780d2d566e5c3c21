package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"verification-service/internal/hashing"
	"verification-service/internal/model"
	"verification-service/internal/util"
)

type RegisterRequest struct {
	Username  string `json:"username" validate:"required,min=5,max=20"`
	Password  string `json:"password" validate:"required,min=8,max=20"`
	Password2 string `json:"password2" validate:"required"`
	Mobile    string `json:"mobile" validate:"required,mobile"`
	SMSCode   string `json:"sms_code" validate:"required"`
	Allow     string `json:"allow" validate:"required,eq=true"`
}

type RegisterResult struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	Mobile   string `json:"mobile"`
	Token    string `json:"token"`
}

type SMSCodeTokenResult struct {
	Mobile      string `json:"mobile"`
	AccessToken string `json:"access_token"`
}

type PasswordTokenResult struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResult is returned by every flow that ends in a session.
type LoginResult struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

// Profile is the account as shown to its owner.
type Profile struct {
	UserID      string `json:"id"`
	Username    string `json:"username"`
	Mobile      string `json:"mobile"`
	Email       string `json:"email"`
	EmailActive bool   `json:"email_active"`
}

type ResetPasswordRequest struct {
	Password    string `json:"password" validate:"required,min=8,max=20"`
	Password2   string `json:"password2" validate:"required"`
	AccessToken string `json:"access_token" validate:"required"`
}

// Session is the identity carried by a session token.
type Session struct {
	UserID   string
	Username string
}

type EmailBinding struct {
	Email     string `json:"email"`
	VerifyURL string `json:"-"`
}

// AccountService implements registration, password reset and email binding
// on top of the verification codes.
type AccountService struct {
	repo           model.AccountRepository
	verification   *VerificationService
	hasher         *hashing.Hasher
	tokens         *TokenSet
	emailVerifyURL string
	validate       *validator.Validate
	logger         *zap.Logger
}

func NewAccountService(
	repo model.AccountRepository,
	verification *VerificationService,
	hasher *hashing.Hasher,
	tokens *TokenSet,
	emailVerifyURL string,
	logger *zap.Logger,
) *AccountService {
	return &AccountService{
		repo:           repo,
		verification:   verification,
		hasher:         hasher,
		tokens:         tokens,
		emailVerifyURL: emailVerifyURL,
		validate:       newValidator(),
		logger:         logger,
	}
}

// UsernameCount returns 1 when username is taken and 0 otherwise.
func (s *AccountService) UsernameCount(ctx context.Context, username string) (int, error) {
	return s.count(s.repo.GetByUsername(ctx, util.SanitizeInput(username)))
}

func (s *AccountService) MobileCount(ctx context.Context, mobile string) (int, error) {
	if !util.IsValidMobile(mobile) {
		return 0, fmt.Errorf("%w: malformed mobile", ErrInvalidInput)
	}
	return s.count(s.repo.GetByMobile(ctx, mobile))
}

func (s *AccountService) count(_ *model.Account, err error) (int, error) {
	if err == nil {
		return 1, nil
	}
	if errors.Is(err, model.ErrAccountNotFound) {
		return 0, nil
	}
	return 0, err
}

// Register consumes the SMS code for req.Mobile, creates the account and
// returns a session token for it. A taken username or mobile is reported
// before the code is consumed.
func (s *AccountService) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if util.ContainsSuspicious(req.Username) {
		return nil, fmt.Errorf("%w: username contains forbidden characters", ErrInvalidInput)
	}
	if req.Password != req.Password2 {
		return nil, ErrPasswordMismatch
	}
	if err := s.ensureAvailable(ctx, req.Username, req.Mobile); err != nil {
		return nil, err
	}
	if err := s.verification.CheckSMSCode(ctx, req.Mobile, req.SMSCode); err != nil {
		return nil, err
	}

	hash, err := s.hasher.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account := &model.Account{
		Username:     req.Username,
		Mobile:       req.Mobile,
		PasswordHash: hash,
	}
	if err := s.repo.Create(ctx, account); err != nil {
		return nil, err
	}

	session, err := s.issueSession(account)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Account registered",
		zap.String("user_id", account.AccountID),
		util.Mobile("mobile", account.Mobile))

	return &RegisterResult{
		UserID:   account.AccountID,
		Username: account.Username,
		Mobile:   account.Mobile,
		Token:    session,
	}, nil
}

// ensureAvailable fails with ErrAccountExists when username or mobile is
// taken. Create still enforces uniqueness for requests that race past it.
func (s *AccountService) ensureAvailable(ctx context.Context, username, mobile string) error {
	for _, get := range []func() (*model.Account, error){
		func() (*model.Account, error) { return s.repo.GetByUsername(ctx, username) },
		func() (*model.Account, error) { return s.repo.GetByMobile(ctx, mobile) },
	} {
		taken, err := s.count(get())
		if err != nil {
			return err
		}
		if taken > 0 {
			return ErrAccountExists
		}
	}
	return nil
}

// Login accepts a username or mobile with its password. Unknown accounts and
// wrong passwords fail the same way.
func (s *AccountService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	account, err := s.lookup(ctx, req.Username)
	if err != nil {
		if errors.Is(err, model.ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := s.checkPassword(account, req.Password); err != nil {
		return nil, err
	}

	s.logger.Info("Account logged in", zap.String("user_id", account.AccountID))
	return s.loginResult(account)
}

// Profile returns the account behind session.
func (s *AccountService) Profile(ctx context.Context, session Session) (*Profile, error) {
	account, err := s.repo.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return &Profile{
		UserID:      account.AccountID,
		Username:    account.Username,
		Mobile:      account.Mobile,
		Email:       account.Email,
		EmailActive: account.EmailActive,
	}, nil
}

// SMSCodeToken checks the image code and returns an sms_code token for the
// account's mobile, which is shown masked.
func (s *AccountService) SMSCodeToken(ctx context.Context, accountName, imageCodeID, imageCode string) (*SMSCodeTokenResult, error) {
	if imageCodeID == "" || imageCode == "" {
		return nil, fmt.Errorf("%w: image_code_id and text are required", ErrInvalidInput)
	}
	if err := s.verification.CheckImageCode(ctx, imageCodeID, imageCode); err != nil {
		return nil, err
	}

	account, err := s.lookup(ctx, accountName)
	if err != nil {
		return nil, err
	}

	tok, err := s.tokens.SMSCode.Issue(map[string]string{"mobile": account.Mobile}, s.tokens.SMSCodeTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue sms token: %w", err)
	}
	return &SMSCodeTokenResult{
		Mobile:      util.MaskMobile(account.Mobile),
		AccessToken: tok,
	}, nil
}

// PasswordToken checks the SMS code sent to the account and returns a
// set_password token bound to the account id.
func (s *AccountService) PasswordToken(ctx context.Context, accountName, smsCode string) (*PasswordTokenResult, error) {
	if len(smsCode) != 6 {
		return nil, fmt.Errorf("%w: sms_code must be 6 digits", ErrInvalidInput)
	}

	account, err := s.lookup(ctx, accountName)
	if err != nil {
		return nil, err
	}
	if err := s.verification.CheckSMSCode(ctx, account.Mobile, smsCode); err != nil {
		return nil, err
	}

	tok, err := s.tokens.SetPassword.Issue(map[string]string{"user_id": account.AccountID}, s.tokens.SetPasswordTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue password token: %w", err)
	}
	return &PasswordTokenResult{UserID: account.AccountID, AccessToken: tok}, nil
}

// ResetPassword requires a set_password token issued for userID.
func (s *AccountService) ResetPassword(ctx context.Context, userID string, req ResetPasswordRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return validationError(err)
	}
	if req.Password != req.Password2 {
		return ErrPasswordMismatch
	}

	claims, err := s.tokens.SetPassword.Verify(req.AccessToken, s.tokens.SetPasswordTTL)
	if err != nil {
		return ErrInvalidToken
	}
	if claims["user_id"] != userID {
		s.logger.Warn("Password token used for another account", zap.String("user_id", userID))
		return ErrInvalidToken
	}

	hash, err := s.hasher.HashPassword(req.Password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.repo.UpdatePassword(ctx, userID, hash)
}

// BindEmail stores email as unverified and returns the verification link.
// Mail delivery is outside this service; the link is logged.
func (s *AccountService) BindEmail(ctx context.Context, session Session, email string) (*EmailBinding, error) {
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	if err := s.repo.UpdateEmail(ctx, session.UserID, email, false); err != nil {
		return nil, err
	}

	tok, err := s.tokens.VerifyEmail.Issue(map[string]string{"user_id": session.UserID, "email": email}, s.tokens.VerifyEmailTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue email token: %w", err)
	}

	link := s.emailVerifyURL + "?token=" + url.QueryEscape(tok)
	s.logger.Info("Email verification link generated",
		zap.String("user_id", session.UserID),
		zap.String("verify_url", link))

	return &EmailBinding{Email: email, VerifyURL: link}, nil
}

// VerifyEmail activates the email named in the token if the account still
// has that email bound.
func (s *AccountService) VerifyEmail(ctx context.Context, tok string) error {
	if tok == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	claims, err := s.tokens.VerifyEmail.Verify(tok, s.tokens.VerifyEmailTTL)
	if err != nil {
		return ErrInvalidToken
	}

	account, err := s.repo.GetByID(ctx, claims["user_id"])
	if err != nil {
		if errors.Is(err, model.ErrAccountNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	if account.Email != claims["email"] {
		return ErrInvalidToken
	}
	return s.repo.UpdateEmail(ctx, account.AccountID, account.Email, true)
}

// Authenticate resolves a session token.
func (s *AccountService) Authenticate(tok string) (*Session, error) {
	if tok == "" {
		return nil, ErrUnauthorized
	}
	claims, err := s.tokens.Session.Verify(tok, s.tokens.SessionTTL)
	if err != nil {
		return nil, ErrUnauthorized
	}
	return &Session{UserID: claims["user_id"], Username: claims["username"]}, nil
}

func (s *AccountService) issueSession(account *model.Account) (string, error) {
	tok, err := s.tokens.Session.Issue(map[string]string{
		"user_id":  account.AccountID,
		"username": account.Username,
	}, s.tokens.SessionTTL)
	if err != nil {
		return "", fmt.Errorf("failed to issue session token: %w", err)
	}
	return tok, nil
}

func (s *AccountService) loginResult(account *model.Account) (*LoginResult, error) {
	tok, err := s.issueSession(account)
	if err != nil {
		return nil, err
	}
	return &LoginResult{UserID: account.AccountID, Username: account.Username, Token: tok}, nil
}

func (s *AccountService) checkPassword(account *model.Account, password string) error {
	ok, err := s.hasher.VerifyPassword(password, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		s.logger.Info("Password rejected", zap.String("user_id", account.AccountID))
		return ErrInvalidCredentials
	}
	return nil
}

// lookup accepts either a mobile number or a username.
func (s *AccountService) lookup(ctx context.Context, accountName string) (*model.Account, error) {
	accountName = util.SanitizeInput(accountName)
	if accountName == "" {
		return nil, fmt.Errorf("%w: account is required", ErrInvalidInput)
	}
	if util.IsValidMobile(accountName) {
		return s.repo.GetByMobile(ctx, accountName)
	}
	return s.repo.GetByUsername(ctx, accountName)
}
