package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"verification-service/internal/bucketing"
	"verification-service/internal/model"
	"verification-service/internal/util"
)

type AccountRepository struct {
	client  *ScyllaClient
	buckets *bucketing.BucketingManager
	logger  *zap.Logger
}

func NewAccountRepository(client *ScyllaClient, buckets *bucketing.BucketingManager, logger *zap.Logger) *AccountRepository {
	return &AccountRepository{
		client:  client,
		buckets: buckets,
		logger:  logger,
	}
}

// Create claims the username and mobile with lightweight transactions before
// writing the account row. A lost claim releases any claim already taken.
func (r *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	if account.AccountID == "" {
		account.AccountID = uuid.New().String()
	}
	account.Bucket = r.buckets.AccountBucket(account.AccountID)

	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	stmts := r.client.Prepared

	applied, err := r.claim(ctx, stmts.ClaimUsername, account.Username, account)
	if err != nil {
		return fmt.Errorf("failed to claim username: %w", err)
	}
	if !applied {
		return model.ErrAccountExists
	}

	applied, err = r.claim(ctx, stmts.ClaimMobile, account.Mobile, account)
	if err != nil || !applied {
		r.release(ctx, account, false)
		if err != nil {
			return fmt.Errorf("failed to claim mobile: %w", err)
		}
		return model.ErrAccountExists
	}

	err = r.client.Session.Query(stmts.CreateAccount,
		account.Bucket, account.AccountID, account.Username, account.Mobile,
		account.PasswordHash, account.Email, account.EmailActive,
		account.CreatedAt, account.UpdatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		r.release(ctx, account, true)
		r.logger.Error("Failed to create account",
			zap.String("account_id", account.AccountID),
			zap.Error(err))
		return fmt.Errorf("failed to create account: %w", err)
	}

	r.logger.Info("Account created",
		zap.String("account_id", account.AccountID),
		zap.Int("bucket", account.Bucket),
		util.Mobile("mobile", account.Mobile))
	return nil
}

func (r *AccountRepository) claim(ctx context.Context, stmt, key string, account *model.Account) (bool, error) {
	existing := make(map[string]interface{})
	return r.client.Session.Query(stmt, key, account.Bucket, account.AccountID).
		WithContext(ctx).
		MapScanCAS(existing)
}

// release undoes claims in a logged batch. Failures are logged; the orphaned
// lookup row then points at an account that does not exist.
func (r *AccountRepository) release(ctx context.Context, account *model.Account, mobileClaimed bool) {
	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(r.client.Prepared.ReleaseUsername, account.Username)
	if mobileClaimed {
		batch.Query(r.client.Prepared.ReleaseMobile, account.Mobile)
	}
	if err := r.client.Session.ExecuteBatch(batch); err != nil {
		r.logger.Error("Failed to release account claims",
			zap.String("account_id", account.AccountID),
			zap.Error(err))
	}
}

func (r *AccountRepository) GetByID(ctx context.Context, accountID string) (*model.Account, error) {
	return r.get(ctx, r.buckets.AccountBucket(accountID), accountID)
}

func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*model.Account, error) {
	return r.getByLookup(ctx, r.client.Prepared.GetByUsername, username)
}

func (r *AccountRepository) GetByMobile(ctx context.Context, mobile string) (*model.Account, error) {
	return r.getByLookup(ctx, r.client.Prepared.GetByMobile, mobile)
}

func (r *AccountRepository) getByLookup(ctx context.Context, stmt, key string) (*model.Account, error) {
	var (
		bucket    int
		accountID string
	)
	err := r.client.Session.Query(stmt, key).WithContext(ctx).Scan(&bucket, &accountID)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, model.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	return r.get(ctx, bucket, accountID)
}

func (r *AccountRepository) get(ctx context.Context, bucket int, accountID string) (*model.Account, error) {
	a := &model.Account{}
	err := r.client.Session.Query(r.client.Prepared.GetAccount, bucket, accountID).
		WithContext(ctx).
		Scan(&a.Bucket, &a.AccountID, &a.Username, &a.Mobile, &a.PasswordHash,
			&a.Email, &a.EmailActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, model.ErrAccountNotFound
		}
		r.logger.Error("Failed to get account",
			zap.String("account_id", accountID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) UpdatePassword(ctx context.Context, accountID, passwordHash string) error {
	if _, err := r.GetByID(ctx, accountID); err != nil {
		return err
	}

	err := r.client.Session.Query(r.client.Prepared.UpdatePassword,
		passwordHash, time.Now().UTC(), r.buckets.AccountBucket(accountID), accountID,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	r.logger.Info("Account password updated", zap.String("account_id", accountID))
	return nil
}

func (r *AccountRepository) UpdateEmail(ctx context.Context, accountID, email string, active bool) error {
	if _, err := r.GetByID(ctx, accountID); err != nil {
		return err
	}

	err := r.client.Session.Query(r.client.Prepared.UpdateEmail,
		email, active, time.Now().UTC(), r.buckets.AccountBucket(accountID), accountID,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to update email: %w", err)
	}

	r.logger.Info("Account email updated",
		zap.String("account_id", accountID),
		zap.Bool("email_active", active))
	return nil
}

func (r *AccountRepository) GetByOpenID(ctx context.Context, openID string) (*model.Account, error) {
	return r.getByLookup(ctx, r.client.Prepared.GetByOpenID, openID)
}

// BindOpenID links openID to an existing account. The insert is a lightweight
// transaction so an openid keeps its first binding.
func (r *AccountRepository) BindOpenID(ctx context.Context, openID, accountID string) error {
	if _, err := r.GetByID(ctx, accountID); err != nil {
		return err
	}

	existing := make(map[string]interface{})
	applied, err := r.client.Session.Query(r.client.Prepared.BindOpenID,
		openID, r.buckets.AccountBucket(accountID), accountID, time.Now().UTC(),
	).WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		return fmt.Errorf("failed to bind openid: %w", err)
	}
	if !applied {
		return model.ErrOpenIDBound
	}

	r.logger.Info("OpenID bound", zap.String("account_id", accountID))
	return nil
}

var _ model.AccountRepository = (*AccountRepository)(nil)
