package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"verification-service/internal/config"
	"verification-service/internal/util"
)

// PreparedStatements holds the statements used by AccountRepository.
type PreparedStatements struct {
	CreateAccount   string
	ClaimUsername   string
	ClaimMobile     string
	ReleaseUsername string
	ReleaseMobile   string
	GetAccount      string
	GetByUsername   string
	GetByMobile     string
	UpdatePassword  string
	UpdateEmail     string
	BindOpenID      string
	GetByOpenID     string
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		bucket int,
		account_id text,
		username text,
		mobile text,
		password_hash text,
		email text,
		email_active boolean,
		created_at timestamp,
		updated_at timestamp,
		PRIMARY KEY ((bucket), account_id)
	)`,
	`CREATE TABLE IF NOT EXISTS accounts_by_username (
		username text PRIMARY KEY,
		bucket int,
		account_id text
	)`,
	`CREATE TABLE IF NOT EXISTS accounts_by_mobile (
		mobile text PRIMARY KEY,
		bucket int,
		account_id text
	)`,
	`CREATE TABLE IF NOT EXISTS accounts_by_qq_openid (
		openid text PRIMARY KEY,
		bucket int,
		account_id text,
		created_at timestamp
	)`,
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
		NumRetries: 3,
	}

	if cfg.IsProduction() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 util.GetEnv("SCYLLA_CA_FILE", "/app/certs/ca.pem"),
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.ensureSchema(); err != nil {
		session.Close()
		return nil, err
	}
	client.prepareStatements()

	logger.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) ensureSchema() error {
	for _, stmt := range schema {
		if err := s.Session.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *ScyllaClient) prepareStatements() {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return
	}

	s.Prepared = &PreparedStatements{
		CreateAccount: `INSERT INTO accounts (
			bucket, account_id, username, mobile, password_hash, email, email_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ClaimUsername:   `INSERT INTO accounts_by_username (username, bucket, account_id) VALUES (?, ?, ?) IF NOT EXISTS`,
		ClaimMobile:     `INSERT INTO accounts_by_mobile (mobile, bucket, account_id) VALUES (?, ?, ?) IF NOT EXISTS`,
		ReleaseUsername: `DELETE FROM accounts_by_username WHERE username = ?`,
		ReleaseMobile:   `DELETE FROM accounts_by_mobile WHERE mobile = ?`,
		GetAccount: `SELECT bucket, account_id, username, mobile, password_hash, email, email_active, created_at, updated_at
			FROM accounts WHERE bucket = ? AND account_id = ?`,
		GetByUsername:  `SELECT bucket, account_id FROM accounts_by_username WHERE username = ?`,
		GetByMobile:    `SELECT bucket, account_id FROM accounts_by_mobile WHERE mobile = ?`,
		UpdatePassword: `UPDATE accounts SET password_hash = ?, updated_at = ? WHERE bucket = ? AND account_id = ?`,
		UpdateEmail:    `UPDATE accounts SET email = ?, email_active = ?, updated_at = ? WHERE bucket = ? AND account_id = ?`,
		BindOpenID:     `INSERT INTO accounts_by_qq_openid (openid, bucket, account_id, created_at) VALUES (?, ?, ?, ?) IF NOT EXISTS`,
		GetByOpenID:    `SELECT bucket, account_id FROM accounts_by_qq_openid WHERE openid = ?`,
	}
	s.isPrepared = true
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	return nil
}
