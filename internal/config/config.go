package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment  string
	Server       ServerConfig
	Logging      LoggingConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	Clickhouse   ClickhouseConfig
	Scylla       ScyllaConfig
	Token        TokenConfig
	Verification VerificationConfig
	SMS          SMSConfig
	Worker       WorkerConfig
	Hashing      HashingConfig
	Bucketing    BucketingConfig
	OAuth        OAuthConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
	RequireHTTPS   bool
	TLS            TLSConfig
}

// TLSConfig controls direct TLS termination. Certificates come from
// CertFile/KeyFile, from ACME when AutoCert is set, or are self-signed
// outside production.
type TLSConfig struct {
	Enabled   bool
	AutoCert  bool
	Domain    string
	CertFile  string
	KeyFile   string
	CertDir   string
	ACMEEmail string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Brokers         []string
	SMSTopic        string
	DeadLetterTopic string
	ConsumerGroup   string
}

type ClickhouseConfig struct {
	Enabled       bool
	URL           string
	Username      string
	Password      string
	Database      string
	FlushInterval time.Duration
	BatchSize     int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

// TokenConfig holds the signing secret shared by every token audience.
type TokenConfig struct {
	Secret         string
	Issuer         string
	SMSCodeTTL     time.Duration
	SetPasswordTTL time.Duration
	VerifyEmailTTL time.Duration
	SessionTTL     time.Duration
	OAuthTTL       time.Duration
}

type VerificationConfig struct {
	ImageCodeTTL     time.Duration
	SMSCodeTTL       time.Duration
	SendInterval     time.Duration
	CaptchaLength    int
	EmailVerifyURL   string
	StoreCallTimeout time.Duration
}

type SMSConfig struct {
	Provider    string // "sns" | "log"
	TemplateID  string
	Templates   map[string]string
	Region      string
	CountryCode string
}

type WorkerConfig struct {
	Concurrency  int
	MaxAttempts  int
	RetryBackoff time.Duration
	SendTimeout  time.Duration
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	Pepper            string
}

type BucketingConfig struct {
	AccountBuckets int
}

// OAuthConfig holds the QQ connect application. QQ login is disabled
// while QQAppID is empty.
type OAuthConfig struct {
	QQAppID       string
	QQAppKey      string
	QQRedirectURI string
	QQBaseURL     string
	QQTimeout     time.Duration
}

func (o OAuthConfig) QQEnabled() bool {
	return o.QQAppID != ""
}

var (
	instance *Config
	loadOnce sync.Once
)

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvInt("SERVER_PORT", 8000),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:    getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"http://127.0.0.1:8080", "http://localhost:8080"}),
			RequireHTTPS:   getEnvBool("REQUIRE_HTTPS", false),
			TLS: TLSConfig{
				Enabled:   getEnvBool("TLS_ENABLED", false),
				AutoCert:  getEnvBool("TLS_AUTOCERT", false),
				Domain:    getEnv("TLS_DOMAIN", "localhost"),
				CertFile:  getEnv("TLS_CERT_FILE", ""),
				KeyFile:   getEnv("TLS_KEY_FILE", ""),
				CertDir:   getEnv("TLS_CERT_DIR", "./certs"),
				ACMEEmail: getEnv("TLS_ACME_EMAIL", ""),
			},
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 2),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 20),
		},
		Kafka: KafkaConfig{
			Brokers:         getEnvList("KAFKA_BROKERS", nil),
			SMSTopic:        getEnv("KAFKA_SMS_TOPIC", "sms.send"),
			DeadLetterTopic: getEnv("KAFKA_SMS_DLQ_TOPIC", "sms.send.dlq"),
			ConsumerGroup:   getEnv("KAFKA_CONSUMER_GROUP", "sms-delivery"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:       getEnvBool("CLICKHOUSE_ENABLED", false),
			URL:           getEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username:      getEnv("CLICKHOUSE_USERNAME", "default"),
			Password:      getEnv("CLICKHOUSE_PASSWORD", ""),
			Database:      getEnv("CLICKHOUSE_DATABASE", "verification"),
			FlushInterval: getEnvDuration("CLICKHOUSE_FLUSH_INTERVAL", 2*time.Second),
			BatchSize:     getEnvInt("CLICKHOUSE_BATCH_SIZE", 500),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "accounts"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Token: TokenConfig{
			Secret:         getEnv("TOKEN_SECRET", ""),
			Issuer:         getEnv("TOKEN_ISSUER", "verification-service"),
			SMSCodeTTL:     getEnvDuration("TOKEN_SMS_CODE_TTL", 300*time.Second),
			SetPasswordTTL: getEnvDuration("TOKEN_SET_PASSWORD_TTL", 300*time.Second),
			VerifyEmailTTL: getEnvDuration("TOKEN_VERIFY_EMAIL_TTL", 24*time.Hour),
			SessionTTL:     getEnvDuration("TOKEN_SESSION_TTL", 24*time.Hour),
			OAuthTTL:       getEnvDuration("TOKEN_OAUTH_TTL", 300*time.Second),
		},
		Verification: VerificationConfig{
			ImageCodeTTL:     getEnvDuration("IMAGE_CODE_TTL", 300*time.Second),
			SMSCodeTTL:       getEnvDuration("SMS_CODE_TTL", 300*time.Second),
			SendInterval:     getEnvDuration("SMS_SEND_INTERVAL", 60*time.Second),
			CaptchaLength:    getEnvInt("CAPTCHA_LENGTH", 4),
			EmailVerifyURL:   getEnv("EMAIL_VERIFY_URL", "http://www.meiduo.site:8080/success_verify_email.html"),
			StoreCallTimeout: getEnvDuration("STORE_CALL_TIMEOUT", 3*time.Second),
		},
		SMS: SMSConfig{
			Provider:   getEnv("SMS_PROVIDER", "log"),
			TemplateID: getEnv("SMS_TEMPLATE_ID", "1"),
			Templates: map[string]string{
				"1": getEnv("SMS_TEMPLATE_1", "Your verification code is %s. It expires in %s minutes."),
			},
			Region:      getEnv("SMS_REGION", "ap-southeast-1"),
			CountryCode: getEnv("SMS_COUNTRY_CODE", "86"),
		},
		Worker: WorkerConfig{
			Concurrency:  getEnvInt("WORKER_CONCURRENCY", 4),
			MaxAttempts:  getEnvInt("WORKER_MAX_ATTEMPTS", 3),
			RetryBackoff: getEnvDuration("WORKER_RETRY_BACKOFF", 2*time.Second),
			SendTimeout:  getEnvDuration("WORKER_SEND_TIMEOUT", 10*time.Second),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 64*1024),
			Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 3),
			Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 2),
			Pepper:            getEnv("PASSWORD_PEPPER", ""),
		},
		Bucketing: BucketingConfig{
			AccountBuckets: getEnvInt("ACCOUNT_BUCKETS", 64),
		},
		OAuth: OAuthConfig{
			QQAppID:       getEnv("QQ_APP_ID", ""),
			QQAppKey:      getEnv("QQ_APP_KEY", ""),
			QQRedirectURI: getEnv("QQ_REDIRECT_URI", "http://www.meiduo.site:8080/oauth_callback.html"),
			QQBaseURL:     getEnv("QQ_BASE_URL", "https://graph.qq.com"),
			QQTimeout:     getEnvDuration("QQ_TIMEOUT", 5*time.Second),
		},
	}
}

// Get returns the process-wide configuration, loading it on first use.
func Get() *Config {
	loadOnce.Do(func() {
		instance = LoadConfig()
	})
	return instance
}

// Validate reports settings the service cannot start without.
func (c *Config) Validate() error {
	if c.Token.Secret == "" {
		return fmt.Errorf("TOKEN_SECRET is required")
	}
	if c.IsProduction() && len(c.Token.Secret) < 32 {
		return fmt.Errorf("TOKEN_SECRET must be at least 32 characters in production")
	}
	if c.Verification.SendInterval <= 0 || c.Verification.SMSCodeTTL <= 0 || c.Verification.ImageCodeTTL <= 0 {
		return fmt.Errorf("verification TTLs must be positive")
	}
	if tlsCfg := c.Server.TLS; tlsCfg.Enabled && c.IsProduction() && !tlsCfg.AutoCert && (tlsCfg.CertFile == "" || tlsCfg.KeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE are required in production unless TLS_AUTOCERT is set")
	}
	if c.OAuth.QQEnabled() && (c.OAuth.QQAppKey == "" || c.OAuth.QQRedirectURI == "") {
		return fmt.Errorf("QQ_APP_KEY and QQ_REDIRECT_URI are required when QQ_APP_ID is set")
	}
	if _, ok := c.SMS.Templates[c.SMS.TemplateID]; !ok {
		return fmt.Errorf("no SMS template configured for template id %q", c.SMS.TemplateID)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SMSCodeTTLMinutes is the lifetime quoted to users in the SMS text.
func (c *Config) SMSCodeTTLMinutes() string {
	return strconv.Itoa(int(c.Verification.SMSCodeTTL / time.Minute))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
