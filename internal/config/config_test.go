package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg := LoadConfig()

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 300*time.Second, cfg.Verification.ImageCodeTTL)
	assert.Equal(t, 300*time.Second, cfg.Verification.SMSCodeTTL)
	assert.Equal(t, 60*time.Second, cfg.Verification.SendInterval)
	assert.Equal(t, "1", cfg.SMS.TemplateID)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "5", cfg.SMSCodeTTLMinutes())
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("SMS_SEND_INTERVAL", "90s")
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("CLICKHOUSE_ENABLED", "true")

	cfg := LoadConfig()

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 90*time.Second, cfg.Verification.SendInterval)
	assert.Equal(t, "0.0.0.0:9100", cfg.GetServerAddress())
	assert.True(t, cfg.Clickhouse.Enabled)
}

func TestConfig_Validate(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	cfg := LoadConfig()

	cfg.Token.Secret = ""
	require.Error(t, cfg.Validate())

	cfg.Token.Secret = "dev-secret"
	require.NoError(t, cfg.Validate())

	cfg.Environment = "production"
	assert.Error(t, cfg.Validate(), "short secrets are rejected in production")

	cfg.Token.Secret = "0123456789abcdef0123456789abcdef"
	cfg.SMS.TemplateID = "missing"
	assert.Error(t, cfg.Validate())
}

func TestConfig_ValidateTLS(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("TLS_ENABLED", "true")
	t.Setenv("TLS_AUTOCERT", "")
	cfg := LoadConfig()
	cfg.Token.Secret = "0123456789abcdef0123456789abcdef"

	assert.Error(t, cfg.Validate(), "production TLS needs a certificate source")

	cfg.Server.TLS.AutoCert = true
	assert.NoError(t, cfg.Validate())

	cfg.Server.TLS.AutoCert = false
	cfg.Server.TLS.CertFile = "/etc/tls/cert.pem"
	cfg.Server.TLS.KeyFile = "/etc/tls/key.pem"
	assert.NoError(t, cfg.Validate())
}

func TestConfig_ValidateQQ(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("QQ_APP_ID", "")
	cfg := LoadConfig()
	cfg.Token.Secret = "dev-secret"

	assert.False(t, cfg.OAuth.QQEnabled())
	assert.Equal(t, 300*time.Second, cfg.Token.OAuthTTL)
	require.NoError(t, cfg.Validate())

	cfg.OAuth.QQAppID = "101480417"
	cfg.OAuth.QQAppKey = ""
	assert.Error(t, cfg.Validate(), "an app id without its key is rejected")

	cfg.OAuth.QQAppKey = "app-key"
	assert.NoError(t, cfg.Validate())
}
