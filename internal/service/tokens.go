package service

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"verification-service/internal/config"
	"verification-service/internal/token"
)

// TokenSet holds one codec per audience with its lifetime.
type TokenSet struct {
	SMSCode     *token.Codec
	SetPassword *token.Codec
	VerifyEmail *token.Codec
	Session     *token.Codec
	OAuthQQ     *token.Codec

	SMSCodeTTL     time.Duration
	SetPasswordTTL time.Duration
	VerifyEmailTTL time.Duration
	SessionTTL     time.Duration
	OAuthTTL       time.Duration
}

func NewTokenSet(cfg config.TokenConfig, logger *zap.Logger, opts ...token.Option) (*TokenSet, error) {
	codecCfg := token.Config{Secret: cfg.Secret, Issuer: cfg.Issuer}
	opts = append([]token.Option{token.WithLogger(logger)}, opts...)

	set := &TokenSet{
		SMSCodeTTL:     cfg.SMSCodeTTL,
		SetPasswordTTL: cfg.SetPasswordTTL,
		VerifyEmailTTL: cfg.VerifyEmailTTL,
		SessionTTL:     cfg.SessionTTL,
		OAuthTTL:       cfg.OAuthTTL,
	}

	codecs := []struct {
		dst      **token.Codec
		audience string
	}{
		{&set.SMSCode, token.AudienceSMSCode},
		{&set.SetPassword, token.AudienceSetPassword},
		{&set.VerifyEmail, token.AudienceVerifyEmail},
		{&set.Session, token.AudienceSession},
		{&set.OAuthQQ, token.AudienceOAuthQQ},
	}
	for _, c := range codecs {
		codec, err := token.NewCodec(codecCfg, c.audience, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s codec: %w", c.audience, err)
		}
		*c.dst = codec
	}
	return set, nil
}
