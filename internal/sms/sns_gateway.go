package sms

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"verification-service/internal/config"
	"verification-service/internal/util"
)

type publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSGateway sends transactional SMS through AWS SNS.
type SNSGateway struct {
	client      publisher
	templates   Templates
	countryCode string
	logger      *zap.Logger
}

func NewSNSGateway(ctx context.Context, cfg config.SMSConfig, logger *zap.Logger) (*SNSGateway, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return newSNSGateway(sns.NewFromConfig(awsCfg), cfg, logger), nil
}

func newSNSGateway(client publisher, cfg config.SMSConfig, logger *zap.Logger) *SNSGateway {
	return &SNSGateway{
		client:      client,
		templates:   Templates(cfg.Templates),
		countryCode: cfg.CountryCode,
		logger:      logger,
	}
}

func (g *SNSGateway) Send(ctx context.Context, mobile string, params []string, templateID string) error {
	msg, err := g.templates.Render(templateID, params)
	if err != nil {
		return err
	}

	out, err := g.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(g.e164(mobile)),
		Message:     aws.String(msg),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("Transactional"),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	g.logger.Debug("SMS published",
		util.Mobile("mobile", mobile),
		zap.String("template_id", templateID),
		zap.String("message_id", aws.ToString(out.MessageId)))
	return nil
}

func (g *SNSGateway) e164(mobile string) string {
	if g.countryCode == "" {
		return mobile
	}
	return "+" + g.countryCode + mobile
}
