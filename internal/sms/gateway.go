// Package sms renders verification templates and hands them to a provider.
package sms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"verification-service/internal/util"
)

var (
	// ErrPermanent marks failures a retry cannot fix, such as a missing template.
	ErrPermanent       = errors.New("permanent sms failure")
	ErrUnknownTemplate = fmt.Errorf("%w: unknown template", ErrPermanent)
)

// Gateway delivers one templated message to a mobile number.
type Gateway interface {
	Send(ctx context.Context, mobile string, params []string, templateID string) error
}

// Templates maps template ids to fmt-style bodies with one %s per parameter.
type Templates map[string]string

func (t Templates) Render(templateID string, params []string) (string, error) {
	body, ok := t[templateID]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownTemplate, templateID)
	}
	if want := strings.Count(body, "%s"); want != len(params) {
		return "", fmt.Errorf("%w: template %q takes %d params, got %d", ErrPermanent, templateID, want, len(params))
	}

	args := make([]any, len(params))
	for i, p := range params {
		args[i] = p
	}
	return fmt.Sprintf(body, args...), nil
}

// LogGateway writes messages to the log instead of sending them. Used in
// development and when no provider is configured.
type LogGateway struct {
	templates Templates
	logger    *zap.Logger
}

func NewLogGateway(templates Templates, logger *zap.Logger) *LogGateway {
	return &LogGateway{templates: templates, logger: logger}
}

func (g *LogGateway) Send(_ context.Context, mobile string, params []string, templateID string) error {
	msg, err := g.templates.Render(templateID, params)
	if err != nil {
		return err
	}
	g.logger.Info("SMS delivered to log",
		util.Mobile("mobile", mobile),
		zap.String("template_id", templateID),
		zap.String("message", msg))
	return nil
}
