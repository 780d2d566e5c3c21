// Package oauth resolves third-party login codes to provider user ids.
package oauth

import (
	"context"
	"errors"
)

// ErrProviderUnavailable covers every failure talking to the provider:
// network errors, rejected codes and unparseable replies.
var ErrProviderUnavailable = errors.New("oauth provider unavailable")

// Provider is the external login service.
type Provider interface {
	// AuthURL is where the browser is sent to log in. state is echoed back
	// to the redirect URI.
	AuthURL(state string) string
	// OpenID exchanges an authorization code for the provider's user id.
	OpenID(ctx context.Context, code string) (string, error)
}
