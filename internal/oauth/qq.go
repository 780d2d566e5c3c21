package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"verification-service/internal/config"
)

const maxResponseSize = 64 * 1024

// QQProvider implements Provider against QQ connect. The token exchange goes
// through x/oauth2; the openid lookup is QQ specific and answers in JSONP.
type QQProvider struct {
	oauth2Config *oauth2.Config
	meURL        string
	httpClient   *http.Client
	logger       *zap.Logger
}

func NewQQProvider(cfg config.OAuthConfig, logger *zap.Logger) *QQProvider {
	base := strings.TrimRight(cfg.QQBaseURL, "/")
	return &QQProvider{
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.QQAppID,
			ClientSecret: cfg.QQAppKey,
			RedirectURL:  cfg.QQRedirectURI,
			Scopes:       []string{"get_user_info"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/oauth2.0/authorize",
				TokenURL:  base + "/oauth2.0/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		meURL:      base + "/oauth2.0/me",
		httpClient: &http.Client{Timeout: cfg.QQTimeout},
		logger:     logger,
	}
}

func (p *QQProvider) AuthURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state)
}

func (p *QQProvider) OpenID(ctx context.Context, code string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	tok, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		p.logger.Warn("QQ token exchange failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	openID, err := p.fetchOpenID(ctx, tok.AccessToken)
	if err != nil {
		p.logger.Warn("QQ openid lookup failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return openID, nil
}

func (p *QQProvider) fetchOpenID(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.meURL+"?access_token="+url.QueryEscape(accessToken), nil)
	if err != nil {
		return "", err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openid lookup returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", err
	}
	return parseOpenID(body)
}

// parseOpenID reads `callback( {"client_id":"...","openid":"..."} );`.
func parseOpenID(body []byte) (string, error) {
	start := strings.IndexByte(string(body), '{')
	end := strings.LastIndexByte(string(body), '}')
	if start < 0 || end < start {
		return "", fmt.Errorf("unexpected openid reply")
	}

	var reply struct {
		OpenID string `json:"openid"`
		Error  int    `json:"error"`
		Desc   string `json:"error_description"`
	}
	if err := json.Unmarshal(body[start:end+1], &reply); err != nil {
		return "", fmt.Errorf("failed to decode openid reply: %w", err)
	}
	if reply.Error != 0 {
		return "", fmt.Errorf("qq error %d: %s", reply.Error, reply.Desc)
	}
	if reply.OpenID == "" {
		return "", fmt.Errorf("openid missing from reply")
	}
	return reply.OpenID, nil
}

var _ Provider = (*QQProvider)(nil)
