package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"verification-service/internal/service"
)

// OAuthHandler serves QQ login and account binding.
type OAuthHandler struct {
	responder
	oauth *service.OAuthService
}

// NewOAuthHandler returns nil when QQ login is not configured, which leaves
// the routes unregistered.
func NewOAuthHandler(oauth *service.OAuthService, logger *zap.Logger) *OAuthHandler {
	if oauth == nil {
		return nil
	}
	return &OAuthHandler{
		responder: responder{logger: logger},
		oauth:     oauth,
	}
}

func (h *OAuthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/oauth/qq/authorization/", h.AuthURL)
	r.Get("/oauth/qq/user/", h.QQLogin)
	r.Post("/oauth/qq/user/", h.BindQQ)
}

// AuthURL handles GET /oauth/qq/authorization/?next=
func (h *OAuthHandler) AuthURL(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{
		"auth_url": h.oauth.QQAuthURL(r.URL.Query().Get("next")),
	}, ""))
}

// QQLogin handles GET /oauth/qq/user/?code=
func (h *OAuthHandler) QQLogin(w http.ResponseWriter, r *http.Request) {
	res, err := h.oauth.QQLogin(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		h.respondWithError(w, err, "QQ login failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(res, ""))
}

// BindQQ handles POST /oauth/qq/user/
func (h *OAuthHandler) BindQQ(w http.ResponseWriter, r *http.Request) {
	var req service.QQBindRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	res, err := h.oauth.BindQQ(r.Context(), req)
	if err != nil {
		h.respondWithError(w, err, "Failed to bind QQ account")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(res, ""))
}
