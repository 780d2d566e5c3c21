package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"verification-service/internal/service"
)

type sessionKey struct{}

// AccountHandler serves registration, login, password reset and email binding.
type AccountHandler struct {
	responder
	accounts *service.AccountService
}

func NewAccountHandler(accounts *service.AccountService, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{
		responder: responder{logger: logger},
		accounts:  accounts,
	}
}

func (h *AccountHandler) RegisterRoutes(r chi.Router) {
	r.Get("/usernames/{username}/count/", h.UsernameCount)
	r.Get("/mobiles/{mobile}/count/", h.MobileCount)
	r.Post("/users/", h.Register)
	r.Post("/authorizations/", h.Login)
	r.Get("/accounts/{account}/sms/token/", h.SMSCodeToken)
	r.Get("/accounts/{account}/password/token/", h.PasswordToken)
	r.Post("/users/{user_id}/password/", h.ResetPassword)
	r.Get("/emails/verification/", h.VerifyEmail)

	r.Group(func(r chi.Router) {
		r.Use(h.RequireSession)
		r.Get("/user/", h.Profile)
		r.Put("/email/", h.BindEmail)
	})
}

// RequireSession accepts "Authorization: JWT <token>" or "Bearer <token>".
func (h *AccountHandler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := h.accounts.Authenticate(bearerToken(r))
		if err != nil {
			h.respondWithError(w, err, "Authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	for _, scheme := range []string{"JWT ", "Bearer "} {
		if len(header) > len(scheme) && strings.EqualFold(header[:len(scheme)], scheme) {
			return strings.TrimSpace(header[len(scheme):])
		}
	}
	return ""
}

func sessionFromContext(ctx context.Context) (*service.Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*service.Session)
	return s, ok
}

// UsernameCount handles GET /usernames/{username}/count/
func (h *AccountHandler) UsernameCount(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	count, err := h.accounts.UsernameCount(r.Context(), username)
	if err != nil {
		h.respondWithError(w, err, "Failed to count usernames")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"username": username,
		"count":    count,
	}, ""))
}

// MobileCount handles GET /mobiles/{mobile}/count/
func (h *AccountHandler) MobileCount(w http.ResponseWriter, r *http.Request) {
	mobile := chi.URLParam(r, "mobile")
	count, err := h.accounts.MobileCount(r.Context(), mobile)
	if err != nil {
		h.respondWithError(w, err, "Failed to count mobiles")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"mobile": mobile,
		"count":  count,
	}, ""))
}

// Register handles POST /users/
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	res, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		h.respondWithError(w, err, "Failed to register")
		return
	}
	h.respondWithJSON(w, http.StatusCreated, successResponse(res, "Account created"))
}

// Login handles POST /authorizations/
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	res, err := h.accounts.Login(r.Context(), req)
	if err != nil {
		h.respondWithError(w, err, "Failed to log in")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(res, ""))
}

// Profile handles GET /user/
func (h *AccountHandler) Profile(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		h.respondWithError(w, service.ErrUnauthorized, "Authentication required")
		return
	}

	res, err := h.accounts.Profile(r.Context(), *session)
	if err != nil {
		h.respondWithError(w, err, "Failed to load user")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(res, ""))
}

// SMSCodeToken handles GET /accounts/{account}/sms/token/?image_code_id=&text=
func (h *AccountHandler) SMSCodeToken(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.accounts.SMSCodeToken(r.Context(), chi.URLParam(r, "account"), q.Get("image_code_id"), q.Get("text"))
	if err != nil {
		h.respondWithError(w, err, "Failed to issue sms token")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(res, ""))
}

// PasswordToken handles GET /accounts/{account}/password/token/?sms_code=
func (h *AccountHandler) PasswordToken(w http.ResponseWriter, r *http.Request) {
	res, err := h.accounts.PasswordToken(r.Context(), chi.URLParam(r, "account"), r.URL.Query().Get("sms_code"))
	if err != nil {
		h.respondWithError(w, err, "Failed to issue password token")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(res, ""))
}

// ResetPassword handles POST /users/{user_id}/password/
func (h *AccountHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req service.ResetPasswordRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	userID := chi.URLParam(r, "user_id")
	if err := h.accounts.ResetPassword(r.Context(), userID, req); err != nil {
		h.respondWithError(w, err, "Failed to reset password")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{"id": userID}, "Password updated"))
}

// BindEmail handles PUT /email/
func (h *AccountHandler) BindEmail(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		h.respondWithError(w, service.ErrUnauthorized, "Authentication required")
		return
	}

	var req struct {
		Email string `json:"email"`
	}
	if !h.decodeJSON(w, r, &req) {
		return
	}

	res, err := h.accounts.BindEmail(r.Context(), *session, req.Email)
	if err != nil {
		h.respondWithError(w, err, "Failed to bind email")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(res, "Verification email sent"))
}

// VerifyEmail handles GET /emails/verification/?token=
func (h *AccountHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.VerifyEmail(r.Context(), r.URL.Query().Get("token")); err != nil {
		h.respondWithError(w, err, "Failed to verify email")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "OK"))
}
