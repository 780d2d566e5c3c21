package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"verification-service/internal/service"
)

// VerificationHandler serves image captchas and SMS code requests.
type VerificationHandler struct {
	responder
	verification *service.VerificationService
}

func NewVerificationHandler(verification *service.VerificationService, logger *zap.Logger) *VerificationHandler {
	return &VerificationHandler{
		responder:    responder{logger: logger},
		verification: verification,
	}
}

func (h *VerificationHandler) RegisterRoutes(r chi.Router) {
	r.Get("/image_codes/{image_code_id}/", h.ImageCode)
	r.Get("/sms_codes/{mobile}/", h.SendSMSCode)
	r.Get("/sms_codes/", h.SendSMSCodeByToken)
}

// ImageCode handles GET /image_codes/{image_code_id}/
func (h *VerificationHandler) ImageCode(w http.ResponseWriter, r *http.Request) {
	png, err := h.verification.IssueImageCode(r.Context(), chi.URLParam(r, "image_code_id"))
	if err != nil {
		h.respondWithError(w, err, "Failed to generate image code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		h.logger.Warn("Failed to write image code", zap.Error(err))
	}
}

// SendSMSCode handles GET /sms_codes/{mobile}/?image_code_id=&text=
func (h *VerificationHandler) SendSMSCode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	err := h.verification.SendSMSCode(r.Context(), service.SendSMSCodeRequest{
		Mobile:      chi.URLParam(r, "mobile"),
		ImageCodeID: q.Get("image_code_id"),
		ImageCode:   q.Get("text"),
	})
	if err != nil {
		h.respondWithError(w, err, "Failed to send sms code")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "OK"))
}

// SendSMSCodeByToken handles GET /sms_codes/?access_token=
func (h *VerificationHandler) SendSMSCodeByToken(w http.ResponseWriter, r *http.Request) {
	if err := h.verification.SendSMSCodeByToken(r.Context(), r.URL.Query().Get("access_token")); err != nil {
		h.respondWithError(w, err, "Failed to send sms code")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "OK"))
}
