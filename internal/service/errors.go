package service

import (
	"errors"

	"verification-service/internal/model"
	"verification-service/internal/token"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidImageCode    = errors.New("image code invalid or expired")
	ErrMismatchedImageCode = errors.New("image code incorrect")
	ErrInvalidSMSCode      = errors.New("sms code invalid or expired")
	ErrMismatchedSMSCode   = errors.New("sms code incorrect")
	ErrRateLimited         = errors.New("too many requests, try again later")
	ErrPasswordMismatch    = errors.New("passwords do not match")
	ErrUnauthorized        = errors.New("authentication required")
	ErrInvalidCredentials  = errors.New("account or password incorrect")
	ErrOAuthUnavailable    = errors.New("oauth provider unavailable")

	// Aliased so errors.Is matches at either layer.
	ErrInvalidToken    = token.ErrInvalidToken
	ErrAccountNotFound = model.ErrAccountNotFound
	ErrAccountExists   = model.ErrAccountExists
	ErrOpenIDBound     = model.ErrOpenIDBound
)
