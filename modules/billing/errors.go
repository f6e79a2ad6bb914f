package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dmitrymomot/saasbilling/pkg/billing"
	"github.com/dmitrymomot/saasbilling/pkg/jwt"
	"github.com/dmitrymomot/saasbilling/pkg/logger"
	"github.com/dmitrymomot/saasbilling/pkg/validator"
)

var (
	ErrForbidden     = errors.New("token subject does not match the requested user")
	ErrMissingUserID = errors.Join(billing.ErrInvalidRequest, errors.New("user id is required"))
	ErrInvalidBody   = errors.Join(billing.ErrInvalidRequest, errors.New("request body must be a JSON object"))
	ErrBodyTooLarge  = errors.New("request body too large")
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("checkout rate limit exceeded")
)

// statusFor maps service errors to HTTP responses. Server-side failures never
// leak their message to the client.
func statusFor(err error) (int, ErrorDetail) {
	if ve := validator.ExtractValidationErrors(err); ve != nil {
		return http.StatusBadRequest, ErrorDetail{Code: "validation_error", Message: "request validation failed", Details: ve.Map()}
	}

	switch {
	case errors.Is(err, jwt.ErrMissingToken), errors.Is(err, jwt.ErrInvalidToken), errors.Is(err, jwt.ErrExpiredToken):
		return http.StatusUnauthorized, ErrorDetail{Code: "unauthorized", Message: "a valid bearer token is required"}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, ErrorDetail{Code: "forbidden", Message: err.Error()}
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge, ErrorDetail{Code: "body_too_large", Message: err.Error()}
	case errors.Is(err, billing.ErrInvalidSignature):
		return http.StatusBadRequest, ErrorDetail{Code: "invalid_signature", Message: "webhook signature verification failed"}
	case errors.Is(err, billing.ErrMalformedEvent):
		return http.StatusBadRequest, ErrorDetail{Code: "malformed_event", Message: "malformed webhook event"}
	case errors.Is(err, billing.ErrUnknownPlan), errors.Is(err, billing.ErrUnknownPack):
		return http.StatusBadRequest, ErrorDetail{Code: "unknown_price", Message: clientMessage(err)}
	case errors.Is(err, billing.ErrPortalUnavailable):
		return http.StatusConflict, ErrorDetail{Code: "portal_unavailable", Message: err.Error()}
	case errors.Is(err, billing.ErrInvalidRequest):
		return http.StatusBadRequest, ErrorDetail{Code: "invalid_request", Message: clientMessage(err)}
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, ErrorDetail{Code: "not_found", Message: err.Error()}
	case errors.Is(err, billing.ErrProviderUnavailable), errors.Is(err, billing.ErrLockUnavailable):
		return http.StatusServiceUnavailable, ErrorDetail{Code: "unavailable", Message: "billing provider is temporarily unavailable"}
	}
	return http.StatusInternalServerError, ErrorDetail{Code: "internal_error", Message: http.StatusText(http.StatusInternalServerError)}
}

// webhookStatusFor reports prices missing from the catalog as 422; everything else follows statusFor.
func webhookStatusFor(err error) (int, ErrorDetail) {
	if errors.Is(err, billing.ErrUnknownPlan) || errors.Is(err, billing.ErrUnknownPack) {
		return http.StatusUnprocessableEntity, ErrorDetail{Code: "unknown_price", Message: clientMessage(err)}
	}
	return statusFor(err)
}

// clientMessage flattens joined errors onto one line.
func clientMessage(err error) string {
	return strings.ReplaceAll(err.Error(), "\n", ": ")
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, status int, detail ErrorDetail, err error) {
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.log.Log(r.Context(), level, "billing request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		logger.Error(err),
	)
	writeError(w, status, detail)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := statusFor(err)
	h.fail(w, r, status, detail, err)
}
