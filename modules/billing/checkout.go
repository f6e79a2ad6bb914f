package billing

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrymomot/saasbilling/pkg/billing"
	"github.com/dmitrymomot/saasbilling/pkg/validator"
)

type checkoutRequest struct {
	UserID     string `json:"userId"`
	PlanID     string `json:"planId"`
	PackID     string `json:"packId"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

type checkoutResponse struct {
	SessionID string    `json:"sessionId"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

func (h *Handler) validateCheckout(req checkoutRequest, idField, id string) error {
	return validator.Apply(
		validator.Required(idField, id),
		validator.Identifier(idField, id),
		validator.MaxLen(idField, id, 128),
		validator.MaxLen("userId", req.UserID, 255),
		validator.RedirectURL("successUrl", req.SuccessURL, h.allowedHosts),
		validator.RedirectURL("cancelUrl", req.CancelURL, h.allowedHosts),
	)
}

// defaultRedirects fills empty success and cancel URLs from the request Origin,
// falling back to the configured base URL.
func (h *Handler) defaultRedirects(r *http.Request, req *checkoutRequest) {
	if req.SuccessURL != "" && req.CancelURL != "" {
		return
	}
	origin := h.redirectOrigin(r)
	if origin == "" {
		return
	}
	if req.SuccessURL == "" {
		req.SuccessURL = origin + "/dashboard?success=true"
	}
	if req.CancelURL == "" {
		req.CancelURL = origin + "/billing?canceled=true"
	}
}

func (h *Handler) redirectOrigin(r *http.Request) string {
	if o := r.Header.Get("Origin"); o != "" && validator.RedirectURL("origin", o, h.allowedHosts).Check() {
		if u, err := url.Parse(o); err == nil {
			return u.Scheme + "://" + u.Host
		}
	}
	return strings.TrimRight(h.baseURL, "/")
}

func (h *Handler) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	userID, err := h.resolveUser(r, req.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.validateCheckout(req, "planId", req.PlanID); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.defaultRedirects(r, &req)

	sess, err := h.Checkout.CreateSession(r.Context(), billing.CheckoutParams{
		UserID:     userID,
		PlanID:     req.PlanID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{SessionID: sess.SessionRef, URL: sess.RedirectURL, ExpiresAt: sess.ExpiresAt})
}

func (h *Handler) createCreditsSession(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	userID, err := h.resolveUser(r, req.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.validateCheckout(req, "packId", req.PackID); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.defaultRedirects(r, &req)

	sess, err := h.Checkout.CreateCreditsSession(r.Context(), billing.CreditsCheckoutParams{
		UserID:     userID,
		PackID:     req.PackID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{SessionID: sess.SessionRef, URL: sess.RedirectURL, ExpiresAt: sess.ExpiresAt})
}

type portalRequest struct {
	UserID    string `json:"userId"`
	ReturnURL string `json:"returnUrl"`
}

func (h *Handler) portal(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	userID, err := h.resolveUser(r, req.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := validator.Apply(validator.RedirectURL("returnUrl", req.ReturnURL, h.allowedHosts)); err != nil {
		h.respondError(w, r, err)
		return
	}

	link, err := h.Checkout.PortalLink(r.Context(), userID, req.ReturnURL)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": link.URL})
}
