package billing

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/saasbilling/pkg/billing"
	"github.com/dmitrymomot/saasbilling/pkg/logger"
)

var devCheckoutTemplate = template.Must(template.New("dev-checkout").Parse(`<!DOCTYPE html>
<html>
<head><title>Dev checkout</title></head>
<body>
<h1>Dev checkout</h1>
<p>Session {{.SessionID}} for customer {{.CustomerRef}}</p>
<p>Price {{.PriceID}} ({{.Mode}})</p>
<form method="post" action="{{.CompleteURL}}"><button type="submit">Pay</button></form>
{{if .CancelURL}}<p><a href="{{.CancelURL}}">Cancel</a></p>{{end}}
</body>
</html>
`))

func (h *Handler) devCheckoutPage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	req, ok := h.dev.Pending(sessionID)
	if !ok {
		h.respondError(w, r, fmt.Errorf("%w: dev session %q", ErrNotFound, sessionID))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := devCheckoutTemplate.Execute(w, map[string]string{
		"SessionID":   sessionID,
		"CustomerRef": req.CustomerRef,
		"PriceID":     req.PriceID,
		"Mode":        string(req.Mode),
		"CompleteURL": r.URL.Path + "/complete",
		"CancelURL":   req.CancelURL,
	})
	if err != nil {
		h.log.ErrorContext(r.Context(), "failed to render dev checkout", logger.Error(err))
	}
}

// devCompleteCheckout pays a dev session and pushes its webhooks through the
// reconciler, the way the real provider would call /webhook.
func (h *Handler) devCompleteCheckout(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	req, ok := h.dev.Pending(sessionID)
	if !ok {
		h.respondError(w, r, fmt.Errorf("%w: dev session %q", ErrNotFound, sessionID))
		return
	}
	deliveries, err := h.dev.Complete(sessionID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	outcomes, err := h.deliver(r.Context(), deliveries)
	if err != nil {
		status, detail := webhookStatusFor(err)
		h.fail(w, r, status, detail, err)
		return
	}

	if r.Header.Get("Content-Type") == "application/x-www-form-urlencoded" && req.SuccessURL != "" {
		http.Redirect(w, r, req.SuccessURL, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": sessionID, "outcomes": outcomes})
}

func (h *Handler) deliver(ctx context.Context, deliveries []billing.Delivery) ([]billing.Outcome, error) {
	outcomes := make([]billing.Outcome, 0, len(deliveries))
	for _, d := range deliveries {
		outcome, err := h.Reconciler.HandleWebhook(ctx, d.Payload, d.Header)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (h *Handler) devPortal(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"customerRef": chi.URLParam(r, "customerRef")}
	if ret := r.URL.Query().Get("return_url"); ret != "" {
		if u, err := url.Parse(ret); err == nil && u.IsAbs() {
			resp["returnUrl"] = u.String()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
