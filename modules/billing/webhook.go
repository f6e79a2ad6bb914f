package billing

import (
	"errors"
	"io"
	"net/http"

	"github.com/dmitrymomot/saasbilling/pkg/billing"
)

type webhookResponse struct {
	Received bool            `json:"received"`
	Outcome  billing.Outcome `json:"outcome"`
}

// webhook hands the raw, undecoded body to the reconciler. Providers redeliver
// on any non-2xx response.
func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = ErrBodyTooLarge
		}
		h.respondError(w, r, err)
		return
	}

	outcome, err := h.Reconciler.HandleWebhook(r.Context(), payload, r.Header)
	if err != nil {
		status, detail := webhookStatusFor(err)
		h.fail(w, r, status, detail, err)
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{Received: true, Outcome: outcome})
}
