package billing

import (
	"net/http"
	"time"

	"github.com/dmitrymomot/saasbilling/pkg/billing"
)

type moneyView struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Display  string `json:"display"`
}

func newMoneyView(m billing.Money) moneyView {
	return moneyView{Amount: m.Amount, Currency: m.Currency, Display: m.String()}
}

type limitsView struct {
	APICalls    int64 `json:"apiCalls"`
	StorageGB   int64 `json:"storageGb"`
	BandwidthGB int64 `json:"bandwidthGb"`
	MaxUsers    int64 `json:"maxUsers"`
}

type planView struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Tier            string     `json:"tier"`
	Price           moneyView  `json:"price"`
	Interval        string     `json:"interval"`
	Features        []string   `json:"features"`
	Limits          limitsView `json:"limits"`
	IncludedCredits int64      `json:"includedCredits"`
}

func newPlanView(p billing.Plan) planView {
	features := p.Features
	if features == nil {
		features = []string{}
	}
	return planView{
		ID:       p.ID,
		Name:     p.Name,
		Tier:     string(p.Tier),
		Price:    newMoneyView(p.Price),
		Interval: string(p.Interval),
		Features: features,
		Limits: limitsView{
			APICalls:    p.Limits.APICalls,
			StorageGB:   p.Limits.StorageGB,
			BandwidthGB: p.Limits.BandwidthGB,
			MaxUsers:    p.Limits.MaxUsers,
		},
		IncludedCredits: p.IncludedCredits,
	}
}

type packView struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Credits int64     `json:"credits"`
	Price   moneyView `json:"price"`
}

func (h *Handler) listPlans(w http.ResponseWriter, _ *http.Request) {
	plans := h.Catalog.ListPlans()
	packs := h.Catalog.ListPacks()

	resp := struct {
		Plans []planView `json:"plans"`
		Packs []packView `json:"packs"`
	}{
		Plans: make([]planView, 0, len(plans)),
		Packs: make([]packView, 0, len(packs)),
	}
	for _, p := range plans {
		resp.Plans = append(resp.Plans, newPlanView(p))
	}
	for _, p := range packs {
		resp.Packs = append(resp.Packs, packView{ID: p.ID, Name: p.Name, Credits: p.Credits, Price: newMoneyView(p.Price)})
	}
	writeJSON(w, http.StatusOK, resp)
}

type subscriptionView struct {
	UserID            string    `json:"userId"`
	Status            string    `json:"status"`
	Plan              planView  `json:"plan"`
	PeriodStart       time.Time `json:"periodStart,omitzero"`
	PeriodEnd         time.Time `json:"periodEnd,omitzero"`
	CancelAtPeriodEnd bool      `json:"cancelAtPeriodEnd"`
	HasCustomer       bool      `json:"hasCustomer"`
}

func (h *Handler) subscription(w http.ResponseWriter, r *http.Request) {
	userID, err := h.resolveUser(r, r.URL.Query().Get("userId"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	sub, err := h.Subscriptions.Get(r.Context(), userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	plan, err := h.Catalog.GetPlan(sub.PlanID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionView{
		UserID:            sub.UserID,
		Status:            string(sub.Status),
		Plan:              newPlanView(plan),
		PeriodStart:       sub.PeriodStart,
		PeriodEnd:         sub.PeriodEnd,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		HasCustomer:       sub.CustomerRef != "",
	})
}

type ledgerEntryView struct {
	ID        string    `json:"id"`
	Delta     int64     `json:"delta"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *Handler) credits(w http.ResponseWriter, r *http.Request) {
	userID, err := h.resolveUser(r, r.URL.Query().Get("userId"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	balance, err := h.Ledger.Balance(r.Context(), userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	entries, err := h.Ledger.Entries(r.Context(), userID, limitParam(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	views := make([]ledgerEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, ledgerEntryView{ID: e.ID, Delta: e.Delta, Reason: string(e.Reason), CreatedAt: e.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance, "entries": views})
}

type paymentView struct {
	ID          string    `json:"id"`
	Amount      moneyView `json:"amount"`
	Status      string    `json:"status"`
	Description string    `json:"description"`
	OccurredAt  time.Time `json:"occurredAt"`
	InvoiceRef  string    `json:"invoiceRef,omitempty"`
}

func (h *Handler) payments(w http.ResponseWriter, r *http.Request) {
	userID, err := h.resolveUser(r, r.URL.Query().Get("userId"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	records, err := h.Payments.List(r.Context(), userID, limitParam(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	views := make([]paymentView, 0, len(records))
	for _, p := range records {
		views = append(views, paymentView{
			ID:          p.ID,
			Amount:      newMoneyView(p.Amount),
			Status:      string(p.Status),
			Description: p.Description,
			OccurredAt:  p.OccurredAt,
			InvoiceRef:  p.InvoiceRef,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": views})
}
