package billing

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/saasbilling/pkg/billing"
	"github.com/dmitrymomot/saasbilling/pkg/jwt"
	"github.com/dmitrymomot/saasbilling/pkg/ratelimiter"
)

const (
	maxWebhookBody = 1 << 20
	maxJSONBody    = 64 << 10
	defaultLimit   = 50
	maxLimit       = 200
)

// Services are the billing components the HTTP module exposes.
type Services struct {
	Catalog       *billing.Catalog
	Checkout      *billing.Checkout
	Subscriptions *billing.Subscriptions
	Ledger        *billing.Ledger
	Payments      *billing.Payments
	Reconciler    *billing.Reconciler
}

// Handler serves the billing HTTP API.
type Handler struct {
	Services

	log          *slog.Logger
	auth         *jwt.Service
	dev          *billing.DevProvider
	allowedHosts []string
	baseURL      string
	limiter      *ratelimiter.Bucket
}

type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithAuth requires a bearer token on user endpoints; the token subject is the user id.
func WithAuth(s *jwt.Service) Option {
	return func(h *Handler) { h.auth = s }
}

// WithDevProvider mounts the fake checkout and portal pages under /dev.
func WithDevProvider(p *billing.DevProvider) Option {
	return func(h *Handler) { h.dev = p }
}

// WithAllowedRedirectHosts limits success, cancel and return URLs to these hosts.
func WithAllowedRedirectHosts(hosts ...string) Option {
	return func(h *Handler) { h.allowedHosts = hosts }
}

// WithBaseURL sets the origin for default success and cancel URLs when the request has no usable Origin header.
func WithBaseURL(u string) Option {
	return func(h *Handler) { h.baseURL = u }
}

// WithCheckoutLimiter throttles session creation per user, or per client IP without auth.
func WithCheckoutLimiter(b *ratelimiter.Bucket) Option {
	return func(h *Handler) { h.limiter = b }
}

func NewHandler(svc Services, opts ...Option) *Handler {
	h := &Handler{Services: svc, log: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle returns the router, meant to be mounted at /billing.
//
//	r.Mount("/billing", billinghttp.NewHandler(services, opts...).Handle())
func (h *Handler) Handle() http.Handler {
	r := chi.NewRouter()

	r.Get("/plans", h.listPlans)
	r.Post("/webhook", h.webhook)

	r.Group(func(r chi.Router) {
		if h.auth != nil {
			r.Use(jwt.Middleware(h.auth, h.unauthorized))
		}
		r.Group(func(r chi.Router) {
			if h.limiter != nil {
				r.Use(ratelimiter.Middleware(h.limiter, limiterKey, h.rateLimited))
			}
			r.Post("/checkout-session", h.createCheckoutSession)
			r.Post("/credits/checkout-session", h.createCreditsSession)
			r.Post("/portal", h.portal)
		})
		r.Get("/subscription", h.subscription)
		r.Get("/credits", h.credits)
		r.Get("/payments", h.payments)
	})

	if h.dev != nil {
		r.Route("/dev", func(r chi.Router) {
			r.Get("/checkout/{sessionID}", h.devCheckoutPage)
			r.Post("/checkout/{sessionID}/complete", h.devCompleteCheckout)
			r.Get("/portal/{customerRef}", h.devPortal)
		})
	}
	return r
}

func (h *Handler) unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	h.respondError(w, r, err)
}

func limiterKey(r *http.Request) string {
	if userID, ok := jwt.UserIDFromContext(r.Context()); ok {
		return "user:" + userID
	}
	return ratelimiter.RemoteIP(r)
}

func (h *Handler) rateLimited(w http.ResponseWriter, r *http.Request, _ *ratelimiter.Result, err error) {
	if err != nil {
		h.fail(w, r, http.StatusServiceUnavailable, ErrorDetail{Code: "unavailable", Message: "rate limiter unavailable"}, err)
		return
	}
	h.fail(w, r, http.StatusTooManyRequests, ErrorDetail{Code: "rate_limited", Message: "too many checkout requests"}, ErrRateLimited)
}

// resolveUser returns the user a request acts for. With auth, the token subject
// wins and a different claimed id is forbidden; without auth, the claimed id is required.
func (h *Handler) resolveUser(r *http.Request, claimed string) (string, error) {
	if h.auth == nil {
		if claimed == "" {
			return "", ErrMissingUserID
		}
		return claimed, nil
	}
	subject, ok := jwt.UserIDFromContext(r.Context())
	if !ok {
		return "", jwt.ErrMissingToken
	}
	if claimed != "" && claimed != subject {
		return "", ErrForbidden
	}
	return subject, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return ErrBodyTooLarge
		}
		if errors.Is(err, io.EOF) {
			return ErrInvalidBody
		}
		return errors.Join(ErrInvalidBody, err)
	}
	return nil
}

// limitParam reads ?limit=, defaulting to 50 and capping at 200.
func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultLimit
	}
	return min(n, maxLimit)
}
