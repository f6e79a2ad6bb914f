package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/PaddleHQ/paddle-go-sdk/v4/pkg/paddleerr"
)

// PaddleConfig holds configuration for the Paddle billing provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	// APIBaseURL overrides the environment's API host.
	APIBaseURL string `env:"PADDLE_API_BASE_URL"`
}

// PaddleProvider implements BillingProvider for Paddle Billing.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

// NewPaddleProvider creates a new Paddle billing provider.
func NewPaddleProvider(config PaddleConfig) (*PaddleProvider, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	opts := []paddle.Option{paddle.WithClient(paddleStatusDoer{client: &http.Client{Timeout: 30 * time.Second}})}
	if config.APIBaseURL != "" {
		opts = append(opts, paddle.WithBaseURL(config.APIBaseURL))
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey, opts...)
	case "production", "":
		client, err = paddle.New(config.APIKey, opts...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEnvironment, config.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
	}, nil
}

func (p *PaddleProvider) Name() string { return "paddle" }

func (p *PaddleProvider) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	customer, err := p.client.CustomersClient.CreateCustomer(ctx, &paddle.CreateCustomerRequest{
		Email:      req.Email,
		CustomData: paddle.CustomData{MetaUserID: req.UserID},
	})
	if err != nil {
		return "", classifyPaddleError(err)
	}
	return customer.ID, nil
}

// CreateCheckoutSession creates a Paddle transaction; its checkout URL is the hosted payment page.
func (p *PaddleProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})

	customData := make(paddle.CustomData, len(req.Metadata))
	for k, v := range req.Metadata {
		customData[k] = v
	}

	txReq := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomerID: paddle.PtrTo(req.CustomerRef),
		CustomData: customData,
	}
	if req.SuccessURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.SuccessURL),
		}
	}

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, txReq)
	if err != nil {
		return nil, classifyPaddleError(err)
	}
	if transaction.Checkout == nil || transaction.Checkout.URL == nil || *transaction.Checkout.URL == "" {
		return nil, errors.Join(ErrProviderRejected, ErrNoCheckoutURL)
	}

	return &CheckoutSession{
		ID:        transaction.ID,
		URL:       *transaction.Checkout.URL,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

func (p *PaddleProvider) CreatePortalSession(ctx context.Context, customerRef, _ string) (*PortalLink, error) {
	session, err := p.client.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx, &paddle.CreateCustomerPortalSessionRequest{
		CustomerID: customerRef,
	})
	if err != nil {
		return nil, classifyPaddleError(err)
	}
	if session.URLs.General.Overview == "" {
		return nil, errors.Join(ErrProviderRejected, ErrNoPortalURL)
	}
	return &PortalLink{
		URL:       session.URLs.General.Overview,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

// ParseWebhook verifies the Paddle-Signature header over the raw payload before decoding it.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set("Paddle-Signature", header.Get("Paddle-Signature"))

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}
	if !valid {
		return nil, ErrInvalidSignature
	}
	return parsePaddleNotification(payload)
}

type paddleNotification struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type paddleBillingPeriod struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

type paddleSubscription struct {
	ID                   string               `json:"id"`
	Status               string               `json:"status"`
	CustomerID           string               `json:"customer_id"`
	CustomData           map[string]any       `json:"custom_data"`
	CurrentBillingPeriod *paddleBillingPeriod `json:"current_billing_period"`
	ScheduledChange      *struct {
		Action string `json:"action"`
	} `json:"scheduled_change"`
	Items []struct {
		Price struct {
			ID string `json:"id"`
		} `json:"price"`
	} `json:"items"`
}

type paddleTransaction struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	CustomerID     string         `json:"customer_id"`
	SubscriptionID string         `json:"subscription_id"`
	InvoiceID      string         `json:"invoice_id"`
	CurrencyCode   string         `json:"currency_code"`
	CustomData     map[string]any `json:"custom_data"`
	Details        struct {
		Totals struct {
			GrandTotal string `json:"grand_total"`
		} `json:"totals"`
	} `json:"details"`
	Items []struct {
		PriceID string `json:"price_id"`
	} `json:"items"`
}

var paddleSubscriptionEvents = map[string]EventKind{
	"subscription.created":   EventSubscriptionUpdated,
	"subscription.activated": EventSubscriptionUpdated,
	"subscription.updated":   EventSubscriptionUpdated,
	"subscription.resumed":   EventSubscriptionUpdated,
	"subscription.past_due":  EventSubscriptionUpdated,
	"subscription.paused":    EventSubscriptionUpdated,
	"subscription.trialing":  EventSubscriptionUpdated,
	"subscription.canceled":  EventSubscriptionDeleted,
}

func parsePaddleNotification(payload []byte) (*Event, error) {
	var n paddleNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, errors.Join(ErrMalformedEvent, err)
	}
	if n.EventID == "" || n.EventType == "" {
		return nil, fmt.Errorf("%w: paddle notification without id or type", ErrMalformedEvent)
	}

	event := &Event{
		ID:           n.EventID,
		Kind:         EventUnknown,
		ProviderType: n.EventType,
		Provider:     "paddle",
		OccurredAt:   n.OccurredAt,
	}

	if kind, ok := paddleSubscriptionEvents[n.EventType]; ok {
		var sub paddleSubscription
		if err := json.Unmarshal(n.Data, &sub); err != nil {
			return nil, errors.Join(ErrMalformedEvent, err)
		}
		event.Kind = kind
		event.UserID = customDataString(sub.CustomData, MetaUserID)
		event.CustomerRef = sub.CustomerID
		data := &SubscriptionData{
			SubscriptionRef:   sub.ID,
			Status:            ProviderStatus(sub.Status),
			CancelAtPeriodEnd: sub.ScheduledChange != nil && sub.ScheduledChange.Action == "cancel",
		}
		if len(sub.Items) > 0 {
			data.PriceID = sub.Items[0].Price.ID
		}
		if sub.CurrentBillingPeriod != nil {
			data.PeriodStart = sub.CurrentBillingPeriod.StartsAt
			data.PeriodEnd = sub.CurrentBillingPeriod.EndsAt
		}
		event.Subscription = data
		return event, nil
	}

	switch n.EventType {
	case "transaction.completed", "transaction.payment_failed", "transaction.past_due":
	default:
		return event, nil
	}

	var tx paddleTransaction
	if err := json.Unmarshal(n.Data, &tx); err != nil {
		return nil, errors.Join(ErrMalformedEvent, err)
	}
	event.UserID = customDataString(tx.CustomData, MetaUserID)
	event.CustomerRef = tx.CustomerID

	if n.EventType != "transaction.completed" {
		event.Kind = EventPaymentFailed
		event.Subscription = &SubscriptionData{SubscriptionRef: tx.SubscriptionID, Status: StatusPastDue}
		return event, nil
	}

	amount, err := strconv.ParseInt(tx.Details.Totals.GrandTotal, 10, 64)
	if err != nil && tx.Details.Totals.GrandTotal != "" {
		return nil, errors.Join(ErrMalformedEvent, err)
	}
	data := &CheckoutData{
		SessionRef:      tx.ID,
		SubscriptionRef: tx.SubscriptionID,
		Amount:          Money{Amount: amount, Currency: strings.ToUpper(tx.CurrencyCode)},
		Paid:            true,
		InvoiceRef:      tx.InvoiceID,
	}
	if len(tx.Items) > 0 {
		data.PriceID = tx.Items[0].PriceID
	}
	meta := make(map[string]string, len(tx.CustomData))
	for k := range tx.CustomData {
		meta[k] = customDataString(tx.CustomData, k)
	}
	checkoutMetadata(data, meta)

	event.Kind = EventCheckoutCompleted
	event.Checkout = data
	return event, nil
}

func customDataString(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func classifyPaddleError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrProviderUnavailable, err)
	}
	var apiErr *paddleerr.Error
	if errors.As(err, &apiErr) && paddleRetryable(apiErr) {
		return errors.Join(ErrProviderUnavailable, err)
	}
	var statusErr *paddleStatusError
	if errors.As(err, &statusErr) && retryableStatus(statusErr.StatusCode) {
		return errors.Join(ErrProviderUnavailable, err)
	}
	return errors.Join(ErrProviderRejected, err)
}

// paddleRetryable reports whether Paddle answered with a rate limit or a server-side failure.
func paddleRetryable(e *paddleerr.Error) bool {
	if retryableStatus(e.Status) || e.Type == paddleerr.ErrorTypeAPIError {
		return true
	}
	switch e.Code {
	case "too_many_requests", "internal_error", "bad_gateway", "service_unavailable", "temporarily_unavailable":
		return true
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// paddleStatusError carries the status of a 429 or 5xx response whose body is not a Paddle error document.
type paddleStatusError struct {
	StatusCode int
}

func (e *paddleStatusError) Error() string {
	return fmt.Sprintf("paddle: unexpected HTTP status %d", e.StatusCode)
}

// paddleStatusDoer surfaces non-JSON 429 and 5xx responses as *paddleStatusError.
type paddleStatusDoer struct {
	client *http.Client
}

func (d paddleStatusDoer) Do(req *http.Request) (*http.Response, error) {
	res, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	if retryableStatus(res.StatusCode) && !strings.Contains(res.Header.Get("Content-Type"), "application/json") {
		_ = res.Body.Close()
		return nil, &paddleStatusError{StatusCode: res.StatusCode}
	}
	return res, nil
}
