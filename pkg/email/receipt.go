package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/dmitrymomot/saasbilling/pkg/billing"
)

const receiptTag = "billing-receipt"

var receiptTemplate = template.Must(template.New("receipt").Parse(`<!DOCTYPE html>
<html>
<body>
<h1>Thanks for your payment</h1>
<p>We received your payment to {{.Product}}.</p>
<table>
<tr><td>Item</td><td>{{.Description}}</td></tr>
<tr><td>Amount</td><td>{{.Amount}}</td></tr>
<tr><td>Date</td><td>{{.Date}}</td></tr>
{{if .Invoice}}<tr><td>Invoice</td><td>{{.Invoice}}</td></tr>{{end}}
</table>
<p>Questions? Reply to this email or write to {{.Support}}.</p>
</body>
</html>
`))

type receiptData struct {
	Product     string
	Description string
	Amount      string
	Date        string
	Invoice     string
	Support     string
}

// ReceiptNotifier emails a receipt for every completed payment.
type ReceiptNotifier struct {
	sender  EmailSender
	product string
	support string
}

var _ billing.Notifier = (*ReceiptNotifier)(nil)

func NewReceiptNotifier(sender EmailSender, cfg Config) *ReceiptNotifier {
	return &ReceiptNotifier{sender: sender, product: cfg.ProductName, support: cfg.SupportEmail}
}

func (n *ReceiptNotifier) PaymentCompleted(ctx context.Context, user billing.User, payment billing.PaymentRecord) error {
	if user.Email == "" {
		return nil
	}

	description := payment.Description
	if description == "" {
		description = "Payment"
	}

	var body bytes.Buffer
	err := receiptTemplate.Execute(&body, receiptData{
		Product:     n.product,
		Description: description,
		Amount:      payment.Amount.String(),
		Date:        payment.OccurredAt.UTC().Format("January 2, 2006"),
		Invoice:     payment.InvoiceRef,
		Support:     n.support,
	})
	if err != nil {
		return fmt.Errorf("render receipt: %w", err)
	}

	return n.sender.SendEmail(ctx, SendEmailParams{
		SendTo:   user.Email,
		Subject:  fmt.Sprintf("Your %s receipt", n.product),
		BodyHTML: body.String(),
		Tag:      receiptTag,
	})
}
