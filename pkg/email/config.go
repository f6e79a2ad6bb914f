package email

// Config holds the mail settings. The Postmark tokens may stay empty in
// development, where DevSender writes receipts to disk instead.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL" envDefault:"billing@localhost.dev"`
	SupportEmail         string `env:"SUPPORT_EMAIL" envDefault:"support@localhost.dev"`
	DevDir               string `env:"EMAIL_DEV_DIR" envDefault:"./tmp/emails"`
	ProductName          string `env:"EMAIL_PRODUCT_NAME" envDefault:"SaaS Billing"`
}

// Enabled reports whether Postmark credentials are present.
func (c Config) Enabled() bool {
	return c.PostmarkServerToken != "" && c.PostmarkAccountToken != ""
}
