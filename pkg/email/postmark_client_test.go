package email_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/saasbilling/pkg/email"
)

func validConfig() email.Config {
	return email.Config{
		PostmarkServerToken:  "test-server-token",
		PostmarkAccountToken: "test-account-token",
		SenderEmail:          "billing@example.com",
		SupportEmail:         "support@example.com",
		ProductName:          "Acme",
	}
}

func TestNewPostmarkClient(t *testing.T) {
	t.Parallel()

	client, err := email.NewPostmarkClient(validConfig())
	require.NoError(t, err)
	assert.NotNil(t, client)

	tests := []struct {
		name   string
		mutate func(*email.Config)
		msg    string
	}{
		{"empty server token", func(c *email.Config) { c.PostmarkServerToken = "" }, "PostmarkServerToken is required"},
		{"empty account token", func(c *email.Config) { c.PostmarkAccountToken = "" }, "PostmarkAccountToken is required"},
		{"missing sender", func(c *email.Config) { c.SenderEmail = "" }, "SenderEmail is required"},
		{"invalid sender", func(c *email.Config) { c.SenderEmail = "billing" }, "SenderEmail must be a valid email address"},
		{"missing support", func(c *email.Config) { c.SupportEmail = "" }, "SupportEmail is required"},
		{"invalid support", func(c *email.Config) { c.SupportEmail = "support@" }, "SupportEmail must be a valid email address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(&cfg)
			client, err := email.NewPostmarkClient(cfg)
			assert.Nil(t, client)
			require.ErrorIs(t, err, email.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestPostmarkClient_RejectsInvalidParams(t *testing.T) {
	t.Parallel()

	client, err := email.NewPostmarkClient(validConfig())
	require.NoError(t, err)

	tests := []struct {
		name   string
		params email.SendEmailParams
		msg    string
	}{
		{"missing recipient", email.SendEmailParams{Subject: "s", BodyHTML: "<p>b</p>"}, "SendTo is required"},
		{"invalid recipient", email.SendEmailParams{SendTo: "nope", Subject: "s", BodyHTML: "<p>b</p>"}, "SendTo must be a valid email address"},
		{"missing subject", email.SendEmailParams{SendTo: "u@example.com", BodyHTML: "<p>b</p>"}, "Subject is required"},
		{"missing body", email.SendEmailParams{SendTo: "u@example.com", Subject: "s"}, "BodyHTML is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := client.SendEmail(context.Background(), tt.params)
			require.ErrorIs(t, err, email.ErrInvalidParams)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestConfig_Enabled(t *testing.T) {
	t.Parallel()

	assert.True(t, validConfig().Enabled())
	assert.False(t, email.Config{PostmarkServerToken: "x"}.Enabled())
}
