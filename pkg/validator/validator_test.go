package validator_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/saasbilling/pkg/validator"
)

func TestApply(t *testing.T) {
	t.Parallel()

	require.NoError(t, validator.Apply(
		validator.Required("planId", "plan-pro"),
		validator.Identifier("planId", "plan-pro"),
	))

	err := validator.Apply(
		validator.Required("planId", "  "),
		validator.Required("userId", "u1"),
		validator.MaxLen("userId", strings.Repeat("x", 300), 255),
		validator.Identifier("packId", "credits 1000"),
	)
	require.Error(t, err)
	assert.True(t, validator.IsValidationError(err))

	ve := validator.ExtractValidationErrors(err)
	require.Len(t, ve, 3)
	assert.True(t, ve.Has("planId"))
	assert.False(t, ve.Has("successUrl"))
	assert.Equal(t, map[string][]string{
		"planId": {"is required"},
		"userId": {"must be at most 255 characters"},
		"packId": {"may contain only letters, digits and _-:."},
	}, ve.Map())
	assert.Contains(t, err.Error(), "planId: is required")
}

func TestExtractValidationErrors_Wrapped(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("checkout: %w", validator.Apply(validator.Required("planId", "")))
	assert.Len(t, validator.ExtractValidationErrors(err), 1)
	assert.Nil(t, validator.ExtractValidationErrors(errors.New("other")))
	assert.False(t, validator.IsValidationError(nil))
}

func TestRedirectURL(t *testing.T) {
	t.Parallel()

	hosts := []string{"app.example.com", "localhost"}
	tests := []struct {
		value string
		hosts []string
		ok    bool
	}{
		{"", hosts, true},
		{"https://app.example.com/billing/success", hosts, true},
		{"http://localhost:8080/account", hosts, true},
		{"https://evil.example.net/phish", hosts, false},
		{"https://evil.example.net/phish", nil, true},
		{"javascript:alert(1)", nil, false},
		{"/relative/path", nil, false},
		{"ftp://app.example.com/file", hosts, false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Parallel()
			err := validator.Apply(validator.RedirectURL("successUrl", tt.value, tt.hosts))
			assert.Equal(t, tt.ok, err == nil)
		})
	}
}
