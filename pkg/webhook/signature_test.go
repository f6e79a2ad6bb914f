package webhook_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/saasbilling/pkg/webhook"
)

func TestSign(t *testing.T) {
	t.Parallel()

	at := time.Unix(1_700_000_000, 0)
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)

	sig, err := webhook.Sign("whsec_test", payload, at)
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte("whsec_test"))
	mac.Write([]byte("1700000000." + string(payload)))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig.Signature)
	assert.Equal(t, at.Unix(), sig.Timestamp)
	assert.NotEmpty(t, sig.ID)

	h := sig.HTTPHeader()
	assert.Equal(t, sig.Signature, h.Get(webhook.HeaderSignature))
	assert.Equal(t, "1700000000", h.Get(webhook.HeaderTimestamp))
	assert.Equal(t, sig.ID, h.Get(webhook.HeaderID))

	t.Run("empty secret", func(t *testing.T) {
		t.Parallel()
		_, err := webhook.Sign("", payload, at)
		assert.ErrorIs(t, err, webhook.ErrMissingSecret)
	})

	t.Run("empty payload", func(t *testing.T) {
		t.Parallel()
		_, err := webhook.Sign("secret", nil, at)
		assert.ErrorIs(t, err, webhook.ErrEmptyPayload)
	})
}

func TestVerify(t *testing.T) {
	t.Parallel()

	const secret = "whsec_test"
	now := time.Unix(1_700_000_000, 0)
	payload := []byte(`{"id":"evt_1"}`)

	signed := func(t *testing.T, at time.Time) http.Header {
		t.Helper()
		sig, err := webhook.Sign(secret, payload, at)
		require.NoError(t, err)
		return sig.HTTPHeader()
	}

	tests := []struct {
		name    string
		secret  string
		payload []byte
		header  func(t *testing.T) http.Header
		wantErr error
	}{
		{
			name:    "valid",
			secret:  secret,
			payload: payload,
			header:  func(t *testing.T) http.Header { return signed(t, now) },
		},
		{
			name:    "tampered payload",
			secret:  secret,
			payload: []byte(`{"id":"evt_2"}`),
			header:  func(t *testing.T) http.Header { return signed(t, now) },
			wantErr: webhook.ErrSignatureInvalid,
		},
		{
			name:    "wrong secret",
			secret:  "other",
			payload: payload,
			header:  func(t *testing.T) http.Header { return signed(t, now) },
			wantErr: webhook.ErrSignatureInvalid,
		},
		{
			name:    "too old",
			secret:  secret,
			payload: payload,
			header:  func(t *testing.T) http.Header { return signed(t, now.Add(-10*time.Minute)) },
			wantErr: webhook.ErrSignatureExpired,
		},
		{
			name:    "from the future",
			secret:  secret,
			payload: payload,
			header:  func(t *testing.T) http.Header { return signed(t, now.Add(5*time.Minute)) },
			wantErr: webhook.ErrSignatureExpired,
		},
		{
			name:    "missing headers",
			secret:  secret,
			payload: payload,
			header:  func(t *testing.T) http.Header { return http.Header{} },
			wantErr: webhook.ErrMissingHeaders,
		},
		{
			name:    "bad timestamp",
			secret:  secret,
			payload: payload,
			header: func(t *testing.T) http.Header {
				h := signed(t, now)
				h.Set(webhook.HeaderTimestamp, "yesterday")
				return h
			},
			wantErr: webhook.ErrInvalidTimestamp,
		},
		{
			name:    "empty payload",
			secret:  secret,
			payload: nil,
			header:  func(t *testing.T) http.Header { return signed(t, now) },
			wantErr: webhook.ErrEmptyPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := webhook.Verify(tt.secret, tt.payload, tt.header(t), 5*time.Minute, now)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVerifyWithoutTolerance(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"id":"evt_old"}`)
	old := time.Unix(1_000_000_000, 0)
	sig, err := webhook.Sign("secret", payload, old)
	require.NoError(t, err)

	err = webhook.Verify("secret", payload, sig.HTTPHeader(), 0, time.Now())
	assert.NoError(t, err)

	h := http.Header{}
	h.Set(webhook.HeaderSignature, sig.Signature)
	h.Set(webhook.HeaderTimestamp, strconv.FormatInt(old.Unix()+1, 10))
	assert.ErrorIs(t, webhook.Verify("secret", payload, h, 0, time.Now()), webhook.ErrSignatureInvalid)
}
