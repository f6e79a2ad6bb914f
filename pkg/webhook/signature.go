package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderID        = "X-Webhook-ID"
)

// maxFutureSkew is how far ahead of the receiver's clock a timestamp may be.
const maxFutureSkew = time.Minute

// SignatureHeaders is the signature material of one delivery.
type SignatureHeaders struct {
	Signature string
	Timestamp int64
	ID        string
}

// HTTPHeader returns the headers ready to be set on a request.
func (s SignatureHeaders) HTTPHeader() http.Header {
	h := make(http.Header, 3)
	h.Set(HeaderSignature, s.Signature)
	h.Set(HeaderTimestamp, strconv.FormatInt(s.Timestamp, 10))
	if s.ID != "" {
		h.Set(HeaderID, s.ID)
	}
	return h
}

// Sign computes the signature headers for payload at the given time.
func Sign(secret string, payload []byte, at time.Time) (SignatureHeaders, error) {
	if secret == "" {
		return SignatureHeaders{}, ErrMissingSecret
	}
	if len(payload) == 0 {
		return SignatureHeaders{}, ErrEmptyPayload
	}
	ts := at.Unix()
	return SignatureHeaders{
		Signature: computeSignature(secret, ts, payload),
		Timestamp: ts,
		ID:        uuid.NewString(),
	}, nil
}

// Verify checks the signature headers against the raw payload.
// A tolerance of zero disables the timestamp window check.
func Verify(secret string, payload []byte, header http.Header, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return ErrMissingSecret
	}
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	sig, err := ParseHeaders(header)
	if err != nil {
		return err
	}

	if tolerance > 0 {
		age := now.Sub(time.Unix(sig.Timestamp, 0))
		if age > tolerance || age < -maxFutureSkew {
			return fmt.Errorf("%w: age %s", ErrSignatureExpired, age)
		}
	}

	expected := computeSignature(secret, sig.Timestamp, payload)
	if !hmac.Equal([]byte(expected), []byte(sig.Signature)) {
		return ErrSignatureInvalid
	}
	return nil
}

// ParseHeaders reads the signature headers. The delivery id is optional.
func ParseHeaders(header http.Header) (SignatureHeaders, error) {
	sig := SignatureHeaders{
		Signature: header.Get(HeaderSignature),
		ID:        header.Get(HeaderID),
	}
	raw := header.Get(HeaderTimestamp)
	if sig.Signature == "" || raw == "" {
		return SignatureHeaders{}, ErrMissingHeaders
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ts <= 0 {
		return SignatureHeaders{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
	}
	sig.Timestamp = ts
	return sig, nil
}

func computeSignature(secret string, ts int64, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	h.Write([]byte{'.'})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
