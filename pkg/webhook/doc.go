// Package webhook signs and verifies webhook payloads with HMAC-SHA256.
//
// The signature covers the timestamp and the raw body, "<unix>.<payload>", and travels in
// three headers:
//
//	X-Webhook-Signature  hex HMAC-SHA256(secret, timestamp + "." + payload)
//	X-Webhook-Timestamp  unix seconds
//	X-Webhook-ID         delivery id
//
// # Usage
//
//	headers, err := webhook.Sign(secret, payload, time.Now())
//	if err != nil {
//		return err
//	}
//	req.Header = headers.HTTPHeader()
//
// Receivers verify before decoding the body:
//
//	if err := webhook.Verify(secret, body, r.Header, 5*time.Minute, time.Now()); err != nil {
//		// reject
//	}
package webhook
