// Package webhook verifies and parses channel webhook deliveries.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/Ramsey-B/clover/pkg/metrics"
)

// SignatureHeader carries the sender's HMAC of the request body.
const SignatureHeader = "X-Hub-Signature-256"

const signaturePrefix = "sha256="

var (
	// ErrSignatureInvalid is returned when the payload signature does not
	// verify. The caller must not parse the body.
	ErrSignatureInvalid = errors.New("webhook signature invalid")

	// ErrSecretMissing is returned when no app secret is configured.
	// Verification fails closed rather than passing unsigned payloads.
	ErrSecretMissing = errors.New("webhook app secret not configured")
)

// Authenticator checks webhook payload signatures and the subscription
// verify-token handshake.
type Authenticator struct {
	appSecret   []byte
	verifyToken string
}

// NewAuthenticator creates an authenticator. An empty appSecret makes every
// Verify call fail.
func NewAuthenticator(appSecret, verifyToken string) *Authenticator {
	return &Authenticator{
		appSecret:   []byte(appSecret),
		verifyToken: verifyToken,
	}
}

// Verify checks the HMAC-SHA256 signature over the raw request body. The
// body must be the exact bytes received, before any JSON decoding, since
// re-serialization would not round-trip key order or whitespace.
func (a *Authenticator) Verify(body []byte, header string) error {
	if len(a.appSecret) == 0 {
		metrics.WebhookRejectedTotal.WithLabelValues("secret_missing").Inc()
		return ErrSecretMissing
	}
	if header == "" {
		metrics.WebhookRejectedTotal.WithLabelValues("header_missing").Inc()
		return ErrSignatureInvalid
	}

	provided := strings.TrimPrefix(header, signaturePrefix)
	if provided == header {
		metrics.WebhookRejectedTotal.WithLabelValues("header_malformed").Inc()
		return ErrSignatureInvalid
	}

	providedMAC, err := hex.DecodeString(provided)
	if err != nil {
		metrics.WebhookRejectedTotal.WithLabelValues("header_malformed").Inc()
		return ErrSignatureInvalid
	}

	mac := hmac.New(sha256.New, a.appSecret)
	mac.Write(body)
	expected := mac.Sum(nil)

	if !hmac.Equal(expected, providedMAC) {
		metrics.WebhookRejectedTotal.WithLabelValues("signature_mismatch").Inc()
		return ErrSignatureInvalid
	}
	return nil
}

// VerifySubscription handles the GET handshake the channel performs when a
// webhook endpoint is registered. Returns the challenge to echo back, or
// false when the token does not match.
func (a *Authenticator) VerifySubscription(mode, token, challenge string) (string, bool) {
	if mode != "subscribe" {
		return "", false
	}
	if a.verifyToken == "" || token != a.verifyToken {
		metrics.WebhookRejectedTotal.WithLabelValues("verify_token_mismatch").Inc()
		return "", false
	}
	return challenge, true
}
