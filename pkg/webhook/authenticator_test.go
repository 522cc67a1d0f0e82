package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "app-secret"

func sign(t *testing.T, secret string, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	auth := NewAuthenticator(testSecret, "")
	body := []byte(`{"object":"page","entry":[]}`)

	assert.NoError(t, auth.Verify(body, sign(t, testSecret, body)))
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	auth := NewAuthenticator(testSecret, "")
	body := []byte(`{"object":"page","entry":[]}`)
	header := sign(t, testSecret, body)

	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-2] = 'X'

	err := auth.Verify(tampered, header)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	auth := NewAuthenticator(testSecret, "")
	body := []byte(`{"object":"page"}`)

	err := auth.Verify(body, sign(t, "other-secret", body))
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyRejectsMissingHeader(t *testing.T) {
	auth := NewAuthenticator(testSecret, "")

	err := auth.Verify([]byte("{}"), "")
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyRejectsMalformedHeader(t *testing.T) {
	auth := NewAuthenticator(testSecret, "")
	body := []byte("{}")

	// No sha256= prefix.
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	err := auth.Verify(body, hex.EncodeToString(mac.Sum(nil)))
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	err = auth.Verify(body, "sha256=not-hex")
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyFailsClosedWithoutSecret(t *testing.T) {
	auth := NewAuthenticator("", "")
	body := []byte("{}")

	err := auth.Verify(body, sign(t, "", body))
	require.ErrorIs(t, err, ErrSecretMissing)
}

func TestVerifySubscription(t *testing.T) {
	auth := NewAuthenticator(testSecret, "verify-me")

	challenge, ok := auth.VerifySubscription("subscribe", "verify-me", "12345")
	require.True(t, ok)
	assert.Equal(t, "12345", challenge)

	_, ok = auth.VerifySubscription("subscribe", "wrong", "12345")
	assert.False(t, ok)

	_, ok = auth.VerifySubscription("unsubscribe", "verify-me", "12345")
	assert.False(t, ok)
}

func TestVerifySubscriptionFailsClosedWithoutToken(t *testing.T) {
	auth := NewAuthenticator(testSecret, "")

	_, ok := auth.VerifySubscription("subscribe", "", "12345")
	assert.False(t, ok)
}
