package webhookqueue

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sign256(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"amount":"10.00"}`)
	secret := "topsecret"

	assert.True(t, VerifySignature(payload, sign256(payload, secret), secret))
	assert.True(t, VerifySignature(payload, "sha256="+sign256(payload, secret), secret))

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(payload)
	assert.True(t, VerifySignature(payload, hex.EncodeToString(mac.Sum(nil)), secret), "sha1 fallback")

	assert.False(t, VerifySignature(payload, sign256(payload, "wrong"), secret))
	assert.False(t, VerifySignature([]byte("tampered"), sign256(payload, secret), secret))
	assert.False(t, VerifySignature(payload, "", secret))
	assert.False(t, VerifySignature(payload, sign256(payload, secret), ""))
	assert.False(t, VerifySignature(payload, "not-hex!!", secret))
}
