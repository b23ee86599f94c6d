package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// Secrets holds the per-provider webhook signing keys. An empty key
// disables verification for that provider.
type Secrets struct {
	Acuity   string
	Calendly string
	Square   string
}

func hmacSHA256(secret string, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}

// VerifyCalendly checks the X-Calendly-Webhook-Signature header, a
// "sha256=" prefixed hex digest of the raw body.
func VerifyCalendly(secret string, body []byte, header string) bool {
	digest, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(digest)
	if err != nil {
		return false
	}
	return hmac.Equal(got, hmacSHA256(secret, body))
}

// VerifySquare checks the x-square-hmacsha256-signature header, a base64
// digest over the notification URL concatenated with the raw body.
func VerifySquare(secret, notificationURL string, body []byte, header string) bool {
	got, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return false
	}
	payload := append([]byte(notificationURL), body...)
	return hmac.Equal(got, hmacSHA256(secret, payload))
}

// VerifyAcuity checks the X-Acuity-Signature header, a base64 digest of
// the raw body.
func VerifyAcuity(secret string, body []byte, header string) bool {
	got, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return false
	}
	return hmac.Equal(got, hmacSHA256(secret, body))
}
