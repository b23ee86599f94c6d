package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"
)

func sign(secret string, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}

func TestVerifyCalendly(t *testing.T) {
	body := []byte(`{"event":"invitee.created"}`)
	header := "sha256=" + hex.EncodeToString(sign("secret", body))

	if !VerifyCalendly("secret", body, header) {
		t.Error("valid signature rejected")
	}
	if VerifyCalendly("wrong", body, header) {
		t.Error("wrong secret accepted")
	}
	if VerifyCalendly("secret", []byte("tampered"), header) {
		t.Error("tampered body accepted")
	}
	if VerifyCalendly("secret", body, hex.EncodeToString(sign("secret", body))) {
		t.Error("missing sha256= prefix accepted")
	}
	if VerifyCalendly("secret", body, "sha256=not-hex") {
		t.Error("garbage digest accepted")
	}
}

func TestVerifySquare(t *testing.T) {
	url := "https://api.example.com/webhooks/calendar/square"
	body := []byte(`{"merchant_id":"M1"}`)
	header := base64.StdEncoding.EncodeToString(sign("secret", append([]byte(url), body...)))

	if !VerifySquare("secret", url, body, header) {
		t.Error("valid signature rejected")
	}
	if VerifySquare("secret", "https://other.example.com/webhooks/calendar/square", body, header) {
		t.Error("signature over different URL accepted")
	}
	if VerifySquare("wrong", url, body, header) {
		t.Error("wrong secret accepted")
	}
}

func TestVerifyAcuity(t *testing.T) {
	body := []byte("action=appointment.scheduled&id=42")
	header := base64.StdEncoding.EncodeToString(sign("secret", body))

	if !VerifyAcuity("secret", body, header) {
		t.Error("valid signature rejected")
	}
	if VerifyAcuity("secret", []byte("action=appointment.canceled&id=42"), header) {
		t.Error("tampered body accepted")
	}
	if VerifyAcuity("secret", body, "!!!") {
		t.Error("garbage header accepted")
	}
}
