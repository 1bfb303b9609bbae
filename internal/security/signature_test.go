package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/tbourn/go-inquiry-backend/internal/platform"
)

func signLINE(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signMeta(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestSignatureHeader_KnownPlatforms(t *testing.T) {
	cases := map[platform.Platform]string{
		platform.LINE:      "x-line-signature",
		platform.Messenger: "x-hub-signature-256",
		platform.Instagram: "x-hub-signature-256",
		platform.Telegram:  "x-telegram-bot-api-secret-token",
	}
	for p, want := range cases {
		got, ok := SignatureHeader(p)
		if !ok || got != want {
			t.Fatalf("SignatureHeader(%s) = %q, %v; want %q, true", p, got, ok, want)
		}
	}
	if _, ok := SignatureHeader(platform.Platform("smoke")); ok {
		t.Fatalf("unknown platform should not report a signature header")
	}
}

func TestVerifySignature_LINE(t *testing.T) {
	body := []byte(`{"events":[{"type":"message"}]}`)
	secret := "line-channel-secret"

	if !VerifySignature(platform.LINE, body, signLINE(secret, body), secret) {
		t.Fatalf("valid LINE signature rejected")
	}
	if VerifySignature(platform.LINE, body, signLINE("other-secret", body), secret) {
		t.Fatalf("signature with wrong secret accepted")
	}
	if VerifySignature(platform.LINE, []byte(`{"tampered":true}`), signLINE(secret, body), secret) {
		t.Fatalf("signature over different body accepted")
	}
	if VerifySignature(platform.LINE, body, "not-base64!!!", secret) {
		t.Fatalf("undecodable signature accepted")
	}
}

func TestVerifySignature_MetaFamily(t *testing.T) {
	body := []byte(`{"object":"page","entry":[]}`)
	secret := "app-secret"

	for _, p := range []platform.Platform{platform.Messenger, platform.Instagram} {
		if !VerifySignature(p, body, signMeta(secret, body), secret) {
			t.Fatalf("%s: valid signature rejected", p)
		}
		if VerifySignature(p, body, signMeta("wrong", body), secret) {
			t.Fatalf("%s: wrong-secret signature accepted", p)
		}
		// Missing prefix must fail even if the digest itself matches.
		raw := signMeta(secret, body)[len("sha256="):]
		if VerifySignature(p, body, raw, secret) {
			t.Fatalf("%s: signature without sha256= prefix accepted", p)
		}
	}
}

func TestVerifySignature_TelegramToken(t *testing.T) {
	body := []byte(`{"update_id":1}`)
	if !VerifySignature(platform.Telegram, body, "tok-123", "tok-123") {
		t.Fatalf("matching telegram token rejected")
	}
	if VerifySignature(platform.Telegram, body, "tok-123", "tok-456") {
		t.Fatalf("mismatched telegram token accepted")
	}
}

func TestVerifySignature_EmptyInputsAlwaysFail(t *testing.T) {
	body := []byte(`{}`)
	if VerifySignature(platform.LINE, body, "", "secret") {
		t.Fatalf("empty provided signature accepted")
	}
	if VerifySignature(platform.LINE, body, signLINE("secret", body), "") {
		t.Fatalf("empty secret accepted")
	}
}

func TestConstantTimeTokenEqual(t *testing.T) {
	if !ConstantTimeTokenEqual("abc", "abc") {
		t.Fatalf("equal tokens reported unequal")
	}
	if ConstantTimeTokenEqual("abc", "abd") || ConstantTimeTokenEqual("abc", "abcd") {
		t.Fatalf("unequal tokens reported equal")
	}
}
