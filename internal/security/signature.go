// Package security implements the per-platform request authentication used
// by the webhook gateway: keyed-hash signature verification over the raw
// request body and an IPv4 CIDR origin allow-list.
//
// Signatures are always computed over the exact bytes received. Parsing the
// body first and re-serializing is a correctness bug: JSON re-encoding is not
// guaranteed byte-identical, so verification must happen before any decode.
// All comparisons are constant-time.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/tbourn/go-inquiry-backend/internal/platform"
)

// SignatureHeader returns the request header carrying the platform's
// signature (or shared token), and whether the platform signs at all.
func SignatureHeader(p platform.Platform) (string, bool) {
	switch p {
	case platform.LINE:
		return "x-line-signature", true
	case platform.Messenger, platform.Instagram:
		return "x-hub-signature-256", true
	case platform.Telegram:
		return "x-telegram-bot-api-secret-token", true
	}
	return "", false
}

// VerifySignature checks the platform signature header against the raw,
// unparsed body using the channel secret.
//
// Schemes:
//   - line:      base64(HMAC-SHA256(secret, body))
//   - messenger/instagram: "sha256=" + hex(HMAC-SHA256(secret, body))
//   - telegram:  plain shared-token equality (Telegram does not sign bodies)
//
// An empty secret always fails here; the caller decides whether a missing
// secret downgrades to origin-only checking.
func VerifySignature(p platform.Platform, body []byte, provided, secret string) bool {
	if secret == "" || provided == "" {
		return false
	}
	switch p {
	case platform.LINE:
		want := hmacSHA256(secret, body)
		got, err := base64.StdEncoding.DecodeString(provided)
		if err != nil {
			return false
		}
		return hmac.Equal(want, got)
	case platform.Messenger, platform.Instagram:
		hexSig, ok := strings.CutPrefix(provided, "sha256=")
		if !ok {
			return false
		}
		got, err := hex.DecodeString(hexSig)
		if err != nil {
			return false
		}
		return hmac.Equal(hmacSHA256(secret, body), got)
	case platform.Telegram:
		return subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) == 1
	}
	return false
}

// ConstantTimeTokenEqual compares two shared tokens without leaking the
// position of the first mismatch. Used for the Meta GET verify challenge.
func ConstantTimeTokenEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func hmacSHA256(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
