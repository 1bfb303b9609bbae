// Package services defines the business logic for inquiry ingestion,
// analysis, and reporting. This file centralizes common service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// Translation into HTTP status codes is performed at the handler layer; the
// error taxonomy here mirrors the retry semantics: security rejections and
// validation errors are terminal, duplicates are benign, infrastructure
// errors are surfaced raw for the platform to retry delivery.
package services

import "errors"

var (
	// ErrUnsupportedPlatform is returned for a platform tag outside the
	// supported set.
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrChannelNotFound indicates the webhook URL referenced an unknown
	// channel.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrChannelDisabled indicates the channel exists but is switched off.
	ErrChannelDisabled = errors.New("channel is disabled")

	// ErrSecurityRejected indicates a bad signature or disallowed origin.
	// Terminal, never retried, always logged with request context.
	ErrSecurityRejected = errors.New("request failed security validation")

	// ErrMalformedPayload indicates a body the platform should never send.
	ErrMalformedPayload = errors.New("malformed webhook payload")

	// ErrVerifyTokenMismatch indicates a failed GET challenge handshake.
	ErrVerifyTokenMismatch = errors.New("verify token mismatch")

	// ErrBusinessNotFound indicates an unknown business id on the
	// reporting surface.
	ErrBusinessNotFound = errors.New("business not found")
)
