// Package handlers defines HTTP-layer error codes used across all endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP
// responses (via the fail() helper in this package). The codes give clients a
// stable, machine-readable taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless noted.
//   - Generic codes (bad_request, forbidden, not_found) mirror common HTTP
//     status semantics.
//   - Domain-specific codes cover the webhook and reporting surfaces where
//     status alone is ambiguous.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "forbidden",
//	  "message": "signature verification failed"
//	}
package handlers

const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeForbidden   = "forbidden"
	ErrCodeNotFound    = "not_found"
	ErrCodeRateLimited = "too_many_requests"
	ErrCodeInternal    = "internal_error"

	// Domain-specific:
	ErrCodeVerifyFailed     = "verify_failed"
	ErrCodeStatsFailed      = "stats_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
