package gateway

import "net/http"

/* Reason classifies why the pipeline rejected (or deduplicated) a request.
 * Reasons are for internal logs and metrics only; the HTTP response stays
 * generic so a sender cannot iterate toward a valid secret.
 */
type Reason int

const (
	ReasonNone Reason = iota
	ReasonMissingSignature
	ReasonMalformedSignatureHeader
	ReasonTimestampOutOfTolerance
	ReasonSignatureMismatch
	ReasonUnknownTenant
	ReasonNoSecretConfigured
	ReasonRateLimited
	ReasonIPBlocked
	ReasonDuplicateEvent
	ReasonTenantNotFound
	ReasonPersistenceFailure
	ReasonMalformedPayload
)

// String returns the string representation of the reason
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonMissingSignature:
		return "missing_signature"
	case ReasonMalformedSignatureHeader:
		return "malformed_signature_header"
	case ReasonTimestampOutOfTolerance:
		return "timestamp_out_of_tolerance"
	case ReasonSignatureMismatch:
		return "signature_mismatch"
	case ReasonUnknownTenant:
		return "unknown_tenant"
	case ReasonNoSecretConfigured:
		return "no_secret_configured"
	case ReasonRateLimited:
		return "rate_limited"
	case ReasonIPBlocked:
		return "ip_blocked"
	case ReasonDuplicateEvent:
		return "duplicate_event"
	case ReasonTenantNotFound:
		return "tenant_not_found"
	case ReasonPersistenceFailure:
		return "persistence_failure"
	case ReasonMalformedPayload:
		return "malformed_payload"
	default:
		return "unknown"
	}
}

// IsAuthFailure reports whether the reason is an authentication or
// abuse-prevention failure, always terminal for the request
func (r Reason) IsAuthFailure() bool {
	switch r {
	case ReasonMissingSignature, ReasonMalformedSignatureHeader,
		ReasonTimestampOutOfTolerance, ReasonSignatureMismatch,
		ReasonUnknownTenant, ReasonNoSecretConfigured,
		ReasonRateLimited, ReasonIPBlocked:
		return true
	default:
		return false
	}
}

/* HTTPStatus maps a reason to the generic status returned to the sender.
 * Duplicates and tenant-routing misses get a success-shaped response so the
 * provider stops retrying; persistence failures were acknowledged before
 * the write was attempted.
 */
func (r Reason) HTTPStatus() int {
	switch r {
	case ReasonNone, ReasonDuplicateEvent, ReasonTenantNotFound,
		ReasonPersistenceFailure, ReasonMalformedPayload:
		return http.StatusOK
	case ReasonRateLimited, ReasonIPBlocked:
		return http.StatusTooManyRequests
	default:
		return http.StatusForbidden
	}
}
