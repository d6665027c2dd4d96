package core

import (
	"errors"
	"fmt"
)

// ErrSyncTokenInvalid reports that the provider rejected a stored
// continuation token (expired or revoked). Recoverable: the caller retries
// once with a full time-window fetch.
var ErrSyncTokenInvalid = errors.New("continuation token invalid")

// ErrNotSupported reports an operation the provider cannot perform, such as
// OAuth token exchange on a CalDAV account.
var ErrNotSupported = errors.New("operation not supported by provider")

// FailureCode classifies provider failures.
type FailureCode string

const (
	// Bad code or redirect mismatch during the handshake. Not retried.
	FailCredentialExchange FailureCode = "credential_exchange_failed"
	// Network failure or provider 5xx. The scheduler's own backoff retries.
	FailUnreachable FailureCode = "provider_unreachable"
	// 401-class failure: the user must reconnect the account.
	FailCredentialInvalid FailureCode = "credential_invalid"
	// Credential or account validation rejected before any sync ran.
	FailValidation FailureCode = "validation_failed"
	// Malformed event payload. Adapters skip the record and continue.
	FailParse FailureCode = "parse_failure"
)

// ProviderError is a classified failure from a provider adapter. Hint, when
// set, is safe to show to the user (e.g. the app-specific-password hint for
// iCloud logins).
type ProviderError struct {
	Code FailureCode
	Hint string
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ErrorKind is the coarse classification carried by SyncError to callers of
// the orchestrator.
type ErrorKind string

const (
	KindAuthExpired ErrorKind = "auth_expired"
	KindUnreachable ErrorKind = "provider_unreachable"
	KindValidation  ErrorKind = "validation_failed"
	KindInternal    ErrorKind = "internal"
)

// SyncError is the typed error the orchestrator raises. Nested HTTP client
// errors never escape bare; they arrive wrapped here with the account id.
type SyncError struct {
	AccountID string
	Kind      ErrorKind
	Err       error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync account %s: %s: %v", e.AccountID, e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// ClassifyError maps adapter-level failures onto the orchestrator's error
// kinds. Unknown errors are internal.
func ClassifyError(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.Code {
		case FailCredentialInvalid, FailCredentialExchange:
			return KindAuthExpired
		case FailUnreachable:
			return KindUnreachable
		case FailValidation:
			return KindValidation
		}
	}
	return KindInternal
}
