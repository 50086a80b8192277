package errors

import "fmt"

// ErrorCode identifies a ledger error class.
type ErrorCode string

const (
	ErrEncoding              ErrorCode = "ENCODING_ERROR"           // 422
	ErrInvalidIdentifier     ErrorCode = "INVALID_IDENTIFIER"       // 400
	ErrNotFound              ErrorCode = "NOT_FOUND"                // 404
	ErrHashCollisionOrTamper ErrorCode = "HASH_COLLISION_OR_TAMPER" // 409
	ErrIncompleteLedger      ErrorCode = "INCOMPLETE_LEDGER"        // 503
	ErrSignatureInvalid      ErrorCode = "SIGNATURE_INVALID"        // 400
	ErrInvalidRequest        ErrorCode = "INVALID_REQUEST"          // 400
	ErrInternal              ErrorCode = "INTERNAL"                 // 500
)

// LedgerError is a structured error with code, HTTP status, and details.
type LedgerError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewEncoding creates a 422 error for values the canonical form cannot
// represent deterministically.
func NewEncoding(err error) *LedgerError {
	return &LedgerError{
		Code:    ErrEncoding,
		Status:  422,
		Message: fmt.Sprintf("value cannot be canonicalized: %v", err),
	}
}

// NewInvalidIdentifier creates a 400 error for malformed ledger hashes.
// The message is deliberately generic: traversal payloads and other junk
// must never learn anything about the storage layout.
func NewInvalidIdentifier() *LedgerError {
	return &LedgerError{
		Code:    ErrInvalidIdentifier,
		Status:  400,
		Message: "invalid hash",
	}
}

// NewNotFound creates a 404 error for a missing capsule or rollup.
func NewNotFound(subject string) *LedgerError {
	return &LedgerError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found", subject),
	}
}

// NewHashCollisionOrTamper creates a 409 error for a write whose identifier
// already holds different bytes. Indicates a hashing bug or tampering;
// callers must surface it on the operational alert path.
func NewHashCollisionOrTamper(identifier string) *LedgerError {
	return &LedgerError{
		Code:    ErrHashCollisionOrTamper,
		Status:  409,
		Message: "stored capsule bytes differ for identifier; refusing to overwrite",
		Details: map[string]any{"identifier": identifier},
	}
}

// NewRollupTamper creates a 409 error for a persisted rollup whose root does
// not commit to its own leaves. Same alert-path obligation as capsule tamper.
func NewRollupTamper(date string) *LedgerError {
	return &LedgerError{
		Code:    ErrHashCollisionOrTamper,
		Status:  409,
		Message: "persisted rollup root does not match its leaves; refusing to serve",
		Details: map[string]any{"date": date},
	}
}

// NewIncompleteLedger creates a 503 error for a rollup build that could not
// enumerate the full day's capsules.
func NewIncompleteLedger(err error) *LedgerError {
	return &LedgerError{
		Code:    ErrIncompleteLedger,
		Status:  503,
		Message: fmt.Sprintf("ledger enumeration incomplete: %v", err),
	}
}

// NewSignatureInvalid creates a 400 error carrying an enumerated
// verification failure reason.
func NewSignatureInvalid(reason string) *LedgerError {
	return &LedgerError{
		Code:    ErrSignatureInvalid,
		Status:  400,
		Message: fmt.Sprintf("signature invalid: %s", reason),
		Details: map[string]any{"reason": reason},
	}
}

// NewInvalidRequest creates a 400 error for requests that fail the schema gate.
func NewInvalidRequest(msg string) *LedgerError {
	return &LedgerError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewInternal creates a 500 error for unexpected failures.
func NewInternal(err error) *LedgerError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &LedgerError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is reports whether err is a LedgerError with the given code.
func Is(err error, code ErrorCode) bool {
	if lErr, ok := err.(*LedgerError); ok {
		return lErr.Code == code
	}
	return false
}
