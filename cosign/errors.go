package cosign

import "errors"

// Machine-readable error codes surfaced to callers.
const (
	CodeOK                    = "ok"
	CodeSignatureInvalid      = "signature-invalid"
	CodePayloadInvalid        = "payload-invalid"
	CodeNonceNotFound         = "nonce-not-found"
	CodeNonceConflict         = "nonce-conflict"
	CodeNonceConsumed         = "nonce-consumed"
	CodeNonceExpired          = "nonce-expired"
	CodeRewardsMismatch       = "rewards-mismatch"
	CodeMinerMismatch         = "miner-mismatch"
	CodeAccountsPreparation   = "accounts-preparation-failed"
	CodeHashMismatch          = "hash-mismatch"
	CodeSuspiciousTransfer    = "suspicious-transfer"
	CodeBlockhashExpired      = "blockhash-expired"
	CodeBroadcastFailed       = "broadcast-failed"
	CodeLedgerUpdateFailed    = "ledger-update-failed"
	CodeProgramNotInitialized = "program-not-initialized"
	CodeInternal              = "internal-error"
)

// ValidationError marks a malformed signature or payload. Always surfaced,
// never retried.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// AuthorizationError marks an absent, expired or mismatched authorization
// record. The caller must re-request a fresh authorization.
type AuthorizationError struct {
	Code    string
	Message string
}

func (e *AuthorizationError) Error() string { return e.Message }

// IntegrityError marks a hash mismatch or suspicious-transfer detection. The
// attempted transaction is never co-signed.
type IntegrityError struct {
	Code    string
	Message string
}

func (e *IntegrityError) Error() string { return e.Message }

// NetworkError marks a blockhash expiry or an RPC/broadcast failure. A stale
// blockhash requires a brand-new prepare cycle; it is never refreshed in
// place.
type NetworkError struct {
	Code    string
	Message string
	Err     error
}

func (e *NetworkError) Error() string { return e.Message }
func (e *NetworkError) Unwrap() error { return e.Err }

// ProgramInitError marks a program client construction failure. Fatal for the
// requesting call; no state is cached, so the next call retries.
type ProgramInitError struct {
	Message string
	Err     error
}

func (e *ProgramInitError) Error() string { return e.Message }
func (e *ProgramInitError) Unwrap() error { return e.Err }

// ErrorCode extracts the machine code from any gateway error.
func ErrorCode(err error) string {
	if err == nil {
		return CodeOK
	}
	var (
		validation *ValidationError
		authz      *AuthorizationError
		integrity  *IntegrityError
		network    *NetworkError
		initErr    *ProgramInitError
	)
	switch {
	case errors.As(err, &validation):
		return validation.Code
	case errors.As(err, &authz):
		return authz.Code
	case errors.As(err, &integrity):
		return integrity.Code
	case errors.As(err, &network):
		return network.Code
	case errors.As(err, &initErr):
		return CodeProgramNotInitialized
	default:
		return CodeInternal
	}
}
