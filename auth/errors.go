package auth

import (
	"errors"
	"fmt"
)

// PublicDenialMessage is the only message security-sensitive failures are
// allowed to show on an external channel. Logs and metrics keep the specific
// variant; callers never do.
const PublicDenialMessage = "access denied: required context missing"

// Code identifies a token validation failure variant.
type Code string

const (
	// Layer 1: format
	CodeEmptyToken       Code = "EMPTY_TOKEN"
	CodeInvalidFormat    Code = "INVALID_FORMAT"
	CodeTooLarge         Code = "TOO_LARGE"
	CodeInvalidStructure Code = "INVALID_STRUCTURE"

	// Layer 2: signature
	CodeInvalidSignature   Code = "INVALID_SIGNATURE"
	CodeKeyDiscoveryFailed Code = "KEY_DISCOVERY_FAILED"
	CodeUnknownKey         Code = "UNKNOWN_KEY"

	// Layer 3: algorithm
	CodeUnsupportedAlgorithm Code = "UNSUPPORTED_ALGORITHM"
	CodeMalformedHeader      Code = "MALFORMED_HEADER"

	// Layer 4: claim schema
	CodeMissingClaim       Code = "MISSING_CLAIM"
	CodeInvalidClaimFormat Code = "INVALID_CLAIM_FORMAT"
	CodeInvalidSubject     Code = "INVALID_SUBJECT"
	CodeInvalidTenantID    Code = "INVALID_TENANT_ID"
	CodeClaimsDecodeFailed Code = "CLAIMS_DECODE_FAILED"

	// Layer 5: temporal
	CodeTokenExpired Code = "TOKEN_EXPIRED"
	CodeFutureToken  Code = "FUTURE_TOKEN"
	CodeTokenTooOld  Code = "TOKEN_TOO_OLD"

	// Layer 6: issuer / audience
	CodeInvalidIssuer   Code = "INVALID_ISSUER"
	CodeInvalidAudience Code = "INVALID_AUDIENCE"

	// Layer 7: revocation
	CodeTokenRevoked          Code = "TOKEN_REVOKED"
	CodeRevocationCheckFailed Code = "REVOCATION_CHECK_FAILED"

	// Layer 8: roles
	CodeNoRolesAssigned     Code = "NO_ROLES_ASSIGNED"
	CodeRoleValidationError Code = "ROLE_VALIDATION_ERROR"
	CodeRoleTooLong         Code = "ROLE_TOO_LONG"
	CodeRoleInvalidChars    Code = "ROLE_INVALID_CHARS"
	CodeRoleBlank           Code = "ROLE_BLANK"

	// Layer 9: user status
	CodeUserInactive          Code = "USER_INACTIVE"
	CodeUserLocked            Code = "USER_LOCKED"
	CodeUserExpired           Code = "USER_EXPIRED"
	CodeUserStatusUnavailable Code = "USER_STATUS_UNAVAILABLE"

	// Layer 10: injection
	CodeInjectionDetected Code = "INJECTION_DETECTED"
)

// SecurityError is a tagged token validation failure. Its Error string is for
// logs only; anything user-facing must go through PublicMessage, which never
// discloses which layer rejected the token.
type SecurityError struct {
	Code   Code
	Layer  int
	Detail string
}

func (e *SecurityError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("auth: layer %d rejected token: %s", e.Layer, e.Code)
	}
	return fmt.Sprintf("auth: layer %d rejected token: %s: %s", e.Layer, e.Code, e.Detail)
}

// PublicMessage returns the generic denial message. Identical for every
// variant so authentication and authorisation failures are indistinguishable
// from outside.
func (e *SecurityError) PublicMessage() string {
	return PublicDenialMessage
}

func securityErr(layer int, code Code, detail string) *SecurityError {
	return &SecurityError{Code: code, Layer: layer, Detail: detail}
}

// AsSecurityError unwraps err into a *SecurityError if it carries one.
func AsSecurityError(err error) (*SecurityError, bool) {
	var se *SecurityError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
