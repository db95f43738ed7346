package domain

import (
	apperrors "github.com/allisson/capsec/internal/errors"
)

// Capability validation and permission errors.
//
// All of these are returned, never panicked: validation and permission failures
// are part of the normal result path and callers branch on them with errors.Is.
var (
	// ErrInvalidSignature indicates the capability's signature does not verify
	// against its canonical fields (the capability was mutated or forged).
	ErrInvalidSignature = apperrors.Wrap(apperrors.ErrUnauthorized, "invalid signature")

	// ErrMissingSignature indicates the capability carries no signature at all.
	ErrMissingSignature = apperrors.Wrap(apperrors.ErrUnauthorized, "missing signature")

	// ErrCapabilityExpired indicates the capability's expires_at is in the past.
	ErrCapabilityExpired = apperrors.Wrap(apperrors.ErrUnauthorized, "capability expired")

	// ErrCapabilityRevoked indicates the capability has been revoked. Revocation
	// is absorbing: once set, no future validation can succeed.
	ErrCapabilityRevoked = apperrors.Wrap(apperrors.ErrUnauthorized, "capability revoked")

	// ErrInvalidCapabilityStructure indicates malformed capability fields
	// (e.g., a zero id or an unknown resource type).
	ErrInvalidCapabilityStructure = apperrors.Wrap(apperrors.ErrInvalidInput, "invalid capability structure")

	// ErrDelegationNotAllowed indicates the parent capability is revoked or its
	// delegation budget is exhausted.
	ErrDelegationNotAllowed = apperrors.Wrap(apperrors.ErrForbidden, "delegation not allowed")

	// ErrOperationNotPermitted indicates the operations constraint does not
	// include the attempted operation.
	ErrOperationNotPermitted = apperrors.Wrap(apperrors.ErrForbidden, "operation not permitted")

	// ErrResourceNotPermitted indicates the attempted resource does not fall
	// under any constrained path or scope.
	ErrResourceNotPermitted = apperrors.Wrap(apperrors.ErrForbidden, "resource not permitted")

	// ErrResourceTypeMismatch indicates a capability of the wrong resource type
	// was presented for the attempted action.
	ErrResourceTypeMismatch = apperrors.Wrap(apperrors.ErrForbidden, "capability resource type mismatch")

	// ErrToolNotAllowed indicates the tool name is not in the capability's
	// allowed_tools constraint.
	ErrToolNotAllowed = apperrors.Wrap(apperrors.ErrForbidden, "tool not allowed")

	// ErrPermissionDenied is the generic denial returned by convenience-level
	// permission checks when no live capability permits the action.
	ErrPermissionDenied = apperrors.Wrap(apperrors.ErrForbidden, "permission denied")

	// ErrCapabilityNotFound indicates the authority has no record of the
	// presented capability.
	ErrCapabilityNotFound = apperrors.Wrap(apperrors.ErrNotFound, "capability not found")
)

// Malformed constraint values, one per recognized key. Constraints are accepted
// permissively at creation for extensibility and checked strictly when read, so
// these surface at validation time rather than creation time.
var (
	ErrInvalidPathsConstraint          = apperrors.Wrap(apperrors.ErrInvalidInput, "invalid paths constraint")
	ErrInvalidOperationsConstraint     = apperrors.Wrap(apperrors.ErrInvalidInput, "invalid operations constraint")
	ErrInvalidExpiresAtConstraint      = apperrors.Wrap(apperrors.ErrInvalidInput, "invalid expires_at constraint")
	ErrInvalidMaxDelegationsConstraint = apperrors.Wrap(apperrors.ErrInvalidInput, "invalid max_delegations constraint")
	ErrInvalidScopeConstraint          = apperrors.Wrap(apperrors.ErrInvalidInput, "invalid scope constraint")
	ErrInvalidAllowedToolsConstraint   = apperrors.Wrap(apperrors.ErrInvalidInput, "invalid allowed_tools constraint")
)
