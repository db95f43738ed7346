// Package service implements capability integrity and lifecycle services:
// canonical signing, fail-fast validation, and construction of root and
// delegated capabilities.
package service

import (
	"time"

	capDomain "github.com/allisson/capsec/internal/capability/domain"
)

// Signer produces and verifies integrity proofs over a capability's canonical
// fields. Any mutation of a signed field must cause Verify to fail.
type Signer interface {
	// Sign computes the signature over the capability's canonical fields.
	// The capability's Signature field is not consulted.
	Sign(capability *capDomain.Capability) ([]byte, error)

	// Verify checks the capability's Signature against its canonical fields.
	// Returns ErrMissingSignature or ErrInvalidSignature on failure.
	Verify(capability *capDomain.Capability) error

	// SignBytes computes a detached signature over an opaque payload.
	// Used by token mode, where the signature covers the serialized claims.
	SignBytes(payload []byte) ([]byte, error)

	// VerifyBytes checks a detached signature over an opaque payload.
	VerifyBytes(payload, signature []byte) error
}

// Validator performs the full capability validation sequence.
type Validator interface {
	// Validate checks, in order: structural well-formedness, signature,
	// revocation flag, expiration. Cheaper checks run first to fail fast.
	Validate(capability *capDomain.Capability, now time.Time) error
}

// Factory constructs root and delegated capabilities with fresh ids, stamped
// timestamps, computed delegation depth, and a valid signature.
type Factory interface {
	// Create builds and signs a root capability.
	Create(
		resourceType capDomain.ResourceType,
		constraints capDomain.Constraints,
		principalID string,
	) (*capDomain.Capability, error)

	// Delegate builds and signs a child capability derived from parent, with
	// the narrowed constraint set and the target principal. The parent's
	// delegability must be checked by the caller beforehand.
	Delegate(
		parent *capDomain.Capability,
		targetPrincipalID string,
		additionalConstraints capDomain.Constraints,
	) (*capDomain.Capability, error)
}
