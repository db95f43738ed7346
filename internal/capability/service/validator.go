package service

import (
	"time"

	capDomain "github.com/allisson/capsec/internal/capability/domain"
)

// validator implements the fail-fast validation sequence.
type validator struct {
	signer Signer
}

// NewValidator creates a Validator that uses the given signer for integrity checks.
func NewValidator(signer Signer) Validator {
	return &validator{signer: signer}
}

// Validate checks the capability in a fixed order: structure first (cheap and
// catches malformed input before any crypto), then signature (nothing after
// this point can be trusted unless the fields are authentic), then the
// revocation flag, then expiration. The first failure wins.
func (v *validator) Validate(capability *capDomain.Capability, now time.Time) error {
	if err := capability.CheckStructure(); err != nil {
		return err
	}
	if err := v.signer.Verify(capability); err != nil {
		return err
	}
	if capability.Revoked {
		return capDomain.ErrCapabilityRevoked
	}
	if capability.IsExpired(now) {
		return capDomain.ErrCapabilityExpired
	}
	return nil
}
