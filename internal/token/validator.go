package token

import (
	"time"

	"github.com/fxamacker/cbor/v2"

	capDomain "github.com/allisson/capsec/internal/capability/domain"
	capService "github.com/allisson/capsec/internal/capability/service"
)

// Validator verifies capability tokens locally: signature first, then claims,
// then the revocation cache. No round-trip to the issuer is ever made; that
// is the point of token mode, traded against the cache's propagation delay.
type Validator struct {
	signer     capService.Signer
	revocation *RevocationCache
}

// NewValidator creates a local token validator.
func NewValidator(signer capService.Signer, revocation *RevocationCache) *Validator {
	return &Validator{signer: signer, revocation: revocation}
}

// Decode verifies the token's signature and materializes its claims as a
// capability. The revocation cache and expiry are NOT consulted; use Validate
// for a full check.
func (v *Validator) Decode(token string) (*capDomain.Capability, error) {
	payload, signature, err := decodeToken(token)
	if err != nil {
		return nil, err
	}
	if err := v.signer.VerifyBytes(payload, signature); err != nil {
		return nil, err
	}
	var claims Claims
	if err := cbor.Unmarshal(payload, &claims); err != nil {
		return nil, capDomain.ErrInvalidCapabilityStructure
	}
	return claims.Capability(token, signature)
}

// Validate performs the full local validation sequence: decode and verify the
// signature, check structure, expiry and the revocation cache, then apply the
// same permission logic as kernel mode.
func (v *Validator) Validate(token string, operation capDomain.Operation, resource string) error {
	capability, err := v.Decode(token)
	if err != nil {
		return err
	}
	if err := capability.CheckStructure(); err != nil {
		return err
	}
	if capability.IsExpired(time.Now().UTC()) {
		return capDomain.ErrCapabilityExpired
	}
	if v.revocation.IsRevoked(capability.ID) {
		return capDomain.ErrCapabilityRevoked
	}
	return capability.Permits(operation, resource)
}

// ValidateCapability is Validate for an already-materialized token-mode
// capability; the embedded token string is authoritative.
func (v *Validator) ValidateCapability(
	capability *capDomain.Capability,
	operation capDomain.Operation,
	resource string,
) error {
	if capability == nil || capability.Token == "" {
		return capDomain.ErrInvalidCapabilityStructure
	}
	return v.Validate(capability.Token, operation, resource)
}
