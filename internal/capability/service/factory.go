package service

import (
	"time"

	"github.com/google/uuid"

	capDomain "github.com/allisson/capsec/internal/capability/domain"
	apperrors "github.com/allisson/capsec/internal/errors"
)

// factory builds signed capabilities.
type factory struct {
	signer Signer
}

// NewFactory creates a Factory that signs capabilities with the given signer.
func NewFactory(signer Signer) Factory {
	return &factory{signer: signer}
}

// Create builds and signs a root capability. Constraints are accepted
// permissively for extensibility; only their shapes are checked here, so a
// malformed constraint shape is the only creation failure.
func (f *factory) Create(
	resourceType capDomain.ResourceType,
	constraints capDomain.Constraints,
	principalID string,
) (*capDomain.Capability, error) {
	if !capDomain.KnownResourceType(resourceType) {
		return nil, capDomain.ErrInvalidCapabilityStructure
	}
	if principalID == "" {
		return nil, capDomain.ErrInvalidCapabilityStructure
	}
	if constraints == nil {
		constraints = capDomain.Constraints{}
	}
	if err := constraints.Check(); err != nil {
		return nil, err
	}

	expiresAt, err := capDomain.ExpiresAtFromConstraints(constraints)
	if err != nil {
		return nil, err
	}

	capability := &capDomain.Capability{
		ID:              uuid.Must(uuid.NewV7()),
		ResourceType:    resourceType,
		PrincipalID:     principalID,
		Constraints:     constraints.Clone(),
		IssuedAt:        time.Now().UTC(),
		ExpiresAt:       expiresAt,
		DelegationDepth: 0,
	}

	signature, err := f.signer.Sign(capability)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to sign capability")
	}
	capability.Signature = signature

	return capability, nil
}

// Delegate builds and signs a child capability. The child's constraints are the
// narrowing of the parent's by the additional constraints, its depth is the
// parent's plus one, and it references the parent by id only. Delegability of
// the parent (revocation, budget, depth cap) is the caller's responsibility.
func (f *factory) Delegate(
	parent *capDomain.Capability,
	targetPrincipalID string,
	additionalConstraints capDomain.Constraints,
) (*capDomain.Capability, error) {
	if targetPrincipalID == "" {
		return nil, capDomain.ErrInvalidCapabilityStructure
	}
	if additionalConstraints == nil {
		additionalConstraints = capDomain.Constraints{}
	}

	narrowed, err := capDomain.Narrow(parent.Constraints, additionalConstraints)
	if err != nil {
		return nil, err
	}

	expiresAt, err := capDomain.ExpiresAtFromConstraints(narrowed)
	if err != nil {
		return nil, err
	}
	// The child can never outlive the parent even when neither constraint
	// map mentions expires_at but the parent capability carries one.
	if parent.ExpiresAt != nil && (expiresAt == nil || expiresAt.After(*parent.ExpiresAt)) {
		parentExp := *parent.ExpiresAt
		expiresAt = &parentExp
		narrowed[capDomain.ExpiresAtConstraint] = parentExp
	}

	parentID := parent.ID
	capability := &capDomain.Capability{
		ID:              uuid.Must(uuid.NewV7()),
		ResourceType:    parent.ResourceType,
		PrincipalID:     targetPrincipalID,
		Constraints:     narrowed,
		IssuedAt:        time.Now().UTC(),
		ExpiresAt:       expiresAt,
		DelegationDepth: parent.DelegationDepth + 1,
		ParentID:        &parentID,
	}

	signature, err := f.signer.Sign(capability)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to sign delegated capability")
	}
	capability.Signature = signature

	return capability, nil
}
