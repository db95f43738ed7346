package security

import (
	"context"

	"github.com/google/uuid"

	capDomain "github.com/allisson/capsec/internal/capability/domain"
	"github.com/allisson/capsec/internal/kernel"
)

// kernelEnforcer adapts the centralized kernel to the Enforcer strategy.
// Every call is a round-trip through the kernel's serialized actor, so the
// authoritative copy, not the caller-presented structure, is what gets
// validated, delegated from, or revoked.
type kernelEnforcer struct {
	kernel *kernel.Kernel
}

// NewKernelEnforcer creates the kernel-mode enforcement strategy.
func NewKernelEnforcer(k *kernel.Kernel) Enforcer {
	return &kernelEnforcer{kernel: k}
}

func (e *kernelEnforcer) RequestCapability(
	ctx context.Context,
	resourceType capDomain.ResourceType,
	constraints capDomain.Constraints,
	principalID string,
) (*capDomain.Capability, error) {
	return e.kernel.RequestCapability(ctx, resourceType, constraints, principalID)
}

func (e *kernelEnforcer) ValidateCapability(
	ctx context.Context,
	capability *capDomain.Capability,
	operation capDomain.Operation,
	resource string,
) error {
	if capability == nil {
		return capDomain.ErrInvalidCapabilityStructure
	}
	return e.kernel.ValidateCapability(ctx, capability.ID, operation, resource)
}

func (e *kernelEnforcer) DelegateCapability(
	ctx context.Context,
	capability *capDomain.Capability,
	targetPrincipalID string,
	additionalConstraints capDomain.Constraints,
) (*capDomain.Capability, error) {
	if capability == nil {
		return nil, capDomain.ErrInvalidCapabilityStructure
	}
	return e.kernel.DelegateCapability(ctx, capability.ID, targetPrincipalID, additionalConstraints)
}

func (e *kernelEnforcer) RevokeCapability(
	ctx context.Context,
	capability *capDomain.Capability,
) ([]uuid.UUID, error) {
	if capability == nil {
		return nil, capDomain.ErrInvalidCapabilityStructure
	}
	return e.kernel.RevokeCapability(ctx, capability.ID)
}

func (e *kernelEnforcer) RevokeAllForPrincipal(ctx context.Context, principalID string) ([]uuid.UUID, error) {
	return e.kernel.RevokeAllForPrincipal(ctx, principalID)
}

func (e *kernelEnforcer) ListCapabilities(
	ctx context.Context,
	principalID string,
) ([]*capDomain.Capability, error) {
	return e.kernel.ListCapabilities(ctx, principalID)
}

func (e *kernelEnforcer) CheckPermission(
	ctx context.Context,
	principalID string,
	resourceType capDomain.ResourceType,
	operation capDomain.Operation,
	resource string,
) error {
	return e.kernel.CheckPermission(ctx, principalID, resourceType, operation, resource)
}
