// Package security provides the mode-selecting front door to the capability
// core: one API regardless of whether the centralized kernel or the
// distributed token path is active, plus principal identity and scoped
// capability-set propagation through context.
package security

import (
	"context"
	"time"

	"github.com/google/uuid"

	capDomain "github.com/allisson/capsec/internal/capability/domain"
)

// Enforcer is the strategy interface shared by the two enforcement modes.
// The kernel implementation is strongly consistent with a call round-trip;
// the token implementation validates locally with a bounded revocation delay.
// Both share the capability algorithms; the facade selects one per the mode
// flag so the choice never scatters through call sites.
type Enforcer interface {
	// RequestCapability creates a root capability for the principal.
	RequestCapability(
		ctx context.Context,
		resourceType capDomain.ResourceType,
		constraints capDomain.Constraints,
		principalID string,
	) (*capDomain.Capability, error)

	// ValidateCapability checks the capability is live and permits the
	// operation on the resource.
	ValidateCapability(
		ctx context.Context,
		capability *capDomain.Capability,
		operation capDomain.Operation,
		resource string,
	) error

	// DelegateCapability derives a narrowed capability for the target principal.
	DelegateCapability(
		ctx context.Context,
		capability *capDomain.Capability,
		targetPrincipalID string,
		additionalConstraints capDomain.Constraints,
	) (*capDomain.Capability, error)

	// RevokeCapability permanently invalidates the capability and every
	// delegated descendant. Returns the ids of everything revoked.
	RevokeCapability(ctx context.Context, capability *capDomain.Capability) ([]uuid.UUID, error)

	// RevokeAllForPrincipal invalidates every capability held by the
	// principal. Used on agent teardown.
	RevokeAllForPrincipal(ctx context.Context, principalID string) ([]uuid.UUID, error)

	// ListCapabilities returns the principal's live capabilities, where the
	// mode tracks them centrally.
	ListCapabilities(ctx context.Context, principalID string) ([]*capDomain.Capability, error)

	// CheckPermission reports whether any live capability of the principal
	// permits the operation. Returns ErrPermissionDenied when none does.
	CheckPermission(
		ctx context.Context,
		principalID string,
		resourceType capDomain.ResourceType,
		operation capDomain.Operation,
		resource string,
	) error
}

// Provider is the full facade surface consumed by collaborators: the Enforcer
// operations (with a caller-supplied revocation reason for the audit trail),
// temporary-capability sugar, security event logging, and the mode selector.
type Provider interface {
	RequestCapability(
		ctx context.Context,
		resourceType capDomain.ResourceType,
		constraints capDomain.Constraints,
		principalID string,
	) (*capDomain.Capability, error)

	// RequestTemporaryCapability is RequestCapability with
	// expires_at = now + duration.
	RequestTemporaryCapability(
		ctx context.Context,
		resourceType capDomain.ResourceType,
		constraints capDomain.Constraints,
		duration time.Duration,
		principalID string,
	) (*capDomain.Capability, error)

	ValidateCapability(
		ctx context.Context,
		capability *capDomain.Capability,
		operation capDomain.Operation,
		resource string,
	) error

	DelegateCapability(
		ctx context.Context,
		capability *capDomain.Capability,
		targetPrincipalID string,
		additionalConstraints capDomain.Constraints,
	) (*capDomain.Capability, error)

	RevokeCapability(
		ctx context.Context,
		capability *capDomain.Capability,
		reason string,
	) ([]uuid.UUID, error)

	RevokeAllForPrincipal(ctx context.Context, principalID string, reason string) ([]uuid.UUID, error)

	ListCapabilities(ctx context.Context, principalID string) ([]*capDomain.Capability, error)

	CheckPermission(
		ctx context.Context,
		principalID string,
		resourceType capDomain.ResourceType,
		operation capDomain.Operation,
		resource string,
	) error

	// LogSecurityEvent records a collaborator-supplied audit event.
	LogSecurityEvent(ctx context.Context, eventType string, details map[string]any, principalID string)

	// UseTokenMode reports whether the distributed token path is active.
	UseTokenMode() bool

	// SetTokenMode switches between the kernel and token enforcement modes.
	SetTokenMode(enabled bool)
}
