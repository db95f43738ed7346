package security

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/capsec/internal/audit"
	capDomain "github.com/allisson/capsec/internal/capability/domain"
)

// Facade is the mode-selecting front door. Collaborators call it for every
// capability operation; it routes to the kernel or token strategy per the mode
// flag and mirrors every grant and denial to the audit recorder. Audit
// recording is asynchronous and never affects the caller's result.
type Facade struct {
	kernelMode Enforcer
	tokenMode  Enforcer
	recorder   *audit.Recorder
	logger     *slog.Logger

	tokenModeActive atomic.Bool
}

// NewFacade creates the facade. The kernel strategy is active initially unless
// tokenMode is set via SetTokenMode.
func NewFacade(kernelMode, tokenMode Enforcer, recorder *audit.Recorder, logger *slog.Logger) *Facade {
	return &Facade{
		kernelMode: kernelMode,
		tokenMode:  tokenMode,
		recorder:   recorder,
		logger:     logger,
	}
}

// UseTokenMode reports whether the distributed token path is active.
func (f *Facade) UseTokenMode() bool {
	return f.tokenModeActive.Load()
}

// SetTokenMode switches the active enforcement strategy. Capabilities issued
// in one mode are not transferable to the other.
func (f *Facade) SetTokenMode(enabled bool) {
	f.tokenModeActive.Store(enabled)
	f.logger.Info("enforcement mode changed", slog.Bool("token_mode", enabled))
}

func (f *Facade) active() Enforcer {
	if f.tokenModeActive.Load() {
		return f.tokenMode
	}
	return f.kernelMode
}

// RequestCapability creates a root capability for the principal.
func (f *Facade) RequestCapability(
	ctx context.Context,
	resourceType capDomain.ResourceType,
	constraints capDomain.Constraints,
	principalID string,
) (*capDomain.Capability, error) {
	capability, err := f.active().RequestCapability(ctx, resourceType, constraints, principalID)
	f.recordLifecycle(ctx, audit.CapabilityRequested, principalID, resourceType, capability, err, "")
	return capability, err
}

// RequestTemporaryCapability is RequestCapability with expires_at = now + duration.
func (f *Facade) RequestTemporaryCapability(
	ctx context.Context,
	resourceType capDomain.ResourceType,
	constraints capDomain.Constraints,
	duration time.Duration,
	principalID string,
) (*capDomain.Capability, error) {
	withExpiry := constraints.Clone()
	if withExpiry == nil {
		withExpiry = capDomain.Constraints{}
	}
	withExpiry[capDomain.ExpiresAtConstraint] = time.Now().UTC().Add(duration)
	return f.RequestCapability(ctx, resourceType, withExpiry, principalID)
}

// ValidateCapability checks the capability is live and permits the operation
// on the resource. The decision is audited either way.
func (f *Facade) ValidateCapability(
	ctx context.Context,
	capability *capDomain.Capability,
	operation capDomain.Operation,
	resource string,
) error {
	err := f.active().ValidateCapability(ctx, capability, operation, resource)
	f.recordDecision(ctx, capability, operation, resource, err)
	return err
}

// DelegateCapability derives a narrowed capability for the target principal.
func (f *Facade) DelegateCapability(
	ctx context.Context,
	capability *capDomain.Capability,
	targetPrincipalID string,
	additionalConstraints capDomain.Constraints,
) (*capDomain.Capability, error) {
	child, err := f.active().DelegateCapability(ctx, capability, targetPrincipalID, additionalConstraints)
	event := &audit.Event{
		RequestID:   RequestIDFrom(ctx),
		PrincipalID: targetPrincipalID,
		EventType:   audit.CapabilityDelegated,
		Decision:    decisionFor(err),
		Reason:      reasonFor(err),
	}
	if capability != nil {
		event.CapabilityID = capability.ID
		event.ResourceType = string(capability.ResourceType)
	}
	if child != nil {
		event.Metadata = map[string]any{
			"child_capability_id": child.ID.String(),
			"delegation_depth":    child.DelegationDepth,
		}
	}
	f.recorder.Record(event)
	return child, err
}

// RevokeCapability permanently invalidates the capability and all descendants.
func (f *Facade) RevokeCapability(
	ctx context.Context,
	capability *capDomain.Capability,
	reason string,
) ([]uuid.UUID, error) {
	revoked, err := f.active().RevokeCapability(ctx, capability)
	event := &audit.Event{
		RequestID: RequestIDFrom(ctx),
		EventType: audit.CapabilityRevoked,
		Decision:  decisionFor(err),
		Reason:    reason,
	}
	if capability != nil {
		event.CapabilityID = capability.ID
		event.PrincipalID = capability.PrincipalID
		event.ResourceType = string(capability.ResourceType)
	}
	if err != nil {
		event.Reason = reasonFor(err)
	} else {
		event.Metadata = map[string]any{"cascade_count": len(revoked)}
	}
	f.recorder.Record(event)
	return revoked, err
}

// RevokeAllForPrincipal invalidates every capability held by the principal.
func (f *Facade) RevokeAllForPrincipal(
	ctx context.Context,
	principalID string,
	reason string,
) ([]uuid.UUID, error) {
	revoked, err := f.active().RevokeAllForPrincipal(ctx, principalID)
	event := &audit.Event{
		RequestID:   RequestIDFrom(ctx),
		PrincipalID: principalID,
		EventType:   audit.CapabilityRevoked,
		Decision:    decisionFor(err),
		Reason:      reason,
		Metadata:    map[string]any{"revoked_count": len(revoked), "principal_teardown": true},
	}
	if err != nil {
		event.Reason = reasonFor(err)
	}
	f.recorder.Record(event)
	return revoked, err
}

// ListCapabilities returns the principal's live capabilities.
func (f *Facade) ListCapabilities(ctx context.Context, principalID string) ([]*capDomain.Capability, error) {
	return f.active().ListCapabilities(ctx, principalID)
}

// CheckPermission reports whether any live capability of the principal permits
// the operation on the resource.
func (f *Facade) CheckPermission(
	ctx context.Context,
	principalID string,
	resourceType capDomain.ResourceType,
	operation capDomain.Operation,
	resource string,
) error {
	err := f.active().CheckPermission(ctx, principalID, resourceType, operation, resource)
	f.recorder.Record(&audit.Event{
		RequestID:    RequestIDFrom(ctx),
		PrincipalID:  principalID,
		EventType:    audit.PermissionChecked,
		Decision:     decisionFor(err),
		ResourceType: string(resourceType),
		Operation:    string(operation),
		Resource:     resource,
		Reason:       reasonFor(err),
	})
	return err
}

// LogSecurityEvent records a collaborator-supplied audit event.
func (f *Facade) LogSecurityEvent(
	ctx context.Context,
	eventType string,
	details map[string]any,
	principalID string,
) {
	f.recorder.Record(&audit.Event{
		RequestID:   RequestIDFrom(ctx),
		PrincipalID: principalID,
		EventType:   audit.SecurityEvent,
		Reason:      eventType,
		Metadata:    details,
	})
}

func (f *Facade) recordLifecycle(
	ctx context.Context,
	eventType audit.EventType,
	principalID string,
	resourceType capDomain.ResourceType,
	capability *capDomain.Capability,
	err error,
	reason string,
) {
	event := &audit.Event{
		RequestID:    RequestIDFrom(ctx),
		PrincipalID:  principalID,
		EventType:    eventType,
		Decision:     decisionFor(err),
		ResourceType: string(resourceType),
		Reason:       reason,
	}
	if capability != nil {
		event.CapabilityID = capability.ID
	}
	if err != nil {
		event.Reason = reasonFor(err)
	}
	f.recorder.Record(event)
}

func (f *Facade) recordDecision(
	ctx context.Context,
	capability *capDomain.Capability,
	operation capDomain.Operation,
	resource string,
	err error,
) {
	event := &audit.Event{
		RequestID: RequestIDFrom(ctx),
		EventType: audit.PermissionChecked,
		Decision:  decisionFor(err),
		Operation: string(operation),
		Resource:  resource,
		Reason:    reasonFor(err),
	}
	if capability != nil {
		event.CapabilityID = capability.ID
		event.PrincipalID = capability.PrincipalID
		event.ResourceType = string(capability.ResourceType)
	}
	f.recorder.Record(event)
}

func decisionFor(err error) audit.Decision {
	if err != nil {
		return audit.DecisionDenied
	}
	return audit.DecisionGranted
}

func reasonFor(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// RequestIDFrom pulls a request correlation id from the context when the HTTP
// layer has set one; uuid.Nil otherwise.
func RequestIDFrom(ctx context.Context) uuid.UUID {
	id, ok := ctx.Value(requestIDContextKey).(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}

// WithRequestID returns a context carrying the request correlation id used in
// audit events.
func WithRequestID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, requestIDContextKey, id)
}
