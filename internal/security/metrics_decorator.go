package security

import (
	"context"
	"time"

	"github.com/google/uuid"

	capDomain "github.com/allisson/capsec/internal/capability/domain"
	"github.com/allisson/capsec/internal/metrics"
)

// providerWithMetrics decorates Provider with metrics instrumentation.
type providerWithMetrics struct {
	next    Provider
	metrics metrics.SecurityMetrics
}

// NewProviderWithMetrics wraps a Provider with metrics recording.
func NewProviderWithMetrics(provider Provider, m metrics.SecurityMetrics) Provider {
	return &providerWithMetrics{
		next:    provider,
		metrics: m,
	}
}

func (p *providerWithMetrics) mode() string {
	if p.next.UseTokenMode() {
		return "token"
	}
	return "kernel"
}

func (p *providerWithMetrics) record(ctx context.Context, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordOperation(ctx, p.mode(), operation, status)
	p.metrics.RecordDuration(ctx, p.mode(), operation, time.Since(start), status)
}

// RequestCapability records metrics for root capability grants.
func (p *providerWithMetrics) RequestCapability(
	ctx context.Context,
	resourceType capDomain.ResourceType,
	constraints capDomain.Constraints,
	principalID string,
) (*capDomain.Capability, error) {
	start := time.Now()
	capability, err := p.next.RequestCapability(ctx, resourceType, constraints, principalID)
	p.record(ctx, "request_capability", start, err)
	return capability, err
}

// RequestTemporaryCapability records metrics for temporary capability grants.
func (p *providerWithMetrics) RequestTemporaryCapability(
	ctx context.Context,
	resourceType capDomain.ResourceType,
	constraints capDomain.Constraints,
	duration time.Duration,
	principalID string,
) (*capDomain.Capability, error) {
	start := time.Now()
	capability, err := p.next.RequestTemporaryCapability(ctx, resourceType, constraints, duration, principalID)
	p.record(ctx, "request_temporary_capability", start, err)
	return capability, err
}

// ValidateCapability records metrics for validation decisions.
func (p *providerWithMetrics) ValidateCapability(
	ctx context.Context,
	capability *capDomain.Capability,
	operation capDomain.Operation,
	resource string,
) error {
	start := time.Now()
	err := p.next.ValidateCapability(ctx, capability, operation, resource)
	p.record(ctx, "validate_capability", start, err)
	return err
}

// DelegateCapability records metrics for delegations.
func (p *providerWithMetrics) DelegateCapability(
	ctx context.Context,
	capability *capDomain.Capability,
	targetPrincipalID string,
	additionalConstraints capDomain.Constraints,
) (*capDomain.Capability, error) {
	start := time.Now()
	child, err := p.next.DelegateCapability(ctx, capability, targetPrincipalID, additionalConstraints)
	p.record(ctx, "delegate_capability", start, err)
	return child, err
}

// RevokeCapability records metrics for revocations.
func (p *providerWithMetrics) RevokeCapability(
	ctx context.Context,
	capability *capDomain.Capability,
	reason string,
) ([]uuid.UUID, error) {
	start := time.Now()
	revoked, err := p.next.RevokeCapability(ctx, capability, reason)
	p.record(ctx, "revoke_capability", start, err)
	return revoked, err
}

// RevokeAllForPrincipal records metrics for principal teardown.
func (p *providerWithMetrics) RevokeAllForPrincipal(
	ctx context.Context,
	principalID string,
	reason string,
) ([]uuid.UUID, error) {
	start := time.Now()
	revoked, err := p.next.RevokeAllForPrincipal(ctx, principalID, reason)
	p.record(ctx, "revoke_all_for_principal", start, err)
	return revoked, err
}

// ListCapabilities records metrics for listing.
func (p *providerWithMetrics) ListCapabilities(
	ctx context.Context,
	principalID string,
) ([]*capDomain.Capability, error) {
	start := time.Now()
	capabilities, err := p.next.ListCapabilities(ctx, principalID)
	p.record(ctx, "list_capabilities", start, err)
	return capabilities, err
}

// CheckPermission records metrics for convenience permission checks.
func (p *providerWithMetrics) CheckPermission(
	ctx context.Context,
	principalID string,
	resourceType capDomain.ResourceType,
	operation capDomain.Operation,
	resource string,
) error {
	start := time.Now()
	err := p.next.CheckPermission(ctx, principalID, resourceType, operation, resource)
	p.record(ctx, "check_permission", start, err)
	return err
}

// LogSecurityEvent passes through; recording a metric about recording an audit
// event adds nothing.
func (p *providerWithMetrics) LogSecurityEvent(
	ctx context.Context,
	eventType string,
	details map[string]any,
	principalID string,
) {
	p.next.LogSecurityEvent(ctx, eventType, details, principalID)
}

// UseTokenMode passes through.
func (p *providerWithMetrics) UseTokenMode() bool {
	return p.next.UseTokenMode()
}

// SetTokenMode passes through.
func (p *providerWithMetrics) SetTokenMode(enabled bool) {
	p.next.SetTokenMode(enabled)
}
