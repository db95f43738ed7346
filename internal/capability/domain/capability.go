package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Capability is an unforgeable permission token bound to a principal.
//
// All fields are immutable after creation except Revoked, which moves
// monotonically from false to true. The Signature covers every semantic field,
// so any mutation invalidates the capability.
type Capability struct {
	ID             uuid.UUID    // Unique identifier (UUIDv7); the jti in token mode
	ResourceType   ResourceType // Resource category this capability applies to
	PrincipalID    string       // Holder (agent/process/user) this capability is bound to
	Constraints    Constraints  // Open constraint map; recognized keys checked by built-ins
	IssuedAt       time.Time
	ExpiresAt      *time.Time // Denormalized from constraints for fast checks; nil means no expiry
	DelegationDepth int        // 0 for roots, parent depth + 1 for delegated capabilities
	ParentID       *uuid.UUID // Identifier of the capability this was delegated from
	Revoked        bool
	Signature      []byte // Integrity proof over the canonical fields

	// Token is the signed, serialized representation in token mode.
	// Empty for kernel-mode capabilities.
	Token string
}

// Clone returns a deep-enough copy: the constraint map and signature are
// copied so callers can hold the result without racing the authority's copy.
func (c *Capability) Clone() *Capability {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Constraints = c.Constraints.Clone()
	if c.Signature != nil {
		clone.Signature = make([]byte, len(c.Signature))
		copy(clone.Signature, c.Signature)
	}
	if c.ParentID != nil {
		parentID := *c.ParentID
		clone.ParentID = &parentID
	}
	if c.ExpiresAt != nil {
		expiresAt := *c.ExpiresAt
		clone.ExpiresAt = &expiresAt
	}
	return &clone
}

// CheckStructure verifies the capability's fields are well-formed: a non-zero
// id, a known resource type, a principal, and an issue timestamp. Constraint
// shapes are checked separately so a specific invalid_*_constraint error can
// be reported.
func (c *Capability) CheckStructure() error {
	if c == nil {
		return ErrInvalidCapabilityStructure
	}
	if c.ID == uuid.Nil {
		return ErrInvalidCapabilityStructure
	}
	if !KnownResourceType(c.ResourceType) {
		return ErrInvalidCapabilityStructure
	}
	if c.PrincipalID == "" {
		return ErrInvalidCapabilityStructure
	}
	if c.IssuedAt.IsZero() {
		return ErrInvalidCapabilityStructure
	}
	if c.DelegationDepth < 0 {
		return ErrInvalidCapabilityStructure
	}
	if c.DelegationDepth > 0 && c.ParentID == nil {
		return ErrInvalidCapabilityStructure
	}
	return c.Constraints.Check()
}

// IsExpired reports whether the capability is past its expiration at the given
// instant. A capability without expires_at never expires by itself.
func (c *Capability) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// Permits checks whether the capability allows the operation on the resource.
//
// An omitted constraint dimension is unconstrained, not forbidden: a capability
// with no operations constraint permits any operation, and one with neither
// paths nor scope permits any resource. The dimensions are independent and each
// failure has its own error kind.
func (c *Capability) Permits(operation Operation, resource string) error {
	ops, opsPresent, err := c.Constraints.Operations()
	if err != nil {
		return err
	}
	if opsPresent && !slices.Contains(ops, operation) {
		return ErrOperationNotPermitted
	}

	paths, pathsPresent, err := c.Constraints.Paths()
	if err != nil {
		return err
	}
	scope, scopePresent, err := c.Constraints.Scope()
	if err != nil {
		return err
	}
	if !pathsPresent && !scopePresent {
		return nil
	}
	for _, p := range paths {
		if PathWithin(resource, p) {
			return nil
		}
	}
	if scopePresent && scope != "" && PathWithin(resource, scope) {
		return nil
	}
	return ErrResourceNotPermitted
}

// PermitsTool checks whether the capability allows invoking the named MCP tool.
// Without an allowed_tools constraint any tool is permitted.
func (c *Capability) PermitsTool(toolName string) error {
	tools, present, err := c.Constraints.AllowedTools()
	if err != nil {
		return err
	}
	if present && !slices.Contains(tools, toolName) {
		return ErrToolNotAllowed
	}
	return nil
}

// CanDelegate checks whether a child capability may be derived from this one.
// Delegation is refused when the capability is revoked, when max_delegations
// is zero, or when the delegation depth has reached depthCap. The unlimited
// budget sentinel permits delegation at any depth.
func (c *Capability) CanDelegate(depthCap int) error {
	if c.Revoked {
		return ErrDelegationNotAllowed
	}
	limit, unlimited, present, err := c.Constraints.MaxDelegations()
	if err != nil {
		return err
	}
	if unlimited {
		return nil
	}
	if present && limit == 0 {
		return ErrDelegationNotAllowed
	}
	if depthCap > 0 && c.DelegationDepth >= depthCap {
		return ErrDelegationNotAllowed
	}
	return nil
}

// Revoke marks the capability revoked. The flag is monotonic: it is never
// cleared, and every later validation fails with ErrCapabilityRevoked.
func (c *Capability) Revoke() {
	c.Revoked = true
}

// ExpiresAtFromConstraints denormalizes the expires_at constraint into the
// dedicated field used for fast expiry checks. Returns nil when unconstrained.
func ExpiresAtFromConstraints(constraints Constraints) (*time.Time, error) {
	exp, present, err := constraints.ExpiresAt()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	utc := exp.UTC()
	return &utc, nil
}
