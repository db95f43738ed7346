package security

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	capDomain "github.com/allisson/capsec/internal/capability/domain"
	"github.com/allisson/capsec/internal/token"
)

// TokenEnforcer adapts the distributed token path to the Enforcer strategy.
//
// Tokens are never centrally stored; validation is local. The enforcer keeps
// only revocation metadata: the shared revocation cache, plus a lightweight
// issuance index (principal -> jtis with natural expiry) so that
// RevokeAllForPrincipal and cascade revocation remain possible without storing
// capabilities themselves. A janitor drops index entries once the token would
// no longer verify anyway, so the index stays proportional to live tokens.
type TokenEnforcer struct {
	issuer     *token.Issuer
	validator  *token.Validator
	revocation *token.RevocationCache

	mu       sync.Mutex
	issued   map[string][]issuedToken    // principal -> issued jtis
	children map[uuid.UUID][]uuid.UUID   // parent jti -> child jtis
	expiries map[uuid.UUID]time.Time     // jti -> natural expiry (zero = none)

	stop    chan struct{}
	stopped sync.Once
}

type issuedToken struct {
	jti    uuid.UUID
	expiry time.Time
}

// NewTokenEnforcer creates the token-mode enforcement strategy and starts its
// index janitor. Callers must Close it.
func NewTokenEnforcer(
	issuer *token.Issuer,
	validator *token.Validator,
	revocation *token.RevocationCache,
	sweepInterval time.Duration,
) *TokenEnforcer {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	e := &TokenEnforcer{
		issuer:     issuer,
		validator:  validator,
		revocation: revocation,
		issued:     make(map[string][]issuedToken),
		children:   make(map[uuid.UUID][]uuid.UUID),
		expiries:   make(map[uuid.UUID]time.Time),
		stop:       make(chan struct{}),
	}
	go e.janitor(sweepInterval)
	return e
}

// Close stops the janitor goroutine.
func (e *TokenEnforcer) Close() {
	e.stopped.Do(func() { close(e.stop) })
}

func (e *TokenEnforcer) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case now := <-ticker.C:
			e.sweepExpired(now.UTC())
		}
	}
}

// sweepExpired drops index entries for tokens past their natural expiry.
// Delegation clamps a child's expiry to its parent's, so an expired entry
// cannot have live descendants that still need its children index.
func (e *TokenEnforcer) sweepExpired(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for principal, tokens := range e.issued {
		live := tokens[:0]
		for _, issued := range tokens {
			if issued.expiry.IsZero() || now.Before(issued.expiry) {
				live = append(live, issued)
				continue
			}
			delete(e.expiries, issued.jti)
			delete(e.children, issued.jti)
		}
		if len(live) == 0 {
			delete(e.issued, principal)
			continue
		}
		e.issued[principal] = live
	}
}

func (e *TokenEnforcer) RequestCapability(
	_ context.Context,
	resourceType capDomain.ResourceType,
	constraints capDomain.Constraints,
	principalID string,
) (*capDomain.Capability, error) {
	capability, err := e.issuer.Issue(resourceType, constraints, principalID)
	if err != nil {
		return nil, err
	}
	e.index(capability)
	return capability, nil
}

func (e *TokenEnforcer) ValidateCapability(
	_ context.Context,
	capability *capDomain.Capability,
	operation capDomain.Operation,
	resource string,
) error {
	return e.validator.ValidateCapability(capability, operation, resource)
}

func (e *TokenEnforcer) DelegateCapability(
	_ context.Context,
	capability *capDomain.Capability,
	targetPrincipalID string,
	additionalConstraints capDomain.Constraints,
) (*capDomain.Capability, error) {
	if capability == nil || capability.Token == "" {
		return nil, capDomain.ErrInvalidCapabilityStructure
	}
	// Re-decode so delegation starts from the verified claims, not from
	// whatever fields the caller presented alongside the token.
	parent, err := e.validator.Decode(capability.Token)
	if err != nil {
		return nil, err
	}
	if e.revocation.IsRevoked(parent.ID) {
		return nil, capDomain.ErrDelegationNotAllowed
	}
	child, err := e.issuer.Delegate(parent, targetPrincipalID, additionalConstraints)
	if err != nil {
		return nil, err
	}
	e.index(child)
	return child, nil
}

func (e *TokenEnforcer) RevokeCapability(
	_ context.Context,
	capability *capDomain.Capability,
) ([]uuid.UUID, error) {
	if capability == nil {
		return nil, capDomain.ErrInvalidCapabilityStructure
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.revokeCascadeLocked(capability.ID), nil
}

func (e *TokenEnforcer) RevokeAllForPrincipal(_ context.Context, principalID string) ([]uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var revoked []uuid.UUID
	for _, issued := range e.issued[principalID] {
		revoked = append(revoked, e.revokeCascadeLocked(issued.jti)...)
	}
	return revoked, nil
}

// ListCapabilities returns nothing in token mode: tokens are held by their
// principals, never by the issuer.
func (e *TokenEnforcer) ListCapabilities(_ context.Context, _ string) ([]*capDomain.Capability, error) {
	return nil, nil
}

// CheckPermission consults the scoped capability set carried in the context,
// since token mode has no authoritative table to scan.
func (e *TokenEnforcer) CheckPermission(
	ctx context.Context,
	principalID string,
	resourceType capDomain.ResourceType,
	operation capDomain.Operation,
	resource string,
) error {
	for _, capability := range CapabilitiesFrom(ctx) {
		if capability.PrincipalID != principalID || capability.ResourceType != resourceType {
			continue
		}
		if e.validator.ValidateCapability(capability, operation, resource) != nil {
			continue
		}
		if resourceType == capDomain.MCPToolResource && capability.PermitsTool(resource) != nil {
			continue
		}
		return nil
	}
	return capDomain.ErrPermissionDenied
}

// index records revocation metadata for an issued token.
func (e *TokenEnforcer) index(capability *capDomain.Capability) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var expiry time.Time
	if capability.ExpiresAt != nil {
		expiry = *capability.ExpiresAt
	}
	e.issued[capability.PrincipalID] = append(e.issued[capability.PrincipalID], issuedToken{
		jti:    capability.ID,
		expiry: expiry,
	})
	e.expiries[capability.ID] = expiry
	if capability.ParentID != nil {
		e.children[*capability.ParentID] = append(e.children[*capability.ParentID], capability.ID)
	}
}

// revokeCascadeLocked lists the jti and all indexed descendants in the
// revocation cache. Requires e.mu held.
func (e *TokenEnforcer) revokeCascadeLocked(jti uuid.UUID) []uuid.UUID {
	var revoked []uuid.UUID
	stack := []uuid.UUID{jti}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if e.revocation.IsRevoked(current) {
			continue
		}
		e.revocation.Revoke(current, e.expiries[current])
		revoked = append(revoked, current)
		stack = append(stack, e.children[current]...)
	}
	return revoked
}
