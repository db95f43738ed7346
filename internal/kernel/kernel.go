// Package kernel implements the centralized capability authority.
//
// The kernel is a single-writer actor: every operation is a message processed
// one at a time in arrival order by one goroutine that owns the capability
// table. Total ordering of mutations means a capability can never be delegated
// in the same instant it is being revoked. Validation re-checks the
// authoritative copy, closing any window for a caller to fabricate an
// unrevoked capability.
package kernel

import (
	"context"
	"time"

	"github.com/google/uuid"

	capDomain "github.com/allisson/capsec/internal/capability/domain"
	capService "github.com/allisson/capsec/internal/capability/service"
	apperrors "github.com/allisson/capsec/internal/errors"
)

// ErrKernelClosed indicates an operation was attempted after Close.
var ErrKernelClosed = apperrors.New("kernel closed")

// Config holds the kernel's tunables.
type Config struct {
	// DelegationDepthCap refuses delegation beyond this depth unless the
	// capability carries the unlimited sentinel. Zero disables the cap.
	DelegationDepthCap int

	// RetentionWindow keeps revoked and expired capabilities in the table for
	// audit correlation before the sweep evicts them.
	RetentionWindow time.Duration

	// SweepInterval is how often the actor evicts dead entries.
	SweepInterval time.Duration
}

// entry is a stored capability plus its eviction bookkeeping.
type entry struct {
	capability *capDomain.Capability
	deadAt     *time.Time // when the entry became revoked/expired; nil while live
}

// Kernel is the centralized, strongly consistent capability authority.
type Kernel struct {
	factory   capService.Factory
	validator capService.Validator
	cfg       Config

	requests chan func(*table)
	closed   chan struct{}
}

// table is the actor-owned state. Only the run goroutine touches it.
type table struct {
	byID        map[uuid.UUID]*entry
	byPrincipal map[string]map[uuid.UUID]struct{}
	children    map[uuid.UUID][]uuid.UUID
}

// New creates a kernel and starts its actor goroutine. Callers must Close it.
func New(factory capService.Factory, validator capService.Validator, cfg Config) *Kernel {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = 5 * time.Minute
	}
	k := &Kernel{
		factory:   factory,
		validator: validator,
		cfg:       cfg,
		requests:  make(chan func(*table)),
		closed:    make(chan struct{}),
	}
	go k.run()
	return k
}

// run is the actor loop. All table access happens here.
func (k *Kernel) run() {
	t := &table{
		byID:        make(map[uuid.UUID]*entry),
		byPrincipal: make(map[string]map[uuid.UUID]struct{}),
		children:    make(map[uuid.UUID][]uuid.UUID),
	}
	sweep := time.NewTicker(k.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-k.closed:
			return
		case fn := <-k.requests:
			fn(t)
		case <-sweep.C:
			k.sweepDead(t, time.Now().UTC())
		}
	}
}

// Close stops the actor. Later calls fail with ErrKernelClosed.
func (k *Kernel) Close() {
	close(k.closed)
}

// do runs fn on the actor goroutine and waits for completion.
func (k *Kernel) do(ctx context.Context, fn func(*table)) error {
	done := make(chan struct{})
	wrapped := func(t *table) {
		fn(t)
		close(done)
	}
	select {
	case <-k.closed:
		return ErrKernelClosed
	case <-ctx.Done():
		return ctx.Err()
	case k.requests <- wrapped:
	}
	select {
	case <-k.closed:
		return ErrKernelClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// RequestCapability creates, signs and stores a root capability for the principal.
func (k *Kernel) RequestCapability(
	ctx context.Context,
	resourceType capDomain.ResourceType,
	constraints capDomain.Constraints,
	principalID string,
) (*capDomain.Capability, error) {
	var (
		capability *capDomain.Capability
		opErr      error
	)
	err := k.do(ctx, func(t *table) {
		capability, opErr = k.factory.Create(resourceType, constraints, principalID)
		if opErr != nil {
			return
		}
		t.store(capability)
		capability = capability.Clone()
	})
	if err != nil {
		return nil, err
	}
	return capability, opErr
}

// ValidateCapability validates the authoritative copy of the presented
// capability and checks it permits the operation on the resource. The
// caller-presented structure is only trusted for its id.
func (k *Kernel) ValidateCapability(
	ctx context.Context,
	capabilityID uuid.UUID,
	operation capDomain.Operation,
	resource string,
) error {
	var opErr error
	err := k.do(ctx, func(t *table) {
		e, ok := t.byID[capabilityID]
		if !ok {
			opErr = capDomain.ErrCapabilityNotFound
			return
		}
		if opErr = k.validator.Validate(e.capability, time.Now().UTC()); opErr != nil {
			return
		}
		opErr = e.capability.Permits(operation, resource)
	})
	if err != nil {
		return err
	}
	return opErr
}

// DelegateCapability derives a narrowed child capability for the target
// principal from the authoritative copy of the parent.
func (k *Kernel) DelegateCapability(
	ctx context.Context,
	parentID uuid.UUID,
	targetPrincipalID string,
	additionalConstraints capDomain.Constraints,
) (*capDomain.Capability, error) {
	var (
		child *capDomain.Capability
		opErr error
	)
	err := k.do(ctx, func(t *table) {
		e, ok := t.byID[parentID]
		if !ok {
			opErr = capDomain.ErrCapabilityNotFound
			return
		}
		parent := e.capability
		if parent.IsExpired(time.Now().UTC()) {
			opErr = capDomain.ErrCapabilityExpired
			return
		}
		if opErr = parent.CanDelegate(k.cfg.DelegationDepthCap); opErr != nil {
			return
		}
		child, opErr = k.factory.Delegate(parent, targetPrincipalID, additionalConstraints)
		if opErr != nil {
			return
		}
		t.store(child)
		t.children[parent.ID] = append(t.children[parent.ID], child.ID)
		child = child.Clone()
	})
	if err != nil {
		return nil, err
	}
	return child, opErr
}

// RevokeCapability revokes the capability and, mandatorily, every descendant
// reachable through the parent-child index. A revoked capability's descendants
// are never separately valid. Returns the ids of everything revoked.
func (k *Kernel) RevokeCapability(ctx context.Context, capabilityID uuid.UUID) ([]uuid.UUID, error) {
	var (
		revoked []uuid.UUID
		opErr   error
	)
	err := k.do(ctx, func(t *table) {
		if _, ok := t.byID[capabilityID]; !ok {
			opErr = capDomain.ErrCapabilityNotFound
			return
		}
		revoked = t.revokeCascade(capabilityID, time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}
	return revoked, opErr
}

// RevokeAllForPrincipal revokes every capability held by the principal,
// cascading to descendants delegated onward to other principals. Used on
// agent teardown. Returns the ids of everything revoked.
func (k *Kernel) RevokeAllForPrincipal(ctx context.Context, principalID string) ([]uuid.UUID, error) {
	var revoked []uuid.UUID
	err := k.do(ctx, func(t *table) {
		now := time.Now().UTC()
		for id := range t.byPrincipal[principalID] {
			if e, ok := t.byID[id]; ok && !e.capability.Revoked {
				revoked = append(revoked, t.revokeCascade(id, now)...)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return revoked, nil
}

// ListCapabilities returns copies of the principal's live capabilities.
func (k *Kernel) ListCapabilities(ctx context.Context, principalID string) ([]*capDomain.Capability, error) {
	var caps []*capDomain.Capability
	err := k.do(ctx, func(t *table) {
		now := time.Now().UTC()
		for id := range t.byPrincipal[principalID] {
			e, ok := t.byID[id]
			if !ok || e.capability.Revoked || e.capability.IsExpired(now) {
				continue
			}
			caps = append(caps, e.capability.Clone())
		}
	})
	if err != nil {
		return nil, err
	}
	return caps, nil
}

// CheckPermission reports whether any live capability of the principal permits
// the operation on the resource. Returns ErrPermissionDenied when none does.
func (k *Kernel) CheckPermission(
	ctx context.Context,
	principalID string,
	resourceType capDomain.ResourceType,
	operation capDomain.Operation,
	resource string,
) error {
	var opErr error
	err := k.do(ctx, func(t *table) {
		now := time.Now().UTC()
		for id := range t.byPrincipal[principalID] {
			e, ok := t.byID[id]
			if !ok || e.capability.ResourceType != resourceType {
				continue
			}
			if k.validator.Validate(e.capability, now) != nil {
				continue
			}
			if e.capability.Permits(operation, resource) != nil {
				continue
			}
			if resourceType == capDomain.MCPToolResource && e.capability.PermitsTool(resource) != nil {
				continue
			}
			opErr = nil
			return
		}
		opErr = capDomain.ErrPermissionDenied
	})
	if err != nil {
		return err
	}
	return opErr
}

// store indexes a capability by id and principal.
func (t *table) store(c *capDomain.Capability) {
	t.byID[c.ID] = &entry{capability: c}
	principals, ok := t.byPrincipal[c.PrincipalID]
	if !ok {
		principals = make(map[uuid.UUID]struct{})
		t.byPrincipal[c.PrincipalID] = principals
	}
	principals[c.ID] = struct{}{}
}

// revokeCascade marks the capability and all descendants revoked, depth-first
// through the child index. Cost is O(descendants), not O(table).
func (t *table) revokeCascade(id uuid.UUID, now time.Time) []uuid.UUID {
	var revoked []uuid.UUID
	stack := []uuid.UUID{id}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		e, ok := t.byID[current]
		if !ok {
			continue
		}
		if !e.capability.Revoked {
			e.capability.Revoke()
			deadAt := now
			e.deadAt = &deadAt
			revoked = append(revoked, current)
		}
		stack = append(stack, t.children[current]...)
	}
	return revoked
}

// sweepDead evicts revoked and expired entries once the retention window has
// passed, so audit correlation against recent decisions keeps working.
func (k *Kernel) sweepDead(t *table, now time.Time) {
	for id, e := range t.byID {
		if e.deadAt == nil && e.capability.IsExpired(now) {
			deadAt := now
			e.deadAt = &deadAt
		}
		if e.deadAt == nil || now.Sub(*e.deadAt) < k.cfg.RetentionWindow {
			continue
		}
		delete(t.byID, id)
		delete(t.children, id)
		if principals, ok := t.byPrincipal[e.capability.PrincipalID]; ok {
			delete(principals, id)
			if len(principals) == 0 {
				delete(t.byPrincipal, e.capability.PrincipalID)
			}
		}
	}
}
