package security

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/capsec/internal/audit"
	capDomain "github.com/allisson/capsec/internal/capability/domain"
	capService "github.com/allisson/capsec/internal/capability/service"
	"github.com/allisson/capsec/internal/kernel"
	"github.com/allisson/capsec/internal/token"
)

// memorySink collects flushed audit events for assertions.
type memorySink struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (s *memorySink) Flush(_ context.Context, events []*audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *memorySink) byType(eventType audit.EventType) []*audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*audit.Event
	for _, event := range s.events {
		if event.EventType == eventType {
			out = append(out, event)
		}
	}
	return out
}

type facadeFixture struct {
	facade   *Facade
	recorder *audit.Recorder
	sink     *memorySink
}

// drain flushes the recorder so the sink holds everything recorded so far.
func (f *facadeFixture) drain() {
	f.recorder.Close()
}

func newFacadeFixture(t *testing.T) *facadeFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	signer, err := capService.NewHMACSigner([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	k := kernel.New(capService.NewFactory(signer), capService.NewValidator(signer), kernel.Config{})
	t.Cleanup(k.Close)

	issuer, err := token.NewIssuer(signer, 0)
	require.NoError(t, err)
	revocation := token.NewRevocationCache(time.Minute)
	t.Cleanup(revocation.Close)

	sink := &memorySink{}
	recorder := audit.NewRecorder(sink, logger, audit.Config{})
	t.Cleanup(recorder.Close)

	tokenEnforcer := NewTokenEnforcer(issuer, token.NewValidator(signer, revocation), revocation, time.Minute)
	t.Cleanup(tokenEnforcer.Close)

	facade := NewFacade(
		NewKernelEnforcer(k),
		tokenEnforcer,
		recorder,
		logger,
	)
	return &facadeFixture{facade: facade, recorder: recorder, sink: sink}
}

func TestFacade_ModeSelection(t *testing.T) {
	fixture := newFacadeFixture(t)
	defer fixture.drain()
	ctx := context.Background()

	assert.False(t, fixture.facade.UseTokenMode())

	// Kernel mode issues table-backed capabilities without a token blob.
	kernelCap, err := fixture.facade.RequestCapability(ctx, capDomain.FilesystemResource, nil, "agent-1")
	require.NoError(t, err)
	assert.Empty(t, kernelCap.Token)

	fixture.facade.SetTokenMode(true)
	assert.True(t, fixture.facade.UseTokenMode())

	tokenCap, err := fixture.facade.RequestCapability(ctx, capDomain.FilesystemResource, nil, "agent-1")
	require.NoError(t, err)
	assert.NotEmpty(t, tokenCap.Token)

	// A kernel-mode capability is not transferable to token mode.
	assert.ErrorIs(t,
		fixture.facade.ValidateCapability(ctx, kernelCap, capDomain.ReadOperation, "/x"),
		capDomain.ErrInvalidCapabilityStructure)
}

func TestFacade_RequestCapabilityAudits(t *testing.T) {
	fixture := newFacadeFixture(t)
	ctx := WithRequestID(context.Background(), uuid.Must(uuid.NewV7()))

	granted, err := fixture.facade.RequestCapability(
		ctx,
		capDomain.FilesystemResource,
		capDomain.Constraints{capDomain.PathsConstraint: []string{"/workspace"}},
		"agent-1",
	)
	require.NoError(t, err)

	_, err = fixture.facade.RequestCapability(ctx, "gpu", nil, "agent-1")
	require.Error(t, err)

	fixture.drain()

	events := fixture.sink.byType(audit.CapabilityRequested)
	require.Len(t, events, 2)

	assert.Equal(t, audit.DecisionGranted, events[0].Decision)
	assert.Equal(t, granted.ID, events[0].CapabilityID)
	assert.Equal(t, "agent-1", events[0].PrincipalID)
	assert.Equal(t, RequestIDFrom(ctx), events[0].RequestID)

	assert.Equal(t, audit.DecisionDenied, events[1].Decision)
	assert.NotEmpty(t, events[1].Reason)
}

func TestFacade_RequestTemporaryCapability(t *testing.T) {
	fixture := newFacadeFixture(t)
	defer fixture.drain()
	ctx := context.Background()

	capability, err := fixture.facade.RequestTemporaryCapability(
		ctx, capDomain.NetworkResource, nil, time.Hour, "agent-1")
	require.NoError(t, err)

	require.NotNil(t, capability.ExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), *capability.ExpiresAt, time.Minute)

	t.Run("caller constraints are not mutated", func(t *testing.T) {
		constraints := capDomain.Constraints{capDomain.PathsConstraint: []string{"/workspace"}}
		_, err := fixture.facade.RequestTemporaryCapability(
			ctx, capDomain.FilesystemResource, constraints, time.Hour, "agent-1")
		require.NoError(t, err)
		assert.NotContains(t, constraints, capDomain.ExpiresAtConstraint)
	})
}

func TestFacade_ValidateCapabilityAudits(t *testing.T) {
	fixture := newFacadeFixture(t)
	ctx := context.Background()

	capability, err := fixture.facade.RequestCapability(
		ctx,
		capDomain.FilesystemResource,
		capDomain.Constraints{capDomain.OperationsConstraint: []string{"read"}},
		"agent-1",
	)
	require.NoError(t, err)

	require.NoError(t, fixture.facade.ValidateCapability(ctx, capability, capDomain.ReadOperation, "/x"))
	require.Error(t, fixture.facade.ValidateCapability(ctx, capability, capDomain.WriteOperation, "/x"))

	fixture.drain()

	decisions := fixture.sink.byType(audit.PermissionChecked)
	require.Len(t, decisions, 2)
	assert.Equal(t, audit.DecisionGranted, decisions[0].Decision)
	assert.Equal(t, audit.DecisionDenied, decisions[1].Decision)
	assert.Equal(t, capability.ID, decisions[1].CapabilityID)
	assert.Equal(t, "write", decisions[1].Operation)
	assert.NotEmpty(t, decisions[1].Reason)
}

func TestFacade_DelegateCapabilityAudits(t *testing.T) {
	fixture := newFacadeFixture(t)
	ctx := context.Background()

	parent, err := fixture.facade.RequestCapability(ctx, capDomain.FilesystemResource, nil, "agent-1")
	require.NoError(t, err)

	child, err := fixture.facade.DelegateCapability(ctx, parent, "agent-2", nil)
	require.NoError(t, err)

	fixture.drain()

	events := fixture.sink.byType(audit.CapabilityDelegated)
	require.Len(t, events, 1)
	assert.Equal(t, audit.DecisionGranted, events[0].Decision)
	assert.Equal(t, "agent-2", events[0].PrincipalID)
	assert.Equal(t, parent.ID, events[0].CapabilityID)
	assert.Equal(t, child.ID.String(), events[0].Metadata["child_capability_id"])
}

func TestFacade_RevokeCapabilityAudits(t *testing.T) {
	fixture := newFacadeFixture(t)
	ctx := context.Background()

	parent, err := fixture.facade.RequestCapability(ctx, capDomain.FilesystemResource, nil, "agent-1")
	require.NoError(t, err)
	_, err = fixture.facade.DelegateCapability(ctx, parent, "agent-2", nil)
	require.NoError(t, err)

	revoked, err := fixture.facade.RevokeCapability(ctx, parent, "workspace teardown")
	require.NoError(t, err)
	assert.Len(t, revoked, 2)

	fixture.drain()

	events := fixture.sink.byType(audit.CapabilityRevoked)
	require.Len(t, events, 1)
	assert.Equal(t, "workspace teardown", events[0].Reason)
	assert.Equal(t, 2, events[0].Metadata["cascade_count"])
}

func TestFacade_RevokeAllForPrincipal(t *testing.T) {
	fixture := newFacadeFixture(t)
	ctx := context.Background()

	_, err := fixture.facade.RequestCapability(ctx, capDomain.FilesystemResource, nil, "agent-1")
	require.NoError(t, err)
	_, err = fixture.facade.RequestCapability(ctx, capDomain.NetworkResource, nil, "agent-1")
	require.NoError(t, err)

	revoked, err := fixture.facade.RevokeAllForPrincipal(ctx, "agent-1", "agent exited")
	require.NoError(t, err)
	assert.Len(t, revoked, 2)

	caps, err := fixture.facade.ListCapabilities(ctx, "agent-1")
	require.NoError(t, err)
	assert.Empty(t, caps)
}

func TestFacade_CheckPermissionTokenMode(t *testing.T) {
	fixture := newFacadeFixture(t)
	defer fixture.drain()
	fixture.facade.SetTokenMode(true)
	ctx := context.Background()

	capability, err := fixture.facade.RequestCapability(
		ctx,
		capDomain.FilesystemResource,
		capDomain.Constraints{capDomain.PathsConstraint: []string{"/workspace"}},
		"agent-1",
	)
	require.NoError(t, err)

	// Token mode consults the scoped capability set, not a central table.
	assert.ErrorIs(t,
		fixture.facade.CheckPermission(ctx, "agent-1", capDomain.FilesystemResource, capDomain.ReadOperation, "/workspace/f"),
		capDomain.ErrPermissionDenied)

	err = WithCapabilities(ctx, []*capDomain.Capability{capability}, func(scoped context.Context) error {
		return fixture.facade.CheckPermission(
			scoped, "agent-1", capDomain.FilesystemResource, capDomain.ReadOperation, "/workspace/f")
	})
	assert.NoError(t, err)
}

func TestFacade_LogSecurityEvent(t *testing.T) {
	fixture := newFacadeFixture(t)
	ctx := context.Background()

	fixture.facade.LogSecurityEvent(ctx, "sandbox_escape_attempt", map[string]any{
		"pid":     1234,
		"api_key": "sk-123",
	}, "agent-1")

	fixture.drain()

	events := fixture.sink.byType(audit.SecurityEvent)
	require.Len(t, events, 1)
	assert.Equal(t, "sandbox_escape_attempt", events[0].Reason)
	assert.Equal(t, "agent-1", events[0].PrincipalID)
	assert.Equal(t, "[REDACTED]", events[0].Metadata["api_key"])
}
