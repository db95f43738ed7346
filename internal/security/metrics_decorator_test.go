package security

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	capDomain "github.com/allisson/capsec/internal/capability/domain"
)

// recordingMetrics captures metric calls for assertions.
type recordingMetrics struct {
	mu         sync.Mutex
	operations []string // "mode/operation/status"
	durations  int
}

func (m *recordingMetrics) RecordOperation(_ context.Context, mode, operation, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations = append(m.operations, mode+"/"+operation+"/"+status)
}

func (m *recordingMetrics) RecordDuration(
	_ context.Context, _, _ string, _ time.Duration, _ string,
) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations++
}

// stubProvider returns canned results so the decorator's labeling can be
// asserted without a full enforcement stack.
type stubProvider struct {
	err       error
	tokenMode bool

	securityEvents int
}

func (s *stubProvider) RequestCapability(
	context.Context, capDomain.ResourceType, capDomain.Constraints, string,
) (*capDomain.Capability, error) {
	return nil, s.err
}

func (s *stubProvider) RequestTemporaryCapability(
	context.Context, capDomain.ResourceType, capDomain.Constraints, time.Duration, string,
) (*capDomain.Capability, error) {
	return nil, s.err
}

func (s *stubProvider) ValidateCapability(
	context.Context, *capDomain.Capability, capDomain.Operation, string,
) error {
	return s.err
}

func (s *stubProvider) DelegateCapability(
	context.Context, *capDomain.Capability, string, capDomain.Constraints,
) (*capDomain.Capability, error) {
	return nil, s.err
}

func (s *stubProvider) RevokeCapability(
	context.Context, *capDomain.Capability, string,
) ([]uuid.UUID, error) {
	return nil, s.err
}

func (s *stubProvider) RevokeAllForPrincipal(context.Context, string, string) ([]uuid.UUID, error) {
	return nil, s.err
}

func (s *stubProvider) ListCapabilities(context.Context, string) ([]*capDomain.Capability, error) {
	return nil, s.err
}

func (s *stubProvider) CheckPermission(
	context.Context, string, capDomain.ResourceType, capDomain.Operation, string,
) error {
	return s.err
}

func (s *stubProvider) LogSecurityEvent(context.Context, string, map[string]any, string) {
	s.securityEvents++
}

func (s *stubProvider) UseTokenMode() bool { return s.tokenMode }

func (s *stubProvider) SetTokenMode(enabled bool) { s.tokenMode = enabled }

func TestProviderWithMetrics(t *testing.T) {
	ctx := context.Background()

	t.Run("success is labeled per mode and operation", func(t *testing.T) {
		recording := &recordingMetrics{}
		provider := NewProviderWithMetrics(&stubProvider{}, recording)

		_, _ = provider.RequestCapability(ctx, capDomain.FilesystemResource, nil, "agent-1")
		_ = provider.CheckPermission(ctx, "agent-1", capDomain.FilesystemResource, capDomain.ReadOperation, "/x")

		require.Len(t, recording.operations, 2)
		assert.Equal(t, "kernel/request_capability/success", recording.operations[0])
		assert.Equal(t, "kernel/check_permission/success", recording.operations[1])
		assert.Equal(t, 2, recording.durations)
	})

	t.Run("denials are labeled as errors", func(t *testing.T) {
		recording := &recordingMetrics{}
		provider := NewProviderWithMetrics(&stubProvider{err: capDomain.ErrPermissionDenied}, recording)

		err := provider.ValidateCapability(ctx, nil, capDomain.ReadOperation, "/x")
		assert.ErrorIs(t, err, capDomain.ErrPermissionDenied)

		require.Len(t, recording.operations, 1)
		assert.Equal(t, "kernel/validate_capability/error", recording.operations[0])
	})

	t.Run("token mode shows in the mode label", func(t *testing.T) {
		recording := &recordingMetrics{}
		provider := NewProviderWithMetrics(&stubProvider{}, recording)
		provider.SetTokenMode(true)
		assert.True(t, provider.UseTokenMode())

		_, _ = provider.ListCapabilities(ctx, "agent-1")
		require.Len(t, recording.operations, 1)
		assert.Equal(t, "token/list_capabilities/success", recording.operations[0])
	})

	t.Run("log security event passes through unmeasured", func(t *testing.T) {
		recording := &recordingMetrics{}
		stub := &stubProvider{}
		provider := NewProviderWithMetrics(stub, recording)

		provider.LogSecurityEvent(ctx, "sandbox_escape_attempt", nil, "agent-1")
		assert.Equal(t, 1, stub.securityEvents)
		assert.Empty(t, recording.operations)
	})
}
