package kernel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	capDomain "github.com/allisson/capsec/internal/capability/domain"
	capService "github.com/allisson/capsec/internal/capability/service"
)

func newTestKernel(t *testing.T, cfg Config) *Kernel {
	t.Helper()
	signer, err := capService.NewHMACSigner([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	k := New(capService.NewFactory(signer), capService.NewValidator(signer), cfg)
	t.Cleanup(k.Close)
	return k
}

func TestKernel_RequestCapability(t *testing.T) {
	k := newTestKernel(t, Config{})
	ctx := context.Background()

	capability, err := k.RequestCapability(
		ctx,
		capDomain.FilesystemResource,
		capDomain.Constraints{capDomain.PathsConstraint: []string{"/workspace"}},
		"agent-1",
	)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, capability.ID)
	assert.Equal(t, "agent-1", capability.PrincipalID)

	t.Run("invalid resource type", func(t *testing.T) {
		_, err := k.RequestCapability(ctx, "gpu", nil, "agent-1")
		assert.ErrorIs(t, err, capDomain.ErrInvalidCapabilityStructure)
	})
}

func TestKernel_ValidateCapability(t *testing.T) {
	k := newTestKernel(t, Config{})
	ctx := context.Background()

	capability, err := k.RequestCapability(
		ctx,
		capDomain.FilesystemResource,
		capDomain.Constraints{
			capDomain.PathsConstraint:      []string{"/workspace"},
			capDomain.OperationsConstraint: []string{"read"},
		},
		"agent-1",
	)
	require.NoError(t, err)

	t.Run("permitted", func(t *testing.T) {
		assert.NoError(t, k.ValidateCapability(ctx, capability.ID, capDomain.ReadOperation, "/workspace/file"))
	})

	t.Run("operation denied", func(t *testing.T) {
		assert.ErrorIs(t,
			k.ValidateCapability(ctx, capability.ID, capDomain.WriteOperation, "/workspace/file"),
			capDomain.ErrOperationNotPermitted)
	})

	t.Run("resource denied", func(t *testing.T) {
		assert.ErrorIs(t,
			k.ValidateCapability(ctx, capability.ID, capDomain.ReadOperation, "/etc/passwd"),
			capDomain.ErrResourceNotPermitted)
	})

	t.Run("unknown id", func(t *testing.T) {
		assert.ErrorIs(t,
			k.ValidateCapability(ctx, uuid.Must(uuid.NewV7()), capDomain.ReadOperation, "/workspace/file"),
			capDomain.ErrCapabilityNotFound)
	})

	t.Run("authoritative copy wins over presented structure", func(t *testing.T) {
		// Mutating the caller's copy changes nothing: validation re-reads the
		// kernel's own record.
		capability.Constraints[capDomain.OperationsConstraint] = []string{"read", "write", "delete"}
		assert.ErrorIs(t,
			k.ValidateCapability(ctx, capability.ID, capDomain.DeleteOperation, "/workspace/file"),
			capDomain.ErrOperationNotPermitted)
	})
}

func TestKernel_DelegateCapability(t *testing.T) {
	k := newTestKernel(t, Config{DelegationDepthCap: 2})
	ctx := context.Background()

	parent, err := k.RequestCapability(
		ctx,
		capDomain.FilesystemResource,
		capDomain.Constraints{capDomain.PathsConstraint: []string{"/workspace"}},
		"agent-1",
	)
	require.NoError(t, err)

	t.Run("narrowed child", func(t *testing.T) {
		child, err := k.DelegateCapability(ctx, parent.ID, "agent-2", capDomain.Constraints{
			capDomain.PathsConstraint: []string{"/workspace/sub"},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, child.DelegationDepth)
		assert.Equal(t, "agent-2", child.PrincipalID)
		assert.NoError(t, k.ValidateCapability(ctx, child.ID, capDomain.ReadOperation, "/workspace/sub/f"))
	})

	t.Run("depth cap enforced", func(t *testing.T) {
		child, err := k.DelegateCapability(ctx, parent.ID, "agent-2", nil)
		require.NoError(t, err)
		grandchild, err := k.DelegateCapability(ctx, child.ID, "agent-3", nil)
		require.NoError(t, err)
		_, err = k.DelegateCapability(ctx, grandchild.ID, "agent-4", nil)
		assert.ErrorIs(t, err, capDomain.ErrDelegationNotAllowed)
	})

	t.Run("unknown parent", func(t *testing.T) {
		_, err := k.DelegateCapability(ctx, uuid.Must(uuid.NewV7()), "agent-2", nil)
		assert.ErrorIs(t, err, capDomain.ErrCapabilityNotFound)
	})

	t.Run("revoked parent refuses", func(t *testing.T) {
		doomed, err := k.RequestCapability(ctx, capDomain.NetworkResource, nil, "agent-1")
		require.NoError(t, err)
		_, err = k.RevokeCapability(ctx, doomed.ID)
		require.NoError(t, err)
		_, err = k.DelegateCapability(ctx, doomed.ID, "agent-2", nil)
		assert.ErrorIs(t, err, capDomain.ErrDelegationNotAllowed)
	})
}

func TestKernel_RevokeCapability(t *testing.T) {
	k := newTestKernel(t, Config{})
	ctx := context.Background()

	t.Run("cascade reaches all descendants", func(t *testing.T) {
		root, err := k.RequestCapability(ctx, capDomain.FilesystemResource, nil, "agent-1")
		require.NoError(t, err)
		child, err := k.DelegateCapability(ctx, root.ID, "agent-2", nil)
		require.NoError(t, err)
		grandchild, err := k.DelegateCapability(ctx, child.ID, "agent-3", nil)
		require.NoError(t, err)
		sibling, err := k.DelegateCapability(ctx, root.ID, "agent-4", nil)
		require.NoError(t, err)

		revoked, err := k.RevokeCapability(ctx, root.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{root.ID, child.ID, grandchild.ID, sibling.ID}, revoked)

		for _, id := range revoked {
			assert.ErrorIs(t,
				k.ValidateCapability(ctx, id, capDomain.ReadOperation, "/x"),
				capDomain.ErrCapabilityRevoked)
		}
	})

	t.Run("revoking a child spares the parent", func(t *testing.T) {
		root, err := k.RequestCapability(ctx, capDomain.FilesystemResource, nil, "agent-1")
		require.NoError(t, err)
		child, err := k.DelegateCapability(ctx, root.ID, "agent-2", nil)
		require.NoError(t, err)

		revoked, err := k.RevokeCapability(ctx, child.ID)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{child.ID}, revoked)
		assert.NoError(t, k.ValidateCapability(ctx, root.ID, capDomain.ReadOperation, "/x"))
	})

	t.Run("idempotent", func(t *testing.T) {
		root, err := k.RequestCapability(ctx, capDomain.FilesystemResource, nil, "agent-1")
		require.NoError(t, err)

		first, err := k.RevokeCapability(ctx, root.ID)
		require.NoError(t, err)
		assert.Len(t, first, 1)

		second, err := k.RevokeCapability(ctx, root.ID)
		require.NoError(t, err)
		assert.Empty(t, second)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := k.RevokeCapability(ctx, uuid.Must(uuid.NewV7()))
		assert.ErrorIs(t, err, capDomain.ErrCapabilityNotFound)
	})
}

func TestKernel_RevokeAllForPrincipal(t *testing.T) {
	k := newTestKernel(t, Config{})
	ctx := context.Background()

	first, err := k.RequestCapability(ctx, capDomain.FilesystemResource, nil, "agent-1")
	require.NoError(t, err)
	second, err := k.RequestCapability(ctx, capDomain.NetworkResource, nil, "agent-1")
	require.NoError(t, err)
	// Delegated onward to a different principal: teardown still reaches it.
	delegated, err := k.DelegateCapability(ctx, first.ID, "agent-2", nil)
	require.NoError(t, err)
	other, err := k.RequestCapability(ctx, capDomain.FilesystemResource, nil, "agent-3")
	require.NoError(t, err)

	revoked, err := k.RevokeAllForPrincipal(ctx, "agent-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{first.ID, second.ID, delegated.ID}, revoked)

	assert.NoError(t, k.ValidateCapability(ctx, other.ID, capDomain.ReadOperation, "/x"))

	t.Run("unknown principal revokes nothing", func(t *testing.T) {
		revoked, err := k.RevokeAllForPrincipal(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, revoked)
	})
}

func TestKernel_ListCapabilities(t *testing.T) {
	k := newTestKernel(t, Config{})
	ctx := context.Background()

	live, err := k.RequestCapability(ctx, capDomain.FilesystemResource, nil, "agent-1")
	require.NoError(t, err)
	revoked, err := k.RequestCapability(ctx, capDomain.NetworkResource, nil, "agent-1")
	require.NoError(t, err)
	_, err = k.RevokeCapability(ctx, revoked.ID)
	require.NoError(t, err)
	expired, err := k.RequestCapability(ctx, capDomain.ProcessResource, capDomain.Constraints{
		capDomain.ExpiresAtConstraint: time.Now().UTC().Add(10 * time.Millisecond),
	}, "agent-1")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	caps, err := k.ListCapabilities(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, caps, 1)
	assert.Equal(t, live.ID, caps[0].ID)
	assert.NotEqual(t, expired.ID, caps[0].ID)
}

func TestKernel_CheckPermission(t *testing.T) {
	k := newTestKernel(t, Config{})
	ctx := context.Background()

	_, err := k.RequestCapability(
		ctx,
		capDomain.FilesystemResource,
		capDomain.Constraints{
			capDomain.PathsConstraint:      []string{"/workspace"},
			capDomain.OperationsConstraint: []string{"read"},
		},
		"agent-1",
	)
	require.NoError(t, err)

	t.Run("permitted by some capability", func(t *testing.T) {
		assert.NoError(t, k.CheckPermission(
			ctx, "agent-1", capDomain.FilesystemResource, capDomain.ReadOperation, "/workspace/f"))
	})

	t.Run("no capability permits", func(t *testing.T) {
		assert.ErrorIs(t,
			k.CheckPermission(ctx, "agent-1", capDomain.FilesystemResource, capDomain.WriteOperation, "/workspace/f"),
			capDomain.ErrPermissionDenied)
	})

	t.Run("resource type is matched", func(t *testing.T) {
		assert.ErrorIs(t,
			k.CheckPermission(ctx, "agent-1", capDomain.NetworkResource, capDomain.ReadOperation, "https://x"),
			capDomain.ErrPermissionDenied)
	})

	t.Run("unknown principal", func(t *testing.T) {
		assert.ErrorIs(t,
			k.CheckPermission(ctx, "nobody", capDomain.FilesystemResource, capDomain.ReadOperation, "/workspace/f"),
			capDomain.ErrPermissionDenied)
	})

	t.Run("allowed_tools restricts mcp_tool checks", func(t *testing.T) {
		_, err := k.RequestCapability(
			ctx,
			capDomain.MCPToolResource,
			capDomain.Constraints{capDomain.AllowedToolsConstraint: []string{"read_file"}},
			"agent-2",
		)
		require.NoError(t, err)

		assert.NoError(t, k.CheckPermission(
			ctx, "agent-2", capDomain.MCPToolResource, capDomain.ExecuteOperation, "read_file"))
		assert.ErrorIs(t,
			k.CheckPermission(ctx, "agent-2", capDomain.MCPToolResource, capDomain.ExecuteOperation, "execute_command"),
			capDomain.ErrPermissionDenied)
	})
}

func TestKernel_ContextCancellation(t *testing.T) {
	k := newTestKernel(t, Config{})

	// Occupy the actor so the request cannot be delivered, then cancel.
	release := make(chan struct{})
	k.requests <- func(*table) { <-release }
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := k.RequestCapability(ctx, capDomain.FilesystemResource, nil, "agent-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKernel_Closed(t *testing.T) {
	signer, err := capService.NewHMACSigner([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	k := New(capService.NewFactory(signer), capService.NewValidator(signer), Config{})
	k.Close()

	_, err = k.RequestCapability(context.Background(), capDomain.FilesystemResource, nil, "agent-1")
	assert.ErrorIs(t, err, ErrKernelClosed)
}

func TestKernel_SerializedMutations(t *testing.T) {
	k := newTestKernel(t, Config{})
	ctx := context.Background()

	root, err := k.RequestCapability(ctx, capDomain.FilesystemResource, nil, "agent-1")
	require.NoError(t, err)

	// Concurrent delegations racing a cascade revocation. The actor serializes
	// mutations, so every delegation either fails against the revoked root or
	// produces a child the cascade already caught. Either way nothing delegated
	// from the root is valid once all operations have completed.
	var g errgroup.Group
	children := make(chan uuid.UUID, 64)

	for i := 0; i < 32; i++ {
		g.Go(func() error {
			child, err := k.DelegateCapability(ctx, root.ID, "agent-2", nil)
			if err == nil {
				children <- child.ID
			}
			return nil
		})
	}
	g.Go(func() error {
		_, err := k.RevokeCapability(ctx, root.ID)
		return err
	})
	require.NoError(t, g.Wait())
	close(children)

	for id := range children {
		err := k.ValidateCapability(ctx, id, capDomain.ReadOperation, "/x")
		assert.ErrorIs(t, err, capDomain.ErrCapabilityRevoked)
	}
}

func TestKernel_RetentionSweep(t *testing.T) {
	k := newTestKernel(t, Config{
		RetentionWindow: 50 * time.Millisecond,
		SweepInterval:   10 * time.Millisecond,
	})
	ctx := context.Background()

	capability, err := k.RequestCapability(ctx, capDomain.FilesystemResource, nil, "agent-1")
	require.NoError(t, err)
	_, err = k.RevokeCapability(ctx, capability.ID)
	require.NoError(t, err)

	// Inside the retention window the revoked entry is still queryable.
	assert.ErrorIs(t,
		k.ValidateCapability(ctx, capability.ID, capDomain.ReadOperation, "/x"),
		capDomain.ErrCapabilityRevoked)

	// After the window passes, the sweep evicts it.
	require.Eventually(t, func() bool {
		err := k.ValidateCapability(ctx, capability.ID, capDomain.ReadOperation, "/x")
		return errors.Is(err, capDomain.ErrCapabilityNotFound)
	}, time.Second, 10*time.Millisecond)
}
