package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	capDomain "github.com/allisson/capsec/internal/capability/domain"
)

func testRootKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func signedCapability(t *testing.T, signer Signer) *capDomain.Capability {
	t.Helper()
	capability := &capDomain.Capability{
		ID:           uuid.Must(uuid.NewV7()),
		ResourceType: capDomain.FilesystemResource,
		PrincipalID:  "agent-1",
		Constraints: capDomain.Constraints{
			capDomain.PathsConstraint:      []string{"/workspace"},
			capDomain.OperationsConstraint: []string{"read", "write"},
		},
		IssuedAt: time.Now().UTC(),
	}
	signature, err := signer.Sign(capability)
	require.NoError(t, err)
	capability.Signature = signature
	return capability
}

func TestNewHMACSigner(t *testing.T) {
	t.Run("valid key", func(t *testing.T) {
		signer, err := NewHMACSigner(testRootKey())
		require.NoError(t, err)
		assert.NotNil(t, signer)
	})

	t.Run("short key rejected", func(t *testing.T) {
		_, err := NewHMACSigner([]byte("too-short"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "signing key too short")
	})
}

func TestHMACSigner_SignAndVerify(t *testing.T) {
	signer, err := NewHMACSigner(testRootKey())
	require.NoError(t, err)

	t.Run("round trip verifies", func(t *testing.T) {
		capability := signedCapability(t, signer)
		assert.NoError(t, signer.Verify(capability))
	})

	t.Run("signing is deterministic", func(t *testing.T) {
		capability := signedCapability(t, signer)
		again, err := signer.Sign(capability)
		require.NoError(t, err)
		assert.Equal(t, capability.Signature, again)
	})

	t.Run("missing signature", func(t *testing.T) {
		capability := signedCapability(t, signer)
		capability.Signature = nil
		assert.ErrorIs(t, signer.Verify(capability), capDomain.ErrMissingSignature)
	})

	t.Run("any field mutation invalidates", func(t *testing.T) {
		tests := []struct {
			name   string
			mutate func(*capDomain.Capability)
		}{
			{"principal", func(c *capDomain.Capability) { c.PrincipalID = "agent-2" }},
			{"resource type", func(c *capDomain.Capability) { c.ResourceType = capDomain.NetworkResource }},
			{"constraints", func(c *capDomain.Capability) {
				c.Constraints[capDomain.PathsConstraint] = []string{"/etc"}
			}},
			{"depth", func(c *capDomain.Capability) { c.DelegationDepth = 1 }},
			{"issued at", func(c *capDomain.Capability) { c.IssuedAt = c.IssuedAt.Add(time.Second) }},
			{"id", func(c *capDomain.Capability) { c.ID = uuid.Must(uuid.NewV7()) }},
			{"parent id", func(c *capDomain.Capability) {
				parentID := uuid.Must(uuid.NewV7())
				c.ParentID = &parentID
			}},
			{"expires at", func(c *capDomain.Capability) {
				expiresAt := time.Now().UTC().Add(time.Hour)
				c.ExpiresAt = &expiresAt
			}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				capability := signedCapability(t, signer)
				tt.mutate(capability)
				assert.ErrorIs(t, signer.Verify(capability), capDomain.ErrInvalidSignature)
			})
		}
	})

	t.Run("signature stable across loose constraint shapes", func(t *testing.T) {
		// A capability round-tripping through JSON comes back with []any and
		// the same signature must still verify.
		capability := signedCapability(t, signer)
		capability.Constraints = capDomain.Constraints{
			capDomain.PathsConstraint:      []any{"/workspace"},
			capDomain.OperationsConstraint: []any{"write", "read"},
		}
		assert.NoError(t, signer.Verify(capability))
	})

	t.Run("different key fails verification", func(t *testing.T) {
		capability := signedCapability(t, signer)

		other, err := NewHMACSigner([]byte("fedcba9876543210fedcba9876543210"))
		require.NoError(t, err)
		assert.ErrorIs(t, other.Verify(capability), capDomain.ErrInvalidSignature)
	})
}

func TestHMACSigner_DetachedBytes(t *testing.T) {
	signer, err := NewHMACSigner(testRootKey())
	require.NoError(t, err)

	payload := []byte("token claims payload")

	signature, err := signer.SignBytes(payload)
	require.NoError(t, err)
	assert.NoError(t, signer.VerifyBytes(payload, signature))

	t.Run("tampered payload", func(t *testing.T) {
		assert.ErrorIs(t,
			signer.VerifyBytes([]byte("token claims payloaD"), signature),
			capDomain.ErrInvalidSignature)
	})

	t.Run("tampered signature", func(t *testing.T) {
		bad := make([]byte, len(signature))
		copy(bad, signature)
		bad[0] ^= 0xff
		assert.ErrorIs(t, signer.VerifyBytes(payload, bad), capDomain.ErrInvalidSignature)
	})

	t.Run("empty signature", func(t *testing.T) {
		assert.ErrorIs(t, signer.VerifyBytes(payload, nil), capDomain.ErrMissingSignature)
	})
}
