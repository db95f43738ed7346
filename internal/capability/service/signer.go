package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/hkdf"

	capDomain "github.com/allisson/capsec/internal/capability/domain"
)

// hmacSigner signs capabilities with HMAC-SHA256 over a canonical byte
// encoding, using HKDF-SHA256 to derive the signing key from the root key.
type hmacSigner struct {
	rootKey []byte
	encMode cbor.EncMode
}

// NewHMACSigner creates a Signer backed by HMAC-SHA256. The root key is used
// only through HKDF derivation, separating the stored key from the key that
// actually signs (info parameter "capability-signing-v1", versioned for future
// algorithm changes).
func NewHMACSigner(rootKey []byte) (Signer, error) {
	if len(rootKey) < 16 {
		return nil, fmt.Errorf("signing key too short: %d bytes", len(rootKey))
	}
	// Core deterministic encoding: map keys sorted, shortest-form integers.
	// Required so the same constraint set always canonicalizes to the same bytes.
	encMode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create cbor encode mode: %w", err)
	}
	key := make([]byte, len(rootKey))
	copy(key, rootKey)
	return &hmacSigner{rootKey: key, encMode: encMode}, nil
}

// deriveSigningKey uses HKDF-SHA256 to derive a 32-byte signing key.
func (h *hmacSigner) deriveSigningKey() ([]byte, error) {
	info := []byte("capability-signing-v1")
	kdf := hkdf.New(sha256.New, h.rootKey, nil, info)

	signingKey := make([]byte, 32)
	if _, err := io.ReadFull(kdf, signingKey); err != nil {
		return nil, err
	}
	return signingKey, nil
}

// canonicalize converts a capability to its canonical byte representation.
// Format: id || resource_type || principal_id || depth || parent_id ||
// issued_at || expires_at || constraints, with variable-length fields
// length-prefixed to prevent ambiguity and constraints encoded with
// deterministic CBOR.
func (h *hmacSigner) canonicalize(c *capDomain.Capability) ([]byte, error) {
	buf := make([]byte, 0, 512)

	buf = append(buf, c.ID[:]...)
	buf = appendLengthPrefixed(buf, []byte(c.ResourceType))
	buf = appendLengthPrefixed(buf, []byte(c.PrincipalID))

	depth := make([]byte, 8)
	binary.BigEndian.PutUint64(depth, uint64(c.DelegationDepth))
	buf = append(buf, depth...)

	if c.ParentID != nil {
		buf = appendLengthPrefixed(buf, c.ParentID[:])
	} else {
		buf = appendLengthPrefixed(buf, nil)
	}

	issued := make([]byte, 8)
	binary.BigEndian.PutUint64(issued, uint64(c.IssuedAt.UnixNano()))
	buf = append(buf, issued...)

	expires := make([]byte, 8)
	if c.ExpiresAt != nil {
		binary.BigEndian.PutUint64(expires, uint64(c.ExpiresAt.UnixNano()))
	}
	buf = append(buf, expires...)

	constraintBytes, err := h.encodeConstraints(c.Constraints)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize constraints: %w", err)
	}
	buf = appendLengthPrefixed(buf, constraintBytes)

	return buf, nil
}

// encodeConstraints normalizes recognized constraint values to stable shapes
// (sorted string slices, RFC 3339 timestamps) and encodes the map with
// deterministic CBOR. Normalization keeps the signature stable when a
// capability round-trips through JSON and comes back with loosened types.
func (h *hmacSigner) encodeConstraints(constraints capDomain.Constraints) ([]byte, error) {
	if len(constraints) == 0 {
		return nil, nil
	}
	normalized := make(map[string]any, len(constraints))
	for k, v := range constraints {
		normalized[k] = v
	}

	if paths, present, err := constraints.Paths(); err == nil && present {
		normalized[capDomain.PathsConstraint] = sortedCopy(paths)
	} else if err != nil {
		return nil, err
	}
	if ops, present, err := constraints.Operations(); err == nil && present {
		strs := make([]string, len(ops))
		for i, op := range ops {
			strs[i] = string(op)
		}
		normalized[capDomain.OperationsConstraint] = sortedCopy(strs)
	} else if err != nil {
		return nil, err
	}
	if tools, present, err := constraints.AllowedTools(); err == nil && present {
		normalized[capDomain.AllowedToolsConstraint] = sortedCopy(tools)
	} else if err != nil {
		return nil, err
	}
	if exp, present, err := constraints.ExpiresAt(); err == nil && present {
		normalized[capDomain.ExpiresAtConstraint] = exp.UTC().Format(time.RFC3339Nano)
	} else if err != nil {
		return nil, err
	}
	if limit, unlimited, present, err := constraints.MaxDelegations(); err == nil && present {
		if unlimited {
			normalized[capDomain.MaxDelegationsConstraint] = capDomain.UnlimitedDelegations
		} else {
			normalized[capDomain.MaxDelegationsConstraint] = limit
		}
	} else if err != nil {
		return nil, err
	}

	return h.encMode.Marshal(normalized)
}

// Sign generates the HMAC-SHA256 signature for the capability.
func (h *hmacSigner) Sign(capability *capDomain.Capability) ([]byte, error) {
	canonical, err := h.canonicalize(capability)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize capability: %w", err)
	}
	return h.SignBytes(canonical)
}

// Verify checks the capability's signature against its canonical fields.
func (h *hmacSigner) Verify(capability *capDomain.Capability) error {
	if len(capability.Signature) == 0 {
		return capDomain.ErrMissingSignature
	}
	canonical, err := h.canonicalize(capability)
	if err != nil {
		return fmt.Errorf("failed to canonicalize capability: %w", err)
	}
	return h.VerifyBytes(canonical, capability.Signature)
}

// SignBytes computes a detached HMAC-SHA256 signature over the payload.
func (h *hmacSigner) SignBytes(payload []byte) ([]byte, error) {
	signingKey, err := h.deriveSigningKey()
	if err != nil {
		return nil, fmt.Errorf("failed to derive signing key: %w", err)
	}
	defer zero(signingKey)

	mac := hmac.New(sha256.New, signingKey)
	mac.Write(payload)
	return mac.Sum(nil), nil
}

// VerifyBytes checks a detached signature in constant time.
func (h *hmacSigner) VerifyBytes(payload, signature []byte) error {
	if len(signature) == 0 {
		return capDomain.ErrMissingSignature
	}
	expected, err := h.SignBytes(payload)
	if err != nil {
		return fmt.Errorf("failed to compute expected signature: %w", err)
	}
	if !hmac.Equal(signature, expected) {
		return capDomain.ErrInvalidSignature
	}
	return nil
}

// appendLengthPrefixed adds a 4-byte big-endian length prefix followed by data.
func appendLengthPrefixed(buf []byte, data []byte) []byte {
	dataLen := len(data)
	if dataLen > 0xFFFFFFFF {
		panic("data length exceeds uint32 max")
	}
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(dataLen))
	buf = append(buf, length...)
	buf = append(buf, data...)
	return buf
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

// zero overwrites sensitive data in memory with zeros.
// Prevents key material from lingering in memory after use.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
