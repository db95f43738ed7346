// Package token implements the distributed enforcement mode: capabilities as
// self-contained signed tokens, validated locally with no round-trip to an
// authority. A small revocation cache covers the one thing a self-verifying
// token cannot know about itself: that it was revoked before natural expiry.
package token

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	capDomain "github.com/allisson/capsec/internal/capability/domain"
)

// tokenPrefix versions the wire format so a future claims layout can coexist
// with tokens already in flight.
const tokenPrefix = "capv1"

// Claims is the signed payload embedded in a capability token. Everything the
// validator needs is in here; the signature covers the serialized bytes.
type Claims struct {
	JTI             uuid.UUID      `cbor:"jti"`
	ResourceType    string         `cbor:"rt"`
	PrincipalID     string         `cbor:"sub"`
	Constraints     map[string]any `cbor:"cns,omitempty"`
	IssuedAt        int64          `cbor:"iat"`
	ExpiresAt       int64          `cbor:"exp,omitempty"`
	DelegationDepth int            `cbor:"dep,omitempty"`
	ParentJTI       *uuid.UUID     `cbor:"par,omitempty"`
}

// Capability materializes the claims as a capability value for the shared
// permission algorithms.
func (c *Claims) Capability(token string, signature []byte) (*capDomain.Capability, error) {
	constraints := capDomain.Constraints(c.Constraints)
	if constraints == nil {
		constraints = capDomain.Constraints{}
	}
	var expiresAt *time.Time
	if c.ExpiresAt != 0 {
		t := time.Unix(c.ExpiresAt, 0).UTC()
		expiresAt = &t
	}
	capability := &capDomain.Capability{
		ID:              c.JTI,
		ResourceType:    capDomain.ResourceType(c.ResourceType),
		PrincipalID:     c.PrincipalID,
		Constraints:     constraints,
		IssuedAt:        time.Unix(c.IssuedAt, 0).UTC(),
		ExpiresAt:       expiresAt,
		DelegationDepth: c.DelegationDepth,
		ParentID:        c.ParentJTI,
		Signature:       signature,
		Token:           token,
	}
	return capability, nil
}

// encodeToken assembles the wire form: "capv1.<payload>.<signature>" with
// base64url segments. The only contractual property of the blob is that it is
// verifiable and tamper-evident.
func encodeToken(payload, signature []byte) string {
	return tokenPrefix + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString(signature)
}

// decodeToken splits and decodes the wire form without verifying anything.
func decodeToken(token string) (payload, signature []byte, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] != tokenPrefix {
		return nil, nil, capDomain.ErrInvalidCapabilityStructure
	}
	payload, err = base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, capDomain.ErrInvalidCapabilityStructure
	}
	signature, err = base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, nil, capDomain.ErrInvalidCapabilityStructure
	}
	return payload, signature, nil
}

// newEncMode returns the deterministic CBOR mode used for claim payloads.
func newEncMode() (cbor.EncMode, error) {
	encMode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create cbor encode mode: %w", err)
	}
	return encMode, nil
}
