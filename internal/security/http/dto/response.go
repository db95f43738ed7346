package dto

import (
	"encoding/base64"
	"time"

	"github.com/google/uuid"

	capDomain "github.com/allisson/capsec/internal/capability/domain"
)

// CapabilityResponse is the wire form of a granted capability.
type CapabilityResponse struct {
	ID              string         `json:"id"`
	ResourceType    string         `json:"resource_type"`
	PrincipalID     string         `json:"principal_id"`
	Constraints     map[string]any `json:"constraints,omitempty"`
	IssuedAt        time.Time      `json:"issued_at"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
	DelegationDepth int            `json:"delegation_depth"`
	ParentID        *string        `json:"parent_id,omitempty"`
	Revoked         bool           `json:"revoked"`
	Signature       string         `json:"signature,omitempty"`
	Token           string         `json:"token,omitempty"`
}

// MapCapabilityToResponse converts a domain capability to its wire form.
func MapCapabilityToResponse(capability *capDomain.Capability) *CapabilityResponse {
	if capability == nil {
		return nil
	}
	response := &CapabilityResponse{
		ID:              capability.ID.String(),
		ResourceType:    string(capability.ResourceType),
		PrincipalID:     capability.PrincipalID,
		Constraints:     capability.Constraints,
		IssuedAt:        capability.IssuedAt,
		ExpiresAt:       capability.ExpiresAt,
		DelegationDepth: capability.DelegationDepth,
		Revoked:         capability.Revoked,
		Token:           capability.Token,
	}
	if capability.ParentID != nil {
		parentID := capability.ParentID.String()
		response.ParentID = &parentID
	}
	if len(capability.Signature) > 0 {
		response.Signature = base64.StdEncoding.EncodeToString(capability.Signature)
	}
	return response
}

// ListCapabilitiesResponse is the paginated list of a principal's capabilities.
type ListCapabilitiesResponse struct {
	Capabilities []*CapabilityResponse `json:"capabilities"`
	Offset       int                   `json:"offset"`
	Limit        int                   `json:"limit"`
	Total        int                   `json:"total"`
}

// MapCapabilitiesToListResponse converts a page of domain capabilities.
func MapCapabilitiesToListResponse(
	capabilities []*capDomain.Capability,
	offset, limit, total int,
) *ListCapabilitiesResponse {
	responses := make([]*CapabilityResponse, 0, len(capabilities))
	for _, capability := range capabilities {
		responses = append(responses, MapCapabilityToResponse(capability))
	}
	return &ListCapabilitiesResponse{
		Capabilities: responses,
		Offset:       offset,
		Limit:        limit,
		Total:        total,
	}
}

// RevocationResponse reports what a revocation invalidated.
type RevocationResponse struct {
	RevokedIDs   []string `json:"revoked_ids"`
	RevokedCount int      `json:"revoked_count"`
}

// MapRevokedToResponse converts revoked capability ids to the wire form.
func MapRevokedToResponse(revoked []uuid.UUID) *RevocationResponse {
	ids := make([]string, 0, len(revoked))
	for _, id := range revoked {
		ids = append(ids, id.String())
	}
	return &RevocationResponse{
		RevokedIDs:   ids,
		RevokedCount: len(ids),
	}
}

// DecisionResponse reports a successful permission decision. Denials surface as
// error responses with their own codes.
type DecisionResponse struct {
	Allowed bool `json:"allowed"`
}
