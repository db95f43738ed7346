// Package dto provides data transfer objects for HTTP request and response handling.
package dto

import (
	"encoding/base64"
	"time"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"

	capDomain "github.com/allisson/capsec/internal/capability/domain"
	customValidation "github.com/allisson/capsec/internal/validation"
)

// CreateCapabilityRequest contains the parameters for granting a root capability.
type CreateCapabilityRequest struct {
	ResourceType string         `json:"resource_type" binding:"required"`
	PrincipalID  string         `json:"principal_id" binding:"required"`
	Constraints  map[string]any `json:"constraints"`
}

// Validate checks if the create capability request is valid.
func (r *CreateCapabilityRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ResourceType, validation.Required, customValidation.ResourceType),
		validation.Field(&r.PrincipalID,
			validation.Required,
			customValidation.NotBlank,
			customValidation.NoWhitespace,
		),
		validation.Field(&r.Constraints, customValidation.Constraints),
	)
}

// CreateTemporaryCapabilityRequest grants a capability that expires after the
// given duration.
type CreateTemporaryCapabilityRequest struct {
	ResourceType    string         `json:"resource_type" binding:"required"`
	PrincipalID     string         `json:"principal_id" binding:"required"`
	Constraints     map[string]any `json:"constraints"`
	DurationSeconds int64          `json:"duration_seconds" binding:"required"`
}

// Validate checks if the create temporary capability request is valid.
func (r *CreateTemporaryCapabilityRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ResourceType, validation.Required, customValidation.ResourceType),
		validation.Field(&r.PrincipalID,
			validation.Required,
			customValidation.NotBlank,
			customValidation.NoWhitespace,
		),
		validation.Field(&r.Constraints, customValidation.Constraints),
		validation.Field(&r.DurationSeconds, validation.Required, validation.Min(1)),
	)
}

// CapabilityPayload is the wire form of a capability presented back to the API.
// Kernel mode resolves the authoritative record by id; token mode verifies the
// self-contained token string.
type CapabilityPayload struct {
	ID              string         `json:"id"`
	ResourceType    string         `json:"resource_type"`
	PrincipalID     string         `json:"principal_id"`
	Constraints     map[string]any `json:"constraints"`
	IssuedAt        time.Time      `json:"issued_at"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
	DelegationDepth int            `json:"delegation_depth"`
	ParentID        *string        `json:"parent_id,omitempty"`
	Revoked         bool           `json:"revoked"`
	Signature       string         `json:"signature,omitempty"`
	Token           string         `json:"token,omitempty"`
}

// Validate checks if the capability payload is minimally addressable: either an
// id (kernel mode) or a token (token mode) must be present.
func (p *CapabilityPayload) Validate() error {
	if p.ID == "" && p.Token == "" {
		return validation.NewError("validation_capability_payload", "either id or token is required")
	}
	if p.ID != "" {
		if _, err := uuid.Parse(p.ID); err != nil {
			return validation.NewError("validation_capability_id", "id must be a valid UUID")
		}
	}
	if err := validation.Validate(p.Signature, customValidation.Base64); err != nil {
		return err
	}
	return nil
}

// ToDomain converts the payload into a domain capability.
func (p *CapabilityPayload) ToDomain() (*capDomain.Capability, error) {
	capability := &capDomain.Capability{
		ResourceType:    capDomain.ResourceType(p.ResourceType),
		PrincipalID:     p.PrincipalID,
		Constraints:     capDomain.Constraints(p.Constraints),
		IssuedAt:        p.IssuedAt,
		DelegationDepth: p.DelegationDepth,
		Revoked:         p.Revoked,
		Token:           p.Token,
	}
	if p.ID != "" {
		id, err := uuid.Parse(p.ID)
		if err != nil {
			return nil, capDomain.ErrInvalidCapabilityStructure
		}
		capability.ID = id
	}
	if p.ParentID != nil {
		parentID, err := uuid.Parse(*p.ParentID)
		if err != nil {
			return nil, capDomain.ErrInvalidCapabilityStructure
		}
		capability.ParentID = &parentID
	}
	if p.ExpiresAt != nil {
		expiresAt := p.ExpiresAt.UTC()
		capability.ExpiresAt = &expiresAt
	}
	if p.Signature != "" {
		signature, err := base64.StdEncoding.DecodeString(p.Signature)
		if err != nil {
			return nil, capDomain.ErrInvalidCapabilityStructure
		}
		capability.Signature = signature
	}
	return capability, nil
}

// ValidateCapabilityRequest checks a capability against an operation and resource.
type ValidateCapabilityRequest struct {
	Capability CapabilityPayload `json:"capability" binding:"required"`
	Operation  string            `json:"operation" binding:"required"`
	Resource   string            `json:"resource"`
}

// Validate checks if the validate capability request is valid.
func (r *ValidateCapabilityRequest) Validate() error {
	if err := r.Capability.Validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(r,
		validation.Field(&r.Operation, validation.Required, customValidation.Operation),
	)
}

// DelegateCapabilityRequest derives a narrowed capability for another principal.
type DelegateCapabilityRequest struct {
	Capability            CapabilityPayload `json:"capability" binding:"required"`
	TargetPrincipalID     string            `json:"target_principal_id" binding:"required"`
	AdditionalConstraints map[string]any    `json:"additional_constraints"`
}

// Validate checks if the delegate capability request is valid.
func (r *DelegateCapabilityRequest) Validate() error {
	if err := r.Capability.Validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(r,
		validation.Field(&r.TargetPrincipalID,
			validation.Required,
			customValidation.NotBlank,
			customValidation.NoWhitespace,
		),
		validation.Field(&r.AdditionalConstraints, customValidation.Constraints),
	)
}

// RevokeCapabilityRequest revokes a capability and its delegated descendants.
type RevokeCapabilityRequest struct {
	Capability CapabilityPayload `json:"capability" binding:"required"`
	Reason     string            `json:"reason"`
}

// Validate checks if the revoke capability request is valid.
func (r *RevokeCapabilityRequest) Validate() error {
	return r.Capability.Validate()
}

// RevokeAllRequest revokes every capability held by the principal named in the URL.
type RevokeAllRequest struct {
	Reason string `json:"reason"`
}

// CheckPermissionRequest asks whether any live capability of the principal
// permits the operation on the resource.
type CheckPermissionRequest struct {
	PrincipalID  string `json:"principal_id" binding:"required"`
	ResourceType string `json:"resource_type" binding:"required"`
	Operation    string `json:"operation" binding:"required"`
	Resource     string `json:"resource"`
}

// Validate checks if the check permission request is valid.
func (r *CheckPermissionRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.PrincipalID,
			validation.Required,
			customValidation.NotBlank,
			customValidation.NoWhitespace,
		),
		validation.Field(&r.ResourceType, validation.Required, customValidation.ResourceType),
		validation.Field(&r.Operation, validation.Required, customValidation.Operation),
	)
}

// ToolCallRequest asks whether the principal may invoke an MCP tool with the
// given arguments. When a capability is presented the check runs against that
// single capability, including its resource type, instead of the principal's
// whole set.
type ToolCallRequest struct {
	PrincipalID string             `json:"principal_id" binding:"required"`
	Tool        string             `json:"tool" binding:"required"`
	Args        map[string]any     `json:"args"`
	Capability  *CapabilityPayload `json:"capability,omitempty"`
}

// Validate checks if the tool call request is valid.
func (r *ToolCallRequest) Validate() error {
	if r.Capability != nil {
		if err := r.Capability.Validate(); err != nil {
			return err
		}
	}
	return validation.ValidateStruct(r,
		validation.Field(&r.PrincipalID,
			validation.Required,
			customValidation.NotBlank,
			customValidation.NoWhitespace,
		),
		validation.Field(&r.Tool, validation.Required, customValidation.NotBlank),
	)
}

// ResourceAccessRequest asks whether the principal may perform the operation on
// the resource named by the locator.
type ResourceAccessRequest struct {
	PrincipalID string `json:"principal_id" binding:"required"`
	URI         string `json:"uri" binding:"required"`
	Operation   string `json:"operation" binding:"required"`
}

// Validate checks if the resource access request is valid.
func (r *ResourceAccessRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.PrincipalID,
			validation.Required,
			customValidation.NotBlank,
			customValidation.NoWhitespace,
		),
		validation.Field(&r.URI, validation.Required, customValidation.NotBlank),
		validation.Field(&r.Operation, validation.Required, customValidation.Operation),
	)
}
