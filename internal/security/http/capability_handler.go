// Package http provides HTTP handlers for capability lifecycle operations.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	capDomain "github.com/allisson/capsec/internal/capability/domain"
	"github.com/allisson/capsec/internal/httputil"
	"github.com/allisson/capsec/internal/security"
	"github.com/allisson/capsec/internal/security/http/dto"
	customValidation "github.com/allisson/capsec/internal/validation"
)

// CapabilityHandler handles HTTP requests for capability lifecycle operations.
type CapabilityHandler struct {
	provider security.Provider
	logger   *slog.Logger
}

// NewCapabilityHandler creates a new capability handler with required dependencies.
func NewCapabilityHandler(provider security.Provider, logger *slog.Logger) *CapabilityHandler {
	return &CapabilityHandler{
		provider: provider,
		logger:   logger,
	}
}

// CreateHandler grants a root capability to a principal.
// POST /v1/capabilities
// Returns 201 Created with the signed capability.
func (h *CapabilityHandler) CreateHandler(c *gin.Context) {
	var req dto.CreateCapabilityRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	capability, err := h.provider.RequestCapability(
		c.Request.Context(),
		capDomain.ResourceType(req.ResourceType),
		capDomain.Constraints(req.Constraints),
		req.PrincipalID,
	)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusCreated, dto.MapCapabilityToResponse(capability))
}

// CreateTemporaryHandler grants a capability that expires after the requested duration.
// POST /v1/capabilities/temporary
// Returns 201 Created with the signed capability.
func (h *CapabilityHandler) CreateTemporaryHandler(c *gin.Context) {
	var req dto.CreateTemporaryCapabilityRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	capability, err := h.provider.RequestTemporaryCapability(
		c.Request.Context(),
		capDomain.ResourceType(req.ResourceType),
		capDomain.Constraints(req.Constraints),
		time.Duration(req.DurationSeconds)*time.Second,
		req.PrincipalID,
	)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusCreated, dto.MapCapabilityToResponse(capability))
}

// ValidateHandler checks a presented capability against an operation and resource.
// POST /v1/capabilities/validate
// Returns 200 OK when the capability permits the action; a typed error otherwise.
func (h *CapabilityHandler) ValidateHandler(c *gin.Context) {
	var req dto.ValidateCapabilityRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	capability, err := req.Capability.ToDomain()
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	err = h.provider.ValidateCapability(
		c.Request.Context(),
		capability,
		capDomain.Operation(req.Operation),
		req.Resource,
	)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.DecisionResponse{Allowed: true})
}

// DelegateHandler derives a narrowed capability for another principal.
// POST /v1/capabilities/delegate
// Returns 201 Created with the child capability.
func (h *CapabilityHandler) DelegateHandler(c *gin.Context) {
	var req dto.DelegateCapabilityRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	capability, err := req.Capability.ToDomain()
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	child, err := h.provider.DelegateCapability(
		c.Request.Context(),
		capability,
		req.TargetPrincipalID,
		capDomain.Constraints(req.AdditionalConstraints),
	)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusCreated, dto.MapCapabilityToResponse(child))
}

// RevokeHandler revokes a capability and all its delegated descendants.
// POST /v1/capabilities/revoke
// Returns 200 OK with the revoked capability ids.
func (h *CapabilityHandler) RevokeHandler(c *gin.Context) {
	var req dto.RevokeCapabilityRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	capability, err := req.Capability.ToDomain()
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	revoked, err := h.provider.RevokeCapability(c.Request.Context(), capability, req.Reason)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapRevokedToResponse(revoked))
}

// RevokeAllHandler revokes every capability held by a principal.
// POST /v1/principals/:principal_id/revoke
// Returns 200 OK with the revoked capability ids. Used on agent teardown.
func (h *CapabilityHandler) RevokeAllHandler(c *gin.Context) {
	principalID := c.Param("principal_id")

	var req dto.RevokeAllRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	revoked, err := h.provider.RevokeAllForPrincipal(c.Request.Context(), principalID, req.Reason)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapRevokedToResponse(revoked))
}

// ListHandler returns a page of the principal's live capabilities.
// GET /v1/principals/:principal_id/capabilities?offset=0&limit=50
// Returns 200 OK. Token mode has nothing to list and returns an empty page.
func (h *CapabilityHandler) ListHandler(c *gin.Context) {
	principalID := c.Param("principal_id")

	offset, limit, err := httputil.ParsePagination(c)
	if err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	capabilities, err := h.provider.ListCapabilities(c.Request.Context(), principalID)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	total := len(capabilities)
	page := paginate(capabilities, offset, limit)

	c.JSON(http.StatusOK, dto.MapCapabilitiesToListResponse(page, offset, limit, total))
}

// CheckHandler reports whether any live capability of the principal permits the action.
// POST /v1/check
// Returns 200 OK when permitted; permission_denied otherwise.
func (h *CapabilityHandler) CheckHandler(c *gin.Context) {
	var req dto.CheckPermissionRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	err := h.provider.CheckPermission(
		c.Request.Context(),
		req.PrincipalID,
		capDomain.ResourceType(req.ResourceType),
		capDomain.Operation(req.Operation),
		req.Resource,
	)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.DecisionResponse{Allowed: true})
}

// paginate slices a full result set into the requested page.
func paginate(capabilities []*capDomain.Capability, offset, limit int) []*capDomain.Capability {
	if offset >= len(capabilities) {
		return nil
	}
	end := offset + limit
	if end > len(capabilities) {
		end = len(capabilities)
	}
	return capabilities[offset:end]
}
