package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	capDomain "github.com/allisson/capsec/internal/capability/domain"
	"github.com/allisson/capsec/internal/enforcement"
	"github.com/allisson/capsec/internal/httputil"
	"github.com/allisson/capsec/internal/security/http/dto"
	customValidation "github.com/allisson/capsec/internal/validation"
)

// EnforcementHandler handles HTTP requests for the MCP boundary checks.
type EnforcementHandler struct {
	adapter *enforcement.Adapter
	logger  *slog.Logger
}

// NewEnforcementHandler creates a new enforcement handler with required dependencies.
func NewEnforcementHandler(adapter *enforcement.Adapter, logger *slog.Logger) *EnforcementHandler {
	return &EnforcementHandler{
		adapter: adapter,
		logger:  logger,
	}
}

// ToolCallHandler authorizes an MCP tool invocation before it runs.
// POST /v1/enforce/tool-call
// Returns 200 OK when permitted; a typed denial otherwise.
func (h *EnforcementHandler) ToolCallHandler(c *gin.Context) {
	var req dto.ToolCallRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	if req.Capability != nil {
		capability, err := req.Capability.ToDomain()
		if err != nil {
			httputil.HandleErrorGin(c, err, h.logger)
			return
		}
		if err := h.adapter.CheckToolCallWith(c.Request.Context(), capability, req.Tool, req.Args); err != nil {
			httputil.HandleErrorGin(c, err, h.logger)
			return
		}
		c.JSON(http.StatusOK, dto.DecisionResponse{Allowed: true})
		return
	}

	err := h.adapter.CheckToolCall(c.Request.Context(), req.PrincipalID, req.Tool, req.Args)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.DecisionResponse{Allowed: true})
}

// ResourceAccessHandler authorizes a direct resource access before it runs.
// POST /v1/enforce/resource
// Returns 200 OK when permitted; a typed denial otherwise.
func (h *EnforcementHandler) ResourceAccessHandler(c *gin.Context) {
	var req dto.ResourceAccessRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	err := h.adapter.CheckResourceAccess(
		c.Request.Context(),
		req.PrincipalID,
		req.URI,
		capDomain.Operation(req.Operation),
	)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.DecisionResponse{Allowed: true})
}
