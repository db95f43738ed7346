// Package enforcement sits at the MCP boundary: it translates tool calls and
// resource accesses into capability permission checks before the action runs.
package enforcement

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/allisson/capsec/internal/audit"
	capDomain "github.com/allisson/capsec/internal/capability/domain"
	"github.com/allisson/capsec/internal/security"
)

// toolMapping binds an MCP tool name to the resource type and operation it
// requires, plus the argument key naming the resource it acts on.
type toolMapping struct {
	resourceType capDomain.ResourceType
	operation    capDomain.Operation
	resourceArg  string
}

// toolTable maps the built-in MCP tools. Tools outside this table fall back to
// mcp_tool/execute with the tool name as the resource, further restricted by
// the allowed_tools constraint.
var toolTable = map[string]toolMapping{
	"read_file":        {capDomain.FilesystemResource, capDomain.ReadOperation, "path"},
	"write_file":       {capDomain.FilesystemResource, capDomain.WriteOperation, "path"},
	"delete_file":      {capDomain.FilesystemResource, capDomain.DeleteOperation, "path"},
	"list_directory":   {capDomain.FilesystemResource, capDomain.ListOperation, "path"},
	"create_directory": {capDomain.FilesystemResource, capDomain.CreateOperation, "path"},
	"execute_command":  {capDomain.ProcessResource, capDomain.ExecuteOperation, "command"},
	"fetch_url":        {capDomain.NetworkResource, capDomain.ReadOperation, "url"},
	"query_database":   {capDomain.DatabaseResource, capDomain.ReadOperation, "query"},
}

// Adapter checks tool calls and resource accesses against the security
// provider before they execute. Denials are returned as typed errors and land
// in the audit trail through the provider's permission checks.
type Adapter struct {
	provider security.Provider
	logger   *slog.Logger
}

// NewAdapter creates an enforcement adapter backed by the security provider.
func NewAdapter(provider security.Provider, logger *slog.Logger) *Adapter {
	return &Adapter{
		provider: provider,
		logger:   logger,
	}
}

// CheckToolCall authorizes an MCP tool invocation for the principal. Known
// tools are mapped to their resource type and operation with the resource
// taken from the named argument; unknown tools require an mcp_tool capability
// permitting execution of the tool by name. Argument values are redacted
// before they reach the log.
func (a *Adapter) CheckToolCall(
	ctx context.Context,
	principalID string,
	toolName string,
	args map[string]any,
) error {
	resourceType, operation, resource := mapToolCall(toolName, args)

	err := a.provider.CheckPermission(ctx, principalID, resourceType, operation, resource)
	if err != nil {
		a.logger.Debug("tool call denied",
			slog.String("principal_id", principalID),
			slog.String("tool", toolName),
			slog.String("resource_type", string(resourceType)),
			slog.String("operation", string(operation)),
			slog.Any("args", audit.RedactMetadata(args)),
			slog.String("reason", err.Error()),
		)
		return err
	}

	a.logger.Debug("tool call allowed",
		slog.String("principal_id", principalID),
		slog.String("tool", toolName),
		slog.String("resource_type", string(resourceType)),
		slog.String("operation", string(operation)),
	)
	return nil
}

// CheckToolCallWith authorizes a tool invocation against a single presented
// capability instead of the principal's whole set. The capability must be of
// the resource type the tool requires: presenting, say, a network capability
// for a filesystem tool fails with ErrResourceTypeMismatch rather than a
// generic denial.
func (a *Adapter) CheckToolCallWith(
	ctx context.Context,
	capability *capDomain.Capability,
	toolName string,
	args map[string]any,
) error {
	if capability == nil {
		return capDomain.ErrInvalidCapabilityStructure
	}
	resourceType, operation, resource := mapToolCall(toolName, args)

	if capability.ResourceType != resourceType {
		a.logger.Debug("tool call denied",
			slog.String("principal_id", capability.PrincipalID),
			slog.String("tool", toolName),
			slog.String("capability_resource_type", string(capability.ResourceType)),
			slog.String("required_resource_type", string(resourceType)),
			slog.String("reason", capDomain.ErrResourceTypeMismatch.Error()),
		)
		return capDomain.ErrResourceTypeMismatch
	}

	if err := a.provider.ValidateCapability(ctx, capability, operation, resource); err != nil {
		a.logger.Debug("tool call denied",
			slog.String("principal_id", capability.PrincipalID),
			slog.String("tool", toolName),
			slog.String("resource_type", string(resourceType)),
			slog.String("operation", string(operation)),
			slog.Any("args", audit.RedactMetadata(args)),
			slog.String("reason", err.Error()),
		)
		return err
	}

	if resourceType == capDomain.MCPToolResource {
		if err := capability.PermitsTool(resource); err != nil {
			return err
		}
	}
	return nil
}

// mapToolCall resolves a tool invocation to the resource type, operation and
// resource it requires. Tools outside the table fall back to mcp_tool/execute
// with the tool name as the resource.
func mapToolCall(toolName string, args map[string]any) (capDomain.ResourceType, capDomain.Operation, string) {
	if mapping, known := toolTable[toolName]; known {
		resource, _ := args[mapping.resourceArg].(string)
		return mapping.resourceType, mapping.operation, resource
	}
	return capDomain.MCPToolResource, capDomain.ExecuteOperation, toolName
}

// CheckResourceAccess authorizes a direct resource access for the principal.
// The resource type is derived from the locator scheme.
func (a *Adapter) CheckResourceAccess(
	ctx context.Context,
	principalID string,
	uri string,
	operation capDomain.Operation,
) error {
	resourceType, resource := classifyResource(uri)

	err := a.provider.CheckPermission(ctx, principalID, resourceType, operation, resource)
	if err != nil {
		a.logger.Debug("resource access denied",
			slog.String("principal_id", principalID),
			slog.String("uri", uri),
			slog.String("resource_type", string(resourceType)),
			slog.String("operation", string(operation)),
			slog.String("reason", err.Error()),
		)
		return err
	}
	return nil
}

// classifyResource maps a resource locator to its resource type and the
// resource string checked against constraints. Bare paths and file:// URIs are
// filesystem resources checked by path; database schemes are checked by the
// full locator; anything else that names a scheme is treated as an outbound
// network access.
func classifyResource(uri string) (capDomain.ResourceType, string) {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Scheme == "" {
		return capDomain.FilesystemResource, uri
	}
	switch parsed.Scheme {
	case "file":
		return capDomain.FilesystemResource, parsed.Path
	case "http", "https":
		return capDomain.NetworkResource, uri
	case "postgres", "postgresql", "mysql":
		return capDomain.DatabaseResource, uri
	default:
		return capDomain.NetworkResource, uri
	}
}
