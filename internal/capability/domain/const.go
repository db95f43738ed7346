// Package domain defines the capability data model and its pure algorithms.
//
// A capability is an unforgeable, delegable, constrainable, revocable permission
// token bound to a principal. Every sensitive operation an agent attempts must
// present a capability that validates against the requested resource and action.
package domain

// ResourceType identifies the category of resource a capability grants access to.
type ResourceType string

const (
	// FilesystemResource covers file and directory access.
	FilesystemResource ResourceType = "filesystem"

	// MCPToolResource covers execution of MCP protocol tools.
	MCPToolResource ResourceType = "mcp_tool"

	// NetworkResource covers outbound network calls.
	NetworkResource ResourceType = "network"

	// ProcessResource covers process spawning and control.
	ProcessResource ResourceType = "process"

	// DatabaseResource covers database access.
	DatabaseResource ResourceType = "database"
)

// KnownResourceType reports whether rt is one of the supported resource types.
func KnownResourceType(rt ResourceType) bool {
	switch rt {
	case FilesystemResource, MCPToolResource, NetworkResource, ProcessResource, DatabaseResource:
		return true
	}
	return false
}

// Operation identifies an action a capability may permit on a resource.
type Operation string

const (
	// ReadOperation allows reading resource data.
	ReadOperation Operation = "read"

	// WriteOperation allows creating or updating resource data.
	WriteOperation Operation = "write"

	// ExecuteOperation allows executing a tool, command, or process.
	ExecuteOperation Operation = "execute"

	// DeleteOperation allows removing resource data.
	DeleteOperation Operation = "delete"

	// CreateOperation allows creating new resources.
	CreateOperation Operation = "create"

	// ListOperation allows enumerating resources.
	ListOperation Operation = "list"
)

// KnownOperation reports whether op is one of the supported operations.
func KnownOperation(op Operation) bool {
	switch op {
	case ReadOperation, WriteOperation, ExecuteOperation, DeleteOperation, CreateOperation, ListOperation:
		return true
	}
	return false
}

// Recognized constraint keys. Unknown keys are preserved on a capability but
// ignored by the built-in checks, so new constraint dimensions can be added
// without breaking older validators.
const (
	// PathsConstraint holds a set of path prefixes the capability is limited to.
	PathsConstraint = "paths"

	// OperationsConstraint holds the set of operations the capability permits.
	OperationsConstraint = "operations"

	// ExpiresAtConstraint holds the absolute expiration timestamp.
	ExpiresAtConstraint = "expires_at"

	// MaxDelegationsConstraint holds a non-negative delegation budget or the
	// UnlimitedDelegations sentinel.
	MaxDelegationsConstraint = "max_delegations"

	// ScopeConstraint holds a free-form resource scope prefix.
	ScopeConstraint = "scope"

	// AllowedToolsConstraint holds the exact MCP tool names the capability
	// permits. Only meaningful for mcp_tool capabilities.
	AllowedToolsConstraint = "allowed_tools"
)

// UnlimitedDelegations is the sentinel value for MaxDelegationsConstraint that
// permits delegation regardless of depth.
const UnlimitedDelegations = "unlimited"
