// Package validation provides custom validation rules for the application.
package validation

import (
	"strings"

	validation "github.com/jellydator/validation"

	capDomain "github.com/allisson/capsec/internal/capability/domain"
	apperrors "github.com/allisson/capsec/internal/errors"
)

// WrapValidationError wraps validation errors as domain ErrInvalidInput
func WrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(apperrors.ErrInvalidInput, err.Error())
}

// ResourceType validates that a string names a supported resource type.
var ResourceType = validation.NewStringRuleWithError(
	func(s string) bool {
		return capDomain.KnownResourceType(capDomain.ResourceType(s))
	},
	validation.NewError(
		"validation_resource_type",
		"must be one of: filesystem, mcp_tool, network, process, database",
	),
)

// Operation validates that a string names a supported operation.
var Operation = validation.NewStringRuleWithError(
	func(s string) bool {
		return capDomain.KnownOperation(capDomain.Operation(s))
	},
	validation.NewError(
		"validation_operation",
		"must be one of: read, write, execute, delete, create, list",
	),
)

// AbsolutePath validates that a path constraint entry is absolute.
var AbsolutePath = validation.NewStringRuleWithError(
	func(s string) bool {
		return strings.HasPrefix(s, "/")
	},
	validation.NewError("validation_absolute_path", "must be an absolute path"),
)

// Constraints validates the shape of a constraint map using the domain checks,
// so DTO validation reports the same constraint errors as capability creation.
var Constraints = validation.By(func(value interface{}) error {
	var m map[string]any
	switch v := value.(type) {
	case nil:
		return nil
	case map[string]any:
		m = v
	case capDomain.Constraints:
		m = v
	default:
		return validation.NewError("validation_constraints_type", "must be an object")
	}
	if err := capDomain.Constraints(m).Check(); err != nil {
		return validation.NewError("validation_constraints", err.Error())
	}
	return nil
})

// NoWhitespace validates that string doesn't contain leading/trailing whitespace
var NoWhitespace = validation.NewStringRuleWithError(
	func(s string) bool {
		return s == strings.TrimSpace(s)
	},
	validation.NewError("validation_no_whitespace", "must not contain leading or trailing whitespace"),
)

// NotBlank validates that a string is not empty after trimming whitespace
var NotBlank = validation.NewStringRuleWithError(
	func(s string) bool {
		return strings.TrimSpace(s) != ""
	},
	validation.NewError("validation_not_blank", "must not be blank"),
)
