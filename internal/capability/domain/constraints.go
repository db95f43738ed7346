package domain

import (
	"math"
	"slices"
	"strings"
	"time"
)

// Constraints is an open key->value map limiting a capability's applicability.
//
// Recognized keys are checked by the built-in algorithms; unknown keys are
// preserved untouched for forward compatibility. Values are stored loosely
// (they may arrive from JSON decoding or in-process construction) and read
// through typed accessors that return an invalid-constraint error when the
// shape is wrong. Acceptance is permissive, reading is strict.
type Constraints map[string]any

// Clone returns a shallow copy of the constraint map. Recognized values are
// immutable once set, so a shallow copy is sufficient for delegation.
func (c Constraints) Clone() Constraints {
	if c == nil {
		return nil
	}
	out := make(Constraints, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Paths returns the path prefixes the capability is limited to.
// The second return value is false when no paths constraint is present.
func (c Constraints) Paths() ([]string, bool, error) {
	raw, ok := c[PathsConstraint]
	if !ok {
		return nil, false, nil
	}
	paths, err := toStringSlice(raw)
	if err != nil {
		return nil, true, ErrInvalidPathsConstraint
	}
	return paths, true, nil
}

// Operations returns the operations the capability permits.
// The second return value is false when no operations constraint is present.
func (c Constraints) Operations() ([]Operation, bool, error) {
	raw, ok := c[OperationsConstraint]
	if !ok {
		return nil, false, nil
	}
	var ops []Operation
	switch v := raw.(type) {
	case []Operation:
		ops = v
	default:
		strs, err := toStringSlice(raw)
		if err != nil {
			return nil, true, ErrInvalidOperationsConstraint
		}
		ops = make([]Operation, len(strs))
		for i, s := range strs {
			ops[i] = Operation(s)
		}
	}
	for _, op := range ops {
		if !KnownOperation(op) {
			return nil, true, ErrInvalidOperationsConstraint
		}
	}
	return ops, true, nil
}

// ExpiresAt returns the absolute expiration timestamp, if constrained.
// String values must be RFC 3339 formatted.
func (c Constraints) ExpiresAt() (time.Time, bool, error) {
	raw, ok := c[ExpiresAtConstraint]
	if !ok {
		return time.Time{}, false, nil
	}
	switch v := raw.(type) {
	case time.Time:
		return v, true, nil
	case *time.Time:
		if v == nil {
			return time.Time{}, false, nil
		}
		return *v, true, nil
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, true, ErrInvalidExpiresAtConstraint
		}
		return t, true, nil
	default:
		return time.Time{}, true, ErrInvalidExpiresAtConstraint
	}
}

// MaxDelegations returns the remaining delegation budget. The unlimited return
// is true for the "unlimited" sentinel; present is false when the key is absent.
func (c Constraints) MaxDelegations() (limit int, unlimited bool, present bool, err error) {
	raw, ok := c[MaxDelegationsConstraint]
	if !ok {
		return 0, false, false, nil
	}
	switch v := raw.(type) {
	case string:
		if v == UnlimitedDelegations {
			return 0, true, true, nil
		}
		return 0, false, true, ErrInvalidMaxDelegationsConstraint
	case int:
		if v < 0 {
			return 0, false, true, ErrInvalidMaxDelegationsConstraint
		}
		return v, false, true, nil
	case int64:
		if v < 0 {
			return 0, false, true, ErrInvalidMaxDelegationsConstraint
		}
		return int(v), false, true, nil
	case uint64:
		if v > math.MaxInt {
			return 0, false, true, ErrInvalidMaxDelegationsConstraint
		}
		return int(v), false, true, nil
	case float64:
		// JSON numbers decode as float64.
		if v < 0 || v != float64(int(v)) {
			return 0, false, true, ErrInvalidMaxDelegationsConstraint
		}
		return int(v), false, true, nil
	default:
		return 0, false, true, ErrInvalidMaxDelegationsConstraint
	}
}

// Scope returns the free-form scope prefix, if constrained.
func (c Constraints) Scope() (string, bool, error) {
	raw, ok := c[ScopeConstraint]
	if !ok {
		return "", false, nil
	}
	s, isString := raw.(string)
	if !isString {
		return "", true, ErrInvalidScopeConstraint
	}
	return s, true, nil
}

// AllowedTools returns the exact tool names the capability permits, if constrained.
func (c Constraints) AllowedTools() ([]string, bool, error) {
	raw, ok := c[AllowedToolsConstraint]
	if !ok {
		return nil, false, nil
	}
	tools, err := toStringSlice(raw)
	if err != nil {
		return nil, true, ErrInvalidAllowedToolsConstraint
	}
	return tools, true, nil
}

// Check verifies every recognized constraint value has a well-formed shape.
// Returns the first invalid-constraint error encountered.
func (c Constraints) Check() error {
	if _, _, err := c.Paths(); err != nil {
		return err
	}
	if _, _, err := c.Operations(); err != nil {
		return err
	}
	if _, _, err := c.ExpiresAt(); err != nil {
		return err
	}
	if _, _, _, err := c.MaxDelegations(); err != nil {
		return err
	}
	if _, _, err := c.Scope(); err != nil {
		return err
	}
	if _, _, err := c.AllowedTools(); err != nil {
		return err
	}
	return nil
}

// Narrow merges a delegation request against the parent's constraints,
// guaranteeing the result never grants more than the parent held:
//
//   - paths: requested paths are kept only when each is a sub-path of some
//     parent path (a child may narrow to a subdirectory, never sideways or up);
//     requests outside the parent's paths are dropped. With no request the
//     parent's paths are inherited.
//   - operations and allowed_tools: set intersection.
//   - expires_at: the earlier timestamp.
//   - max_delegations: the more restrictive budget (any integer beats unlimited).
//   - scope: child value kept only when it extends the parent's scope prefix.
//   - unrecognized keys: the child's value overrides, since the parent had no
//     opinion on them; otherwise the parent's value is inherited.
//
// Returns an invalid-constraint error when either side has a malformed value.
func Narrow(parent, child Constraints) (Constraints, error) {
	if err := parent.Check(); err != nil {
		return nil, err
	}
	if err := child.Check(); err != nil {
		return nil, err
	}

	merged := parent.Clone()
	if merged == nil {
		merged = Constraints{}
	}

	// Unknown child keys override; recognized keys are recomputed below.
	for k, v := range child {
		merged[k] = v
	}

	if err := narrowPaths(merged, parent, child); err != nil {
		return nil, err
	}
	if err := narrowOperations(merged, parent, child); err != nil {
		return nil, err
	}
	if err := narrowAllowedTools(merged, parent, child); err != nil {
		return nil, err
	}
	if err := narrowExpiresAt(merged, parent, child); err != nil {
		return nil, err
	}
	if err := narrowMaxDelegations(merged, parent, child); err != nil {
		return nil, err
	}
	if err := narrowScope(merged, parent, child); err != nil {
		return nil, err
	}

	return merged, nil
}

func narrowPaths(merged, parent, child Constraints) error {
	parentPaths, parentHas, err := parent.Paths()
	if err != nil {
		return err
	}
	childPaths, childHas, err := child.Paths()
	if err != nil {
		return err
	}
	switch {
	case childHas && parentHas:
		kept := make([]string, 0, len(childPaths))
		for _, p := range childPaths {
			for _, pp := range parentPaths {
				if PathWithin(p, pp) {
					kept = append(kept, p)
					break
				}
			}
		}
		// An empty result is retained: the child asked only for paths the
		// parent never held, so the delegated capability permits none.
		merged[PathsConstraint] = kept
	case childHas:
		merged[PathsConstraint] = childPaths
	case parentHas:
		merged[PathsConstraint] = parentPaths
	}
	return nil
}

func narrowOperations(merged, parent, child Constraints) error {
	parentOps, parentHas, err := parent.Operations()
	if err != nil {
		return err
	}
	childOps, childHas, err := child.Operations()
	if err != nil {
		return err
	}
	switch {
	case childHas && parentHas:
		merged[OperationsConstraint] = intersect(childOps, parentOps)
	case childHas:
		merged[OperationsConstraint] = childOps
	case parentHas:
		merged[OperationsConstraint] = parentOps
	}
	return nil
}

func narrowAllowedTools(merged, parent, child Constraints) error {
	parentTools, parentHas, err := parent.AllowedTools()
	if err != nil {
		return err
	}
	childTools, childHas, err := child.AllowedTools()
	if err != nil {
		return err
	}
	switch {
	case childHas && parentHas:
		merged[AllowedToolsConstraint] = intersect(childTools, parentTools)
	case childHas:
		merged[AllowedToolsConstraint] = childTools
	case parentHas:
		merged[AllowedToolsConstraint] = parentTools
	}
	return nil
}

func narrowExpiresAt(merged, parent, child Constraints) error {
	parentExp, parentHas, err := parent.ExpiresAt()
	if err != nil {
		return err
	}
	childExp, childHas, err := child.ExpiresAt()
	if err != nil {
		return err
	}
	switch {
	case childHas && parentHas:
		if parentExp.Before(childExp) {
			merged[ExpiresAtConstraint] = parentExp
		} else {
			merged[ExpiresAtConstraint] = childExp
		}
	case childHas:
		merged[ExpiresAtConstraint] = childExp
	case parentHas:
		merged[ExpiresAtConstraint] = parentExp
	}
	return nil
}

func narrowMaxDelegations(merged, parent, child Constraints) error {
	parentLimit, parentUnlimited, parentHas, err := parent.MaxDelegations()
	if err != nil {
		return err
	}
	childLimit, childUnlimited, childHas, err := child.MaxDelegations()
	if err != nil {
		return err
	}
	switch {
	case childHas && parentHas:
		switch {
		case parentUnlimited && childUnlimited:
			merged[MaxDelegationsConstraint] = UnlimitedDelegations
		case parentUnlimited:
			merged[MaxDelegationsConstraint] = childLimit
		case childUnlimited:
			merged[MaxDelegationsConstraint] = parentLimit
		default:
			merged[MaxDelegationsConstraint] = min(childLimit, parentLimit)
		}
	case childHas:
		if childUnlimited {
			merged[MaxDelegationsConstraint] = UnlimitedDelegations
		} else {
			merged[MaxDelegationsConstraint] = childLimit
		}
	case parentHas:
		if parentUnlimited {
			merged[MaxDelegationsConstraint] = UnlimitedDelegations
		} else {
			merged[MaxDelegationsConstraint] = parentLimit
		}
	}
	return nil
}

func narrowScope(merged, parent, child Constraints) error {
	parentScope, parentHas, err := parent.Scope()
	if err != nil {
		return err
	}
	childScope, childHas, err := child.Scope()
	if err != nil {
		return err
	}
	switch {
	case childHas && parentHas:
		if strings.HasPrefix(childScope, parentScope) {
			merged[ScopeConstraint] = childScope
		} else {
			merged[ScopeConstraint] = parentScope
		}
	case childHas:
		merged[ScopeConstraint] = childScope
	case parentHas:
		merged[ScopeConstraint] = parentScope
	}
	return nil
}

// PathWithin reports whether path falls under prefix with a path separator
// boundary. Raw string-prefix comparison would treat "/tmp2" as inside "/tmp",
// so the prefix must either match exactly or be followed by a separator.
func PathWithin(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	if path == prefix {
		return true
	}
	trimmed := strings.TrimSuffix(prefix, "/")
	if trimmed == "" {
		// Root prefix covers every absolute path.
		return strings.HasPrefix(path, "/")
	}
	return strings.HasPrefix(path, trimmed+"/")
}

func intersect[T comparable](a, b []T) []T {
	out := make([]T, 0, len(a))
	for _, v := range a {
		if slices.Contains(b, v) && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func toStringSlice(raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, len(v))
		for i, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, ErrInvalidPathsConstraint
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, ErrInvalidPathsConstraint
	}
}
