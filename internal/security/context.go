package security

import (
	"context"

	capDomain "github.com/allisson/capsec/internal/capability/domain"
)

type contextKey int

const (
	principalContextKey contextKey = iota
	capabilityFrameContextKey
	requestIDContextKey
)

// capabilityFrame is one level of the scoped capability-set stack. Frames are
// immutable and linked through context derivation, so the previous set is
// restored on every exit path, including panics and error returns, simply by
// the derived context going out of scope.
type capabilityFrame struct {
	capabilities []*capDomain.Capability
	parent       *capabilityFrame
}

// WithPrincipal returns a context carrying the principal identity. Principal
// identity is always explicit context state, never ambient process-global state.
func WithPrincipal(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, principalContextKey, principalID)
}

// PrincipalFrom extracts the principal identity from the context.
func PrincipalFrom(ctx context.Context) (string, bool) {
	principalID, ok := ctx.Value(principalContextKey).(string)
	return principalID, ok && principalID != ""
}

// WithCapabilities executes fn with the given capability set pushed as the
// active scope. The previous set is restored on all exit paths because the
// pushed frame only lives on the derived context passed to fn.
func WithCapabilities(
	ctx context.Context,
	capabilities []*capDomain.Capability,
	fn func(ctx context.Context) error,
) error {
	frame := &capabilityFrame{
		capabilities: capabilities,
		parent:       currentFrame(ctx),
	}
	return fn(context.WithValue(ctx, capabilityFrameContextKey, frame))
}

// CapabilitiesFrom returns the active scoped capability set, or nil when no
// scope has been entered.
func CapabilitiesFrom(ctx context.Context) []*capDomain.Capability {
	frame := currentFrame(ctx)
	if frame == nil {
		return nil
	}
	return frame.capabilities
}

func currentFrame(ctx context.Context) *capabilityFrame {
	frame, _ := ctx.Value(capabilityFrameContextKey).(*capabilityFrame)
	return frame
}
