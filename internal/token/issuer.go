package token

import (
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	capDomain "github.com/allisson/capsec/internal/capability/domain"
	capService "github.com/allisson/capsec/internal/capability/service"
	apperrors "github.com/allisson/capsec/internal/errors"
)

// Issuer mints self-contained signed capability tokens. Issuance embeds the
// resource type, principal and full constraint set into the signed payload, so
// any holder of the verification key can validate without contacting the issuer.
type Issuer struct {
	signer  capService.Signer
	encMode cbor.EncMode

	// depthCap refuses delegation beyond this depth unless the parent carries
	// the unlimited sentinel. Zero disables the cap.
	depthCap int
}

// NewIssuer creates a token issuer signing with the given signer.
func NewIssuer(signer capService.Signer, depthCap int) (*Issuer, error) {
	encMode, err := newEncMode()
	if err != nil {
		return nil, err
	}
	return &Issuer{signer: signer, encMode: encMode, depthCap: depthCap}, nil
}

// Issue mints a root capability token for the principal.
func (i *Issuer) Issue(
	resourceType capDomain.ResourceType,
	constraints capDomain.Constraints,
	principalID string,
) (*capDomain.Capability, error) {
	if !capDomain.KnownResourceType(resourceType) {
		return nil, capDomain.ErrInvalidCapabilityStructure
	}
	if principalID == "" {
		return nil, capDomain.ErrInvalidCapabilityStructure
	}
	if constraints == nil {
		constraints = capDomain.Constraints{}
	}
	if err := constraints.Check(); err != nil {
		return nil, err
	}

	claims := &Claims{
		JTI:          uuid.Must(uuid.NewV7()),
		ResourceType: string(resourceType),
		PrincipalID:  principalID,
		IssuedAt:     time.Now().UTC().Unix(),
	}
	if err := i.applyConstraints(claims, constraints); err != nil {
		return nil, err
	}
	return i.seal(claims)
}

// Delegate mints a brand-new token whose claims are the narrowing of the
// parent token's constraints, referencing the parent's jti. The parent must
// verify and be delegatable; revocation of the parent is checked by the
// validator, not here, because delegation in token mode happens wherever the
// parent token is held.
func (i *Issuer) Delegate(
	parent *capDomain.Capability,
	targetPrincipalID string,
	additionalConstraints capDomain.Constraints,
) (*capDomain.Capability, error) {
	if targetPrincipalID == "" {
		return nil, capDomain.ErrInvalidCapabilityStructure
	}
	if additionalConstraints == nil {
		additionalConstraints = capDomain.Constraints{}
	}
	if parent.IsExpired(time.Now().UTC()) {
		return nil, capDomain.ErrCapabilityExpired
	}
	if err := parent.CanDelegate(i.depthCap); err != nil {
		return nil, err
	}

	narrowed, err := capDomain.Narrow(parent.Constraints, additionalConstraints)
	if err != nil {
		return nil, err
	}

	parentJTI := parent.ID
	claims := &Claims{
		JTI:             uuid.Must(uuid.NewV7()),
		ResourceType:    string(parent.ResourceType),
		PrincipalID:     targetPrincipalID,
		IssuedAt:        time.Now().UTC().Unix(),
		DelegationDepth: parent.DelegationDepth + 1,
		ParentJTI:       &parentJTI,
	}
	if err := i.applyConstraints(claims, narrowed); err != nil {
		return nil, err
	}
	// The child token never outlives its parent.
	if parent.ExpiresAt != nil {
		parentExp := parent.ExpiresAt.Unix()
		if claims.ExpiresAt == 0 || claims.ExpiresAt > parentExp {
			claims.ExpiresAt = parentExp
		}
	}
	return i.seal(claims)
}

// applyConstraints normalizes the constraint map into claim-stable value
// shapes and denormalizes expires_at into the exp claim.
func (i *Issuer) applyConstraints(claims *Claims, constraints capDomain.Constraints) error {
	normalized := make(map[string]any, len(constraints))
	for k, v := range constraints {
		normalized[k] = v
	}
	if ops, present, err := constraints.Operations(); err != nil {
		return err
	} else if present {
		strs := make([]string, len(ops))
		for idx, op := range ops {
			strs[idx] = string(op)
		}
		normalized[capDomain.OperationsConstraint] = strs
	}
	if exp, present, err := constraints.ExpiresAt(); err != nil {
		return err
	} else if present {
		claims.ExpiresAt = exp.UTC().Unix()
		normalized[capDomain.ExpiresAtConstraint] = exp.UTC().Format(time.RFC3339Nano)
	}
	claims.Constraints = normalized
	return nil
}

// seal encodes the claims deterministically, signs the payload bytes, and
// returns the materialized capability carrying its token string.
func (i *Issuer) seal(claims *Claims) (*capDomain.Capability, error) {
	payload, err := i.encMode.Marshal(claims)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to encode token claims")
	}
	signature, err := i.signer.SignBytes(payload)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to sign token")
	}
	return claims.Capability(encodeToken(payload, signature), signature)
}
