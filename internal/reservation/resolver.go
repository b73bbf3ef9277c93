// Package reservation decides whether a label may be registered given the
// TLD's reserved lists and an optional allocation token.
package reservation

import (
	"context"
	"strings"

	"github.com/smallbiznis/registry/internal/registryerr"
	tlddomain "github.com/smallbiznis/registry/internal/tld/domain"
	tokendomain "github.com/smallbiznis/registry/internal/token/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Status string

const (
	StatusAvailable Status = "AVAILABLE"
	StatusReserved  Status = "RESERVED"
	StatusBlocked   Status = "BLOCKED"
)

var (
	ErrDomainReserved = registryerr.Validation("domain_reserved", "Domain name is reserved")
	ErrDomainBlocked  = registryerr.Validation("domain_blocked", "Domain name is blocked from registration")
)

type Verdict struct {
	Status Status
	Reason string
	Type   tlddomain.ReservationType

	// ServerHold marks a name collision registered during general availability.
	ServerHold bool
	// AnchorTenant is set when an anchor reservation was opened by a token.
	AnchorTenant bool
	// Token is the validated token, when one was supplied.
	Token *tokendomain.AllocationToken
}

func (v Verdict) Available() bool {
	return v.Status == StatusAvailable
}

// Err converts an unavailable verdict into its classified error.
func (v Verdict) Err() error {
	switch v.Status {
	case StatusReserved:
		return ErrDomainReserved
	case StatusBlocked:
		return ErrDomainBlocked
	default:
		return nil
	}
}

type Param struct {
	fx.In

	Tokens tokendomain.Service
}

type Resolver struct {
	tokens tokendomain.Service
}

func NewResolver(p Param) *Resolver {
	return &Resolver{tokens: p.Tokens}
}

var Module = fx.Module("reservation",
	fx.Provide(NewResolver),
)

// Resolve applies the most severe reservation for label. A token is
// validated first; its errors win over any reservation reason.
func (r *Resolver) Resolve(ctx context.Context, tx *gorm.DB, label string, tld *tlddomain.Tld, token string, op tokendomain.OperationContext) (Verdict, error) {
	severity := tlddomain.ReservationNone
	comment := ""
	for _, entry := range tld.Reservations(label) {
		if entry.Type > severity {
			severity = entry.Type
			comment = entry.Comment
		}
	}

	verdict := baseVerdict(severity, comment, tld.PhaseAt(op.Now))

	token = strings.TrimSpace(token)
	if token == "" {
		return verdict, nil
	}
	validated, err := r.tokens.Validate(ctx, tx, token, op)
	if err != nil {
		return Verdict{}, err
	}
	verdict.Token = validated

	if validated.RegistrationBehavior == tokendomain.RegistrationAnchorTenant {
		verdict.AnchorTenant = true
	}
	if !verdict.Available() && validated.DomainName != nil && strings.EqualFold(*validated.DomainName, op.DomainName) {
		if severity == tlddomain.ReservationReservedForAnchorTenant {
			verdict.AnchorTenant = true
		}
		verdict.Status = StatusAvailable
		verdict.Reason = ""
	}
	return verdict, nil
}

func baseVerdict(severity tlddomain.ReservationType, comment string, phase tlddomain.Phase) Verdict {
	v := Verdict{Status: StatusAvailable, Type: severity}
	switch severity {
	case tlddomain.ReservationNone, tlddomain.ReservationAllowedInSunrise:
	case tlddomain.ReservationNameCollision:
		if phase == tlddomain.PhaseGeneralAvailability {
			v.ServerHold = true
		} else {
			v.Status = StatusReserved
			v.Reason = "Cannot be delegated"
		}
	case tlddomain.ReservationReservedForSpecificUse:
		v.Status = StatusReserved
		v.Reason = reasonOr(comment, "Reserved")
	case tlddomain.ReservationReservedForAnchorTenant:
		v.Status = StatusReserved
		v.Reason = reasonOr(comment, "Reserved for anchor tenant")
	default:
		v.Status = StatusBlocked
		v.Reason = reasonOr(comment, "Blocked")
	}
	return v
}

func reasonOr(comment, fallback string) string {
	if comment != "" {
		return comment
	}
	return fallback
}
