package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/registry/internal/billing/domain"
	"github.com/smallbiznis/registry/internal/clock"
	"github.com/smallbiznis/registry/internal/command"
	"github.com/smallbiznis/registry/internal/domainname"
	"github.com/smallbiznis/registry/internal/flows/domain"
	"github.com/smallbiznis/registry/internal/observability/metrics"
	"github.com/smallbiznis/registry/internal/pricing"
	registrardomain "github.com/smallbiznis/registry/internal/registrar/domain"
	regdomain "github.com/smallbiznis/registry/internal/registration/domain"
	"github.com/smallbiznis/registry/internal/registryerr"
	"github.com/smallbiznis/registry/internal/reservation"
	tlddomain "github.com/smallbiznis/registry/internal/tld/domain"
	tokendomain "github.com/smallbiznis/registry/internal/token/domain"
	transferdomain "github.com/smallbiznis/registry/internal/transfer/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("registry/flows")

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Tlds        tlddomain.Store
	Registrars  registrardomain.Service
	Tokens      tokendomain.Service
	Reservation *reservation.Resolver
	Pricing     *pricing.Engine
	Billing     billingdomain.Service
	Domains     regdomain.Service
	Transfers   transferdomain.Service
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	tlds        tlddomain.Store
	registrars  registrardomain.Service
	tokens      tokendomain.Service
	reservation *reservation.Resolver
	pricing     *pricing.Engine
	billing     billingdomain.Service
	domains     regdomain.Service
	transfers   transferdomain.Service
	metrics     *metrics.Metrics
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("flows.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		tlds:        p.Tlds,
		registrars:  p.Registrars,
		tokens:      p.Tokens,
		reservation: p.Reservation,
		pricing:     p.Pricing,
		billing:     p.Billing,
		domains:     p.Domains,
		transfers:   p.Transfers,
		metrics:     p.Metrics,
	}
}

func (s *Service) Execute(ctx context.Context, cmd domain.Command) (*domain.Result, error) {
	switch cmd.Type {
	case command.Check:
		return s.Check(ctx, cmd)
	case command.Create:
		return s.Create(ctx, cmd)
	case command.Renew:
		return s.Renew(ctx, cmd)
	case command.Delete:
		return s.Delete(ctx, cmd)
	case command.Restore:
		return s.Restore(ctx, cmd)
	case command.Transfer:
		return s.Transfer(ctx, cmd)
	case command.Update:
		return s.UpdateRecurrence(ctx, cmd)
	default:
		return nil, domain.ErrUnknownCommand
	}
}

// observe wraps one command in a span and records its outcome.
func (s *Service) observe(ctx context.Context, cmd domain.Command, fn func(ctx context.Context) (*domain.Result, error)) (*domain.Result, error) {
	ctx, span := tracer.Start(ctx, "flows."+strings.ToLower(string(cmd.Type)),
		trace.WithAttributes(
			attribute.String("registry.command", string(cmd.Type)),
			attribute.String("registry.registrar_id", cmd.RegistrarID),
			attribute.Int("registry.domain_count", len(cmd.DomainNames)),
			attribute.Bool("registry.superuser", cmd.Superuser),
		),
	)
	defer span.End()

	res, err := fn(ctx)
	outcome := "ok"
	if err != nil {
		outcome = errorCode(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		s.log.Debug("command rejected",
			zap.String("command", string(cmd.Type)),
			zap.String("registrar_id", cmd.RegistrarID),
			zap.Strings("domains", cmd.DomainNames),
			zap.String("code", outcome),
		)
	}
	s.metrics.RecordCommand(ctx, string(cmd.Type), tldOf(cmd), outcome)
	return res, err
}

func errorCode(err error) string {
	if rerr, ok := registryerr.As(err); ok {
		return rerr.Code
	}
	return "internal"
}

func tldOf(cmd domain.Command) string {
	if len(cmd.DomainNames) == 0 {
		return ""
	}
	name, err := domainname.Normalize(cmd.DomainNames[0])
	if err != nil {
		return ""
	}
	_, tld, err := domainname.Split(name)
	if err != nil {
		return ""
	}
	return tld
}

func (s *Service) now(cmd domain.Command) time.Time {
	if cmd.Now.IsZero() {
		return s.clock.Now()
	}
	return cmd.Now
}

func singleName(cmd domain.Command) (string, error) {
	switch len(cmd.DomainNames) {
	case 0:
		return "", domain.ErrNoDomainNames
	case 1:
		return cmd.DomainNames[0], nil
	default:
		return "", domain.ErrSingleDomain
	}
}

type existing struct {
	domain *regdomain.Domain
	tld    *tlddomain.Tld
	label  string
}

// loadExisting locks the live registration named by cmd and brings it up to
// date at now.
func (s *Service) loadExisting(ctx context.Context, tx *gorm.DB, cmd domain.Command, now time.Time) (*existing, error) {
	raw, err := singleName(cmd)
	if err != nil {
		return nil, err
	}
	name, err := domainname.Normalize(raw)
	if err != nil {
		return nil, err
	}
	label, tldName, err := domainname.Split(name)
	if err != nil {
		return nil, err
	}
	tld, err := s.tlds.Get(tldName)
	if err != nil {
		return nil, err
	}
	if cmd.Superuser {
		if _, err := s.registrars.Get(ctx, tx, cmd.RegistrarID); err != nil {
			return nil, err
		}
	} else if _, err := s.registrars.RequireTld(ctx, tx, cmd.RegistrarID, tld.Name); err != nil {
		return nil, err
	}
	d, err := s.domains.LoadByName(ctx, tx, name, now)
	if err != nil {
		return nil, err
	}
	d, _, err = s.domains.Refresh(ctx, tx, d, tld, now)
	if err != nil {
		return nil, err
	}
	return &existing{domain: d, tld: tld, label: label}, nil
}

func (s *Service) requireSponsor(cmd domain.Command, d *regdomain.Domain) error {
	if cmd.Superuser || d.RegistrarID == cmd.RegistrarID {
		return nil
	}
	return domain.ErrNotSponsor
}

// prohibited reports whether the status pair blocks a command. Client
// statuses do not bind superusers.
func prohibited(cmd domain.Command, d *regdomain.Domain, client, server regdomain.Status) bool {
	if d.HasStatus(server) {
		return true
	}
	return !cmd.Superuser && d.HasStatus(client)
}

// resolveToken validates an explicit token, or falls back to the best TLD
// default promotion when the command carries none.
func (s *Service) resolveToken(ctx context.Context, tx *gorm.DB, cmd domain.Command, tld *tlddomain.Tld, op tokendomain.OperationContext) (*tokendomain.AllocationToken, error) {
	if strings.TrimSpace(cmd.Token) != "" {
		return s.tokens.Validate(ctx, tx, cmd.Token, op)
	}
	return s.tokens.DefaultPromotion(ctx, tx, tld.DefaultPromoTokens, op)
}

func (s *Service) redeem(ctx context.Context, tx *gorm.DB, token *tokendomain.AllocationToken, historyID snowflake.ID) error {
	if token == nil {
		return nil
	}
	if err := s.tokens.Redeem(ctx, tx, token, historyID); err != nil {
		return err
	}
	if token.Type.OneTimeUse() {
		s.metrics.RecordTokenRedemption(ctx, string(token.Type))
	}
	return nil
}

func (s *Service) recurrence(ctx context.Context, tx *gorm.DB, id *snowflake.ID) (*billingdomain.BillingRecurrence, error) {
	if id == nil {
		return nil, nil
	}
	return s.billing.Recurrence(ctx, tx, *id)
}

func tokenFlags(token *tokendomain.AllocationToken, flags ...billingdomain.Flag) []string {
	out := make([]string, 0, len(flags)+1)
	for _, f := range flags {
		out = append(out, string(f))
	}
	if token != nil {
		out = append(out, string(billingdomain.FlagAllocationToken))
	}
	return out
}

func tokenRef(token *tokendomain.AllocationToken) *string {
	if token == nil {
		return nil
	}
	code := token.Token
	return &code
}

// cappedExpiration extends exp by years, refusing to pass the TLD horizon.
func cappedExpiration(tld *tlddomain.Tld, exp time.Time, years int, now time.Time) (time.Time, error) {
	next := exp.AddDate(years, 0, 0)
	if next.After(tld.MaxRegistrationHorizon(now)) {
		return time.Time{}, domain.ErrExceedsMaxYears
	}
	return next, nil
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
