package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/registry/internal/billing/domain"
	"github.com/smallbiznis/registry/internal/cache"
	"github.com/smallbiznis/registry/internal/clock"
	"github.com/smallbiznis/registry/internal/timeline"
	"github.com/smallbiznis/registry/internal/token/domain"
	"github.com/smallbiznis/registry/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
	Cache cache.PromoTokenCache `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
	cache cache.PromoTokenCache
}

func NewService(p ServiceParam) domain.Service {
	promo := p.Cache
	if promo == nil {
		promo = cache.NewPromoTokenCache()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("token.service"),
		clock: p.Clock,
		repo:  p.Repo,
		cache: promo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.AllocationToken, error) {
	token, err := buildToken(req)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	token.CreatedAt = now
	token.UpdatedAt = now

	if err := s.repo.Insert(ctx, s.db, token); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrTokenExists
		}
		return nil, err
	}
	s.log.Info("allocation token created",
		zap.String("token", token.Token),
		zap.String("type", string(token.Type)),
	)
	return token, nil
}

const maxDiscountYears = 10

// buildToken validates a definition. Without explicit transitions the token
// is VALID from the start of time.
func buildToken(req domain.CreateRequest) (*domain.AllocationToken, error) {
	code := strings.TrimSpace(req.Token)
	if code == "" || !req.Type.Valid() {
		return nil, domain.ErrInvalidTokenDefinition
	}
	if req.DiscountFraction.IsNegative() || req.DiscountFraction.GreaterThan(decimal.NewFromInt(1)) {
		return nil, domain.ErrInvalidTokenDefinition
	}
	if req.DiscountYears < 0 || req.DiscountYears > maxDiscountYears {
		return nil, domain.ErrInvalidTokenDefinition
	}

	domainName := strings.ToLower(strings.TrimSpace(req.DomainName))
	if domainName != "" && !req.Type.OneTimeUse() {
		return nil, domain.ErrInvalidTokenDefinition
	}

	renewal := req.RenewalPriceBehavior
	if renewal == "" {
		renewal = billingdomain.RenewalDefault
	}
	if !renewal.Valid() {
		return nil, domain.ErrInvalidTokenDefinition
	}
	if (renewal == billingdomain.RenewalSpecified) != (req.RenewalPrice != nil) {
		return nil, domain.ErrInvalidTokenDefinition
	}

	registration := req.RegistrationBehavior
	switch registration {
	case "":
		registration = domain.RegistrationDefault
	case domain.RegistrationDefault, domain.RegistrationBypassTldState, domain.RegistrationNonPremiumCreate:
	case domain.RegistrationAnchorTenant:
		if domainName == "" {
			return nil, domain.ErrInvalidTokenDefinition
		}
	default:
		return nil, domain.ErrInvalidTokenDefinition
	}

	transitions := timeline.Constant(domain.StatusValid)
	if len(req.StatusTransitions) > 0 {
		built, err := timeline.New(req.StatusTransitions)
		if err != nil {
			return nil, domain.ErrInvalidTokenDefinition
		}
		if built.ValueAt(timeline.StartOfTime) != domain.StatusNotStarted {
			return nil, domain.ErrInvalidTokenTransition
		}
		if err := built.ValidateTransitions(domain.AllowedTransition); err != nil {
			return nil, domain.ErrInvalidTokenTransition
		}
		transitions = built
	}

	token := &domain.AllocationToken{
		Token:                code,
		Type:                 req.Type,
		AllowedRegistrars:    req.AllowedRegistrars,
		AllowedTlds:          lowerAll(req.AllowedTlds),
		AllowedCommands:      upperAll(req.AllowedCommands),
		StatusTransitions:    transitions,
		DiscountFraction:     req.DiscountFraction,
		DiscountYears:        req.DiscountYears,
		DiscountPremiums:     req.DiscountPremiums,
		RenewalPriceBehavior: renewal,
		RegistrationBehavior: registration,
	}
	if domainName != "" {
		token.DomainName = &domainName
	}
	if req.RenewalPrice != nil {
		token.RenewalPrice = decimal.NullDecimal{Decimal: req.RenewalPrice.Amount, Valid: true}
		token.RenewalCurrency = req.RenewalPrice.Currency
	}
	return token, nil
}

func (s *Service) Get(ctx context.Context, code string) (*domain.AllocationToken, error) {
	token, err := s.repo.Find(ctx, s.db, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, domain.ErrTokenNotFound
	}
	return token, nil
}

// Validate loads the token inside tx and checks it against op. The first
// failing check wins.
func (s *Service) Validate(ctx context.Context, tx *gorm.DB, code string, op domain.OperationContext) (*domain.AllocationToken, error) {
	token, err := s.repo.Find(ctx, tx, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, domain.ErrTokenNotFound
	}
	if err := check(token, op); err != nil {
		return nil, err
	}
	return token, nil
}

func check(token *domain.AllocationToken, op domain.OperationContext) error {
	if token.Type.OneTimeUse() && token.Redeemed() {
		return domain.ErrTokenAlreadyRedeemed
	}
	if token.StatusAt(op.Now) != domain.StatusValid {
		return domain.ErrTokenNotInPromotion
	}
	if !token.AllowsCommand(op.Command) {
		return domain.ErrTokenCommandNotAllowed
	}
	if !token.AllowsTld(op.Tld) {
		return domain.ErrTokenTldNotAllowed
	}
	if !token.AllowsRegistrar(op.RegistrarID) {
		return domain.ErrTokenRegistrarNotAllowed
	}
	if token.DomainName != nil && !strings.EqualFold(*token.DomainName, op.DomainName) {
		return domain.ErrTokenDomainMismatch
	}
	return nil
}

// Redeem consumes a one-time token for historyID. Replaying the same
// history entry is a no-op; any other holder is a conflict.
func (s *Service) Redeem(ctx context.Context, tx *gorm.DB, token *domain.AllocationToken, historyID snowflake.ID) error {
	if token == nil || !token.Type.OneTimeUse() {
		return nil
	}
	claimed, err := s.repo.ClaimRedemption(ctx, tx, token.Token, historyID, s.clock.Now())
	if err != nil {
		return err
	}
	if !claimed {
		current, err := s.repo.Find(ctx, tx, token.Token)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrTokenNotFound
		}
		if current.RedemptionHistoryID == nil || *current.RedemptionHistoryID != historyID {
			return domain.ErrTokenAlreadyRedeemed
		}
	}
	id := historyID
	token.RedemptionHistoryID = &id
	return nil
}

// DefaultPromotion picks the applicable default token with the largest
// discount. Earlier candidates win ties. Returns nil when none applies.
func (s *Service) DefaultPromotion(ctx context.Context, tx *gorm.DB, candidates []string, op domain.OperationContext) (*domain.AllocationToken, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	loaded := make(map[string]*domain.AllocationToken, len(candidates))
	var missing []string
	for _, code := range candidates {
		if t, ok := s.cache.Get(code); ok {
			loaded[code] = t
			continue
		}
		missing = append(missing, code)
	}
	if len(missing) > 0 {
		found, err := s.repo.FindMany(ctx, tx, missing)
		if err != nil {
			return nil, err
		}
		for i := range found {
			t := found[i]
			loaded[t.Token] = &t
			s.cache.Set(&t)
		}
	}

	var best *domain.AllocationToken
	for _, code := range candidates {
		t, ok := loaded[code]
		if !ok {
			s.log.Warn("default promotion token missing", zap.String("token", code))
			continue
		}
		if t.Type != domain.TypeDefaultPromo {
			continue
		}
		if check(t, op) != nil {
			continue
		}
		if best == nil || t.DiscountFraction.GreaterThan(best.DiscountFraction) {
			best = t
		}
	}
	return best, nil
}

// CheckDomains validates one token against several names. A nil entry
// means the token applies to that name.
func (s *Service) CheckDomains(ctx context.Context, tx *gorm.DB, code string, op domain.OperationContext, domainNames []string) map[string]error {
	out := make(map[string]error, len(domainNames))
	token, err := s.repo.Find(ctx, tx, strings.TrimSpace(code))
	for _, name := range domainNames {
		switch {
		case err != nil:
			out[name] = err
		case token == nil:
			out[name] = domain.ErrTokenNotFound
		default:
			scoped := op
			scoped.DomainName = name
			out[name] = check(token, scoped)
		}
	}
	return out
}

// Cancel appends a CANCELLED transition at the given instant.
func (s *Service) Cancel(ctx context.Context, code string, at time.Time) error {
	at = at.UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		token, err := s.repo.Find(ctx, tx, strings.TrimSpace(code))
		if err != nil {
			return err
		}
		if token == nil {
			return domain.ErrTokenNotFound
		}
		if token.Type.OneTimeUse() && token.Redeemed() {
			return domain.ErrTokenAlreadyRedeemed
		}
		if !domain.AllowedTransition(token.StatusAt(at), domain.StatusCancelled) {
			return domain.ErrInvalidTokenTransition
		}

		var entries []timeline.Entry[domain.TokenStatus]
		for _, e := range token.StatusTransitions.Entries() {
			if e.At.Before(at) {
				entries = append(entries, e)
			}
		}
		if len(entries) == 0 {
			return domain.ErrInvalidTokenTransition
		}
		entries = append(entries, timeline.Entry[domain.TokenStatus]{At: at, Value: domain.StatusCancelled})
		updated, err := timeline.New(entries)
		if err != nil {
			return err
		}
		if err := s.repo.UpdateStatusTransitions(ctx, tx, token.Token, updated, s.clock.Now()); err != nil {
			return err
		}
		s.cache.Invalidate(token.Token)
		s.log.Info("allocation token cancelled", zap.String("token", token.Token))
		return nil
	})
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func upperAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToUpper(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
