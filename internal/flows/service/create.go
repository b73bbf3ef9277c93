package service

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/registry/internal/authinfo"
	billingdomain "github.com/smallbiznis/registry/internal/billing/domain"
	"github.com/smallbiznis/registry/internal/command"
	"github.com/smallbiznis/registry/internal/domainname"
	"github.com/smallbiznis/registry/internal/flows/domain"
	"github.com/smallbiznis/registry/internal/pricing"
	regdomain "github.com/smallbiznis/registry/internal/registration/domain"
	"github.com/smallbiznis/registry/internal/timeline"
	tlddomain "github.com/smallbiznis/registry/internal/tld/domain"
	tokendomain "github.com/smallbiznis/registry/internal/token/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) Create(ctx context.Context, cmd domain.Command) (*domain.Result, error) {
	return s.observe(ctx, cmd, func(ctx context.Context) (*domain.Result, error) {
		raw, err := singleName(cmd)
		if err != nil {
			return nil, err
		}
		now := s.now(cmd)

		var res *domain.Result
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			out, err := s.create(ctx, tx, cmd, raw, now)
			if err != nil {
				return err
			}
			res = out
			return nil
		})
		if err != nil {
			return nil, err
		}
		return res, nil
	})
}

func (s *Service) create(ctx context.Context, tx *gorm.DB, cmd domain.Command, raw string, now time.Time) (*domain.Result, error) {
	if _, err := s.registrars.RequireActive(ctx, tx, cmd.RegistrarID); err != nil {
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
	if _, err := s.registrars.RequireTld(ctx, tx, cmd.RegistrarID, tld.Name); err != nil {
		return nil, err
	}

	op := tokendomain.OperationContext{
		Command:     command.Create,
		DomainName:  name,
		Tld:         tld.Name,
		RegistrarID: cmd.RegistrarID,
		Now:         now,
	}
	var token *tokendomain.AllocationToken
	if cmd.Token != "" {
		if token, err = s.tokens.Validate(ctx, tx, cmd.Token, op); err != nil {
			return nil, err
		}
	}

	phase := tld.PhaseAt(now)
	bypass := token != nil && token.RegistrationBehavior == tokendomain.RegistrationBypassTldState
	if phase != tlddomain.PhaseGeneralAvailability && !cmd.Superuser && !bypass {
		return nil, domain.ErrTldWrongPhase
	}

	exists, err := s.domains.Exists(ctx, tx, name, now)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, regdomain.ErrDomainAlreadyExists
	}

	verdict, err := s.reservation.Resolve(ctx, tx, label, tld, cmd.Token, op)
	if err != nil {
		return nil, err
	}
	if !verdict.Available() && !cmd.Superuser {
		return nil, verdict.Err()
	}

	if _, premium := tld.PremiumPrice(label); premium && cmd.DeclaredFee == nil && !verdict.AnchorTenant &&
		(token == nil || token.RegistrationBehavior != tokendomain.RegistrationNonPremiumCreate) {
		return nil, pricing.ErrFeesRequiredForPremium
	}

	years := cmd.Years
	if years == 0 {
		years = 1
	}
	if years < 1 {
		return nil, pricing.ErrInvalidYears
	}
	expires, err := cappedExpiration(tld, now, years, now)
	if err != nil {
		return nil, err
	}

	if token == nil {
		if token, err = s.tokens.DefaultPromotion(ctx, tx, tld.DefaultPromoTokens, op); err != nil {
			return nil, err
		}
	}
	fees, err := s.pricing.ComputeCost(pricing.CostRequest{
		Tld:          tld,
		Command:      command.Create,
		Label:        label,
		Years:        years,
		At:           now,
		Token:        token,
		AnchorTenant: verdict.AnchorTenant,
	})
	if err != nil {
		return nil, err
	}
	if err := s.pricing.CheckDeclaredFee(cmd.DeclaredFee, fees); err != nil {
		return nil, err
	}

	hash, err := authinfo.Hash(cmd.AuthInfo)
	if err != nil {
		if errors.Is(err, authinfo.ErrInvalidAuthInfo) {
			return nil, domain.ErrInvalidAuthInfo
		}
		return nil, err
	}

	d := &regdomain.Domain{
		ID:                         s.genID.Generate(),
		Name:                       name,
		Tld:                        tld.Name,
		RegistrarID:                cmd.RegistrarID,
		CreatorRegistrarID:         cmd.RegistrarID,
		CreationTime:               now,
		RegistrationExpirationTime: expires,
		DeletionTime:               timeline.EndOfTime,
		AutorenewEndTime:           timeline.EndOfTime,
		AuthInfoHash:               hash,
	}
	if verdict.ServerHold {
		d.AddStatus(regdomain.StatusServerHold)
	}
	if token != nil && token.Type == tokendomain.TypeBulkPricing {
		d.BulkToken = tokenRef(token)
	}

	history, err := s.domains.RecordHistory(ctx, tx, d, regdomain.HistoryEntry{
		Type:        regdomain.HistoryCreate,
		RegistrarID: cmd.RegistrarID,
		PeriodYears: years,
		BySuperuser: cmd.Superuser,
		At:          now,
	})
	if err != nil {
		return nil, err
	}

	addGrace := tld.AddGracePeriod
	var flags []billingdomain.Flag
	if verdict.AnchorTenant {
		addGrace = tld.AnchorTenantAddGracePeriod
		flags = append(flags, billingdomain.FlagAnchorTenant)
	}
	if phase == tlddomain.PhaseStartDateSunrise {
		flags = append(flags, billingdomain.FlagSunrise)
	}
	if verdict.Type != tlddomain.ReservationNone && verdict.Type != tlddomain.ReservationNameCollision {
		flags = append(flags, billingdomain.FlagReserved)
	}

	historyID := history.ID
	createEvent := &billingdomain.BillingEvent{
		Reason:          billingdomain.ReasonCreate,
		DomainID:        d.ID,
		TargetName:      d.Name,
		RegistrarID:     cmd.RegistrarID,
		Cost:            fees.Cost(pricing.FeeCreate),
		PeriodYears:     years,
		EventTime:       now,
		BillingTime:     now.Add(addGrace),
		Flags:           tokenFlags(token, flags...),
		AllocationToken: tokenRef(token),
		HistoryID:       &historyID,
	}
	if err := s.billing.RecordEvent(ctx, tx, createEvent); err != nil {
		return nil, err
	}
	if eap, ok := fees.Line(pricing.FeeEAP); ok {
		if err := s.billing.RecordEvent(ctx, tx, &billingdomain.BillingEvent{
			Reason:      billingdomain.ReasonEarlyAccessFee,
			DomainID:    d.ID,
			TargetName:  d.Name,
			RegistrarID: cmd.RegistrarID,
			Cost:        eap.Cost,
			EventTime:   now,
			BillingTime: now.Add(addGrace),
			HistoryID:   &historyID,
		}); err != nil {
			return nil, err
		}
	}

	recurrence := &billingdomain.BillingRecurrence{
		DomainID:             d.ID,
		TargetName:           d.Name,
		RegistrarID:          cmd.RegistrarID,
		EventTime:            expires,
		RenewalPriceBehavior: billingdomain.RenewalDefault,
		HistoryID:            &historyID,
	}
	applyTokenRenewal(recurrence, token)
	if err := s.billing.OpenRecurrence(ctx, tx, recurrence); err != nil {
		return nil, err
	}
	d.AutorenewRecurrenceID = &recurrence.ID

	d.GracePeriods = []regdomain.GracePeriod{{
		DomainID:       d.ID,
		Type:           regdomain.GraceAdd,
		ExpirationTime: now.Add(addGrace),
		RegistrarID:    cmd.RegistrarID,
		BillingEventID: &createEvent.ID,
	}}
	if err := s.domains.Create(ctx, tx, d); err != nil {
		return nil, err
	}
	if err := s.redeem(ctx, tx, token, history.ID); err != nil {
		return nil, err
	}
	if err := s.domains.PublishChanged(ctx, tx, d, history); err != nil {
		return nil, err
	}

	s.log.Info("domain created",
		zap.String("domain", d.Name),
		zap.String("registrar_id", d.RegistrarID),
		zap.Int("years", years),
		zap.String("total", fees.Total.String()),
		zap.Bool("anchor_tenant", verdict.AnchorTenant),
		zap.Bool("server_hold", verdict.ServerHold),
	)
	return &domain.Result{Command: command.Create, Domain: domain.NewDomainView(d), Fees: &fees}, nil
}

// applyTokenRenewal lets a token fix the renewal pricing of a new
// recurrence. Tokens without an override leave DEFAULT pricing.
func applyTokenRenewal(r *billingdomain.BillingRecurrence, token *tokendomain.AllocationToken) {
	if token == nil || token.RenewalPriceBehavior == "" || token.RenewalPriceBehavior == billingdomain.RenewalDefault {
		return
	}
	r.RenewalPriceBehavior = token.RenewalPriceBehavior
	r.SetFixedPrice(nil)
	if price, ok := token.RenewalPriceOverride(); ok {
		r.SetFixedPrice(&price)
	}
}
