package service

import (
	"context"
	"time"

	"github.com/smallbiznis/registry/internal/command"
	"github.com/smallbiznis/registry/internal/domainname"
	"github.com/smallbiznis/registry/internal/flows/domain"
	"github.com/smallbiznis/registry/internal/pricing"
	"github.com/smallbiznis/registry/internal/registryerr"
	tokendomain "github.com/smallbiznis/registry/internal/token/domain"
	"gorm.io/gorm"
)

const (
	reasonInUse          = "In use"
	reasonPremiumNeedFee = "Premium names require EPP ext."
)

// Check reports availability per name. Problems with a single name become
// its reason; only infrastructure failures fail the whole check.
func (s *Service) Check(ctx context.Context, cmd domain.Command) (*domain.Result, error) {
	return s.observe(ctx, cmd, func(ctx context.Context) (*domain.Result, error) {
		if len(cmd.DomainNames) == 0 {
			return nil, domain.ErrNoDomainNames
		}
		if len(cmd.DomainNames) > domain.MaxCheckNames {
			return nil, domain.ErrTooManyNames
		}
		years := cmd.Years
		if years == 0 {
			years = 1
		}
		if years < 1 {
			return nil, pricing.ErrInvalidYears
		}

		now := s.now(cmd)
		db := s.db.WithContext(ctx)
		if _, err := s.registrars.RequireActive(ctx, db, cmd.RegistrarID); err != nil {
			return nil, err
		}

		res := &domain.Result{Command: command.Check}
		for _, raw := range cmd.DomainNames {
			item, err := s.checkOne(ctx, db, cmd, raw, years, now)
			if err != nil {
				return nil, err
			}
			res.Checks = append(res.Checks, item)
		}
		return res, nil
	})
}

func (s *Service) checkOne(ctx context.Context, db *gorm.DB, cmd domain.Command, raw string, years int, now time.Time) (domain.CheckItem, error) {
	item := domain.CheckItem{Name: raw}
	unavailable := func(err error) (domain.CheckItem, error) {
		if _, ok := registryerr.As(err); !ok {
			return item, err
		}
		item.Reason = registryerr.MessageOf(err)
		return item, nil
	}

	name, err := domainname.Normalize(raw)
	if err != nil {
		return unavailable(err)
	}
	item.Name = name
	label, tldName, err := domainname.Split(name)
	if err != nil {
		return unavailable(err)
	}
	tld, err := s.tlds.Get(tldName)
	if err != nil {
		return unavailable(err)
	}

	exists, err := s.domains.Exists(ctx, db, name, now)
	if err != nil {
		return item, err
	}
	if exists {
		item.Reason = reasonInUse
		return item, nil
	}

	op := tokendomain.OperationContext{
		Command:     command.Create,
		DomainName:  name,
		Tld:         tld.Name,
		RegistrarID: cmd.RegistrarID,
		Now:         now,
	}
	if cmd.Token != "" {
		if err := s.tokens.CheckDomains(ctx, db, cmd.Token, op, []string{name})[name]; err != nil {
			return unavailable(err)
		}
	}
	verdict, err := s.reservation.Resolve(ctx, db, label, tld, cmd.Token, op)
	if err != nil {
		return unavailable(err)
	}
	if !verdict.Available() {
		item.Reason = verdict.Reason
		return item, nil
	}

	token := verdict.Token
	if token == nil {
		token, err = s.tokens.DefaultPromotion(ctx, db, tld.DefaultPromoTokens, op)
		if err != nil {
			return item, err
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
		return unavailable(err)
	}
	if fees.Premium && !cmd.IncludeFees {
		item.Reason = reasonPremiumNeedFee
		return item, nil
	}

	item.Available = true
	if cmd.IncludeFees {
		item.Fees = &fees
	}
	return item, nil
}
