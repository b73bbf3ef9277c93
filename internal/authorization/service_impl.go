package authorization

import (
	"context"
	_ "embed"
	"errors"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/registry/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer loads stored policy through the gorm adapter, then seeds the
// built-in roles and the configured superusers.
func NewEnforcer(db *gorm.DB, cfg config.Config) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	return buildEnforcer(adapter, cfg.SuperuserRegistrars)
}

func buildEnforcer(adapter persist.Adapter, superusers []string) (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	var enforcer *casbin.SyncedEnforcer
	if adapter != nil {
		enforcer, err = casbin.NewSyncedEnforcer(m, adapter)
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
	}
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if adapter != nil {
		if err := enforcer.LoadPolicy(); err != nil {
			return nil, err
		}
	}
	if err := seedPolicies(enforcer, superusers); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, registrarID string, action string) error {
	subject, err := registrarSubject(registrarID)
	if err != nil {
		return err
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}
	if err := s.ensureGrouping(subject, RoleRegistrar); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, ObjectDomain, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization.denied",
			zap.String("registrar_id", registrarID),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) IsSuperuser(ctx context.Context, registrarID string) (bool, error) {
	err := s.Authorize(ctx, registrarID, ActionSuperuser)
	if errors.Is(err, ErrForbidden) {
		return false, nil
	}
	return err == nil, err
}

func (s *ServiceImpl) GrantSuperuser(ctx context.Context, registrarID string) error {
	subject, err := registrarSubject(registrarID)
	if err != nil {
		return err
	}
	if err := s.ensureGrouping(subject, RoleSuperuser); err != nil {
		return err
	}
	s.log.Info("authorization.superuser_granted", zap.String("registrar_id", registrarID))
	return nil
}

func (s *ServiceImpl) RevokeSuperuser(ctx context.Context, registrarID string) error {
	subject, err := registrarSubject(registrarID)
	if err != nil {
		return err
	}
	if _, err := s.enforcer.RemoveGroupingPolicy(subject, RoleSuperuser); err != nil {
		return err
	}
	s.log.Info("authorization.superuser_revoked", zap.String("registrar_id", registrarID))
	return nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func registrarSubject(registrarID string) (string, error) {
	registrarID = strings.TrimSpace(registrarID)
	if registrarID == "" {
		return "", ErrInvalidActor
	}
	return "registrar:" + registrarID, nil
}

func seedPolicies(enforcer *casbin.SyncedEnforcer, superusers []string) error {
	policies := [][]string{
		{RoleRegistrar, ObjectDomain, ActionCheck},
		{RoleRegistrar, ObjectDomain, ActionCreate},
		{RoleRegistrar, ObjectDomain, ActionRenew},
		{RoleRegistrar, ObjectDomain, ActionDelete},
		{RoleRegistrar, ObjectDomain, ActionRestore},
		{RoleRegistrar, ObjectDomain, ActionTransfer},

		{RoleSuperuser, "*", "*"},
	}
	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	for _, registrarID := range superusers {
		subject, err := registrarSubject(registrarID)
		if err != nil {
			continue
		}
		has, err := enforcer.HasGroupingPolicy(subject, RoleSuperuser)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddGroupingPolicy(subject, RoleSuperuser); err != nil {
			return err
		}
	}
	return nil
}
