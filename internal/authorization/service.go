package authorization

import (
	"context"

	"github.com/smallbiznis/registry/internal/registryerr"
)

const (
	ObjectDomain = "domain"

	RoleRegistrar = "role:registrar"
	RoleSuperuser = "role:superuser"
)

const (
	ActionCheck    = "check"
	ActionCreate   = "create"
	ActionRenew    = "renew"
	ActionDelete   = "delete"
	ActionRestore  = "restore"
	ActionTransfer = "transfer"
	ActionUpdate   = "update"
	// ActionSuperuser lifts client-side restrictions on any command.
	ActionSuperuser = "superuser"
)

var (
	ErrInvalidActor  = registryerr.Validation("invalid_actor", "A registrar id is required")
	ErrInvalidAction = registryerr.Validation("invalid_action", "An action is required")
	ErrForbidden     = registryerr.Forbidden("forbidden", "The registrar may not perform this action")
)

// Service decides which registry commands a registrar may issue.
type Service interface {
	Authorize(ctx context.Context, registrarID string, action string) error
	IsSuperuser(ctx context.Context, registrarID string) (bool, error)
	GrantSuperuser(ctx context.Context, registrarID string) error
	RevokeSuperuser(ctx context.Context, registrarID string) error
}
