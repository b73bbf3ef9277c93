package domain

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/registry/internal/registryerr"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type State string

const (
	StateActive    State = "ACTIVE"
	StateSuspended State = "SUSPENDED"
	StateDisabled  State = "DISABLED"
)

// Registrar is an accredited client of the registry.
type Registrar struct {
	ID          string                      `gorm:"primaryKey;type:varchar(64)"`
	Name        string                      `gorm:"type:varchar(255);not null"`
	State       State                       `gorm:"type:varchar(16);not null"`
	AllowedTlds datatypes.JSONSlice[string] `gorm:"type:json"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Registrar) TableName() string { return "registrars" }

func (r *Registrar) AllowsTld(tld string) bool {
	for _, t := range r.AllowedTlds {
		if strings.EqualFold(t, tld) {
			return true
		}
	}
	return false
}

var (
	ErrRegistrarNotFound      = registryerr.Precondition("registrar_not_found", "Registrar does not exist")
	ErrRegistrarNotActive     = registryerr.Precondition("registrar_not_active", "Registrar must be active in order to perform this operation")
	ErrNotAuthorizedForTld    = registryerr.Precondition("registrar_not_authorized_for_tld", "Registrar is not authorized to access this TLD")
	ErrInvalidRegistrar       = registryerr.Validation("invalid_registrar", "Registrar definition is invalid")
	ErrRegistrarAlreadyExists = registryerr.Conflict("registrar_exists", "Registrar already exists")
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, registrar *Registrar) error
	Find(ctx context.Context, db *gorm.DB, id string) (*Registrar, error)
	UpdateState(ctx context.Context, db *gorm.DB, id string, state State, at time.Time) error
}

type CreateRequest struct {
	ID          string
	Name        string
	AllowedTlds []string
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Registrar, error)
	Get(ctx context.Context, db *gorm.DB, id string) (*Registrar, error)
	SetState(ctx context.Context, id string, state State) error
	// RequireActive returns the registrar when it exists and is ACTIVE.
	RequireActive(ctx context.Context, db *gorm.DB, id string) (*Registrar, error)
	// RequireTld additionally checks the TLD allow-list.
	RequireTld(ctx context.Context, db *gorm.DB, id, tld string) (*Registrar, error)
}
