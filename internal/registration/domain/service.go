package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	tlddomain "github.com/smallbiznis/registry/internal/tld/domain"
	"gorm.io/gorm"
)

type Repository interface {
	InsertDomain(ctx context.Context, db *gorm.DB, d *Domain) error
	UpdateDomain(ctx context.Context, db *gorm.DB, d *Domain) error
	FindDomain(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*Domain, error)
	FindLiveDomainByName(ctx context.Context, db *gorm.DB, name string, at time.Time, forUpdate bool) (*Domain, error)
	ListDuePendingTransfers(ctx context.Context, db *gorm.DB, at time.Time, limit int) ([]snowflake.ID, error)

	ListGracePeriods(ctx context.Context, db *gorm.DB, domainID snowflake.ID) ([]GracePeriod, error)
	ReplaceGracePeriods(ctx context.Context, db *gorm.DB, domainID snowflake.ID, graces []GracePeriod) error

	InsertHistory(ctx context.Context, db *gorm.DB, h *DomainHistory) error
	ListHistory(ctx context.Context, db *gorm.DB, domainID snowflake.ID) ([]DomainHistory, error)

	InsertPollMessage(ctx context.Context, db *gorm.DB, pm *PollMessage) error
	ListPollMessages(ctx context.Context, db *gorm.DB, registrarID string) ([]PollMessage, error)
	ListStagedPollMessages(ctx context.Context, db *gorm.DB, transferID snowflake.ID) ([]PollMessage, error)
	PromoteStagedPollMessages(ctx context.Context, db *gorm.DB, transferID snowflake.ID) error
	DeleteStagedPollMessages(ctx context.Context, db *gorm.DB, transferID snowflake.ID) error
}

type HistoryEntry struct {
	Type        HistoryType
	RegistrarID string
	PeriodYears int
	BySuperuser bool
	Reason      string
	At          time.Time
}

// Projection describes what Service.Refresh changed on a domain.
type Projection struct {
	TransferApproved bool
	AutorenewYears   int
	DroppedGraces    int
}

// Service owns domain rows and their satellites. Methods taking tx run in
// the caller's transaction.
type Service interface {
	Create(ctx context.Context, tx *gorm.DB, d *Domain) error
	Save(ctx context.Context, tx *gorm.DB, d *Domain) error
	Load(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Domain, error)
	LoadByName(ctx context.Context, tx *gorm.DB, name string, at time.Time) (*Domain, error)
	Exists(ctx context.Context, tx *gorm.DB, name string, at time.Time) (bool, error)

	// Refresh projects d to at and persists the result, materializing a due
	// transfer approval. Calling it again at the same instant is a no-op.
	Refresh(ctx context.Context, tx *gorm.DB, d *Domain, tld *tlddomain.Tld, at time.Time) (*Domain, Projection, error)
	DueTransfers(ctx context.Context, at time.Time, limit int) ([]snowflake.ID, error)

	RecordHistory(ctx context.Context, tx *gorm.DB, d *Domain, entry HistoryEntry) (*DomainHistory, error)
	History(ctx context.Context, db *gorm.DB, domainID snowflake.ID) ([]DomainHistory, error)
	Notify(ctx context.Context, tx *gorm.DB, msg *PollMessage) error
	PollMessages(ctx context.Context, db *gorm.DB, registrarID string) ([]PollMessage, error)
	PromoteStagedPollMessages(ctx context.Context, tx *gorm.DB, transferID snowflake.ID) error
	DiscardStagedPollMessages(ctx context.Context, tx *gorm.DB, transferID snowflake.ID) error
	PublishChanged(ctx context.Context, tx *gorm.DB, d *Domain, history *DomainHistory) error
}
