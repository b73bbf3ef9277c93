package domain

import (
	"slices"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registry/internal/timeline"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusOK                       Status = "OK"
	StatusInactive                 Status = "INACTIVE"
	StatusPendingDelete            Status = "PENDING_DELETE"
	StatusPendingTransfer          Status = "PENDING_TRANSFER"
	StatusServerHold               Status = "SERVER_HOLD"
	StatusClientRenewProhibited    Status = "CLIENT_RENEW_PROHIBITED"
	StatusServerRenewProhibited    Status = "SERVER_RENEW_PROHIBITED"
	StatusClientTransferProhibited Status = "CLIENT_TRANSFER_PROHIBITED"
	StatusServerTransferProhibited Status = "SERVER_TRANSFER_PROHIBITED"
	StatusClientDeleteProhibited   Status = "CLIENT_DELETE_PROHIBITED"
	StatusServerDeleteProhibited   Status = "SERVER_DELETE_PROHIBITED"
)

type TransferStatus string

const (
	TransferNone            TransferStatus = ""
	TransferPending         TransferStatus = "PENDING"
	TransferClientApproved  TransferStatus = "CLIENT_APPROVED"
	TransferClientRejected  TransferStatus = "CLIENT_REJECTED"
	TransferClientCancelled TransferStatus = "CLIENT_CANCELLED"
	TransferServerApproved  TransferStatus = "SERVER_APPROVED"
	TransferServerCancelled TransferStatus = "SERVER_CANCELLED"
)

// Absorbing reports whether a new transfer may be requested from s.
func (s TransferStatus) Absorbing() bool {
	return s != TransferPending
}

// TransferData is the state of the latest transfer, embedded on Domain.
type TransferData struct {
	ID                        *snowflake.ID
	Status                    TransferStatus `gorm:"type:varchar(32)"`
	GainingRegistrarID        string         `gorm:"type:varchar(64)"`
	LosingRegistrarID         string         `gorm:"type:varchar(64)"`
	RequestTime               *time.Time
	RequestHistoryID          *snowflake.ID
	PeriodYears               int
	PendingExpirationTime     *time.Time
	TransferredExpirationTime *time.Time
	LosingRecurrenceID        *snowflake.ID
	ServerApproveEventID      *snowflake.ID
	ServerApproveRecurrenceID *snowflake.ID
	SubsumedOccurrence        *time.Time
	ClearBulkToken            bool
	ResolvedTime              *time.Time
}

func (t *TransferData) Pending() bool {
	return t.Status == TransferPending
}

// DueAt reports whether a pending transfer resolves automatically at at.
func (t *TransferData) DueAt(at time.Time) bool {
	return t.Pending() && t.PendingExpirationTime != nil && !at.Before(*t.PendingExpirationTime)
}

// Domain is a registration. Rows are never deleted; DeletionTime marks the
// end of the registration.
type Domain struct {
	ID                         snowflake.ID                `gorm:"primaryKey"`
	Name                       string                      `gorm:"type:varchar(253);not null;index"`
	Tld                        string                      `gorm:"type:varchar(63);not null;index"`
	RegistrarID                string                      `gorm:"type:varchar(64);not null;index"`
	CreatorRegistrarID         string                      `gorm:"type:varchar(64);not null"`
	CreationTime               time.Time                   `gorm:"not null"`
	RegistrationExpirationTime time.Time                   `gorm:"not null"`
	DeletionTime               time.Time                   `gorm:"not null;index"`
	Statuses                   datatypes.JSONSlice[string] `gorm:"type:json"`
	AutorenewRecurrenceID      *snowflake.ID
	AutorenewEndTime           time.Time    `gorm:"not null"`
	BulkToken                  *string      `gorm:"type:varchar(64)"`
	AuthInfoHash               string       `gorm:"type:varchar(255)"`
	Transfer                   TransferData `gorm:"embedded;embeddedPrefix:transfer_"`
	LastTransferTime           *time.Time
	CreatedAt                  time.Time
	UpdatedAt                  time.Time

	GracePeriods []GracePeriod `gorm:"-"`
}

func (Domain) TableName() string { return "domains" }

func (d *Domain) HasStatus(s Status) bool {
	return slices.Contains(d.Statuses, string(s))
}

func (d *Domain) AddStatus(s Status) {
	if !d.HasStatus(s) {
		d.Statuses = append(d.Statuses, string(s))
	}
}

func (d *Domain) RemoveStatus(s Status) {
	d.Statuses = slices.DeleteFunc(d.Statuses, func(v string) bool { return v == string(s) })
}

// DeletedAt reports whether the registration has ended by at.
func (d *Domain) DeletedAt(at time.Time) bool {
	return !at.Before(d.DeletionTime)
}

func (d *Domain) Live() bool {
	return d.DeletionTime.Equal(timeline.EndOfTime)
}

// Grace returns the first grace period of type t active at at.
func (d *Domain) Grace(t GraceType, at time.Time) *GracePeriod {
	for i := range d.GracePeriods {
		if d.GracePeriods[i].Type == t && d.GracePeriods[i].ActiveAt(at) {
			return &d.GracePeriods[i]
		}
	}
	return nil
}

// Clone returns a deep copy suitable for projection.
func (d *Domain) Clone() *Domain {
	out := *d
	out.Statuses = slices.Clone(d.Statuses)
	out.GracePeriods = slices.Clone(d.GracePeriods)
	return &out
}

type GraceType string

const (
	GraceAdd           GraceType = "ADD"
	GraceRenew         GraceType = "RENEW"
	GraceTransfer      GraceType = "TRANSFER"
	GraceAutoRenew     GraceType = "AUTO_RENEW"
	GraceRedemption    GraceType = "REDEMPTION"
	GracePendingDelete GraceType = "PENDING_DELETE"
)

// Refundable grace types cancel their billing reference when the domain is
// deleted inside the window.
func (t GraceType) Refundable() bool {
	switch t {
	case GraceAdd, GraceRenew, GraceTransfer, GraceAutoRenew:
		return true
	default:
		return false
	}
}

// GracePeriod is a window in which an action can be undone and its charge
// cancelled. Active at T iff T is before ExpirationTime.
type GracePeriod struct {
	ID                  snowflake.ID `gorm:"primaryKey"`
	DomainID            snowflake.ID `gorm:"index;not null"`
	Type                GraceType    `gorm:"type:varchar(32);not null"`
	ExpirationTime      time.Time    `gorm:"not null"`
	RegistrarID         string       `gorm:"type:varchar(64);not null"`
	BillingEventID      *snowflake.ID
	RecurrenceID        *snowflake.ID
	RecurrenceEventTime *time.Time
	CreatedAt           time.Time
}

func (GracePeriod) TableName() string { return "grace_periods" }

func (g *GracePeriod) ActiveAt(at time.Time) bool {
	return at.Before(g.ExpirationTime)
}

type HistoryType string

const (
	HistoryCreate           HistoryType = "DOMAIN_CREATE"
	HistoryRenew            HistoryType = "DOMAIN_RENEW"
	HistoryAutorenew        HistoryType = "DOMAIN_AUTORENEW"
	HistoryDelete           HistoryType = "DOMAIN_DELETE"
	HistoryRestore          HistoryType = "DOMAIN_RESTORE"
	HistoryUpdate           HistoryType = "DOMAIN_UPDATE"
	HistoryTransferRequest  HistoryType = "DOMAIN_TRANSFER_REQUEST"
	HistoryTransferApprove  HistoryType = "DOMAIN_TRANSFER_APPROVE"
	HistoryTransferReject   HistoryType = "DOMAIN_TRANSFER_REJECT"
	HistoryTransferCancel   HistoryType = "DOMAIN_TRANSFER_CANCEL"
	HistoryTransferAutoDone HistoryType = "DOMAIN_TRANSFER_SERVER_APPROVE"
)

// DomainHistory records one mutation. Its id is the reference stored on
// redeemed tokens and billing rows.
type DomainHistory struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	DomainID         snowflake.ID `gorm:"index;not null"`
	Type             HistoryType  `gorm:"type:varchar(48);not null"`
	RegistrarID      string       `gorm:"type:varchar(64);not null"`
	PeriodYears      int
	BySuperuser      bool
	Reason           string    `gorm:"type:text"`
	ModificationTime time.Time `gorm:"not null"`
	CreatedAt        time.Time
}

func (DomainHistory) TableName() string { return "domain_histories" }

// PollMessage is a notification queued for a registrar.
type PollMessage struct {
	ID               snowflake.ID   `gorm:"primaryKey"`
	DomainID         snowflake.ID   `gorm:"index;not null"`
	RegistrarID      string         `gorm:"type:varchar(64);not null;index"`
	EventTime        time.Time      `gorm:"not null"`
	Message          string         `gorm:"type:text;not null"`
	TransferStatus   TransferStatus `gorm:"type:varchar(32)"`
	HistoryID        *snowflake.ID
	StagedTransferID *snowflake.ID `gorm:"index"`
	CreatedAt        time.Time
}

func (PollMessage) TableName() string { return "poll_messages" }
