package domain

import (
	"time"

	billingdomain "github.com/smallbiznis/registry/internal/billing/domain"
	"github.com/smallbiznis/registry/internal/command"
	"github.com/smallbiznis/registry/internal/money"
	"github.com/smallbiznis/registry/internal/pricing"
	regdomain "github.com/smallbiznis/registry/internal/registration/domain"
)

// MaxCheckNames bounds one availability check.
const MaxCheckNames = 50

type TransferOp string

const (
	TransferRequest TransferOp = "request"
	TransferApprove TransferOp = "approve"
	TransferReject  TransferOp = "reject"
	TransferCancel  TransferOp = "cancel"
	TransferQuery   TransferOp = "query"
)

func ParseTransferOp(raw string) (TransferOp, bool) {
	op := TransferOp(raw)
	switch op {
	case TransferRequest, TransferApprove, TransferReject, TransferCancel, TransferQuery:
		return op, true
	default:
		return "", false
	}
}

// Command is the normalized descriptor of one registry command. Fields not
// used by a command type are ignored.
type Command struct {
	Type        command.Type
	DomainNames []string
	RegistrarID string
	Now         time.Time
	Superuser   bool

	Years       int
	DeclaredFee *money.Money
	Token       string
	AuthInfo    string

	// IncludeFees asks CHECK to price each available name.
	IncludeFees bool
	// CurrentExpiration guards RENEW against a stale client view.
	CurrentExpiration *time.Time

	TransferOp         TransferOp
	ZeroTransferWindow bool
	ZeroTransferPeriod bool

	// UPDATE replaces the renewal pricing of the active recurrence.
	RenewalPriceBehavior billingdomain.RenewalPriceBehavior
	RenewalPrice         *money.Money
	Reason               string
}

type CheckItem struct {
	Name      string        `json:"name"`
	Available bool          `json:"available"`
	Reason    string        `json:"reason,omitempty"`
	Fees      *pricing.Fees `json:"fees,omitempty"`
}

type TransferView struct {
	Status                    string     `json:"status"`
	GainingRegistrarID        string     `json:"gaining_registrar_id"`
	LosingRegistrarID         string     `json:"losing_registrar_id"`
	RequestTime               *time.Time `json:"request_time,omitempty"`
	PendingExpirationTime     *time.Time `json:"pending_expiration_time,omitempty"`
	TransferredExpirationTime *time.Time `json:"transferred_expiration_time,omitempty"`
}

type GraceView struct {
	Type           string    `json:"type"`
	ExpirationTime time.Time `json:"expiration_time"`
	RegistrarID    string    `json:"registrar_id"`
}

// DomainView is the resource snapshot returned by mutating commands.
type DomainView struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	RegistrarID    string        `json:"registrar_id"`
	Statuses       []string      `json:"statuses"`
	CreationTime   time.Time     `json:"creation_time"`
	ExpirationTime time.Time     `json:"expiration_time"`
	DeletionTime   *time.Time    `json:"deletion_time,omitempty"`
	GracePeriods   []GraceView   `json:"grace_periods,omitempty"`
	Transfer       *TransferView `json:"transfer,omitempty"`
}

func NewDomainView(d *regdomain.Domain) *DomainView {
	v := &DomainView{
		ID:             d.ID.String(),
		Name:           d.Name,
		RegistrarID:    d.RegistrarID,
		Statuses:       append([]string{}, d.Statuses...),
		CreationTime:   d.CreationTime,
		ExpirationTime: d.RegistrationExpirationTime,
	}
	if len(v.Statuses) == 0 {
		v.Statuses = []string{string(regdomain.StatusOK)}
	}
	if !d.Live() {
		deletion := d.DeletionTime
		v.DeletionTime = &deletion
	}
	for _, g := range d.GracePeriods {
		v.GracePeriods = append(v.GracePeriods, GraceView{
			Type:           string(g.Type),
			ExpirationTime: g.ExpirationTime,
			RegistrarID:    g.RegistrarID,
		})
	}
	if t := d.Transfer; t.Status != regdomain.TransferNone {
		v.Transfer = &TransferView{
			Status:                    string(t.Status),
			GainingRegistrarID:        t.GainingRegistrarID,
			LosingRegistrarID:         t.LosingRegistrarID,
			RequestTime:               t.RequestTime,
			PendingExpirationTime:     t.PendingExpirationTime,
			TransferredExpirationTime: t.TransferredExpirationTime,
		}
	}
	return v
}

type Result struct {
	Command command.Type  `json:"command"`
	Checks  []CheckItem   `json:"checks,omitempty"`
	Domain  *DomainView   `json:"domain,omitempty"`
	Fees    *pricing.Fees `json:"fees,omitempty"`
	// Deleted is set when a DELETE removed the registration immediately.
	Deleted bool `json:"deleted,omitempty"`
}
