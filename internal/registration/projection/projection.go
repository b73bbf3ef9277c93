// Package projection computes the state of a domain at an instant from its
// stored state. It never writes; callers persist the result.
package projection

import (
	"time"

	"github.com/smallbiznis/registry/internal/registration/domain"
	tlddomain "github.com/smallbiznis/registry/internal/tld/domain"
	"github.com/smallbiznis/registry/internal/timeline"
)

type Result struct {
	Domain *domain.Domain

	// TransferApproved is set when a pending transfer reached its deadline.
	TransferApproved bool
	// AutorenewOccurrences lists the anniversaries renewed by the projection.
	AutorenewOccurrences []time.Time
	AddedGraces          []domain.GracePeriod
	DroppedGraces        []domain.GracePeriod
}

func (r Result) Changed() bool {
	return r.TransferApproved || len(r.AutorenewOccurrences) > 0 || len(r.DroppedGraces) > 0
}

// Project returns d as seen at at. It resolves a due transfer first, then
// applies elapsed autorenewals, then drops grace periods expired by at. The
// input is not modified.
func Project(d *domain.Domain, tld *tlddomain.Tld, at time.Time) Result {
	out := d.Clone()
	res := Result{Domain: out}

	if out.DeletedAt(at) {
		return res
	}

	if out.Transfer.DueAt(at) {
		approveTransfer(out, tld, &res)
	}

	applyAutorenew(out, tld, at, &res)

	kept := out.GracePeriods[:0:0]
	for _, g := range out.GracePeriods {
		if g.ActiveAt(at) {
			kept = append(kept, g)
			continue
		}
		res.DroppedGraces = append(res.DroppedGraces, g)
	}
	out.GracePeriods = kept
	return res
}

// approveTransfer applies the server approval staged at request time. Every
// prior grace period is cleared and replaced by the TRANSFER grace period of
// the staged charge, if any.
func approveTransfer(d *domain.Domain, tld *tlddomain.Tld, res *Result) {
	t := &d.Transfer
	approvedAt := *t.PendingExpirationTime

	res.DroppedGraces = append(res.DroppedGraces, d.GracePeriods...)
	d.GracePeriods = nil

	if t.ServerApproveEventID != nil {
		eventID := *t.ServerApproveEventID
		g := domain.GracePeriod{
			DomainID:       d.ID,
			Type:           domain.GraceTransfer,
			ExpirationTime: approvedAt.Add(tld.TransferGracePeriod),
			RegistrarID:    t.GainingRegistrarID,
			BillingEventID: &eventID,
		}
		d.GracePeriods = append(d.GracePeriods, g)
		res.AddedGraces = append(res.AddedGraces, g)
	}

	if t.TransferredExpirationTime != nil {
		d.RegistrationExpirationTime = *t.TransferredExpirationTime
	}
	d.RegistrarID = t.GainingRegistrarID
	d.AutorenewRecurrenceID = t.ServerApproveRecurrenceID
	d.AutorenewEndTime = timeline.EndOfTime
	d.LastTransferTime = &approvedAt
	d.RemoveStatus(domain.StatusPendingTransfer)
	if t.ClearBulkToken {
		d.BulkToken = nil
	}

	t.Status = domain.TransferServerApproved
	t.ResolvedTime = &approvedAt
	res.TransferApproved = true
}

// applyAutorenew renews one year per anniversary reached by at while the
// recurrence is open. Each renewal opens an AUTO_RENEW grace period unless it
// has already lapsed.
func applyAutorenew(d *domain.Domain, tld *tlddomain.Tld, at time.Time, res *Result) {
	if d.AutorenewRecurrenceID == nil {
		return
	}
	for !at.Before(d.RegistrationExpirationTime) && d.RegistrationExpirationTime.Before(d.AutorenewEndTime) {
		occurrence := d.RegistrationExpirationTime
		d.RegistrationExpirationTime = occurrence.AddDate(1, 0, 0)
		res.AutorenewOccurrences = append(res.AutorenewOccurrences, occurrence)

		recurrenceID := *d.AutorenewRecurrenceID
		g := domain.GracePeriod{
			DomainID:            d.ID,
			Type:                domain.GraceAutoRenew,
			ExpirationTime:      occurrence.Add(tld.AutoRenewGracePeriod),
			RegistrarID:         d.RegistrarID,
			RecurrenceID:        &recurrenceID,
			RecurrenceEventTime: &occurrence,
		}
		if g.ActiveAt(at) {
			d.GracePeriods = append(d.GracePeriods, g)
			res.AddedGraces = append(res.AddedGraces, g)
		}
	}
}
