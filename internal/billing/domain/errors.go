package domain

import "github.com/smallbiznis/registry/internal/registryerr"

var (
	ErrCancellationAfterBillingTime = registryerr.Validation("cancellation_after_billing_time", "Billing cancellation issued at or after the target's billing time")
	ErrBillingEventNotFound         = registryerr.NotFound("billing_event_not_found", "Billing event not found")
	ErrRecurrenceNotFound           = registryerr.NotFound("billing_recurrence_not_found", "Billing recurrence not found")
	ErrRecurrenceEnded              = registryerr.Conflict("billing_recurrence_ended", "Billing recurrence has already ended")
	ErrInvalidRenewalPrice          = registryerr.Validation("invalid_renewal_price", "A renewal price is required for SPECIFIED behavior and forbidden otherwise")
	ErrInvalidRenewalBehavior       = registryerr.Validation("invalid_renewal_behavior", "Unknown renewal price behavior")
)
