package domain

import "github.com/smallbiznis/registry/internal/registryerr"

var (
	ErrAlreadyPending        = registryerr.Conflict("transfer_already_pending", "The domain already has a pending transfer")
	ErrAlreadySponsor        = registryerr.Conflict("already_sponsoring_registrar", "Registrar already sponsors the domain")
	ErrNotPending            = registryerr.Conflict("transfer_not_pending", "The domain is not pending transfer")
	ErrNoTransferHistory     = registryerr.Conflict("no_transfer_history", "The domain has no transfer to query")
	ErrStatusProhibits       = registryerr.Precondition("status_prohibits_transfer", "A domain status prohibits this transfer")
	ErrBadAuthInfo           = registryerr.Forbidden("bad_auth_info", "Authorization information is invalid")
	ErrNotAuthorized         = registryerr.Forbidden("not_authorized_for_transfer", "Registrar is not a party to this transfer")
	ErrSuperuserRequired     = registryerr.Forbidden("superuser_required", "Only superusers may override transfer period or window")
	ErrInvalidPeriod         = registryerr.Validation("transfer_period_must_be_one_year", "Transfer period must be one year")
	ErrFeeOnZeroPeriod       = registryerr.Validation("fee_not_allowed_for_zero_period", "A fee cannot be declared for a zero-year transfer")
)
