package domain

import "github.com/smallbiznis/registry/internal/registryerr"

var (
	ErrNoDomainNames      = registryerr.Validation("domain_names_required", "At least one domain name is required")
	ErrTooManyNames       = registryerr.Validation("too_many_domain_names", "Too many domain names in one check")
	ErrSingleDomain       = registryerr.Validation("single_domain_required", "The command applies to exactly one domain name")
	ErrUnknownCommand     = registryerr.Validation("unknown_command", "Unknown command")
	ErrUnknownTransferOp  = registryerr.Validation("unknown_transfer_op", "Unknown transfer operation")
	ErrExceedsMaxYears    = registryerr.Validation("exceeds_max_registration_years", "Registrations cannot extend past the maximum registration horizon")
	ErrExpirationMismatch = registryerr.Validation("incorrect_current_expiration", "The current expiration date is incorrect")
	ErrInvalidAuthInfo    = registryerr.Validation("invalid_auth_info", "Auth info is missing or malformed")
	ErrTldWrongPhase      = registryerr.Precondition("tld_wrong_phase", "The TLD does not accept this registration in its current phase")
	ErrStatusProhibits    = registryerr.Precondition("status_prohibits_operation", "A domain status prohibits this operation")
	ErrNotInRedemption    = registryerr.Precondition("domain_not_in_redemption", "The domain is not in its redemption grace period")
	ErrTransferPending    = registryerr.Precondition("domain_transfer_pending", "The domain has a pending transfer")
	ErrNotSponsor         = registryerr.Forbidden("not_sponsoring_registrar", "The registrar does not sponsor this domain")
	ErrSuperuserRequired  = registryerr.Forbidden("superuser_required", "The operation requires superuser privileges")
)
