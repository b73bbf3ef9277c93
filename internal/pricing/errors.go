package pricing

import "github.com/smallbiznis/registry/internal/registryerr"

var (
	ErrFeesMismatch           = registryerr.Validation("fees_mismatch", "The fees passed in the transform command do not match the fees that will be charged")
	ErrFeesRequiredForPremium = registryerr.Validation("fees_required_for_premium", "Fees must be explicitly acknowledged when performing any operations on a premium name")
	ErrCurrencyMismatch       = registryerr.Validation("fee_currency_mismatch", "The currency specified in the fee extension does not match the currency of the domain's TLD")
	ErrCurrencyScale          = registryerr.Validation("fee_currency_scale", "The fee amount has more decimal places than the currency allows")
	ErrInvalidYears           = registryerr.Validation("invalid_period", "The requested period is out of range")
	ErrUnsupportedCommand     = registryerr.Validation("unsupported_command", "The command has no price")
)
