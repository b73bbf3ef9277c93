package domain

import "github.com/smallbiznis/registry/internal/registryerr"

var (
	ErrTokenNotFound            = registryerr.Validation("token_not_found", "The allocation token is invalid")
	ErrTokenAlreadyRedeemed     = registryerr.Conflict("token_already_redeemed", "Alloc token was already redeemed")
	ErrTokenNotInPromotion      = registryerr.Validation("token_not_in_promotion", "Alloc token not in promo period")
	ErrTokenCommandNotAllowed   = registryerr.Validation("token_command_not_allowed", "Allocation token not valid for the EPP command")
	ErrTokenTldNotAllowed       = registryerr.Validation("token_tld_not_allowed", "Alloc token invalid for TLD")
	ErrTokenRegistrarNotAllowed = registryerr.Validation("token_registrar_not_allowed", "Alloc token invalid for client")
	ErrTokenDomainMismatch      = registryerr.Validation("token_domain_mismatch", "Alloc token invalid for domain")
	ErrTokenExists              = registryerr.Conflict("token_exists", "Allocation token already exists")
	ErrInvalidTokenDefinition   = registryerr.Validation("invalid_token_definition", "Allocation token definition is invalid")
)

var (
	ErrInvalidTokenTransition = registryerr.Precondition("invalid_token_transition", "Allocation token status cannot change that way")
)
