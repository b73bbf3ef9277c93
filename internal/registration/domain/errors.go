package domain

import "github.com/smallbiznis/registry/internal/registryerr"

var (
	ErrDomainNotFound      = registryerr.NotFound("domain_not_found", "The domain does not exist")
	ErrDomainAlreadyExists = registryerr.Conflict("domain_already_exists", "The domain is already registered")
)
