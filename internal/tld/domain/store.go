package domain

import (
	"errors"

	"github.com/smallbiznis/registry/internal/registryerr"
)

var (
	ErrTldNotFound   = registryerr.NotFound("tld_not_found", "The TLD is not served by this registry")
	ErrInvalidConfig = errors.New("invalid_tld_config")
)

// Store serves TLD configuration. Implementations are read-only to the
// registry core.
type Store interface {
	Get(name string) (*Tld, error)
	List() []*Tld
}
