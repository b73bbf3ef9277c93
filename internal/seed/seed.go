// Package seed bootstraps the registrar records an operator configures so a
// fresh registry can take commands immediately.
package seed

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/registry/internal/config"
	registrardomain "github.com/smallbiznis/registry/internal/registrar/domain"
	tlddomain "github.com/smallbiznis/registry/internal/tld/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("seed",
	fx.Invoke(registerSeed),
)

type Params struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Config     config.Config
	Log        *zap.Logger
	Registrars registrardomain.Service
	Tlds       tlddomain.Store
}

func registerSeed(p Params) {
	ids := append(append([]string{}, p.Config.SuperuserRegistrars...), p.Config.SeedRegistrars...)
	if len(ids) == 0 {
		return
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_, err := EnsureRegistrars(ctx, p.Registrars, p.Tlds, p.Log.Named("seed"), ids)
			return err
		},
	})
}

// EnsureRegistrars creates every missing registrar in ids. An id may carry a
// display name as "id:Name". Existing registrars are left untouched.
func EnsureRegistrars(ctx context.Context, registrars registrardomain.Service, tlds tlddomain.Store, log *zap.Logger, ids []string) (int, error) {
	allowed := make([]string, 0)
	for _, t := range tlds.List() {
		allowed = append(allowed, t.Name)
	}

	created := 0
	seen := map[string]struct{}{}
	for _, raw := range ids {
		id, name := splitSeed(raw)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		_, err := registrars.Create(ctx, registrardomain.CreateRequest{ID: id, Name: name, AllowedTlds: allowed})
		switch {
		case errors.Is(err, registrardomain.ErrRegistrarAlreadyExists):
			continue
		case err != nil:
			return created, err
		}
		created++
		log.Info("seeded registrar", zap.String("registrar_id", id), zap.Strings("allowed_tlds", allowed))
	}
	return created, nil
}

func splitSeed(raw string) (string, string) {
	id, name, _ := strings.Cut(strings.TrimSpace(raw), ":")
	id = strings.TrimSpace(id)
	if name = strings.TrimSpace(name); name == "" {
		name = id
	}
	return id, name
}
