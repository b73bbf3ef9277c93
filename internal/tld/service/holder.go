package service

import (
	"bytes"
	"errors"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/registry/internal/config"
	"github.com/smallbiznis/registry/internal/tld/domain"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Holder keeps the current TLD snapshot and swaps it atomically when the
// backing file changes.
type Holder struct {
	current atomic.Value // holds map[string]*domain.Tld
	log     *zap.Logger
}

func NewHolder(cfg config.Config, log *zap.Logger) (*Holder, error) {
	v := viper.New()
	v.SetConfigName(cfg.Tld.Name)
	v.SetConfigType("yml")
	for _, path := range cfg.Tld.Paths {
		v.AddConfigPath(path)
	}

	log = log.Named("tld.holder")
	holder := &Holder{log: log}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Warn("tld config not found, serving no tlds", zap.Strings("paths", cfg.Tld.Paths))
		holder.current.Store(map[string]*domain.Tld{})
		return holder, nil
	}

	tlds, err := decode(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(tlds)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decode(v)
		if err != nil {
			log.Warn("tld config reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("tld config reloaded", zap.String("file", e.Name), zap.Int("tlds", len(updated)))
	})

	return holder, nil
}

// NewHolderFromYAML parses an in-memory document. Used by tests and seeds.
func NewHolderFromYAML(raw []byte, log *zap.Logger) (*Holder, error) {
	v := viper.New()
	v.SetConfigType("yml")
	if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	tlds, err := decode(v)
	if err != nil {
		return nil, err
	}
	holder := &Holder{log: log.Named("tld.holder")}
	holder.current.Store(tlds)
	return holder, nil
}

// NewStaticStore wraps already-built TLDs.
func NewStaticStore(tlds ...*domain.Tld) *Holder {
	m := make(map[string]*domain.Tld, len(tlds))
	for _, t := range tlds {
		m[t.Name] = t
	}
	holder := &Holder{log: zap.NewNop()}
	holder.current.Store(m)
	return holder
}

func decode(v *viper.Viper) (map[string]*domain.Tld, error) {
	var cfg fileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return buildTlds(cfg)
}

func (h *Holder) snapshot() map[string]*domain.Tld {
	return h.current.Load().(map[string]*domain.Tld)
}

func (h *Holder) Get(name string) (*domain.Tld, error) {
	tld, ok := h.snapshot()[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, domain.ErrTldNotFound
	}
	return tld, nil
}

func (h *Holder) List() []*domain.Tld {
	snap := h.snapshot()
	out := make([]*domain.Tld, 0, len(snap))
	for _, t := range snap {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
