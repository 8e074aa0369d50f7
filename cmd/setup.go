package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/linden-group/costmatch-cli/internal/candidate"
	"github.com/linden-group/costmatch-cli/internal/canonical"
	"github.com/linden-group/costmatch-cli/internal/classify"
	"github.com/linden-group/costmatch-cli/internal/config"
	"github.com/linden-group/costmatch-cli/internal/match"
	"github.com/linden-group/costmatch-cli/internal/rank"
	"github.com/linden-group/costmatch-cli/internal/risk"
	"github.com/linden-group/costmatch-cli/internal/rules"
	"github.com/linden-group/costmatch-cli/internal/store"
)

// env bundles the wired components a command needs.
type env struct {
	Store    store.Store
	Rules    rules.Provider
	Matcher  *match.Matcher
	closeFns []func() error
}

// Close releases resources in reverse acquisition order.
func (e *env) Close() {
	for i := len(e.closeFns) - 1; i >= 0; i-- {
		_ = e.closeFns[i]()
	}
}

// openStore opens the configured store backend.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initEnv wires the full matching pipeline from configuration.
func initEnv(ctx context.Context) (*env, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	e := &env{Store: st}
	e.closeFns = append(e.closeFns, st.Close)

	var provider rules.Provider
	if cfg.Rules.Watch {
		w, err := rules.Watch(cfg.Rules.ClassifierPath, cfg.Rules.RiskPath)
		if err != nil {
			e.Close()
			return nil, eris.Wrap(err, "load rules")
		}
		e.closeFns = append(e.closeFns, w.Close)
		provider = w
	} else {
		set, err := rules.Load(cfg.Rules.ClassifierPath, cfg.Rules.RiskPath)
		if err != nil {
			e.Close()
			return nil, eris.Wrap(err, "load rules")
		}
		provider = rules.Static{Set: set}
	}
	e.Rules = provider

	e.Matcher = match.New(
		st,
		classify.New(provider),
		canonical.NewBuilder(cfg.Canonical.DimensionGridMM, cfg.Canonical.AngleGridDeg),
		candidate.New(st, cfg.Candidate),
		rank.New(cfg.Rank),
		risk.New(provider),
		cfg.Match,
	)
	return e, nil
}
