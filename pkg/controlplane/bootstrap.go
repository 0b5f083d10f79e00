package controlplane

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/audit"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/bundle"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/cache"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/config"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/decision"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/identity"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/invalidation"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/pdp"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policylang"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policystore"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/principal"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/schema"
)

// Bootstrap wires C1-C10 and the CEL PDP backend into a ready-to-serve
// Service, following spec §6's default configuration. The store backend is
// selected from cfg.DatabaseURL: empty selects the in-memory store
// (single-node/dev/test), a postgres:// or postgresql:// URL selects
// Postgres, and any other non-empty value is treated as a file path for the
// embedded sqlite backend.
func Bootstrap(cfg *config.Config, log *slog.Logger) (*Service, error) {
	dir := principal.NewMemDirectory()

	store, err := openStore(cfg.DatabaseURL, dir)
	if err != nil {
		return nil, err
	}

	reader := NewStoreReader(store)
	resolver := principal.NewResolver(dir, log)
	assembler := bundle.NewAssembler(resolver, dir, reader, log)

	bootSchema := &schema.Schema{
		Version:     1,
		EntityTypes: map[string]schema.EntityTypeDecl{},
		Actions:     map[string]schema.ActionDecl{},
	}
	registry := schema.NewRegistry(bootSchema, 8)

	lang := policylang.New()
	engine := decision.NewEngine(reader, lang, cfg.EvaluatorDiagnosticsCap)

	var remoteTier cache.RemoteTier
	if cfg.RedisURL != "" {
		// RedisURL is taken as a host:port addr; no password or db
		// selection is parsed from it.
		remoteTier = cache.NewRedisTier(cfg.RedisURL, "", 0)
	}
	decisionCache := cache.NewCache(16, cfg.DecisionCacheMaxEntries, remoteTier)
	ttlPolicy := func(d decision.Decision) time.Duration {
		switch {
		case d.Effect == decision.Allow:
			return cfg.DecisionCacheTTLAllow
		case d.Explicit:
			return cfg.DecisionCacheTTLExplicitDeny
		default:
			return cfg.DecisionCacheTTLImplicitDeny
		}
	}

	resolveFn := func(ctx context.Context, p, r hrn.HRN) (*bundle.EvaluationBundle, error) {
		return assembler.Bundle(p, registry.Active().Version())
	}
	backend := pdp.NewCELBackend(engine, resolveFn, func() string {
		return fmt.Sprintf("schema-v%d", registry.Active().Version())
	})
	backend.WithCache(decisionCache, ttlPolicy)

	var bus *invalidation.Bus
	if cfg.InvalidationBusBuffer > 0 {
		bus = invalidation.NewBus(assembler, resolver, decisionCache, nil, cfg.InvalidationBusBuffer, invalidation.OverflowPolicy(cfg.InvalidationOverflow), 0, log)
	}

	recorder := audit.NewRecorder(log, nil, audit.NewMemSink())

	// No ConditionalPolicy is registered by default; Evaluate falls through
	// to AccessAllow (proceed to the CEL engine) until an operator adds one.
	condAccess := identity.NewConditionalAccessEngine()

	svc := New(Deps{
		Store:      store,
		Directory:  dir,
		Resolver:   resolver,
		Assembler:  assembler,
		Registry:   registry,
		Lang:       lang,
		Engine:     engine,
		PDP:        backend,
		Cache:      decisionCache,
		Bus:        bus,
		Recorder:   recorder,
		CondAccess: condAccess,
		Log:        log,
	})
	return svc, nil
}

// openStore selects and opens a policystore.Store from a DSN, per
// Bootstrap's doc comment. Postgres and sqlite stores are migrated
// (schema created if absent) before being returned.
func openStore(dsn string, dir policystore.InUseChecker) (policystore.Store, error) {
	switch {
	case dsn == "":
		return policystore.NewMemStore(dir), nil

	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("controlplane: opening postgres: %w", err)
		}
		store := policystore.NewPostgresStore(db, dir)
		if err := store.Migrate(context.Background()); err != nil {
			return nil, fmt.Errorf("controlplane: migrating postgres: %w", err)
		}
		return store, nil

	default:
		store, err := policystore.OpenSQLite(dsn, dir)
		if err != nil {
			return nil, fmt.Errorf("controlplane: opening sqlite: %w", err)
		}
		if err := store.Migrate(context.Background()); err != nil {
			return nil, fmt.Errorf("controlplane: migrating sqlite: %w", err)
		}
		return store, nil
	}
}
