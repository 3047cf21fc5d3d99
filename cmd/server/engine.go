package main

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/pager/internal/backend"
	vc "github.com/linnemanlabs/pager/internal/cfg"
	"github.com/linnemanlabs/pager/internal/routing"
)

// assembleEngine puts the optional preference cache in front of the store,
// writes the seed preference and builds the routing engine.
func assembleEngine(ctx context.Context, L log.Logger, appCfg *vc.Config, stores *backend.Backend, ds routing.Dispatchers, rm *routing.Metrics, notifier routing.Notifier) (*routing.Engine, error) {
	var (
		prefs routing.PreferenceStore = stores.Prefs
		cache *routing.CachedPreferences
	)
	if appCfg.PreferenceCacheTTL > 0 {
		cache = routing.NewCachedPreferences(stores.Prefs, appCfg.PreferenceCacheTTL, rm.CacheObserver())
		prefs = cache
		L.Info(ctx, "preference cache enabled", "ttl", appCfg.PreferenceCacheTTL.String())
	}

	if err := seedPreference(ctx, L, appCfg, stores.Prefs, cache); err != nil {
		return nil, err
	}

	return routing.NewEngine(appCfg.EngineConfig(), prefs, stores.Guard, ds, L, rm.Hooks(), notifier), nil
}

// seedPreference writes the configured seed record, if any. cache may be nil.
func seedPreference(ctx context.Context, L log.Logger, appCfg *vc.Config, admin routing.PreferenceAdmin, cache *routing.CachedPreferences) error {
	seed, ok, err := appCfg.SeedPreference()
	if err != nil || !ok {
		return err
	}
	if err := admin.Put(ctx, seed); err != nil {
		return fmt.Errorf("seed preference: %w", err)
	}
	if cache != nil {
		cache.Invalidate(seed.ContactID)
	}
	L.Info(ctx, "seeded preference record", "contact_id", seed.ContactID)
	return nil
}
