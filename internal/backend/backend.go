// Package backend opens the preference store and idempotency guard selected
// by configuration. The server and the provisioning CLI share it.
package backend

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/service/dynamodb"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/pager/internal/awsx"
	"github.com/linnemanlabs/pager/internal/cfg"
	"github.com/linnemanlabs/pager/internal/postgres"
	"github.com/linnemanlabs/pager/internal/routing"
	"github.com/linnemanlabs/pager/internal/routing/dynamostore"
	"github.com/linnemanlabs/pager/internal/routing/memstore"
	"github.com/linnemanlabs/pager/internal/routing/pgstore"
	"github.com/linnemanlabs/pager/internal/routing/redisguard"
)

// Backend holds the opened stores. Prefs and Guard may be the same value.
type Backend struct {
	Prefs routing.PreferenceAdmin
	Guard routing.Guard

	// Redis is set when the guard is Redis-backed.
	Redis *redisguard.Guard

	closers []func()
}

// Close releases every connection Open made, in reverse order.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// opener lazily creates shared clients so a backend used for both roles
// is opened once.
type opener struct {
	c      *cfg.Config
	aws    awsx.Config
	logger log.Logger
	b      *Backend

	pg  *pgstore.Store
	dyn *dynamostore.Store
	mem *memstore.Store
}

// Open connects to the backends named by c.Store and c.GuardBackend().
// On error every connection made so far is closed.
func Open(ctx context.Context, c *cfg.Config, awsCfg awsx.Config, logger log.Logger) (*Backend, error) {
	if logger == nil {
		logger = log.Nop()
	}
	o := &opener{c: c, aws: awsCfg, logger: logger, b: &Backend{}}

	prefs, err := o.prefs(ctx)
	if err != nil {
		o.b.Close()
		return nil, err
	}
	guard, err := o.guard(ctx)
	if err != nil {
		o.b.Close()
		return nil, err
	}
	o.b.Prefs = prefs
	o.b.Guard = guard

	logger.Info(ctx, "backends opened", "store", c.Store, "guard", c.GuardBackend())
	return o.b, nil
}

func (o *opener) prefs(ctx context.Context) (routing.PreferenceAdmin, error) {
	switch o.c.Store {
	case cfg.BackendMemory:
		return o.memory(), nil
	case cfg.BackendPostgres:
		return o.postgres(ctx)
	case cfg.BackendDynamoDB:
		return o.dynamo()
	default:
		return nil, fmt.Errorf("unknown store backend %q", o.c.Store)
	}
}

func (o *opener) guard(ctx context.Context) (routing.Guard, error) {
	switch o.c.GuardBackend() {
	case cfg.BackendMemory:
		return o.memory(), nil
	case cfg.BackendPostgres:
		return o.postgres(ctx)
	case cfg.BackendDynamoDB:
		return o.dynamo()
	case cfg.BackendRedis:
		rdb, err := redisguard.NewClient(ctx, redisguard.Options{
			Addr:     o.c.RedisAddr,
			Password: o.c.RedisPassword,
			DB:       o.c.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		o.b.closers = append(o.b.closers, func() { _ = rdb.Close() })
		g := redisguard.New(rdb, o.c.RedisPrefix)
		o.b.Redis = g
		return g, nil
	default:
		return nil, fmt.Errorf("unknown guard backend %q", o.c.GuardBackend())
	}
}

func (o *opener) memory() *memstore.Store {
	if o.mem == nil {
		o.mem = memstore.New()
	}
	return o.mem
}

func (o *opener) postgres(ctx context.Context) (*pgstore.Store, error) {
	if o.pg != nil {
		return o.pg, nil
	}
	pool, err := postgres.NewPool(ctx, o.c.DatabaseURL, postgres.PoolOptions{
		MaxConns:  int32(o.c.DBMaxConns), //nolint:gosec // validated >= 0 and small
		SlowQuery: o.c.DBSlowQuery,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	o.b.closers = append(o.b.closers, pool.Close)

	st, err := pgstore.New(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("pgstore init: %w", err)
	}
	o.pg = st
	return st, nil
}

// dynamo opens one client for both tables. dynamostore.New requires both
// names; a role not served by DynamoDB never touches its table.
func (o *opener) dynamo() (*dynamostore.Store, error) {
	if o.dyn != nil {
		return o.dyn, nil
	}
	sess, err := awsx.NewSession(o.aws)
	if err != nil {
		return nil, err
	}
	prefTable, claimTable := o.c.PreferenceTable, o.c.ClaimTable
	if prefTable == "" {
		prefTable = "ContactPreferences"
	}
	if claimTable == "" {
		claimTable = "IdempotencyTable"
	}
	o.dyn = dynamostore.New(dynamodb.New(sess), prefTable, claimTable)
	return o.dyn, nil
}
