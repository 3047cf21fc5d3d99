// Package redisguard implements the routing idempotency guard on Redis.
// Records live under a key prefix and expire natively via key TTLs.
package redisguard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/pager/internal/routing"
)

var tracer = otel.Tracer("github.com/linnemanlabs/pager/internal/routing/redisguard")

// DefaultPrefix namespaces claim keys.
const DefaultPrefix = "pager:claim:"

// releaseScript deletes the key only while the stored record is in progress.
var releaseScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
	return 0
end
local rec = cjson.decode(v)
if rec['status'] == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Options configure the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient opens a client and verifies connectivity.
func NewClient(ctx context.Context, o Options) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping %s: %w", o.Addr, err)
	}
	return c, nil
}

// Guard stores idempotency records as JSON strings.
type Guard struct {
	rdb    redis.UniversalClient
	prefix string
}

// New returns a Guard. An empty prefix uses DefaultPrefix.
func New(rdb redis.UniversalClient, prefix string) *Guard {
	if rdb == nil {
		panic(xerrors.New("redis client is required"))
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Guard{rdb: rdb, prefix: prefix}
}

func (g *Guard) key(messageID string) string {
	return g.prefix + messageID
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Claim is a single SET NX with the record's remaining lifetime as TTL.
func (g *Guard) Claim(ctx context.Context, rec *routing.Record) (bool, error) {
	ctx, span := startSpan(ctx, "redisguard.Claim", "SET")
	defer span.End()

	ttl := rec.ExpiresAt.Sub(rec.CreatedAt)
	if ttl <= 0 {
		return false, fail(span, fmt.Errorf("claim %s: non-positive ttl %s", rec.MessageID, ttl))
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return false, fail(span, fmt.Errorf("encode record: %w", err))
	}

	ok, err := g.rdb.SetNX(ctx, g.key(rec.MessageID), b, ttl).Result()
	if err != nil {
		return false, fail(span, fmt.Errorf("claim %s: %w", rec.MessageID, err))
	}
	span.SetAttributes(attribute.Bool("pager.claimed", ok))
	return ok, nil
}

// Complete overwrites an existing record while keeping its TTL.
func (g *Guard) Complete(ctx context.Context, rec *routing.Record) error {
	ctx, span := startSpan(ctx, "redisguard.Complete", "SET")
	defer span.End()

	b, err := json.Marshal(rec)
	if err != nil {
		return fail(span, fmt.Errorf("encode record: %w", err))
	}
	ok, err := g.rdb.SetXX(ctx, g.key(rec.MessageID), b, redis.KeepTTL).Result()
	if err != nil {
		return fail(span, fmt.Errorf("complete %s: %w", rec.MessageID, err))
	}
	if !ok {
		return fail(span, fmt.Errorf("complete %s: no live record", rec.MessageID))
	}
	return nil
}

// Release removes the record if it is still in progress.
func (g *Guard) Release(ctx context.Context, messageID string) error {
	ctx, span := startSpan(ctx, "redisguard.Release", "EVALSHA")
	defer span.End()

	err := releaseScript.Run(ctx, g.rdb, []string{g.key(messageID)}, string(routing.ClaimInProgress)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fail(span, fmt.Errorf("release %s: %w", messageID, err))
	}
	return nil
}

// Get returns the record for a message id if its key has not expired.
func (g *Guard) Get(ctx context.Context, messageID string) (*routing.Record, bool, error) {
	ctx, span := startSpan(ctx, "redisguard.Get", "GET")
	defer span.End()

	b, err := g.rdb.Get(ctx, g.key(messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("get %s: %w", messageID, err))
	}

	var rec routing.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, false, fail(span, fmt.Errorf("decode record: %w", err))
	}
	return &rec, true, nil
}

// TTL reports the remaining lifetime of a claim; used by pagerctl.
func (g *Guard) TTL(ctx context.Context, messageID string) (time.Duration, error) {
	return g.rdb.TTL(ctx, g.key(messageID)).Result()
}
