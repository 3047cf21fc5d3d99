package main

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/pager/internal/routing"
)

// runPruner deletes expired idempotency records every interval until ctx is
// done. Backends with native expiry (DynamoDB TTL, Redis) never reach here.
func runPruner(ctx context.Context, L log.Logger, p routing.Pruner, every time.Duration, onPruned func(n int64)) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := p.Prune(ctx, now)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				L.Error(ctx, err, "prune expired idempotency records")
				continue
			}
			if n > 0 {
				L.Info(ctx, "pruned expired idempotency records", "count", n)
			}
			if onPruned != nil {
				onPruned(n)
			}
		}
	}
}
