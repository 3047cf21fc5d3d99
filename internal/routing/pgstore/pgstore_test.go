package pgstore_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/pager/internal/alert"
	"github.com/linnemanlabs/pager/internal/postgres"
	"github.com/linnemanlabs/pager/internal/routing"
	"github.com/linnemanlabs/pager/internal/routing/pgstore"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("PAGER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PAGER_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn, postgres.PoolOptions{})
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)
	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

// uniqueID keeps reruns against the same database independent.
func uniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func newRecord(id string, now time.Time, ttl time.Duration) *routing.Record {
	return &routing.Record{
		MessageID: id,
		Status:    routing.ClaimInProgress,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestPutResolveDelete(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id := uniqueID("C")

	p := &routing.Preference{
		ContactID: id,
		Channels: map[alert.Priority]alert.Channel{
			alert.PriorityHigh:   alert.ChannelCall,
			alert.PriorityMedium: alert.ChannelSMS,
			alert.PriorityLow:    alert.ChannelEmail,
		},
		Destinations: map[alert.Channel]string{
			alert.ChannelCall:  "+15551234567",
			alert.ChannelSMS:   "null",
			alert.ChannelEmail: "oncall@example.com",
		},
	}
	if err := s.Put(ctx, p); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Resolve(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Resolve = %v, %v", ok, err)
	}
	if got.Channels[alert.PriorityMedium] != alert.ChannelSMS {
		t.Errorf("medium = %q", got.Channels[alert.PriorityMedium])
	}
	if got.Destinations[alert.ChannelCall] != "+15551234567" {
		t.Errorf("call destination = %q", got.Destinations[alert.ChannelCall])
	}
	if _, err := got.Route(alert.PriorityMedium); err == nil {
		t.Error("null sms destination should not route")
	}

	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Resolve(ctx, id); ok {
		t.Error("preference present after delete")
	}
}

func TestClaimLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id := uniqueID("m")
	now := time.Now().UTC().Truncate(time.Microsecond)

	ok, err := s.Claim(ctx, newRecord(id, now, time.Hour))
	if err != nil || !ok {
		t.Fatalf("Claim = %v, %v", ok, err)
	}
	ok, err = s.Claim(ctx, newRecord(id, now.Add(time.Second), time.Hour))
	if err != nil || ok {
		t.Fatalf("second Claim = %v, %v; want false", ok, err)
	}

	done := newRecord(id, now, time.Hour)
	done.Status = routing.ClaimDispatched
	done.Channel = alert.ChannelCall
	done.DispatchID = "d-1"
	done.UpdatedAt = now.Add(time.Second)
	if err := s.Complete(ctx, done); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got, ok, err := s.Get(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if got.Status != routing.ClaimDispatched || got.DispatchID != "d-1" || got.Channel != alert.ChannelCall {
		t.Errorf("record = %+v", got)
	}
	if !got.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, now.Add(time.Hour))
	}

	// dispatched claims are not released
	if err := s.Release(ctx, id); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, ok, _ := s.Get(ctx, id); !ok {
		t.Error("dispatched record released")
	}
}

func TestClaimReplacesExpired(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id := uniqueID("m-exp")
	past := time.Now().UTC().Add(-2 * time.Hour)

	if ok, err := s.Claim(ctx, newRecord(id, past, time.Hour)); err != nil || !ok {
		t.Fatalf("Claim = %v, %v", ok, err)
	}
	if ok, err := s.Claim(ctx, newRecord(id, time.Now().UTC(), time.Hour)); err != nil || !ok {
		t.Errorf("claim over expired record = %v, %v; want true", ok, err)
	}
}

func TestReleaseInProgress(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id := uniqueID("m-rel")

	_, _ = s.Claim(ctx, newRecord(id, time.Now().UTC(), time.Hour))
	if err := s.Release(ctx, id); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, err := s.Claim(ctx, newRecord(id, time.Now().UTC(), time.Hour)); err != nil || !ok {
		t.Errorf("claim after release = %v, %v", ok, err)
	}
}

func TestConcurrentClaims(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id := uniqueID("m-race")
	now := time.Now().UTC()

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Claim(ctx, newRecord(id, now, time.Hour))
			if err != nil {
				t.Errorf("Claim: %v", err)
				return
			}
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := winners.Load(); n != 1 {
		t.Errorf("winners = %d, want 1", n)
	}
}

func TestPrune(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id := uniqueID("m-prune")

	_, _ = s.Claim(ctx, newRecord(id, time.Now().UTC().Add(-2*time.Hour), time.Hour))
	n, err := s.Prune(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n < 1 {
		t.Errorf("pruned = %d, want >= 1", n)
	}
}
