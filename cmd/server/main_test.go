package main

import (
	"context"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/pager/internal/alert"
	"github.com/linnemanlabs/pager/internal/backend"
	vc "github.com/linnemanlabs/pager/internal/cfg"
	"github.com/linnemanlabs/pager/internal/routing"
	"github.com/linnemanlabs/pager/internal/routing/memstore"
)

func TestNotifySystemd(t *testing.T) {
	tests := []struct {
		name    string
		socket  func(t *testing.T) string
		wantErr string
	}{
		{
			name:    "not under systemd",
			socket:  func(*testing.T) string { return "" },
			wantErr: "NOTIFY_SOCKET not set",
		},
		{
			name: "socket missing",
			socket: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "gone.sock")
			},
			wantErr: "dial failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NOTIFY_SOCKET", tt.socket(t))

			err := notifySystemd()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("notifySystemd() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNotifySystemd_SendsReady(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "notify.sock")
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(context.Background(), "unixgram", sock)
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	t.Setenv("NOTIFY_SOCKET", sock)

	if err := notifySystemd(); err != nil {
		t.Fatalf("notifySystemd() = %v", err)
	}

	buf := make([]byte, 64)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := string(buf[:n]); got != "READY=1" {
		t.Errorf("payload = %q, want READY=1", got)
	}
}

// sentLog records every message handed to a channel.
type sentLog struct {
	mu   sync.Mutex
	sent []routing.Destination
}

func (s *sentLog) dispatchers() routing.Dispatchers {
	d := routing.DispatcherFunc(func(_ context.Context, dest routing.Destination, _ routing.Message) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.sent = append(s.sent, dest)
		return nil
	})
	return routing.Dispatchers{alert.ChannelCall: d, alert.ChannelSMS: d, alert.ChannelEmail: d}
}

func (s *sentLog) all() []routing.Destination {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]routing.Destination(nil), s.sent...)
}

func seededConfig() *vc.Config {
	return &vc.Config{
		SeedContactID:        "C-1",
		SeedHigh:             "call",
		SeedMedium:           "sms",
		SeedLow:              "email",
		SeedCallDestination:  "+15555550100",
		SeedSMSDestination:   "arn:aws:sns:us-east-1:123456789012:oncall-sms",
		SeedEmailDestination: "arn:aws:sns:us-east-1:123456789012:oncall-email",
	}
}

func memBackend() *backend.Backend {
	m := memstore.New()
	return &backend.Backend{Prefs: m, Guard: m}
}

func lowAlert(id string) *alert.Request {
	return &alert.Request{
		MessageID:   id,
		Type:        "lab-result",
		PatientID:   "4815162342",
		ContactID:   "C-1",
		Description: "Blood results ready.",
		Priority:    "low",
	}
}

func TestAssembleEngine_RoutesSeededContact(t *testing.T) {
	t.Parallel()

	var sent sentLog
	rm := routing.NewMetrics(prometheus.NewRegistry())
	e, err := assembleEngine(context.Background(), log.Nop(), seededConfig(), memBackend(), sent.dispatchers(), rm, nil)
	if err != nil {
		t.Fatalf("assembleEngine: %v", err)
	}

	res, err := e.Route(context.Background(), lowAlert("m-1"))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if res.Outcome != routing.OutcomeDispatched || res.Channel != alert.ChannelEmail {
		t.Errorf("result = %+v, want dispatched via email", res)
	}
	got := sent.all()
	if len(got) != 1 || got[0].Address != "arn:aws:sns:us-east-1:123456789012:oncall-email" {
		t.Errorf("sent = %+v", got)
	}
}

func TestAssembleEngine_CacheToggle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		ttl      time.Duration
		wantHits float64
	}{
		{"disabled", 0, 0},
		{"enabled", time.Minute, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := seededConfig()
			c.PreferenceCacheTTL = tt.ttl
			var sent sentLog
			rm := routing.NewMetrics(prometheus.NewRegistry())
			e, err := assembleEngine(context.Background(), log.Nop(), c, memBackend(), sent.dispatchers(), rm, nil)
			if err != nil {
				t.Fatalf("assembleEngine: %v", err)
			}

			for _, id := range []string{"m-1", "m-2"} {
				if _, err := e.Route(context.Background(), lowAlert(id)); err != nil {
					t.Fatalf("Route(%s): %v", id, err)
				}
			}
			if got := testutil.ToFloat64(rm.PreferenceCache.WithLabelValues("hit")); got != tt.wantHits {
				t.Errorf("cache hits = %v, want %v", got, tt.wantHits)
			}
		})
	}
}

func TestAssembleEngine_InvalidSeed(t *testing.T) {
	t.Parallel()

	c := seededConfig()
	c.SeedHigh = "pager"
	b := memBackend()
	rm := routing.NewMetrics(prometheus.NewRegistry())

	if _, err := assembleEngine(context.Background(), log.Nop(), c, b, routing.Dispatchers{}, rm, nil); err == nil {
		t.Fatal("expected error for invalid seed channel")
	}
	if _, ok, _ := b.Prefs.Resolve(context.Background(), "C-1"); ok {
		t.Error("invalid seed was written")
	}
}

func TestSeedPreference_ReplacesCachedEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	old := &routing.Preference{
		ContactID:    "C-1",
		Channels:     map[alert.Priority]alert.Channel{alert.PriorityHigh: alert.ChannelSMS, alert.PriorityMedium: alert.ChannelSMS, alert.PriorityLow: alert.ChannelSMS},
		Destinations: map[alert.Channel]string{alert.ChannelSMS: "+15555550199"},
	}
	if err := store.Put(ctx, old); err != nil {
		t.Fatalf("Put: %v", err)
	}
	cache := routing.NewCachedPreferences(store, time.Hour, nil)
	if _, ok, err := cache.Resolve(ctx, "C-1"); !ok || err != nil {
		t.Fatalf("warm cache: ok=%v err=%v", ok, err)
	}

	if err := seedPreference(ctx, log.Nop(), seededConfig(), store, cache); err != nil {
		t.Fatalf("seedPreference: %v", err)
	}

	p, ok, err := cache.Resolve(ctx, "C-1")
	if err != nil || !ok {
		t.Fatalf("Resolve: ok=%v err=%v", ok, err)
	}
	if p.Channels[alert.PriorityLow] != alert.ChannelEmail {
		t.Errorf("low channel = %q, want email from the seed", p.Channels[alert.PriorityLow])
	}
}

func TestSeedPreference_NoneConfigured(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	if err := seedPreference(context.Background(), log.Nop(), &vc.Config{}, store, nil); err != nil {
		t.Fatalf("seedPreference: %v", err)
	}
	if _, ok, _ := store.Resolve(context.Background(), "C-1"); ok {
		t.Error("preference written without a seed contact")
	}
}
