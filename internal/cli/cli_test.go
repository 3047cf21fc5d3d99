package cli

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/linnemanlabs/pager/internal/alert"
	"github.com/linnemanlabs/pager/internal/backend"
	"github.com/linnemanlabs/pager/internal/routing"
	"github.com/linnemanlabs/pager/internal/routing/memstore"
	"github.com/linnemanlabs/pager/internal/routing/redisguard"
)

func memOpener(ms *memstore.Store) Opener {
	return func(context.Context) (*backend.Backend, error) {
		return &backend.Backend{Prefs: ms, Guard: ms}, nil
	}
}

func run(t *testing.T, open Opener, args ...string) (string, error) {
	t.Helper()
	root := RootCmd(nil, open)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

var putArgs = []string{
	"pref", "put", "C-1",
	"--high", "call", "--medium", "sms", "--low", "email",
	"--call", "+15555550100",
	"--sms", "arn:aws:sns:us-east-1:123456789012:oncall-sms",
	"--email", "oncall@example.com",
}

func TestPrefPut_StoresValidPreference(t *testing.T) {
	t.Parallel()

	ms := memstore.New()
	out, err := run(t, memOpener(ms), putArgs...)
	if err != nil {
		t.Fatalf("pref put: %v", err)
	}
	if !strings.Contains(out, "Stored preference for C-1") {
		t.Errorf("output = %q", out)
	}

	p, ok, err := ms.Resolve(context.Background(), "C-1")
	if err != nil || !ok {
		t.Fatalf("Resolve = %v, %v", ok, err)
	}
	d, err := p.Route(alert.PriorityHigh)
	if err != nil {
		t.Fatalf("Route(high): %v", err)
	}
	if d.Channel != alert.ChannelCall || d.Address != "+15555550100" {
		t.Errorf("high routes to %+v", d)
	}
}

func TestPrefPut_RejectsInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "unknown channel",
			args: []string{"pref", "put", "C-1", "--high", "fax", "--medium", "sms", "--low", "sms", "--sms", "+15555550100"},
			want: "invalid channel",
		},
		{
			name: "missing destination",
			args: []string{"pref", "put", "C-1", "--high", "call", "--medium", "sms", "--low", "sms", "--sms", "+15555550100"},
			want: "C-1",
		},
		{
			name: "missing priority",
			args: []string{"pref", "put", "C-1", "--high", "sms", "--medium", "sms", "--sms", "+15555550100"},
			want: "invalid channel",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ms := memstore.New()
			opened := false
			open := func(context.Context) (*backend.Backend, error) {
				opened = true
				return &backend.Backend{Prefs: ms, Guard: ms}, nil
			}

			_, err := run(t, open, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want substring %q", err, tt.want)
			}
			if opened {
				t.Error("backend opened for an invalid preference")
			}
		})
	}
}

func TestPrefGet_MasksByDefault(t *testing.T) {
	t.Parallel()

	ms := memstore.New()
	if _, err := run(t, memOpener(ms), putArgs...); err != nil {
		t.Fatalf("pref put: %v", err)
	}

	out, err := run(t, memOpener(ms), "pref", "get", "C-1")
	if err != nil {
		t.Fatalf("pref get: %v", err)
	}
	if strings.Contains(out, "+15555550100") {
		t.Errorf("output reveals phone number: %q", out)
	}
	for _, want := range []string{"PRIORITY", "high", "call", "0100", "oncall-sms"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}

	revealed, err := run(t, memOpener(ms), "pref", "get", "C-1", "--reveal", "--json")
	if err != nil {
		t.Fatalf("pref get --reveal: %v", err)
	}
	if !strings.Contains(revealed, "+15555550100") || !strings.Contains(revealed, `"contact_id": "C-1"`) {
		t.Errorf("json output = %q", revealed)
	}
}

func TestPrefGet_NotFound(t *testing.T) {
	t.Parallel()

	_, err := run(t, memOpener(memstore.New()), "pref", "get", "C-404")
	if err == nil || !strings.Contains(err.Error(), "no preference") {
		t.Errorf("err = %v", err)
	}
}

func TestPrefDelete(t *testing.T) {
	t.Parallel()

	ms := memstore.New()
	if _, err := run(t, memOpener(ms), putArgs...); err != nil {
		t.Fatalf("pref put: %v", err)
	}
	if _, err := run(t, memOpener(ms), "pref", "delete", "C-1"); err != nil {
		t.Fatalf("pref delete: %v", err)
	}
	if _, ok, _ := ms.Resolve(context.Background(), "C-1"); ok {
		t.Error("preference still present after delete")
	}
}

func TestOpenerError(t *testing.T) {
	t.Parallel()

	open := func(context.Context) (*backend.Backend, error) {
		return nil, errors.New("dial tcp: connection refused")
	}
	_, err := run(t, open, "pref", "get", "C-1")
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("err = %v", err)
	}
}

func TestClaimGet(t *testing.T) {
	t.Parallel()

	ms := memstore.New()
	now := time.Now()
	claimed, err := ms.Claim(context.Background(), &routing.Record{
		MessageID: "m1",
		Status:    routing.ClaimInProgress,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	})
	if err != nil || !claimed {
		t.Fatalf("Claim = %v, %v", claimed, err)
	}

	out, err := run(t, memOpener(ms), "claim", "get", "m1")
	if err != nil {
		t.Fatalf("claim get: %v", err)
	}
	if !strings.Contains(out, "Message m1") || !strings.Contains(out, "in_progress") {
		t.Errorf("output = %q", out)
	}

	if _, err := run(t, memOpener(ms), "claim", "get", "m2"); err == nil {
		t.Error("expected error for unknown message id")
	}
}

func TestClaimGet_RedisShowsTTL(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	g := redisguard.New(rdb, "")

	now := time.Now()
	if _, err := g.Claim(context.Background(), &routing.Record{
		MessageID: "m1",
		Status:    routing.ClaimInProgress,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	open := func(context.Context) (*backend.Backend, error) {
		return &backend.Backend{Prefs: memstore.New(), Guard: g, Redis: g}, nil
	}
	out, err := run(t, open, "claim", "get", "m1", "--json")
	if err != nil {
		t.Fatalf("claim get --json: %v", err)
	}
	if !strings.Contains(out, `"message_id": "m1"`) {
		t.Errorf("output = %q", out)
	}

	out, err = run(t, open, "claim", "get", "m1")
	if err != nil {
		t.Fatalf("claim get: %v", err)
	}
	if !strings.Contains(out, "ttl:") {
		t.Errorf("output missing ttl: %q", out)
	}
}

func TestRootCmd_SharesGoFlags(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("pagerctl", flag.ContinueOnError)
	store := fs.String("store", "memory", "")

	var seen string
	open := func(context.Context) (*backend.Backend, error) {
		seen = *store
		ms := memstore.New()
		return &backend.Backend{Prefs: ms, Guard: ms}, nil
	}

	root := RootCmd(fs, open)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--store", "postgres", "pref", "delete", "C-1"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if seen != "postgres" {
		t.Errorf("store flag = %q, want postgres", seen)
	}
}
