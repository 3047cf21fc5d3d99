package routing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/linnemanlabs/pager/internal/alert"
)

// fakePrefs implements PreferenceStore for testing.
type fakePrefs struct {
	mu       sync.Mutex
	prefs    map[string]*Preference
	err      error
	resolves int
}

func newFakePrefs(prefs ...*Preference) *fakePrefs {
	f := &fakePrefs{prefs: make(map[string]*Preference)}
	for _, p := range prefs {
		f.prefs[p.ContactID] = p
	}
	return f
}

func (f *fakePrefs) Resolve(_ context.Context, contactID string) (*Preference, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves++
	if f.err != nil {
		return nil, false, f.err
	}
	p, ok := f.prefs[contactID]
	if !ok {
		return nil, false, nil
	}
	return p.Clone(), true, nil
}

func (f *fakePrefs) resolveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolves
}

// fakeGuard implements Guard with a mutex-protected map.
type fakeGuard struct {
	mu        sync.Mutex
	records   map[string]*Record
	claims    int
	claimErr  error
	block     bool // Claim waits for ctx to expire
	releases  int
	completes int
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{records: make(map[string]*Record)}
}

func (g *fakeGuard) Claim(ctx context.Context, rec *Record) (bool, error) {
	g.mu.Lock()
	g.claims++
	block, claimErr := g.block, g.claimErr
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	if claimErr != nil {
		return false, claimErr
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.records[rec.MessageID]; ok && existing.Live(rec.CreatedAt) {
		return false, nil
	}
	cp := *rec
	g.records[rec.MessageID] = &cp
	return true, nil
}

func (g *fakeGuard) Complete(_ context.Context, rec *Record) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completes++
	existing, ok := g.records[rec.MessageID]
	if !ok {
		return errors.New("no such record")
	}
	existing.Status = rec.Status
	existing.Channel = rec.Channel
	existing.DispatchID = rec.DispatchID
	existing.Error = rec.Error
	existing.UpdatedAt = rec.UpdatedAt
	return nil
}

func (g *fakeGuard) Release(_ context.Context, messageID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releases++
	if r, ok := g.records[messageID]; ok && r.Status == ClaimInProgress {
		delete(g.records, messageID)
	}
	return nil
}

func (g *fakeGuard) Get(_ context.Context, messageID string) (*Record, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.records[messageID]
	if !ok || !r.Live(time.Now()) {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

func (g *fakeGuard) record(id string) (*Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.records[id]
	if !ok {
		return nil, false
	}
	cp := *r
	return &cp, true
}

func (g *fakeGuard) claimCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.claims
}

// sent is one captured adapter call.
type sent struct {
	dest Destination
	msg  Message
}

// recorder is a Dispatcher that captures every Send.
type recorder struct {
	mu    sync.Mutex
	calls []sent
	err   error
}

func (r *recorder) Send(_ context.Context, dest Destination, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sent{dest: dest, msg: msg})
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) last() sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

type adapters struct {
	call, sms, email *recorder
}

func newAdapters() *adapters {
	return &adapters{call: &recorder{}, sms: &recorder{}, email: &recorder{}}
}

func (a *adapters) dispatchers() Dispatchers {
	return Dispatchers{
		alert.ChannelCall:  a.call,
		alert.ChannelSMS:   a.sms,
		alert.ChannelEmail: a.email,
	}
}

func (a *adapters) total() int {
	return a.call.count() + a.sms.count() + a.email.count()
}

func (a *adapters) byChannel(ch alert.Channel) *recorder {
	switch ch {
	case alert.ChannelCall:
		return a.call
	case alert.ChannelSMS:
		return a.sms
	default:
		return a.email
	}
}

// notifySink captures operator notifications.
type notifySink struct {
	ch chan *Failure
}

func (n *notifySink) NotifyFailure(_ context.Context, f *Failure) error {
	n.ch <- f
	return nil
}

func contactC1() *Preference {
	return &Preference{
		ContactID: "C-1",
		Channels: map[alert.Priority]alert.Channel{
			alert.PriorityHigh:   alert.ChannelCall,
			alert.PriorityMedium: alert.ChannelSMS,
			alert.PriorityLow:    alert.ChannelEmail,
		},
		Destinations: map[alert.Channel]string{
			alert.ChannelCall:  "+15551234567",
			alert.ChannelSMS:   "arn:aws:sns:us-east-1:123456789012:sms-topic",
			alert.ChannelEmail: "arn:aws:sns:us-east-1:123456789012:email-topic",
		},
	}
}

func request(id, contact, priority string) *alert.Request {
	return &alert.Request{
		MessageID:   id,
		Type:        "lab-result",
		PatientID:   "4815162342",
		ContactID:   contact,
		Description: "Blood results ready.",
		Priority:    priority,
	}
}
