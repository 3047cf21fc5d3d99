package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/pager/internal/alert"
)

var tracer = otel.Tracer("github.com/linnemanlabs/pager/internal/routing")

const (
	DefaultIdempotencyTTL = 24 * time.Hour
	DefaultVoicePreamble  = "This is a message from Staff Alert."
	DefaultEmailSubject   = "Staff Alert Notifications - Blood Results Ready"
)

// Config is the immutable deployment configuration of an Engine.
type Config struct {
	// IdempotencyTTL is how long a claimed message id blocks a new claim.
	IdempotencyTTL time.Duration
	// VoicePreamble is spoken before the alert description on a call.
	VoicePreamble string
	// EmailSubject is the subject line of email notifications.
	EmailSubject string

	ClaimTimeout    time.Duration
	ResolveTimeout  time.Duration
	DispatchTimeout time.Duration
	RecordTimeout   time.Duration
	NotifyTimeout   time.Duration
}

// DefaultConfig returns the configuration used when fields are left zero.
func DefaultConfig() Config {
	return Config{
		IdempotencyTTL:  DefaultIdempotencyTTL,
		VoicePreamble:   DefaultVoicePreamble,
		EmailSubject:    DefaultEmailSubject,
		ClaimTimeout:    5 * time.Second,
		ResolveTimeout:  5 * time.Second,
		DispatchTimeout: 10 * time.Second,
		RecordTimeout:   5 * time.Second,
		NotifyTimeout:   10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = d.IdempotencyTTL
	}
	if c.EmailSubject == "" {
		c.EmailSubject = d.EmailSubject
	}
	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = d.ClaimTimeout
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = d.ResolveTimeout
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = d.DispatchTimeout
	}
	if c.RecordTimeout <= 0 {
		c.RecordTimeout = d.RecordTimeout
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = d.NotifyTimeout
	}
	return c
}

// Dispatchers maps each deployed channel to its adapter.
type Dispatchers map[alert.Channel]Dispatcher

// Engine routes alerts to exactly one channel adapter per message id.
type Engine struct {
	cfg         Config
	prefs       PreferenceStore
	guard       Guard
	dispatchers Dispatchers
	notifier    Notifier
	logger      log.Logger
	hooks       Hooks

	now   func() time.Time
	newID func() string
}

// NewEngine creates an Engine. notifier may be nil.
func NewEngine(cfg Config, prefs PreferenceStore, guard Guard, dispatchers Dispatchers, logger log.Logger, hooks Hooks, notifier Notifier) *Engine {
	if prefs == nil {
		panic(xerrors.New("preference store is required"))
	}
	if guard == nil {
		panic(xerrors.New("idempotency guard is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	ds := make(Dispatchers, len(dispatchers))
	for ch, d := range dispatchers {
		if d != nil {
			ds[ch] = d
		}
	}
	return &Engine{
		cfg:         cfg.withDefaults(),
		prefs:       prefs,
		guard:       guard,
		dispatchers: ds,
		notifier:    notifier,
		logger:      logger,
		hooks:       hooks,
		now:         time.Now,
		newID:       func() string { return ulid.Make().String() },
	}
}

// Config returns the engine's configuration with defaults applied.
func (e *Engine) Config() Config {
	return e.cfg
}

// Route validates, claims, resolves and dispatches a single alert. The
// returned Result always carries the Outcome; err is nil for Dispatched and
// Duplicate and wraps one of the package's sentinel errors otherwise.
func (e *Engine) Route(ctx context.Context, req *alert.Request) (Result, error) {
	start := e.now()

	ctx, span := tracer.Start(ctx, "routing.Route", trace.WithAttributes(
		attribute.String("pager.message_id", req.MessageID),
		attribute.String("pager.contact_id", req.ContactID),
		attribute.String("pager.priority", req.Priority),
	))
	defer span.End()

	L := e.logger.With(
		"message_id", req.MessageID,
		"contact_id", req.ContactID,
		"priority", req.Priority,
	)

	res, err := e.route(ctx, L, req, start)
	dur := e.now().Sub(start)

	span.SetAttributes(attribute.String("pager.outcome", string(res.Outcome)))
	if res.Channel != "" {
		span.SetAttributes(attribute.String("pager.channel", string(res.Channel)))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	if e.hooks.OnRoute != nil {
		e.hooks.OnRoute(res.Outcome, dur)
	}

	switch {
	case err == nil && res.Outcome == OutcomeDuplicate:
		L.Info(ctx, "duplicate alert suppressed", "outcome", res.Outcome)
	case err == nil:
		L.Info(ctx, "alert dispatched",
			"outcome", res.Outcome,
			"channel", res.Channel,
			"dispatch_id", res.DispatchID,
			"duration", dur.Seconds(),
		)
	case Terminal(err):
		L.Warn(ctx, "alert rejected", "outcome", res.Outcome, "channel", res.Channel, "error", err)
	default:
		L.Error(ctx, err, "alert routing failed", "outcome", res.Outcome, "channel", res.Channel)
	}

	return res, err
}

// Lookup returns the live idempotency record for a message id.
func (e *Engine) Lookup(ctx context.Context, messageID string) (*Record, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ResolveTimeout)
	defer cancel()
	rec, ok, err := e.guard.Get(ctx, messageID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return rec, ok, nil
}

func (e *Engine) route(ctx context.Context, L log.Logger, req *alert.Request, start time.Time) (Result, error) {
	res := Result{MessageID: req.MessageID}

	pr, ok := alert.ParsePriority(req.Priority)
	if !ok {
		res.Outcome = OutcomeInvalidPriority
		return res, fmt.Errorf("%w: %q", ErrInvalidPriority, req.Priority)
	}

	rec := &Record{
		MessageID: req.MessageID,
		Status:    ClaimInProgress,
		CreatedAt: start,
		UpdatedAt: start,
		ExpiresAt: start.Add(e.cfg.IdempotencyTTL),
	}

	claimed, err := e.claim(ctx, rec)
	if err != nil {
		res.Outcome = OutcomeStoreUnavailable
		return res, err
	}
	if !claimed {
		res.Outcome = OutcomeDuplicate
		return res, nil
	}

	pref, found, err := e.resolve(ctx, req.ContactID)
	if err != nil {
		// nothing was sent, so the id is freed for a retry
		e.release(ctx, L, req.MessageID)
		res.Outcome = OutcomeStoreUnavailable
		return res, fmt.Errorf("%w: resolve preference: %w", ErrStoreUnavailable, err)
	}
	if !found {
		err := fmt.Errorf("%w: contact %s", ErrPreferenceNotFound, req.ContactID)
		e.complete(ctx, L, rec, ClaimRejected, "", "", err)
		res.Outcome = OutcomePreferenceNotFound
		return res, err
	}

	dest, err := pref.Route(pr)
	if err != nil {
		e.complete(ctx, L, rec, ClaimRejected, "", "", err)
		e.notify(ctx, req, OutcomeChannelMisconfigured, Destination{Channel: pref.Channels[pr]}, err)
		res.Outcome = OutcomeChannelMisconfigured
		res.Channel = pref.Channels[pr]
		return res, err
	}
	res.Channel = dest.Channel

	d, ok := e.dispatchers[dest.Channel]
	if !ok {
		err := fmt.Errorf("%w: no adapter deployed for channel %s", ErrChannelMisconfigured, dest.Channel)
		e.complete(ctx, L, rec, ClaimRejected, dest.Channel, "", err)
		e.notify(ctx, req, OutcomeChannelMisconfigured, dest, err)
		res.Outcome = OutcomeChannelMisconfigured
		return res, err
	}

	dispatchID := e.newID()
	res.DispatchID = dispatchID

	if err := e.send(ctx, L, d, dest, e.render(dest.Channel, req)); err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrDispatchFailed, dest.Channel, err)
		e.complete(ctx, L, rec, ClaimFailed, dest.Channel, dispatchID, err)
		e.notify(ctx, req, OutcomeDispatchFailed, dest, err)
		res.Outcome = OutcomeDispatchFailed
		return res, err
	}

	e.complete(ctx, L, rec, ClaimDispatched, dest.Channel, dispatchID, nil)
	res.Outcome = OutcomeDispatched
	return res, nil
}

// claim never retries: a timeout leaves the outcome unknown and a blind
// retry could observe our own record as a duplicate.
func (e *Engine) claim(ctx context.Context, rec *Record) (bool, error) {
	ctx, span := tracer.Start(ctx, "routing.claim")
	defer span.End()

	cctx, cancel := context.WithTimeout(ctx, e.cfg.ClaimTimeout)
	defer cancel()

	claimed, err := e.guard.Claim(cctx, rec)
	if err != nil {
		if cctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%w: %w", ErrIndeterminate, err)
		} else {
			err = fmt.Errorf("%w: claim: %w", ErrStoreUnavailable, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Bool("pager.claimed", claimed))

	if e.hooks.OnClaim != nil {
		e.hooks.OnClaim(claimed, err)
	}
	return claimed, err
}

func (e *Engine) resolve(ctx context.Context, contactID string) (*Preference, bool, error) {
	ctx, span := tracer.Start(ctx, "routing.resolve")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ResolveTimeout)
	defer cancel()

	pref, ok, err := e.prefs.Resolve(ctx, contactID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	span.SetAttributes(attribute.Bool("pager.preference_found", ok))
	return pref, ok, nil
}

func (e *Engine) send(ctx context.Context, L log.Logger, d Dispatcher, dest Destination, msg Message) error {
	ctx, span := tracer.Start(ctx, "routing.send", trace.WithAttributes(
		attribute.String("pager.channel", string(dest.Channel)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.DispatchTimeout)
	defer cancel()

	start := e.now()
	err := d.Send(ctx, dest, msg)
	dur := e.now().Sub(start)

	if e.hooks.OnDispatch != nil {
		e.hooks.OnDispatch(dest.Channel, dur, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	L.Info(ctx, "provider accepted notification",
		"channel", dest.Channel,
		"destination", dest.Masked(),
		"duration", dur.Seconds(),
	)
	return nil
}

// complete records the outcome on the claim. Failures are logged only; the
// claim itself already prevents a second dispatch.
func (e *Engine) complete(ctx context.Context, L log.Logger, rec *Record, status ClaimStatus, ch alert.Channel, dispatchID string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.RecordTimeout)
	defer cancel()

	upd := *rec
	upd.Status = status
	upd.Channel = ch
	upd.DispatchID = dispatchID
	upd.UpdatedAt = e.now()
	if cause != nil {
		upd.Error = cause.Error()
	}

	if err := e.guard.Complete(ctx, &upd); err != nil {
		L.Error(ctx, err, "failed to record claim outcome", "status", status)
	}
}

func (e *Engine) release(ctx context.Context, L log.Logger, messageID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.RecordTimeout)
	defer cancel()

	if err := e.guard.Release(ctx, messageID); err != nil {
		L.Error(ctx, err, "failed to release claim")
	}
}

func (e *Engine) notify(ctx context.Context, req *alert.Request, outcome Outcome, dest Destination, cause error) {
	if e.notifier == nil {
		return
	}
	f := &Failure{
		MessageID:   req.MessageID,
		ContactID:   req.ContactID,
		Priority:    req.Priority,
		Outcome:     outcome,
		Channel:     dest.Channel,
		Destination: dest.Masked(),
		Reason:      cause.Error(),
		At:          e.now(),
	}

	// detached so a slow webhook never holds up the caller
	go func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, e.cfg.NotifyTimeout)
		defer cancel()
		err := e.notifier.NotifyFailure(ctx, f)
		if e.hooks.OnNotify != nil {
			e.hooks.OnNotify(err)
		}
		if err != nil {
			e.logger.Error(ctx, err, "failed to send operator notification", "message_id", f.MessageID)
		}
	}(context.WithoutCancel(ctx))
}
