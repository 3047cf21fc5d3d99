// Package pgstore provides a PostgreSQL implementation of the routing
// preference store and idempotency guard.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/pager/internal/alert"
	"github.com/linnemanlabs/pager/internal/routing"
)

var tracer = otel.Tracer("github.com/linnemanlabs/pager/internal/routing/pgstore")

//go:embed schema.sql
var schema string

// Store persists preferences and idempotency records in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns
// the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

const prefColumns = `contact_id, high_channel, medium_channel, low_channel,
	call_destination, sms_destination, email_destination, updated_at`

// Resolve reads a contact's preference.
func (s *Store) Resolve(ctx context.Context, contactID string) (*routing.Preference, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Resolve", "SELECT")
	defer span.End()

	var (
		p                   routing.Preference
		high, medium, low   string
		call, sms, emailDst string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT `+prefColumns+` FROM contact_preferences WHERE contact_id = $1`, contactID,
	).Scan(&p.ContactID, &high, &medium, &low, &call, &sms, &emailDst, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("select preference: %w", err))
	}

	p.Channels = map[alert.Priority]alert.Channel{
		alert.PriorityHigh:   alert.Channel(high),
		alert.PriorityMedium: alert.Channel(medium),
		alert.PriorityLow:    alert.Channel(low),
	}
	p.Destinations = map[alert.Channel]string{
		alert.ChannelCall:  call,
		alert.ChannelSMS:   sms,
		alert.ChannelEmail: emailDst,
	}
	return &p, true, nil
}

// Put upserts a contact's preference.
func (s *Store) Put(ctx context.Context, p *routing.Preference) error {
	ctx, span := startSpan(ctx, "pgstore.Put", "UPSERT")
	defer span.End()

	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `INSERT INTO contact_preferences (`+prefColumns+`)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	ON CONFLICT (contact_id) DO UPDATE SET
		high_channel      = EXCLUDED.high_channel,
		medium_channel    = EXCLUDED.medium_channel,
		low_channel       = EXCLUDED.low_channel,
		call_destination  = EXCLUDED.call_destination,
		sms_destination   = EXCLUDED.sms_destination,
		email_destination = EXCLUDED.email_destination,
		updated_at        = EXCLUDED.updated_at`,
		p.ContactID,
		string(p.Channels[alert.PriorityHigh]),
		string(p.Channels[alert.PriorityMedium]),
		string(p.Channels[alert.PriorityLow]),
		p.Destinations[alert.ChannelCall],
		p.Destinations[alert.ChannelSMS],
		p.Destinations[alert.ChannelEmail],
		updated,
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert preference: %w", err))
	}
	return nil
}

// Delete removes a contact's preference.
func (s *Store) Delete(ctx context.Context, contactID string) error {
	ctx, span := startSpan(ctx, "pgstore.Delete", "DELETE")
	defer span.End()

	if _, err := s.pool.Exec(ctx, `DELETE FROM contact_preferences WHERE contact_id = $1`, contactID); err != nil {
		return fail(span, fmt.Errorf("delete preference: %w", err))
	}
	return nil
}

// Claim inserts rec in a single statement. An existing row is overwritten
// only when it has expired as of rec.CreatedAt; otherwise no row is
// returned and the claim is lost.
func (s *Store) Claim(ctx context.Context, rec *routing.Record) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Claim", "INSERT")
	defer span.End()

	var id string
	err := s.pool.QueryRow(ctx, `INSERT INTO idempotency_records
		(message_id, status, channel, dispatch_id, error, created_at, updated_at, expires_at)
	VALUES ($1, $2, '', '', '', $3, $4, $5)
	ON CONFLICT (message_id) DO UPDATE SET
		status      = EXCLUDED.status,
		channel     = '',
		dispatch_id = '',
		error       = '',
		created_at  = EXCLUDED.created_at,
		updated_at  = EXCLUDED.updated_at,
		expires_at  = EXCLUDED.expires_at
	WHERE idempotency_records.expires_at <= EXCLUDED.created_at
	RETURNING message_id`,
		rec.MessageID, string(rec.Status), rec.CreatedAt, rec.UpdatedAt, rec.ExpiresAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		span.SetAttributes(attribute.Bool("pager.claimed", false))
		return false, nil
	}
	if err != nil {
		return false, fail(span, fmt.Errorf("claim %s: %w", rec.MessageID, err))
	}
	span.SetAttributes(attribute.Bool("pager.claimed", true))
	return true, nil
}

// Complete records the outcome on a live claim.
func (s *Store) Complete(ctx context.Context, rec *routing.Record) error {
	ctx, span := startSpan(ctx, "pgstore.Complete", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `UPDATE idempotency_records SET
		status = $2, channel = $3, dispatch_id = $4, error = $5, updated_at = $6
	WHERE message_id = $1 AND expires_at > $6`,
		rec.MessageID, string(rec.Status), string(rec.Channel), rec.DispatchID, rec.Error, rec.UpdatedAt,
	)
	if err != nil {
		return fail(span, fmt.Errorf("complete %s: %w", rec.MessageID, err))
	}
	if tag.RowsAffected() == 0 {
		return fail(span, fmt.Errorf("complete %s: no live record", rec.MessageID))
	}
	return nil
}

// Release deletes a claim that is still in progress.
func (s *Store) Release(ctx context.Context, messageID string) error {
	ctx, span := startSpan(ctx, "pgstore.Release", "DELETE")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`DELETE FROM idempotency_records WHERE message_id = $1 AND status = $2`,
		messageID, string(routing.ClaimInProgress),
	)
	if err != nil {
		return fail(span, fmt.Errorf("release %s: %w", messageID, err))
	}
	return nil
}

// Get returns the live record for a message id.
func (s *Store) Get(ctx context.Context, messageID string) (*routing.Record, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	var (
		r               routing.Record
		status, channel string
	)
	err := s.pool.QueryRow(ctx, `SELECT message_id, status, channel, dispatch_id, error,
		created_at, updated_at, expires_at
	FROM idempotency_records WHERE message_id = $1 AND expires_at > now()`, messageID,
	).Scan(&r.MessageID, &status, &channel, &r.DispatchID, &r.Error, &r.CreatedAt, &r.UpdatedAt, &r.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("select record: %w", err))
	}
	r.Status = routing.ClaimStatus(status)
	r.Channel = alert.Channel(channel)
	return &r, true, nil
}

// Prune deletes records that expired at or before now.
func (s *Store) Prune(ctx context.Context, now time.Time) (int64, error) {
	ctx, span := startSpan(ctx, "pgstore.Prune", "DELETE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_records WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fail(span, fmt.Errorf("prune: %w", err))
	}
	return tag.RowsAffected(), nil
}
