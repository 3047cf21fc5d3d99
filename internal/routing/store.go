package routing

import (
	"context"
	"time"
)

// PreferenceStore resolves a contact's preference. A miss returns ok=false
// with a nil error.
type PreferenceStore interface {
	Resolve(ctx context.Context, contactID string) (*Preference, bool, error)
}

// PreferenceAdmin is the provisioning side of a preference store.
type PreferenceAdmin interface {
	PreferenceStore
	Put(ctx context.Context, p *Preference) error
	Delete(ctx context.Context, contactID string) error
}

// Guard records which message ids have been claimed.
//
// Claim must be a single atomic conditional insert: it succeeds only when no
// live record exists for rec.MessageID, and exactly one of any number of
// concurrent callers for the same id may see claimed=true. An expired record
// is replaced.
type Guard interface {
	Claim(ctx context.Context, rec *Record) (claimed bool, err error)

	// Complete updates status, channel, dispatch id, error and updated_at of a
	// live record. Expiry is left untouched.
	Complete(ctx context.Context, rec *Record) error

	// Release deletes a record that is still in progress, so the same message
	// id can be retried. Used only when nothing was dispatched.
	Release(ctx context.Context, messageID string) error

	// Get returns the live record for a message id.
	Get(ctx context.Context, messageID string) (*Record, bool, error)
}

// Pruner is implemented by guards without native expiry.
type Pruner interface {
	Prune(ctx context.Context, now time.Time) (int64, error)
}

// Dispatcher delivers a rendered message to a destination through one
// provider. Send returns once the provider has accepted the request.
type Dispatcher interface {
	Send(ctx context.Context, dest Destination, msg Message) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, dest Destination, msg Message) error

// Send implements Dispatcher.
func (f DispatcherFunc) Send(ctx context.Context, dest Destination, msg Message) error {
	return f(ctx, dest, msg)
}

// Notifier receives failed routes for operator attention.
type Notifier interface {
	NotifyFailure(ctx context.Context, f *Failure) error
}
