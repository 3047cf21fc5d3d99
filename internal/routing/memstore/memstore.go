// Package memstore provides an in-memory implementation of the routing
// preference store and idempotency guard.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/pager/internal/routing"
)

// Store holds preferences and idempotency records in memory. Suitable for
// dev/testing and single-replica deployments.
type Store struct {
	mu      sync.RWMutex
	prefs   map[string]*routing.Preference // contact ID -> preference
	records map[string]*routing.Record     // message ID -> record

	now func() time.Time
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		prefs:   make(map[string]*routing.Preference),
		records: make(map[string]*routing.Record),
		now:     time.Now,
	}
}

// Resolve returns a copy of the contact's preference.
func (s *Store) Resolve(_ context.Context, contactID string) (*routing.Preference, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prefs[contactID]
	if !ok {
		return nil, false, nil
	}
	return p.Clone(), true, nil
}

// Put stores a copy of the preference, replacing any existing one.
func (s *Store) Put(_ context.Context, p *routing.Preference) error {
	if p.ContactID == "" {
		return fmt.Errorf("contact id is required")
	}
	cp := p.Clone()
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = s.now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[p.ContactID] = cp
	return nil
}

// Delete removes a contact's preference. Deleting a missing contact is not an error.
func (s *Store) Delete(_ context.Context, contactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prefs, contactID)
	return nil
}

// Claim inserts rec unless a live record for the same message id exists.
func (s *Store) Claim(_ context.Context, rec *routing.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.MessageID]; ok && existing.Live(rec.CreatedAt) {
		return false, nil
	}
	cp := *rec
	s.records[rec.MessageID] = &cp
	return true, nil
}

// Complete updates the outcome fields of a live record.
func (s *Store) Complete(_ context.Context, rec *routing.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.records[rec.MessageID]
	if !ok || !existing.Live(s.now()) {
		return fmt.Errorf("complete %s: no live record", rec.MessageID)
	}
	existing.Status = rec.Status
	existing.Channel = rec.Channel
	existing.DispatchID = rec.DispatchID
	existing.Error = rec.Error
	existing.UpdatedAt = rec.UpdatedAt
	return nil
}

// Release deletes the record if it is still in progress.
func (s *Store) Release(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[messageID]; ok && r.Status == routing.ClaimInProgress {
		delete(s.records, messageID)
	}
	return nil
}

// Get returns a copy of the live record for a message id.
func (s *Store) Get(_ context.Context, messageID string) (*routing.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[messageID]
	if !ok || !r.Live(s.now()) {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

// Prune drops records that expired at or before now.
func (s *Store) Prune(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.records {
		if !r.Live(now) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}
