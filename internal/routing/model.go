package routing

import (
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/pager/internal/alert"
)

// Outcome is the terminal state of a single Route call.
type Outcome string

const (
	OutcomeDispatched           Outcome = "dispatched"
	OutcomeDuplicate            Outcome = "duplicate"
	OutcomeInvalidPriority      Outcome = "invalid_priority"
	OutcomePreferenceNotFound   Outcome = "preference_not_found"
	OutcomeChannelMisconfigured Outcome = "channel_misconfigured"
	OutcomeDispatchFailed       Outcome = "dispatch_failed"
	OutcomeStoreUnavailable     Outcome = "store_unavailable"
)

// Result is returned by Engine.Route for every request, including failed ones.
type Result struct {
	MessageID  string        `json:"message_id"`
	Outcome    Outcome       `json:"status"`
	Channel    alert.Channel `json:"channel,omitempty"`
	DispatchID string        `json:"dispatch_id,omitempty"`
}

// Destination is a channel together with the address that channel delivers to:
// an E.164 number for call, a topic handle or number for sms, a topic handle or
// mailbox for email.
type Destination struct {
	Channel alert.Channel `json:"channel"`
	Address string        `json:"address"`
}

// Masked returns the address with everything but the last 4 characters hidden.
func (d Destination) Masked() string {
	return MaskAddress(d.Address)
}

// MaskAddress hides all but the trailing 4 characters of an address.
func MaskAddress(addr string) string {
	if len(addr) <= 4 {
		return strings.Repeat("*", len(addr))
	}
	return strings.Repeat("*", len(addr)-4) + addr[len(addr)-4:]
}

// Preference is a contact's priority->channel mapping plus the address
// configured for each channel. Records are written out of band; the engine
// only reads them.
type Preference struct {
	ContactID    string                           `json:"contact_id"`
	Channels     map[alert.Priority]alert.Channel `json:"channels"`
	Destinations map[alert.Channel]string         `json:"destinations"`
	UpdatedAt    time.Time                        `json:"updated_at,omitempty"`
}

// Route selects the destination for a priority. A priority that is not
// mapped, mapped to an unknown channel, or mapped to a channel without an
// address is a data integrity problem and yields ErrChannelMisconfigured.
func (p *Preference) Route(pr alert.Priority) (Destination, error) {
	ch, ok := p.Channels[pr]
	if !ok || ch == "" {
		return Destination{}, fmt.Errorf("%w: no channel for priority %s", ErrChannelMisconfigured, pr)
	}
	parsed, known := alert.ParseChannel(string(ch))
	if !known {
		return Destination{}, fmt.Errorf("%w: priority %s maps to unknown channel %q", ErrChannelMisconfigured, pr, ch)
	}
	ch = parsed
	addr := p.address(ch)
	if addr == "" {
		return Destination{}, fmt.Errorf("%w: channel %s has no destination", ErrChannelMisconfigured, ch)
	}
	return Destination{Channel: ch, Address: addr}, nil
}

// Validate checks that every priority resolves to a configured destination.
func (p *Preference) Validate() error {
	if strings.TrimSpace(p.ContactID) == "" {
		return fmt.Errorf("contact id is required")
	}
	var problems []string
	for _, pr := range alert.Priorities {
		if _, err := p.Route(pr); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("contact %s: %s", p.ContactID, strings.Join(problems, "; "))
	}
	return nil
}

// address returns the configured address for a channel; the literal "null"
// written by older provisioning counts as unset.
func (p *Preference) address(ch alert.Channel) string {
	addr := strings.TrimSpace(p.Destinations[ch])
	if addr == "null" {
		return ""
	}
	return addr
}

// Clone returns a deep copy.
func (p *Preference) Clone() *Preference {
	cp := *p
	cp.Channels = make(map[alert.Priority]alert.Channel, len(p.Channels))
	for k, v := range p.Channels {
		cp.Channels[k] = v
	}
	cp.Destinations = make(map[alert.Channel]string, len(p.Destinations))
	for k, v := range p.Destinations {
		cp.Destinations[k] = v
	}
	return &cp
}

// Message is the rendered content handed to a channel adapter.
type Message struct {
	// MessageID is the alert's idempotency key, usable as a provider client token.
	MessageID string
	// Subject is set for email only.
	Subject string
	// Body is the main text; on a call it is spoken normally.
	Body string
	// Digits is spoken digit by digit on a call; empty for other channels.
	Digits string
}

// ClaimStatus tracks what happened after a message id was claimed.
type ClaimStatus string

const (
	// ClaimInProgress means claimed, dispatch not finished
	ClaimInProgress ClaimStatus = "in_progress"

	// ClaimDispatched means the provider accepted the notification
	ClaimDispatched ClaimStatus = "dispatched"

	// ClaimFailed means the provider rejected or timed out
	ClaimFailed ClaimStatus = "failed"

	// ClaimRejected means routing stopped before dispatch (unknown contact, bad mapping)
	ClaimRejected ClaimStatus = "rejected"
)

// Record is the idempotency record for a message id. Its existence while
// live means the alert has been or is being handled.
type Record struct {
	MessageID  string        `json:"message_id"`
	Status     ClaimStatus   `json:"status"`
	Channel    alert.Channel `json:"channel,omitempty"`
	DispatchID string        `json:"dispatch_id,omitempty"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
}

// Live reports whether the record still blocks a new claim at now.
func (r *Record) Live(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// Failure describes a route that ended without a delivery, for operator
// notification.
type Failure struct {
	MessageID string
	ContactID string
	Priority  string
	Outcome   Outcome
	Channel   alert.Channel
	// Destination is already masked.
	Destination string
	Reason      string
	At          time.Time
}
