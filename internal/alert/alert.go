// Package alert defines the inbound alert request and the priority and
// channel vocabularies shared by the routing engine and its adapters.
package alert

import "strings"

// Priority is the urgency level an alert is raised at.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Priorities lists every recognized priority, highest first.
var Priorities = []Priority{PriorityHigh, PriorityMedium, PriorityLow}

// short codes accepted from older callers
var priorityAliases = map[string]Priority{
	"high":   PriorityHigh,
	"medium": PriorityMedium,
	"low":    PriorityLow,
	"H":      PriorityHigh,
	"M":      PriorityMedium,
	"L":      PriorityLow,
}

// ParsePriority maps a wire value to a Priority. Matching is case-sensitive.
func ParsePriority(s string) (Priority, bool) {
	p, ok := priorityAliases[s]
	return p, ok
}

// Channel is a delivery mechanism.
type Channel string

const (
	ChannelCall  Channel = "call"
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Channels lists every supported channel.
var Channels = []Channel{ChannelCall, ChannelSMS, ChannelEmail}

// ParseChannel maps a stored value to a Channel.
func ParseChannel(s string) (Channel, bool) {
	switch c := Channel(strings.TrimSpace(s)); c {
	case ChannelCall, ChannelSMS, ChannelEmail:
		return c, true
	}
	return "", false
}

// Request is a single alert submitted for dispatch. MessageID is the
// idempotency key; Priority is kept raw and validated by the router.
type Request struct {
	MessageID   string `json:"message_id"`
	Type        string `json:"type"`
	PatientID   string `json:"patient_id"`
	ContactID   string `json:"contact_id"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

// MissingFields returns the JSON names of required fields that are empty.
func (r *Request) MissingFields() []string {
	var missing []string
	check := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	check("message_id", r.MessageID)
	check("type", r.Type)
	check("patient_id", r.PatientID)
	check("contact_id", r.ContactID)
	check("description", r.Description)
	check("priority", r.Priority)
	return missing
}
