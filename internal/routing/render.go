package routing

import (
	"strings"
	"unicode/utf8"

	"github.com/linnemanlabs/pager/internal/alert"
)

// maxSubjectLen is the SNS subject limit, applied to every email backend.
const maxSubjectLen = 100

// render builds the channel-specific message for a request. Calls get the
// description after the preamble with the patient id in the digit slot;
// text and email get the description followed by the patient id.
func (e *Engine) render(ch alert.Channel, req *alert.Request) Message {
	msg := Message{MessageID: req.MessageID}
	desc := strings.TrimSpace(req.Description)
	patient := strings.TrimSpace(req.PatientID)

	switch ch {
	case alert.ChannelCall:
		msg.Body = joinNonEmpty(strings.TrimSpace(e.cfg.VoicePreamble), desc)
		msg.Digits = patient
	case alert.ChannelEmail:
		msg.Subject = truncate(singleLine(e.cfg.EmailSubject), maxSubjectLen)
		msg.Body = joinNonEmpty(desc, patient)
	default:
		msg.Body = joinNonEmpty(desc, patient)
	}
	return msg
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

// singleLine folds newlines, which SNS rejects in subjects.
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate caps s at limit bytes, cutting on a rune boundary.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
