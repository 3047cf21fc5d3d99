package alertapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/linnemanlabs/pager/internal/alert"
	"github.com/linnemanlabs/pager/internal/routing"
)

// maxBodyBytes bounds a single alert request.
const maxBodyBytes = 64 << 10

func (a *API) handleNotify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req alert.Request
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if missing := req.MissingFields(); len(missing) > 0 {
		writeError(w, http.StatusBadRequest, "missing required fields: "+strings.Join(missing, ", "))
		return
	}

	res, err := a.router.Route(r.Context(), &req)
	if err != nil {
		writeError(w, statusFor(res.Outcome), string(res.Outcome))
		return
	}

	if res.Outcome == routing.OutcomeDuplicate {
		writeJSON(w, http.StatusOK, map[string]string{"status": string(routing.OutcomeDuplicate)})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":     string(res.Outcome),
		"channel":    string(res.Channel),
		"message_id": res.MessageID,
	})
}

// statusFor maps a failed route to an HTTP status. Terminal outcomes are 4xx,
// provider and store failures are 5xx.
func statusFor(o routing.Outcome) int {
	switch o {
	case routing.OutcomeInvalidPriority:
		return http.StatusBadRequest
	case routing.OutcomePreferenceNotFound:
		return http.StatusNotFound
	case routing.OutcomeChannelMisconfigured:
		return http.StatusUnprocessableEntity
	case routing.OutcomeDispatchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}
