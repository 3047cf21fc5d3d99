package alertapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/pager/internal/alert"
	"github.com/linnemanlabs/pager/internal/routing"
)

// Router defines the business operations alertapi needs.
type Router interface {
	Route(ctx context.Context, req *alert.Request) (routing.Result, error)
	Lookup(ctx context.Context, messageID string) (*routing.Record, bool, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	router Router
}

// New creates a new API handler.
func New(logger log.Logger, router Router) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if router == nil {
		panic(xerrors.New("alert router is required"))
	}
	return &API{
		logger: logger,
		router: router,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Post("/notification", a.handleNotify)
	r.Get("/notification/{message_id}", a.handleGetNotification)
}

func (a *API) handleGetNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "message_id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("pager.message_id", id))

	rec, ok, err := a.router.Lookup(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to look up notification", "message_id", id)
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	span.SetAttributes(attribute.String("pager.claim.status", string(rec.Status)))

	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
