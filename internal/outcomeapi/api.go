// Package outcomeapi serves the worker's recent event outcomes read-only
// over HTTP, for operators correlating worker behavior with store state.
package outcomeapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/steward/internal/dispatch"
)

// default and maximum page size for the outcomes listing
const (
	defaultLimit = 50
	maxLimit     = 500
)

// API holds dependencies for HTTP handlers.
type API struct {
	logger  log.Logger
	history *dispatch.History
}

// New creates a new API handler.
func New(logger log.Logger, history *dispatch.History) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if history == nil {
		panic(xerrors.New("outcome history is required"))
	}
	return &API{
		logger:  logger,
		history: history,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/outcomes", a.handleListOutcomes)
		r.Get("/outcomes/{id}", a.handleGetOutcome)
	})
}

func (a *API) handleListOutcomes(w http.ResponseWriter, r *http.Request) {
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		if n > maxLimit {
			n = maxLimit
		}
		limit = n
	}

	recs := a.history.Recent(limit)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"outcomes": recs,
	})
}

func (a *API) handleGetOutcome(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("steward.outcome.id", id))

	rec, ok := a.history.Get(id)
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	span.SetAttributes(attribute.String("steward.outcome.result", string(rec.Outcome)))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rec)
}
