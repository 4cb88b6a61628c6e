package outcomeapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/steward/internal/dispatch"
)

func newTestServer(t *testing.T, history *dispatch.History) *httptest.Server {
	t.Helper()

	r := chi.NewRouter()
	New(nil, history).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func seedHistory(n int) *dispatch.History {
	h := dispatch.NewHistory(1000)
	for i := 0; i < n; i++ {
		h.Add(&dispatch.Record{
			ID:      fmt.Sprintf("rec-%d", i),
			Topic:   "ticket.created",
			EventID: fmt.Sprintf("evt-%d", i),
			Outcome: dispatch.OutcomeProcessed,
		})
	}
	return h
}

func TestListOutcomes(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, seedHistory(3))

	resp, err := http.Get(srv.URL + "/api/v1/outcomes")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Outcomes []dispatch.Record `json:"outcomes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Outcomes) != 3 {
		t.Fatalf("len = %d, want 3", len(body.Outcomes))
	}
	if body.Outcomes[0].ID != "rec-2" {
		t.Errorf("first = %q, want newest record", body.Outcomes[0].ID)
	}
}

func TestListOutcomes_Limit(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, seedHistory(10))

	resp, err := http.Get(srv.URL + "/api/v1/outcomes?limit=2")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var body struct {
		Outcomes []dispatch.Record `json:"outcomes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Outcomes) != 2 {
		t.Errorf("len = %d, want 2", len(body.Outcomes))
	}
}

func TestListOutcomes_InvalidLimit(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, seedHistory(1))

	for _, limit := range []string{"abc", "0", "-5"} {
		resp, err := http.Get(srv.URL + "/api/v1/outcomes?limit=" + limit)
		if err != nil {
			t.Fatalf("GET error = %v", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", limit, resp.StatusCode)
		}
	}
}

func TestGetOutcome(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, seedHistory(2))

	resp, err := http.Get(srv.URL + "/api/v1/outcomes/rec-1")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var rec dispatch.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.ID != "rec-1" || rec.EventID != "evt-1" {
		t.Errorf("record = %+v", rec)
	}
}

func TestGetOutcome_NotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, seedHistory(1))

	resp, err := http.Get(srv.URL + "/api/v1/outcomes/nope")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestNew_RequiresHistory(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("New(nil history) should panic")
		}
	}()
	New(nil, nil)
}
