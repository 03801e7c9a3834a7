package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/drift-detection-service/internal/domain"
)

type fakeDriftEvents struct {
	events        map[string]domain.DriftEvent
	listErr       error
	ackErr        error
	lastFilters   domain.DriftEventFilters
	lastLimit     int
	lastOffset    int
	acknowledged  map[string]time.Time
}

func newFakeDriftEvents() *fakeDriftEvents {
	return &fakeDriftEvents{events: map[string]domain.DriftEvent{}, acknowledged: map[string]time.Time{}}
}

func (f *fakeDriftEvents) Insert(ctx domain.Context, e domain.DriftEvent) (string, error) { return "", nil }

func (f *fakeDriftEvents) Get(ctx domain.Context, id string) (domain.DriftEvent, error) {
	e, ok := f.events[id]
	if !ok {
		return domain.DriftEvent{}, domain.ErrNotFound
	}
	return e, nil
}

func (f *fakeDriftEvents) ListByUser(ctx domain.Context, userID string, filters domain.DriftEventFilters, limit, offset int) ([]domain.DriftEvent, error) {
	f.lastFilters = filters
	f.lastLimit = limit
	f.lastOffset = offset
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.DriftEvent
	for _, e := range f.events {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeDriftEvents) LatestDetectedAt(ctx domain.Context, userID string) (*time.Time, error) { return nil, nil }

func (f *fakeDriftEvents) SetAcknowledged(ctx domain.Context, id string, ts time.Time) error {
	if f.ackErr != nil {
		return f.ackErr
	}
	f.acknowledged[id] = ts
	return nil
}

func (f *fakeDriftEvents) CountAll(ctx domain.Context) (int64, error) {
	return int64(len(f.events)), nil
}

func withURLParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestHealthzHandler(t *testing.T) {
	srv := &Server{}
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.HealthzHandler()(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
}

func TestReadyzHandler_AllOK(t *testing.T) {
	srv := &Server{
		DBCheck:    func(ctx context.Context) error { return nil },
		RedisCheck: func(ctx context.Context) error { return nil },
	}
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	srv.ReadyzHandler()(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
}

func TestReadyzHandler_DBDown(t *testing.T) {
	srv := &Server{
		DBCheck:    func(ctx context.Context) error { return errors.New("db down") },
		RedisCheck: func(ctx context.Context) error { return nil },
	}
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	srv.ReadyzHandler()(rec, r)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("want 503, got %d", rec.Code)
	}
}

func TestGetEventHandler_NotFoundWrongUser(t *testing.T) {
	events := newFakeDriftEvents()
	events.events["ev1"] = domain.DriftEvent{DriftEventID: "ev1", UserID: "alice"}
	srv := &Server{DriftEvents: events}

	r := httptest.NewRequest(http.MethodGet, "/events/bob/ev1", nil)
	r = withURLParams(r, map[string]string{"user": "bob", "event_id": "ev1"})
	rec := httptest.NewRecorder()
	srv.GetEventHandler()(rec, r)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", rec.Code)
	}
}

func TestGetEventHandler_Found(t *testing.T) {
	events := newFakeDriftEvents()
	events.events["ev1"] = domain.DriftEvent{DriftEventID: "ev1", UserID: "alice", DriftType: domain.DriftTopicEmergence}
	srv := &Server{DriftEvents: events}

	r := httptest.NewRequest(http.MethodGet, "/events/alice/ev1", nil)
	r = withURLParams(r, map[string]string{"user": "alice", "event_id": "ev1"})
	rec := httptest.NewRecorder()
	srv.GetEventHandler()(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
}

func TestAcknowledgeEventHandler(t *testing.T) {
	events := newFakeDriftEvents()
	events.events["ev1"] = domain.DriftEvent{DriftEventID: "ev1", UserID: "alice"}
	srv := &Server{DriftEvents: events, Clock: domain.FixedClock{At: time.Unix(0, 0)}}

	r := httptest.NewRequest(http.MethodPost, "/events/alice/ev1/acknowledge", nil)
	r = withURLParams(r, map[string]string{"user": "alice", "event_id": "ev1"})
	rec := httptest.NewRecorder()
	srv.AcknowledgeEventHandler()(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	if _, ok := events.acknowledged["ev1"]; !ok {
		t.Fatalf("expected event to be acknowledged")
	}
}

func TestListEventsHandler_InvalidDriftType(t *testing.T) {
	events := newFakeDriftEvents()
	srv := &Server{DriftEvents: events}

	r := httptest.NewRequest(http.MethodGet, "/events/alice?drift_type=not_a_type", nil)
	r = withURLParams(r, map[string]string{"user": "alice"})
	rec := httptest.NewRecorder()
	srv.ListEventsHandler()(rec, r)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("want 422, got %d", rec.Code)
	}
}

func TestListEventsHandler_FiltersParsed(t *testing.T) {
	events := newFakeDriftEvents()
	events.events["ev1"] = domain.DriftEvent{DriftEventID: "ev1", UserID: "alice", DriftType: domain.DriftTopicEmergence, Severity: domain.SeverityStrong}
	srv := &Server{DriftEvents: events}

	r := httptest.NewRequest(http.MethodGet, "/events/alice?drift_type=topic-emergence&severity=strong&limit=10&offset=5", nil)
	r = withURLParams(r, map[string]string{"user": "alice"})
	rec := httptest.NewRecorder()
	srv.ListEventsHandler()(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	if events.lastFilters.DriftType == nil || *events.lastFilters.DriftType != domain.DriftTopicEmergence {
		t.Fatalf("expected drift_type filter to be parsed")
	}
	if events.lastLimit != 10 || events.lastOffset != 5 {
		t.Fatalf("expected limit=10 offset=5, got limit=%d offset=%d", events.lastLimit, events.lastOffset)
	}
}

func TestWriteError_StatusTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{domain.ErrValidation, http.StatusUnprocessableEntity},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrConflict, http.StatusConflict},
		{domain.ErrInsufficientData, http.StatusBadRequest},
		{domain.ErrCooldown, http.StatusTooManyRequests},
		{domain.ErrTransient, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/x", nil)
		writeError(rec, r, c.err, nil)
		if rec.Code != c.status {
			t.Fatalf("err=%v: want %d, got %d", c.err, c.status, rec.Code)
		}
		var body errorEnvelope
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid json body: %v", err)
		}
	}
}
