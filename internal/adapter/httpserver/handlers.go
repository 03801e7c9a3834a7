// Package httpserver contains the HTTP handlers and middleware for the
// detection, events, and health surface (§6).
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/drift-detection-service/internal/adapter/stream/redisstream"
	"github.com/fairyhunter13/drift-detection-service/internal/config"
	"github.com/fairyhunter13/drift-detection-service/internal/domain"
	"github.com/fairyhunter13/drift-detection-service/internal/service/ratelimiter"
	"github.com/fairyhunter13/drift-detection-service/internal/usecase"
)

// Server aggregates the dependencies the thin HTTP surface needs: a single
// synchronous scan entrypoint, the drift event store, and readiness
// checks. Everything else lives in the stream consumer and worker pool
// (§6 "thin; fully specified by the store").
type Server struct {
	Cfg         config.Config
	Workers     *usecase.WorkerPool
	Behaviors   domain.BehaviorRepository
	Conflicts   domain.ConflictRepository
	DriftEvents domain.DriftEventRepository
	DeadLetters *redisstream.DeadLetterReaper
	Clock       domain.Clock
	DBCheck     func(ctx context.Context) error
	RedisCheck  func(ctx context.Context) error

	// DetectLimiter throttles manual POST /detect/{user} calls per user,
	// independent of the httprate per-IP middleware, so a single caller
	// hammering one user id cannot starve the worker pool. Nil disables
	// the check (e.g. in tests that construct a bare Server).
	DetectLimiter   *ratelimiter.RedisLuaLimiter
	DetectRateLimit ratelimiter.BucketConfig
}

type timestampedEnvelope struct {
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

func (s *Server) writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, timestampedEnvelope{Timestamp: s.now(), Data: data})
}

func (s *Server) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now()
	}
	return time.Now().UTC()
}

// HealthzHandler reports liveness unconditionally; readiness is a separate
// concern handled by ReadyzHandler.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeData(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler reports 200 only when every configured dependency check
// succeeds.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{}
		ok := true
		if s.DBCheck != nil {
			if err := s.DBCheck(r.Context()); err != nil {
				checks["db"] = err.Error()
				ok = false
			} else {
				checks["db"] = "ok"
			}
		}
		if s.RedisCheck != nil {
			if err := s.RedisCheck(r.Context()); err != nil {
				checks["redis"] = err.Error()
				ok = false
			} else {
				checks["redis"] = "ok"
			}
		}
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		s.writeData(w, status, checks)
	}
}

// DetectHandler implements POST /detect/{user}?force=<bool> (§6). With
// force=true it calls Orchestrator.DetectDriftForce, which skips the
// cooldown gate; the sufficient-data gate applies either way. Both paths
// run the scan synchronously within the request and do not go through
// the enqueue-exclusivity gate.
func (s *Server) DetectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(chi.URLParam(r, "user"))
		if userID == "" {
			writeError(w, r, domain.ErrValidation, "user is required")
			return
		}
		force := strings.EqualFold(r.URL.Query().Get("force"), "true")

		if s.DetectLimiter != nil {
			bucketKey := "detect:" + userID
			s.DetectLimiter.SetBucketConfig(bucketKey, s.DetectRateLimit)
			allowed, _, err := s.DetectLimiter.Allow(r.Context(), bucketKey, 1)
			if err == nil && !allowed {
				writeError(w, r, domain.ErrCooldown, "too many detect requests for this user; slow down")
				return
			}
		}

		var events []domain.DriftEvent
		var err error
		if force {
			events, err = s.Workers.Orchestrator.DetectDriftForce(r.Context(), userID)
		} else {
			events, err = s.Workers.Orchestrator.DetectDrift(r.Context(), userID)
		}
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		s.writeData(w, http.StatusOK, map[string]any{
			"user_id":      userID,
			"events_found": len(events),
			"events":       events,
		})
	}
}

// ListEventsHandler implements GET /events/{user}.
func (s *Server) ListEventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(chi.URLParam(r, "user"))
		if userID == "" {
			writeError(w, r, domain.ErrValidation, "user is required")
			return
		}

		filters, err := parseEventFilters(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		limit, offset, err := parsePagination(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		events, err := s.DriftEvents.ListByUser(r.Context(), userID, filters, limit, offset)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		s.writeData(w, http.StatusOK, events)
	}
}

// GetEventHandler implements GET /events/{user}/{event_id}.
func (s *Server) GetEventHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(chi.URLParam(r, "user"))
		eventID := strings.TrimSpace(chi.URLParam(r, "event_id"))
		if userID == "" || eventID == "" {
			writeError(w, r, domain.ErrValidation, "user and event_id are required")
			return
		}
		event, err := s.DriftEvents.Get(r.Context(), eventID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if event.UserID != userID {
			writeError(w, r, domain.ErrNotFound, nil)
			return
		}
		s.writeData(w, http.StatusOK, event)
	}
}

// AcknowledgeEventHandler implements POST /events/{user}/{event_id}/acknowledge.
func (s *Server) AcknowledgeEventHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(chi.URLParam(r, "user"))
		eventID := strings.TrimSpace(chi.URLParam(r, "event_id"))
		if userID == "" || eventID == "" {
			writeError(w, r, domain.ErrValidation, "user and event_id are required")
			return
		}
		event, err := s.DriftEvents.Get(r.Context(), eventID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if event.UserID != userID {
			writeError(w, r, domain.ErrNotFound, nil)
			return
		}
		if err := s.DriftEvents.SetAcknowledged(r.Context(), eventID, s.now()); err != nil {
			writeError(w, r, err, nil)
			return
		}
		s.writeData(w, http.StatusOK, map[string]string{"event_id": eventID, "status": "acknowledged"})
	}
}

// StatsHandler implements GET /stats: aggregate counts across behaviors,
// conflicts, drift events, and scan jobs by status, for operational
// dashboards (§10, cf. scan_worker.py get_scan_statistics).
func (s *Server) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		behaviors, err := s.Behaviors.CountAll(ctx)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		conflicts, err := s.Conflicts.CountAll(ctx)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		driftEvents, err := s.DriftEvents.CountAll(ctx)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		jobStats, err := s.Workers.GetScanStatistics(ctx)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		s.writeData(w, http.StatusOK, map[string]any{
			"behaviors":    behaviors,
			"conflicts":    conflicts,
			"drift_events": driftEvents,
			"jobs": map[string]int64{
				"pending": jobStats.Pending,
				"running": jobStats.Running,
				"done":    jobStats.Done,
				"failed":  jobStats.Failed,
				"skipped": jobStats.Skipped,
			},
		})
	}
}

// JobsHandler implements GET /jobs?status=<status>&limit=<n>&offset=<n>: a
// paginated, optionally status-filtered scan-job listing (§10, cf.
// ai-cv-evaluator's AdminJobsHandler/getJobs).
func (s *Server) JobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := parsePagination(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		var status *domain.ScanJobStatus
		if v := strings.TrimSpace(r.URL.Query().Get("status")); v != "" {
			st := domain.ScanJobStatus(v)
			switch st {
			case domain.ScanPending, domain.ScanRunning, domain.ScanDone, domain.ScanFailed, domain.ScanSkipped:
				status = &st
			default:
				writeError(w, r, domain.ErrValidation, "invalid status")
				return
			}
		}

		jobs, err := s.Workers.ScanJobs.ListRecent(r.Context(), status, limit, offset)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		s.writeData(w, http.StatusOK, map[string]any{
			"jobs":   jobs,
			"limit":  limit,
			"offset": offset,
		})
	}
}

// DeadLettersHandler implements GET /admin/deadletters?limit=<n>: recent
// dead-lettered inbound events plus the total dead-letter count, for
// manual debugging of poisoned messages (§10, cf. dead_letter.py
// inspect_dead_letters/get_dead_letter_count). Unauthenticated like the
// rest of this service's read surface: no admin credential store exists
// in this tree to gate it behind.
func (s *Server) DeadLettersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.DeadLetters == nil {
			writeError(w, r, domain.ErrTransient, "dead letter inspection not configured")
			return
		}
		limit := int64(10)
		if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 || n > 100 {
				writeError(w, r, domain.ErrValidation, "limit must be between 0 and 100")
				return
			}
			limit = n
		}

		entries, err := s.DeadLetters.Inspect(r.Context(), limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		count, err := s.DeadLetters.Count(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		s.writeData(w, http.StatusOK, map[string]any{
			"count":   count,
			"entries": entries,
		})
	}
}

func parseEventFilters(r *http.Request) (domain.DriftEventFilters, error) {
	q := r.URL.Query()
	var filters domain.DriftEventFilters

	if v := strings.TrimSpace(q.Get("drift_type")); v != "" {
		dt, ok := domain.ParseDriftType(v)
		if !ok {
			return filters, errors.Join(domain.ErrValidation, errors.New("invalid drift_type"))
		}
		filters.DriftType = &dt
	}
	if v := strings.TrimSpace(q.Get("severity")); v != "" {
		sev := domain.Severity(v)
		switch sev {
		case domain.SeverityNone, domain.SeverityWeak, domain.SeverityModerate, domain.SeverityStrong:
			filters.Severity = &sev
		default:
			return filters, errors.Join(domain.ErrValidation, errors.New("invalid severity"))
		}
	}
	if v := strings.TrimSpace(q.Get("start_date")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filters, errors.Join(domain.ErrValidation, errors.New("invalid start_date"))
		}
		filters.Start = &t
	}
	if v := strings.TrimSpace(q.Get("end_date")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filters, errors.Join(domain.ErrValidation, errors.New("invalid end_date"))
		}
		filters.End = &t
	}
	return filters, nil
}

func parsePagination(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	limit = 100
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			return 0, 0, errors.Join(domain.ErrValidation, errors.New("invalid limit"))
		}
	}
	if limit > 500 {
		return 0, 0, errors.Join(domain.ErrValidation, errors.New("limit must be <= 500"))
	}
	offset = 0
	if v := strings.TrimSpace(q.Get("offset")); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, errors.Join(domain.ErrValidation, errors.New("invalid offset"))
		}
	}
	return limit, offset, nil
}
