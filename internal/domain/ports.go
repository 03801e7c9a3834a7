package domain

import "time"

// Clock abstracts wall-clock time so the cooldown gate, scheduler, and
// snapshot windows are test-injectable (§2 Clock component).
type Clock interface {
	Now() time.Time
}

// BehaviorFilter narrows ListInWindow. IncludeSuperseded selects the
// reference-window relevance rule of §4.2: false keeps only active
// behaviors (current window); true keeps everything in range (reference
// window), preserving historical reinforcement past supersession.
type BehaviorFilter struct {
	Start             time.Time
	End               time.Time
	IncludeSuperseded bool
}

// BehaviorPatch is a partial update applied by Update; nil fields are left
// unchanged.
type BehaviorPatch struct {
	Target             *string
	Intent             *Intent
	Context            *string
	Polarity           *Polarity
	Credibility        *float64
	ReinforcementCount *int
	State              *BehaviorState
	LastSeenAt         *time.Time
}

// BehaviorRepository is the typed CRUD port over the behaviors table
// (§4.1).
type BehaviorRepository interface {
	Upsert(ctx Context, b Behavior) error
	Get(ctx Context, userID, behaviorID string) (Behavior, error)
	Update(ctx Context, userID, behaviorID string, patch BehaviorPatch) error
	ListActive(ctx Context, userID string) ([]Behavior, error)
	ListInWindow(ctx Context, userID string, filter BehaviorFilter) ([]Behavior, error)
	CountActive(ctx Context, userID string) (int, error)
	EarliestCreatedAt(ctx Context, userID string) (*time.Time, error)
	ListByTarget(ctx Context, userID, target string) ([]Behavior, error)
	CountAll(ctx Context) (int64, error)
}

// ConflictRepository is the typed CRUD port over the conflicts table.
type ConflictRepository interface {
	Insert(ctx Context, c Conflict) error
	ListInWindow(ctx Context, userID string, start, end time.Time) ([]Conflict, error)
	ListPolarityReversalsInWindow(ctx Context, userID string, start, end time.Time) ([]Conflict, error)
	ListTargetMigrationsInWindow(ctx Context, userID string, start, end time.Time) ([]Conflict, error)
	CountAll(ctx Context) (int64, error)
}

// DriftEventFilters narrows ListByUser per the HTTP surface of §6.
type DriftEventFilters struct {
	DriftType *DriftType
	Severity  *Severity
	Start     *time.Time
	End       *time.Time
}

// DriftEventRepository is the typed CRUD port over the drift_events table.
type DriftEventRepository interface {
	Insert(ctx Context, e DriftEvent) (string, error)
	Get(ctx Context, id string) (DriftEvent, error)
	ListByUser(ctx Context, userID string, filters DriftEventFilters, limit, offset int) ([]DriftEvent, error)
	LatestDetectedAt(ctx Context, userID string) (*time.Time, error)
	SetAcknowledged(ctx Context, id string, ts time.Time) error
	CountAll(ctx Context) (int64, error)
}

// ScannableUsers groups user ids by activity tier for the scheduler
// (§4.14).
type ScannableUsers struct {
	Active   []string
	Moderate []string
}

// ScanJobRepository is the typed CRUD port over the scan_jobs table.
type ScanJobRepository interface {
	Enqueue(ctx Context, userID, triggerEvent string, priority ScanJobPriority) (string, error)
	ClaimNextPending(ctx Context, limit int) ([]ScanJob, error)
	Get(ctx Context, jobID string) (ScanJob, error)
	UpdateStatus(ctx Context, jobID string, status ScanJobStatus, errMsg string) error
	HasNonTerminal(ctx Context, userID string) (bool, error)
	LastCompletedAt(ctx Context, userID string) (*time.Time, error)
	ClassifyScannable(ctx Context, activeSince, moderateSince time.Time) (ScannableUsers, error)
	ListStuckRunning(ctx Context, startedBefore time.Time) ([]ScanJob, error)
	CountByStatus(ctx Context, status ScanJobStatus) (int64, error)
	ListRecent(ctx Context, status *ScanJobStatus, limit, offset int) ([]ScanJob, error)
}

// InboundEvent is one parsed entry off the behavior events stream (§6).
// Fields holds the flattened or JSON-decoded payload; unknown keys pass
// through untyped per §9 "dynamic payloads".
type InboundEvent struct {
	ID        string
	EventType string
	Fields    map[string]any
}

// OutboundPublisher publishes materialized drift events to the outbound
// stream (§4.10, §6).
type OutboundPublisher interface {
	PublishDriftEvent(ctx Context, e DriftEvent) error
}
