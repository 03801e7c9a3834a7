// Package domain holds the core entities, value objects and repository
// ports for the drift detection service. It has no dependency on any
// adapter package: callers decouple from context.Context via the Context
// alias below so that the domain package stays import-clean.
package domain

import (
	"context"
	"errors"
	"time"
)

// Context is an alias for context.Context, kept so that domain signatures
// read naturally without importing "context" at every call site that only
// needs the domain package.
type Context = context.Context

// Sentinel errors describing the taxonomy of kinds (not types) that the
// rest of the system branches on. Wrap with fmt.Errorf("op=...: %w", err).
var (
	ErrValidation       = errors.New("validation failed")
	ErrInsufficientData = errors.New("insufficient data for drift detection")
	ErrCooldown         = errors.New("cooldown in effect")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrTransient        = errors.New("transient infrastructure failure")
	ErrInternal         = errors.New("internal error")
)

// Polarity is the sign of a behavior.
type Polarity string

const (
	PolarityPositive Polarity = "positive"
	PolarityNegative Polarity = "negative"
	PolarityNeutral  Polarity = "neutral"
)

// Intent classifies what kind of behavior was observed.
type Intent string

const (
	IntentPreference    Intent = "preference"
	IntentConstraint    Intent = "constraint"
	IntentHabit         Intent = "habit"
	IntentSkill         Intent = "skill"
	IntentCommunication Intent = "communication"
	IntentBelief        Intent = "belief"
	IntentGoal          Intent = "goal"
)

// BehaviorState is the lifecycle state of a Behavior. The only legal
// transition is active -> superseded.
type BehaviorState string

const (
	BehaviorActive     BehaviorState = "active"
	BehaviorSuperseded BehaviorState = "superseded"
)

// GeneralContext is the literal token with special meaning for the
// context-shift detector (§4.7): crossing its boundary is what makes a
// context change a signal rather than noise.
const GeneralContext = "general"

// Behavior is the authoritative local projection of a single upstream
// behavior record, keyed by (UserID, BehaviorID).
type Behavior struct {
	UserID             string
	BehaviorID         string
	Target             string
	Intent             Intent
	Context            string
	Polarity           Polarity
	Credibility        float64
	ReinforcementCount int
	State              BehaviorState
	CreatedAt          time.Time
	LastSeenAt         time.Time
	SnapshotUpdatedAt  time.Time
}

// Conflict records that two behaviors were found to disagree, as resolved
// upstream and replayed into this store by a behavior.conflict.resolved
// event.
type Conflict struct {
	UserID           string
	ConflictID       string
	BehaviorID1      string
	BehaviorID2      string
	ConflictType     string
	ResolutionStatus string
	OldPolarity      *Polarity
	NewPolarity      *Polarity
	OldTarget        *string
	NewTarget        *string
	CreatedAt        time.Time
}

// IsPolarityReversal is true iff both polarities are present and differ.
func (c Conflict) IsPolarityReversal() bool {
	return c.OldPolarity != nil && c.NewPolarity != nil && *c.OldPolarity != *c.NewPolarity
}

// IsTargetMigration is true iff both targets are present and differ.
func (c Conflict) IsTargetMigration() bool {
	return c.OldTarget != nil && c.NewTarget != nil && *c.OldTarget != *c.NewTarget
}

// DriftType enumerates the six kinds of drift this system can detect. The
// numeric order below is load-bearing: the aggregator's tie-break (§4.8,
// §9) is deterministic by this enum order, not by insertion order or
// object identity.
type DriftType int

const (
	DriftTopicEmergence DriftType = iota
	DriftTopicAbandonment
	DriftPreferenceReversal
	DriftIntensityShift
	DriftContextExpansion
	DriftContextContraction
)

// ParseDriftType maps the wire string form (as produced by String()) back
// to a DriftType, for HTTP query-filter parsing.
func ParseDriftType(s string) (DriftType, bool) {
	switch s {
	case "topic-emergence":
		return DriftTopicEmergence, true
	case "topic-abandonment":
		return DriftTopicAbandonment, true
	case "preference-reversal":
		return DriftPreferenceReversal, true
	case "intensity-shift":
		return DriftIntensityShift, true
	case "context-expansion":
		return DriftContextExpansion, true
	case "context-contraction":
		return DriftContextContraction, true
	default:
		return 0, false
	}
}

func (d DriftType) String() string {
	switch d {
	case DriftTopicEmergence:
		return "topic-emergence"
	case DriftTopicAbandonment:
		return "topic-abandonment"
	case DriftPreferenceReversal:
		return "preference-reversal"
	case DriftIntensityShift:
		return "intensity-shift"
	case DriftContextExpansion:
		return "context-expansion"
	case DriftContextContraction:
		return "context-contraction"
	default:
		return "unknown"
	}
}

// Severity is a coarse bucketing of a drift score, §3.1.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityWeak     Severity = "weak"
	SeverityModerate Severity = "moderate"
	SeverityStrong   Severity = "strong"
)

var severityRank = map[Severity]int{
	SeverityNone:     0,
	SeverityWeak:     1,
	SeverityModerate: 2,
	SeverityStrong:   3,
}

// Rank gives a total order over severities so callers can compare them
// without string matching; used by the aggregator's "weak and above" gate.
func (s Severity) Rank() int { return severityRank[s] }

// SeverityForScore implements the severity function of §3.1.
func SeverityForScore(score float64) Severity {
	switch {
	case score < 0.3:
		return SeverityNone
	case score < 0.6:
		return SeverityWeak
	case score < 0.8:
		return SeverityModerate
	default:
		return SeverityStrong
	}
}

// Evidence is a schemaless, write-mostly bag of detector-specific findings
// attached to a Signal/DriftEvent. Values are JSON-marshalable primitives,
// slices, or maps.
type Evidence map[string]any

// Signal is a detector's pre-threshold finding. Never persisted; the
// aggregator and orchestrator turn surviving signals into DriftEvents.
type Signal struct {
	DriftType       DriftType
	DriftScore      float64
	AffectedTargets []string
	Evidence        Evidence
	Confidence      float64
}

// Window is a closed time range [Start, End] used by both snapshots and events.
type Window struct {
	Start time.Time
	End   time.Time
}

// DriftEvent is a thresholded, aggregated, persisted Signal with window
// metadata, keyed by DriftEventID.
type DriftEvent struct {
	DriftEventID    string
	UserID          string
	DriftType       DriftType
	DriftScore      float64
	Confidence      float64
	Severity        Severity
	AffectedTargets []string
	Evidence        Evidence
	ReferenceWindow Window
	CurrentWindow   Window
	DetectedAt      time.Time
	AcknowledgedAt  *time.Time
	BehaviorRefIDs  []string
	ConflictRefIDs  []string
}

// FromSignal materializes a DriftEvent from an aggregated Signal. Callers
// supply the id themselves (repositories assign one on Insert if empty).
func FromSignal(sig Signal, userID string, ref, cur Window, detectedAt time.Time, behaviorRefIDs, conflictRefIDs []string) DriftEvent {
	return DriftEvent{
		UserID:          userID,
		DriftType:       sig.DriftType,
		DriftScore:      sig.DriftScore,
		Confidence:      sig.Confidence,
		Severity:        SeverityForScore(sig.DriftScore),
		AffectedTargets: sig.AffectedTargets,
		Evidence:        sig.Evidence,
		ReferenceWindow: ref,
		CurrentWindow:   cur,
		DetectedAt:      detectedAt,
		BehaviorRefIDs:  behaviorRefIDs,
		ConflictRefIDs:  conflictRefIDs,
	}
}

// ScanJobStatus is the lifecycle state of a ScanJob. Legal transitions:
// pending -> running -> (done|failed); pending -> skipped before claim.
type ScanJobStatus string

const (
	ScanPending ScanJobStatus = "pending"
	ScanRunning ScanJobStatus = "running"
	ScanDone    ScanJobStatus = "done"
	ScanFailed  ScanJobStatus = "failed"
	ScanSkipped ScanJobStatus = "skipped"
)

// ScanJobPriority orders ClaimNextPending's selection.
type ScanJobPriority string

const (
	PriorityHigh   ScanJobPriority = "high"
	PriorityNormal ScanJobPriority = "normal"
	PriorityLow    ScanJobPriority = "low"
)

// ScanJob is a unit of work for the Job Worker Pool, keyed by JobID.
type ScanJob struct {
	JobID        string
	UserID       string
	TriggerEvent string
	Status       ScanJobStatus
	Priority     ScanJobPriority
	ScheduledAt  time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage string
}
