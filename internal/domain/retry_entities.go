package domain

import (
	"errors"
	"time"
)

// RetryStatus represents the retry state of a scan job.
type RetryStatus string

const (
	RetryStatusNone      RetryStatus = "none"
	RetryStatusRetrying  RetryStatus = "retrying"
	RetryStatusExhausted RetryStatus = "exhausted"
)

// RetryConfig governs the Job Worker Pool's retry policy (§4.13): up to
// MaxRetries retries after the first attempt, exponential backoff with
// jitter, capped at MaxDelay.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultRetryConfig mirrors the Celery ScanTask retry policy this system
// is modeled on: 3 retries, exponential backoff capped at 10 minutes,
// jittered.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 5 * time.Second,
		MaxDelay:     10 * time.Minute,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// RetryInfo tracks retry attempts for a single scan job execution.
type RetryInfo struct {
	AttemptCount  int
	LastAttemptAt time.Time
	RetryStatus   RetryStatus
	LastError     string
	ErrorHistory  []string
}

// IsRetryable classifies an error kind for the worker pool's retry policy.
// Validation, not-found, insufficient-data, and cooldown are never retried: retrying
// them cannot change the outcome. Everything else — in particular
// ErrTransient and unclassified errors — is retried, matching the
// "skip and log, prefer best effort" propagation policy of §7.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInsufficientData),
		errors.Is(err, ErrCooldown):
		return false
	default:
		return true
	}
}

// ShouldRetry reports whether another attempt should be made.
func (ri *RetryInfo) ShouldRetry(err error, cfg RetryConfig) bool {
	if ri.AttemptCount >= cfg.MaxRetries {
		return false
	}
	if ri.RetryStatus == RetryStatusExhausted {
		return false
	}
	return IsRetryable(err)
}

// RecordAttempt appends the attempt's outcome to the retry history.
func (ri *RetryInfo) RecordAttempt(err error) {
	ri.AttemptCount++
	ri.LastAttemptAt = time.Now().UTC()
	if err != nil {
		ri.LastError = err.Error()
		ri.ErrorHistory = append(ri.ErrorHistory, err.Error())
		ri.RetryStatus = RetryStatusRetrying
	}
}

// MarkExhausted records that no further retries will be attempted.
func (ri *RetryInfo) MarkExhausted() { ri.RetryStatus = RetryStatusExhausted }
