package redisstream

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/drift-detection-service/internal/domain"
)

// DeadLetterReaper moves chronically pending stream entries to a DLQ
// stream (§4.15).
type DeadLetterReaper struct {
	Client       *redis.Client
	Stream       string
	Group        string
	ConsumerName string
	DLQStream    string
	DLQMaxLen    int64

	IdleThreshold      time.Duration
	MaxDeliveryAttempts int64
}

// NewDeadLetterReaper constructs a DeadLetterReaper. The DLQ stream name is
// the inbound stream's name with suffix ".deadletter" unless overridden.
func NewDeadLetterReaper(client *redis.Client, stream, group, consumerName string, idleThreshold time.Duration, maxDeliveryAttempts, dlqMaxLen int64) *DeadLetterReaper {
	return &DeadLetterReaper{
		Client:              client,
		Stream:              stream,
		Group:               group,
		ConsumerName:        consumerName,
		DLQStream:           stream + ".deadletter",
		DLQMaxLen:           dlqMaxLen,
		IdleThreshold:       idleThreshold,
		MaxDeliveryAttempts: maxDeliveryAttempts,
	}
}

// ReapOnce inspects the pending-entries list once and dead-letters every
// entry that has both idled past IdleThreshold and been redelivered at
// least MaxDeliveryAttempts times.
func (r *DeadLetterReaper) ReapOnce(ctx domain.Context) (int, error) {
	tracer := otel.Tracer("stream.dead_letter_reaper")
	ctx, span := tracer.Start(ctx, "DeadLetterReaper.ReapOnce")
	defer span.End()
	span.SetAttributes(attribute.String("stream.name", r.Stream))

	pending, err := r.Client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: r.Stream,
		Group:  r.Group,
		Start:  "-",
		End:    "+",
		Count:  1000,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("op=dead_letter_reaper.reap_once.xpending: %w", err)
	}

	reaped := 0
	for _, p := range pending {
		idleMS := p.Idle.Milliseconds()
		if time.Duration(idleMS)*time.Millisecond < r.IdleThreshold {
			continue
		}
		if p.RetryCount < r.MaxDeliveryAttempts {
			continue
		}

		claimed, err := r.Client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   r.Stream,
			Group:    r.Group,
			Consumer: r.ConsumerName,
			MinIdle:  r.IdleThreshold,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			slog.Error("dead letter reaper failed to claim entry", slog.String("entry_id", p.ID), slog.Any("error", err))
			continue
		}

		for _, msg := range claimed {
			if err := r.deadLetter(ctx, msg, idleMS, p.RetryCount); err != nil {
				slog.Error("dead letter reaper failed to write DLQ entry", slog.String("entry_id", msg.ID), slog.Any("error", err))
				continue
			}
			if err := r.Client.XAck(ctx, r.Stream, r.Group, msg.ID).Err(); err != nil {
				slog.Error("dead letter reaper failed to ack original entry", slog.String("entry_id", msg.ID), slog.Any("error", err))
				continue
			}
			reaped++
		}
	}
	return reaped, nil
}

func (r *DeadLetterReaper) deadLetter(ctx domain.Context, msg redis.XMessage, idleMS int64, deliveryCount int64) error {
	values := make(map[string]any, len(msg.Values)+4)
	for k, v := range msg.Values {
		values[k] = v
	}
	values["failed_at"] = time.Now().UTC().Unix()
	values["delivery_attempts"] = deliveryCount
	values["idle_time_ms"] = idleMS
	values["original_stream"] = r.Stream

	return r.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.DLQStream,
		MaxLen: r.DLQMaxLen,
		Approx: true,
		Values: values,
	}).Err()
}

// DeadLetterEntry is one message pulled off the dead-letter stream for
// operator inspection (§10, cf. dead_letter.py inspect_dead_letters).
type DeadLetterEntry struct {
	MessageID string         `json:"message_id"`
	Data      map[string]any `json:"data"`
}

// Count returns the number of entries currently on the dead-letter stream.
// A stream that has never been written to does not exist yet in Redis, so
// that case is reported as zero rather than an error (cf. dead_letter.py
// get_dead_letter_count).
func (r *DeadLetterReaper) Count(ctx domain.Context) (int64, error) {
	info, err := r.Client.XInfoStream(ctx, r.DLQStream).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || isNoSuchKey(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("op=dead_letter_reaper.count.xinfo: %w", err)
	}
	return info.Length, nil
}

// Inspect returns up to limit of the most recently dead-lettered entries,
// newest first, for operator debugging (§10, cf. dead_letter.py
// inspect_dead_letters).
func (r *DeadLetterReaper) Inspect(ctx domain.Context, limit int64) ([]DeadLetterEntry, error) {
	msgs, err := r.Client.XRevRangeN(ctx, r.DLQStream, "+", "-", limit).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || isNoSuchKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("op=dead_letter_reaper.inspect.xrevrange: %w", err)
	}
	out := make([]DeadLetterEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, DeadLetterEntry{MessageID: m.ID, Data: m.Values})
	}
	return out, nil
}

func isNoSuchKey(err error) bool {
	return strings.Contains(err.Error(), "no such key")
}

// RunPeriodic runs ReapOnce on a ticker until ctx is cancelled.
func (r *DeadLetterReaper) RunPeriodic(ctx domain.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("dead letter reaper stopping")
			return
		case <-ticker.C:
			n, err := r.ReapOnce(ctx)
			if err != nil {
				slog.Error("dead letter reap failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				slog.Info("dead letter reaper moved entries to DLQ", slog.Int("count", n), slog.String("dlq_stream", r.DLQStream))
			}
		}
	}
}
