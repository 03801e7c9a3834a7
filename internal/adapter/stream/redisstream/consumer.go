package redisstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/drift-detection-service/internal/domain"
)

// EventHandler is the contract the consumer dispatches parsed messages to.
// Kept minimal so this package does not need to import usecase.
type EventHandler interface {
	Handle(ctx domain.Context, evt domain.InboundEvent) error
}

// consumerState names the stream consumer's lifecycle state (§4.12).
type consumerState string

const (
	stateDisconnected consumerState = "disconnected"
	stateConnecting   consumerState = "connecting"
	stateRunning      consumerState = "running"
	stateStopping     consumerState = "stopping"
)

// Consumer drives a Redis Streams consumer-group read loop: connect, ensure
// the group exists, read, dispatch, ack (§4.12).
type Consumer struct {
	Client  *redis.Client
	Handler EventHandler

	Stream        string
	Group         string
	ConsumerName  string
	BlockTimeout  time.Duration
	BatchSize     int64
	MaxReconnects int
	MaxBackoff    time.Duration

	state consumerState
}

// NewConsumer constructs a Consumer.
func NewConsumer(client *redis.Client, handler EventHandler, stream, group, consumerName string, blockTimeout time.Duration, batchSize int64, maxReconnects int, maxBackoff time.Duration) *Consumer {
	return &Consumer{
		Client:        client,
		Handler:       handler,
		Stream:        stream,
		Group:         group,
		ConsumerName:  consumerName,
		BlockTimeout:  blockTimeout,
		BatchSize:     batchSize,
		MaxReconnects: maxReconnects,
		MaxBackoff:    maxBackoff,
		state:         stateDisconnected,
	}
}

// Run drives the consumer loop until ctx is cancelled, reconnecting on
// transient errors with exponential backoff, up to MaxReconnects attempts
// before giving up.
func (c *Consumer) Run(ctx domain.Context) error {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			c.state = stateStopping
			slog.Info("stream consumer stopping", slog.String("stream", c.Stream))
			return nil
		default:
		}

		c.state = stateConnecting
		if err := c.ensureGroup(ctx); err != nil {
			attempt++
			if attempt > c.MaxReconnects {
				return fmt.Errorf("op=consumer.run: %w: exceeded max reconnect attempts", err)
			}
			backoff := c.backoffFor(attempt)
			slog.Warn("stream consumer failed to connect; retrying",
				slog.String("stream", c.Stream), slog.Int("attempt", attempt), slog.Duration("backoff", backoff), slog.Any("error", err))
			if !c.sleepOrDone(ctx, backoff) {
				return nil
			}
			continue
		}

		attempt = 0
		c.state = stateRunning
		err := c.loop(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}
		attempt++
		if attempt > c.MaxReconnects {
			return fmt.Errorf("op=consumer.run.loop: %w: exceeded max reconnect attempts", err)
		}
		backoff := c.backoffFor(attempt)
		slog.Warn("stream consumer lost connection; reconnecting",
			slog.String("stream", c.Stream), slog.Int("attempt", attempt), slog.Duration("backoff", backoff), slog.Any("error", err))
		c.state = stateDisconnected
		if !c.sleepOrDone(ctx, backoff) {
			return nil
		}
	}
}

func (c *Consumer) sleepOrDone(ctx domain.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Consumer) backoffFor(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	if d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}

// ensureGroup creates the consumer group at the start of the stream,
// auto-creating the stream itself; a pre-existing group is not an error.
func (c *Consumer) ensureGroup(ctx domain.Context) error {
	err := c.Client.XGroupCreateMkStream(ctx, c.Stream, c.Group, "0").Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		if alreadyExists(err) {
			return nil
		}
		return fmt.Errorf("op=consumer.ensure_group: %w", err)
	}
	return nil
}

func alreadyExists(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// loop reads up to BatchSize new messages per iteration, blocking for
// BlockTimeout, and dispatches each to the handler, acking on success.
func (c *Consumer) loop(ctx domain.Context) error {
	tracer := otel.Tracer("stream.consumer")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := c.Client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.Group,
			Consumer: c.ConsumerName,
			Streams:  []string{c.Stream, ">"},
			Count:    c.BatchSize,
			Block:    c.BlockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				c.processOne(ctx, tracer, msg)
			}
		}
	}
}

func (c *Consumer) processOne(ctx domain.Context, tracer trace.Tracer, msg redis.XMessage) {
	spanCtx, span := tracer.Start(ctx, "Consumer.processOne")
	defer span.End()
	span.SetAttributes(attribute.String("stream.entry_id", msg.ID))

	raw := make(map[string]string, len(msg.Values))
	for k, v := range msg.Values {
		if s, ok := v.(string); ok {
			raw[k] = s
		}
	}
	evt := newInboundEventFromRaw(msg.ID, raw)

	if err := c.Handler.Handle(spanCtx, evt); err != nil {
		span.RecordError(err)
		slog.Error("event handler failed; leaving message pending for redelivery",
			slog.String("stream", c.Stream), slog.String("entry_id", msg.ID), slog.Any("error", err))
		return
	}

	if err := c.Client.XAck(spanCtx, c.Stream, c.Group, msg.ID).Err(); err != nil {
		slog.Error("failed to ack stream entry", slog.String("stream", c.Stream), slog.String("entry_id", msg.ID), slog.Any("error", err))
	}
}
