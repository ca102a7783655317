// Package consumer reads request envelopes from the Redis stream and hands
// them to a fixed-size worker pool for dispatch. Delivery is at-least-once:
// entries are acknowledged only after the dispatcher has produced a response,
// and the handlers' duplicate-hash checks absorb replays.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/norsh/blockchain/business/queue/dispatch"
	"github.com/norsh/blockchain/business/sys/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// payloadField is the stream entry field that carries the envelope JSON.
const payloadField = "payload"

// Config is the required properties to construct a consumer.
type Config struct {
	Log          *zap.SugaredLogger
	Client       *redis.Client
	Dispatcher   *dispatch.Dispatcher
	Stream       string
	Group        string
	Pool         int           // worker pool size
	DrainTimeout time.Duration // grace period for in-flight workers on shutdown
}

// Consumer pulls envelopes from the request stream.
type Consumer struct {
	log          *zap.SugaredLogger
	client       *redis.Client
	dispatcher   *dispatch.Dispatcher
	stream       string
	group        string
	name         string
	pool         int
	drainTimeout time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a consumer from the configuration.
func New(cfg Config) *Consumer {
	pool := cfg.Pool
	if pool < 1 {
		pool = 1
	}

	return &Consumer{
		log:          cfg.Log,
		client:       cfg.Client,
		dispatcher:   cfg.Dispatcher,
		stream:       cfg.Stream,
		group:        cfg.Group,
		name:         "worker-" + uuid.NewString(),
		pool:         pool,
		drainTimeout: cfg.DrainTimeout,
		done:         make(chan struct{}),
	}
}

// Start creates the consumer group when missing and launches the poll loop
// plus the worker pool. It returns immediately; use Shutdown to stop.
func (c *Consumer) Start(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}

	// Workers finish their in-flight envelope during shutdown, so they run
	// on a context that survives the poll loop's cancellation.
	workCtx := context.WithoutCancel(ctx)

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	work := make(chan redis.XMessage)

	var wg sync.WaitGroup
	for range c.pool {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range work {
				c.handle(workCtx, msg)
			}
		}()
	}

	go func() {
		defer close(c.done)
		defer func() {
			close(work)
			wg.Wait()
		}()

		c.log.Infow("consumer started", "stream", c.stream, "group", c.group, "pool", c.pool)

		for {
			if ctx.Err() != nil {
				return
			}

			streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    c.group,
				Consumer: c.name,
				Streams:  []string{c.stream, ">"},
				Count:    int64(c.pool),
				Block:    100 * time.Millisecond,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
					continue
				}
				c.log.Errorw("stream read failed", "ERROR", err)
				continue
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					select {
					case work <- msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return nil
}

// handle dispatches one stream entry and acknowledges it. Malformed entries
// are acknowledged as well: redelivery cannot repair them.
func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) {
	metrics.EnvelopesConsumed.Inc()

	defer func() {
		if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil && ctx.Err() == nil {
			c.log.Errorw("ack failed", "entry", msg.ID, "ERROR", err)
		}
	}()

	payload, ok := msg.Values[payloadField].(string)
	if !ok {
		metrics.DispatchFailures.Inc()
		c.log.Warnw("stream entry without payload", "entry", msg.ID)
		return
	}

	var env dispatch.Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		metrics.DispatchFailures.Inc()
		c.log.Warnw("malformed envelope", "entry", msg.ID, "ERROR", err)
		return
	}

	c.dispatcher.Dispatch(ctx, env)
}

// Shutdown wakes the poll loop and waits up to the drain timeout for
// in-flight workers before giving up.
func (c *Consumer) Shutdown() {
	if c.cancel == nil {
		return
	}

	c.log.Infow("consumer shutting down")
	c.cancel()

	select {
	case <-c.done:
		c.log.Infow("consumer stopped")
	case <-time.After(c.drainTimeout):
		c.log.Warnw("consumer drain timeout; abandoning in-flight work")
	}
}
