package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cuemby/nodeforge/pkg/log"
	"github.com/cuemby/nodeforge/pkg/queue"
	"github.com/cuemby/nodeforge/pkg/types"
)

// Engine is the subset of *engine.Engine the consumer drives. A fake
// satisfying this is enough to test retry/DLQ routing without a real
// sandbox backend.
type Engine interface {
	Execute(ctx context.Context, req types.ExecutionRequest) types.ExecutionResult
}

// Config tunes the consumer's concurrency and retry/drain behavior.
type Config struct {
	// Concurrency bounds how many executions run at once (runner_concurrency).
	Concurrency int
	// MaxRetries is the total number of delivery attempts allowed before a
	// retryable failure is routed to the dead letter destination instead of
	// requeued.
	MaxRetries int
	// DrainTimeout bounds how long Stop waits for in-flight executions to
	// finish before returning anyway.
	DrainTimeout time.Duration
}

// DefaultConfig mirrors the runner's documented environment defaults.
func DefaultConfig() Config {
	return Config{Concurrency: 10, MaxRetries: 3, DrainTimeout: 30 * time.Second}
}

// Consumer pulls ExecutionRequests off a queue.Queue and drives them
// through an Engine with bounded concurrency, routing each terminal result
// back to the queue per the reply/requeue/dead-letter contract.
type Consumer struct {
	queue  queue.Queue
	engine Engine
	cfg    Config

	sem    chan struct{}
	wg     sync.WaitGroup
	stopCh chan struct{}
	once   sync.Once
}

// New builds a Consumer. cfg.Concurrency and cfg.MaxRetries are clamped to
// at least 1 if given as zero.
func New(q queue.Queue, eng Engine, cfg Config) *Consumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	return &Consumer{
		queue:  q,
		engine: eng,
		cfg:    cfg,
		sem:    make(chan struct{}, cfg.Concurrency),
		stopCh: make(chan struct{}),
	}
}

// Run blocks, receiving messages and dispatching each to its own goroutine
// bounded by cfg.Concurrency, until ctx is cancelled or Stop is called.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		select {
		case <-c.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := c.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			log.Errorf("receive failed: %v", err)
			continue
		}

		select {
		case c.sem <- struct{}{}:
		case <-c.stopCh:
			if nackErr := c.queue.Nack(ctx, msg, true, "consumer stopping"); nackErr != nil {
				log.Errorf("failed to requeue message on shutdown: %v", nackErr)
			}
			return nil
		}

		c.wg.Add(1)
		go func(m queue.Message) {
			defer c.wg.Done()
			defer func() { <-c.sem }()
			c.process(ctx, m)
		}(msg)
	}
}

// Stop signals Run to stop accepting new messages and waits for in-flight
// executions to finish, up to cfg.DrainTimeout.
func (c *Consumer) Stop() {
	c.once.Do(func() { close(c.stopCh) })

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(c.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		log.Warn("drain deadline exceeded with executions still in flight")
	}
}

func (c *Consumer) process(ctx context.Context, msg queue.Message) {
	var req types.ExecutionRequest
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		if nackErr := c.queue.Nack(ctx, msg, false, "malformed message: "+err.Error()); nackErr != nil {
			log.Errorf("failed to dead-letter malformed message: %v", nackErr)
		}
		return
	}

	req.RetryCount = msg.RetryCount
	finalAttempt := msg.RetryCount+1 >= c.cfg.MaxRetries
	req.RuntimeConfig.FinalAttempt = finalAttempt

	result := c.engine.Execute(ctx, req)

	if result.Success {
		c.reply(ctx, req, result)
		if err := c.queue.Ack(ctx, msg); err != nil {
			log.Errorf("ack failed for execution %s: %v", req.ExecutionID, err)
		}
		return
	}

	if result.Retryable && !finalAttempt {
		next := msg
		next.RetryCount = msg.RetryCount + 1
		req.RetryCount = next.RetryCount
		body, err := json.Marshal(req)
		if err != nil {
			log.Errorf("failed to re-marshal request %s for retry: %v", req.ExecutionID, err)
			body = msg.Body
		}
		next.Body = body
		if err := c.queue.Nack(ctx, next, true, result.ErrorMessage); err != nil {
			log.Errorf("requeue failed for execution %s: %v", req.ExecutionID, err)
		}
		return
	}

	c.reply(ctx, req, result)
	if err := c.queue.Nack(ctx, msg, false, result.ErrorMessage); err != nil {
		log.Errorf("dead-letter failed for execution %s: %v", req.ExecutionID, err)
	}
}

func (c *Consumer) reply(ctx context.Context, req types.ExecutionRequest, result types.ExecutionResult) {
	if req.ReplyTo == "" {
		return
	}
	body, err := json.Marshal(result)
	if err != nil {
		log.Errorf("failed to marshal result for %s: %v", req.ExecutionID, err)
		return
	}
	if err := c.queue.Publish(ctx, req.ReplyTo, body); err != nil {
		log.Errorf("failed to publish reply for %s: %v", req.ExecutionID, err)
	}
}
