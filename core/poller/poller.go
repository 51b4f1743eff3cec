package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"mediaGen/core/apperr"
	"mediaGen/core/engine"
	"mediaGen/core/metrics"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultMaxAttempts = 60
)

var errNotDone = errors.New("operation not done")

// Poller submits long-running generation work and observes its completion.
// It never cancels remote work: stopping the poll loop is the only form of
// cancellation.
type Poller struct {
	engine engine.Engine
	logger *zap.Logger
}

func New(e engine.Engine, logger *zap.Logger) *Poller {
	return &Poller{engine: e, logger: logger}
}

// Submit issues the request once. Failures are returned as-is.
func (p *Poller) Submit(ctx context.Context, modelID string, req engine.Request) (*engine.OperationHandle, error) {
	res, err := p.engine.Invoke(ctx, modelID, req)
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", modelID, err)
	}
	if res == nil || res.Operation == nil {
		return nil, fmt.Errorf("submit %s: engine returned no operation handle", modelID)
	}
	return res.Operation, nil
}

// Poll performs a single check of the operation.
func (p *Poller) Poll(ctx context.Context, handle engine.OperationHandle) (*engine.OperationStatus, error) {
	st, err := p.engine.CheckOperation(ctx, handle)
	if err != nil {
		metrics.PollAttempts.WithLabelValues("error").Inc()
		return nil, err
	}
	if st == nil {
		metrics.PollAttempts.WithLabelValues("error").Inc()
		return nil, errors.New("engine returned empty operation status")
	}
	if st.Done {
		metrics.PollAttempts.WithLabelValues("done").Inc()
	} else {
		metrics.PollAttempts.WithLabelValues("pending").Inc()
	}
	return st, nil
}

// AwaitCompletion polls at a fixed interval for at most maxAttempts checks.
// Transport failures and not-yet-done answers draw from the same budget. The
// returned status is terminal; an error result is reported through
// status.Err, not through the returned error. When the budget runs out the
// error is *apperr.PollTimeoutError.
func (p *Poller) AwaitCompletion(ctx context.Context, handle engine.OperationHandle, interval time.Duration, maxAttempts int) (*engine.OperationStatus, error) {
	if interval <= 0 {
		return nil, apperr.Validation("interval", "must be positive")
	}
	if maxAttempts < 1 {
		return nil, apperr.Validation("max_attempts", "must be at least 1")
	}

	var (
		attempts int
		final    *engine.OperationStatus
		lastErr  error
		started  = time.Now()
	)
	backoff := retry.WithMaxRetries(uint64(maxAttempts-1), retry.NewConstant(interval))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		st, err := p.Poll(ctx, handle)
		if err != nil {
			lastErr = err
			p.logger.Warn("Operation check failed",
				zap.String("operation", handle.Name),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
			return retry.RetryableError(err)
		}
		if !st.Done {
			return retry.RetryableError(errNotDone)
		}
		final = st
		return nil
	})

	switch {
	case err == nil:
		p.logger.Info("Operation finished",
			zap.String("operation", handle.Name),
			zap.Int("attempts", attempts),
			zap.Bool("failed", final.Err != nil),
		)
		return final, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	}

	if errors.Is(err, errNotDone) {
		lastErr = nil
	}
	p.logger.Warn("Operation polling budget exhausted",
		zap.String("operation", handle.Name),
		zap.Int("attempts", attempts),
	)
	return nil, &apperr.PollTimeoutError{
		Operation: handle.Name,
		Attempts:  attempts,
		Elapsed:   time.Since(started),
		LastErr:   lastErr,
	}
}
