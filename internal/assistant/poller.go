package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// StatusGetter reads the current state of a run.
type StatusGetter interface {
	RunStatus(ctx context.Context, conversationID, runID string) (Run, error)
}

// RunCanceler is optionally implemented by a StatusGetter so a timed-out run
// stops holding its conversation.
type RunCanceler interface {
	CancelRun(ctx context.Context, conversationID, runID string) error
}

const cancelTimeout = 10 * time.Second

// Poller waits for runs to reach a terminal state at a fixed interval.
type Poller struct {
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	wait     func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a poller. A non-positive timeout disables the wait budget.
func NewPoller(log *slog.Logger, interval, timeout time.Duration) *Poller {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{
		logger:   log.With(slog.String("component", "poller")),
		interval: interval,
		timeout:  timeout,
		wait:     sleepContext,
	}
}

// AwaitCompletion polls run until it completes. Failure states return a
// *RunError and an exhausted budget returns ErrPollTimeout.
func (p *Poller) AwaitCompletion(ctx context.Context, getter StatusGetter, run Run) (Run, error) {
	if getter == nil {
		return Run{}, fmt.Errorf("status getter is required")
	}
	pollCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	started := time.Now()
	last := run
	for polls := 1; ; polls++ {
		current, err := getter.RunStatus(pollCtx, run.ConversationID, run.ID)
		if err != nil {
			if p.budgetExhausted(ctx, pollCtx) {
				return last, p.timedOut(ctx, getter, last, polls)
			}
			return last, fmt.Errorf("get run status: %w", err)
		}
		last = current
		p.logger.Debug("run polled",
			slog.String("run_id", run.ID),
			slog.String("status", string(current.Status)),
			slog.Int("poll", polls),
		)

		switch current.Status {
		case RunStatusCompleted:
			p.logger.Info("run completed",
				slog.String("run_id", run.ID),
				slog.Int("polls", polls),
				slog.Duration("elapsed", time.Since(started)),
			)
			return current, nil
		case RunStatusFailed, RunStatusCancelled, RunStatusExpired, RunStatusIncomplete, RunStatusRequiresAction:
			// Runs needing tool outputs are not served; treat them as failed.
			return current, &RunError{
				RunID:   current.ID,
				Status:  current.Status,
				Code:    current.ErrorCode,
				Message: current.ErrorMessage,
			}
		}

		if err := p.wait(pollCtx, p.interval); err != nil {
			if p.budgetExhausted(ctx, pollCtx) {
				return last, p.timedOut(ctx, getter, last, polls)
			}
			return last, err
		}
	}
}

func (p *Poller) budgetExhausted(parent, pollCtx context.Context) bool {
	return parent.Err() == nil && errors.Is(pollCtx.Err(), context.DeadlineExceeded)
}

func (p *Poller) timedOut(parent context.Context, getter StatusGetter, last Run, polls int) error {
	p.logger.Warn("run wait budget exhausted",
		slog.String("run_id", last.ID),
		slog.String("status", string(last.Status)),
		slog.Int("polls", polls),
		slog.Duration("timeout", p.timeout),
	)
	if canceler, ok := getter.(RunCanceler); ok && last.ID != "" {
		cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(parent), cancelTimeout)
		defer cancel()
		if err := canceler.CancelRun(cancelCtx, last.ConversationID, last.ID); err != nil {
			p.logger.Warn("cancel timed out run failed", slog.String("run_id", last.ID), slog.Any("error", err))
		}
	}
	return fmt.Errorf("%w: last status %s after %s", ErrPollTimeout, last.Status, p.timeout)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
