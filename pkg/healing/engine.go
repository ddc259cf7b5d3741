package healing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/autoqa/autoqa/pkg/config"
	"github.com/autoqa/autoqa/pkg/events"
	"github.com/autoqa/autoqa/pkg/ids"
	"github.com/autoqa/autoqa/pkg/metrics"
	"github.com/autoqa/autoqa/pkg/models"
	"github.com/autoqa/autoqa/pkg/notify"
)

// Engine runs the ordered healing strategies for broken locators. One engine
// serves one user: every notification it emits references that user.
type Engine struct {
	cfg        *config.HealingConfig
	strategies []Strategy
	notifier   *notify.Notifier
	publisher  *events.Publisher
	userID     string
	logger     *slog.Logger

	mu         sync.Mutex
	lastTS     time.Time
	attemptLog []models.HealingAttempt
}

// NewEngine creates an engine with an explicit strategy list. Use
// BuildStrategies to resolve the configured names.
func NewEngine(cfg *config.HealingConfig, strategies []Strategy, notifier *notify.Notifier, publisher *events.Publisher, userID string) *Engine {
	return &Engine{
		cfg:        cfg,
		strategies: strategies,
		notifier:   notifier,
		publisher:  publisher,
		userID:     userID,
		logger:     slog.With("component", "healing_engine", "user_id", userID),
	}
}

// Heal tries each strategy in order, up to the configured attempt budget,
// until one produces a candidate at or above the confidence threshold. Every
// attempt is appended to the attempt log before the next strategy starts.
// The returned event is also published and turned into exactly one user
// notification.
func (e *Engine) Heal(ctx context.Context, hctx *models.HealingContext) (*models.HealingEvent, error) {
	started := time.Now()
	var attempts []models.HealingAttempt
	var winner *Candidate
	var winnerStrategy string

	for _, strategy := range e.strategies {
		if len(attempts) >= e.cfg.MaxAttempts {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, e.internalError(ctx, hctx, attempts, fmt.Errorf("healing aborted: %w", err))
		}

		attemptStart := time.Now()
		candidate, err := e.runStrategy(ctx, strategy, hctx)
		if pe, ok := err.(*panicError); ok {
			return nil, e.internalError(ctx, hctx, attempts, pe)
		}

		attempt := models.HealingAttempt{
			Strategy:        strategy.Name(),
			Success:         err == nil,
			ExecutionTimeMs: time.Since(attemptStart).Milliseconds(),
		}
		if err != nil {
			attempt.Error = err.Error()
			metrics.HealingAttempts.WithLabelValues(strategy.Name(), "failure").Inc()
		} else {
			attempt.Selector = candidate.Selector
			attempt.Confidence = candidate.Confidence
			metrics.HealingAttempts.WithLabelValues(strategy.Name(), "success").Inc()
		}

		// The attempt reaches the log before the next strategy begins.
		attempts = append(attempts, attempt)
		e.appendToLog(attempt)

		if err == nil && candidate.Confidence >= e.cfg.ConfidenceThreshold {
			winner = candidate
			winnerStrategy = strategy.Name()
			break
		}
	}

	event := &models.HealingEvent{
		ID:          ids.NewID(),
		ExecutionID: hctx.ExecutionID,
		OldSelector: hctx.OriginalSelector,
		Success:     winner != nil,
		Attempts:    attempts,
		Timestamp:   e.nextTimestamp(),
	}
	if winner != nil {
		event.NewSelector = winner.Selector
		event.Strategy = winnerStrategy
		event.Confidence = winner.Confidence
	}

	e.emit(ctx, event, started)
	return event, nil
}

// AttemptLog returns a snapshot of every attempt this engine has made.
func (e *Engine) AttemptLog() []models.HealingAttempt {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.HealingAttempt, len(e.attemptLog))
	copy(out, e.attemptLog)
	return out
}

type panicError struct {
	strategy string
	value    any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("strategy %s panicked: %v", e.strategy, e.value)
}

func (e *Engine) runStrategy(ctx context.Context, s Strategy, hctx *models.HealingContext) (c *Candidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, &panicError{strategy: s.Name(), value: r}
		}
	}()
	return s.Heal(ctx, hctx)
}

func (e *Engine) appendToLog(attempt models.HealingAttempt) {
	e.mu.Lock()
	e.attemptLog = append(e.attemptLog, attempt)
	e.mu.Unlock()
}

// nextTimestamp returns a wall-clock timestamp strictly after any timestamp
// previously issued by this engine.
func (e *Engine) nextTimestamp() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	if !now.After(e.lastTS) {
		now = e.lastTS.Add(time.Nanosecond)
	}
	e.lastTS = now
	return now
}

// emit publishes the healing event and produces its one notification.
func (e *Engine) emit(ctx context.Context, event *models.HealingEvent, started time.Time) {
	if err := e.publisher.PublishHealingEvent(events.HealingEventPayload{
		EventID:       event.ID,
		ExecutionID:   event.ExecutionID,
		OldSelector:   event.OldSelector,
		NewSelector:   event.NewSelector,
		Strategy:      event.Strategy,
		Success:       event.Success,
		Confidence:    event.Confidence,
		AttemptsCount: len(event.Attempts),
		Timestamp:     event.Timestamp.Format(time.RFC3339Nano),
	}); err != nil {
		e.logger.Warn("Failed to publish healing event", "event_id", event.ID, "error", err)
	}

	if event.Success {
		e.logger.Info("Locator healed",
			"execution_id", event.ExecutionID,
			"old_selector", event.OldSelector,
			"new_selector", event.NewSelector,
			"strategy", event.Strategy,
			"confidence", event.Confidence)
		e.notifier.Notify(ctx, &models.Notification{
			UserID:  e.userID,
			Kind:    models.NotifyHealingEvent,
			Title:   "Self-Healing Success",
			Message: fmt.Sprintf("Replaced %q with %q via %s", event.OldSelector, event.NewSelector, event.Strategy),
			Metadata: map[string]any{
				"oldSelector":   event.OldSelector,
				"newSelector":   event.NewSelector,
				"strategy":      event.Strategy,
				"confidence":    event.Confidence,
				"attemptsCount": len(event.Attempts),
			},
		})
		return
	}

	tried := make([]string, 0, len(event.Attempts))
	for _, a := range event.Attempts {
		tried = append(tried, a.Strategy)
	}
	e.logger.Warn("Healing failed",
		"execution_id", event.ExecutionID,
		"old_selector", event.OldSelector,
		"strategies_tried", tried)
	e.notifier.Notify(ctx, &models.Notification{
		UserID:  e.userID,
		Kind:    models.NotifyHealingEvent,
		Title:   "Self-Healing Failed",
		Message: fmt.Sprintf("No strategy recovered %q", event.OldSelector),
		Metadata: map[string]any{
			"strategiesTried":    tried,
			"attemptsCount":      len(event.Attempts),
			"totalExecutionTime": time.Since(started).String(),
		},
	})
}

// internalError handles failures that are not a strategy's declared outcome:
// a system alert is raised and the error propagates to the caller.
func (e *Engine) internalError(ctx context.Context, hctx *models.HealingContext, attempts []models.HealingAttempt, err error) error {
	e.logger.Error("Healing engine internal error",
		"execution_id", hctx.ExecutionID,
		"original_selector", hctx.OriginalSelector,
		"attempts_so_far", len(attempts),
		"error", err)
	e.notifier.Notify(ctx, &models.Notification{
		UserID:  e.userID,
		Kind:    models.NotifySystemAlert,
		Title:   "Healing Engine Error",
		Message: err.Error(),
		Metadata: map[string]any{
			"executionId":      hctx.ExecutionID,
			"originalSelector": hctx.OriginalSelector,
		},
	})
	return err
}
