package slack

import (
	"context"
	"log/slog"
	"time"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// ExecutionCompletedInput contains data for a terminal execution notification.
type ExecutionCompletedInput struct {
	ExecutionID  string
	TestID       string
	Status       string // completed, failed, timed_out, cancelled
	ErrorMessage string
}

// Service handles Slack notification delivery.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a new Slack notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NotifyExecutionCompleted sends a terminal status notification.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyExecutionCompleted(ctx context.Context, input ExecutionCompletedInput) {
	if s == nil {
		return
	}

	blocks := BuildTerminalMessage(input, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, 10*time.Second); err != nil {
		s.logger.Error("Failed to send Slack notification",
			"execution_id", input.ExecutionID,
			"status", input.Status,
			"error", err)
	}
}

// NotifySystemAlert sends a system alert to the operations channel.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifySystemAlert(ctx context.Context, title, message string) {
	if s == nil {
		return
	}

	blocks := BuildSystemAlertMessage(title, message)
	if err := s.client.PostMessage(ctx, blocks, 5*time.Second); err != nil {
		s.logger.Error("Failed to send Slack system alert",
			"title", title,
			"error", err)
	}
}
