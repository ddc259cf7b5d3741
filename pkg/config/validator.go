package config

import (
	"fmt"

	"go.uber.org/multierr"
)

// Validate checks every section and returns all problems joined together,
// so a misconfigured deployment surfaces everything in one pass.
func Validate(cfg *Config) error {
	var errs error

	errs = multierr.Append(errs, validateServer(cfg.Server))
	errs = multierr.Append(errs, validateFlow(cfg.Flow))
	errs = multierr.Append(errs, validateBus(cfg.Bus))
	errs = multierr.Append(errs, validateContainer(cfg.Container))
	errs = multierr.Append(errs, validateHealing(cfg.Healing))
	errs = multierr.Append(errs, validateProviders(cfg.Providers))
	errs = multierr.Append(errs, validateCapture(cfg.Capture))
	errs = multierr.Append(errs, validateOrchestrator(cfg.Orchestrator))
	errs = multierr.Append(errs, validateRetention(cfg.Retention))

	return errs
}

func validateServer(c *ServerConfig) error {
	var errs error
	if c.Port < 1 || c.Port > 65535 {
		errs = multierr.Append(errs, NewValidationError("server", "port", fmt.Errorf("%w: %d", ErrInvalidValue, c.Port)))
	}
	if c.PongTimeout <= c.PingInterval {
		errs = multierr.Append(errs, NewValidationError("server", "pong_timeout",
			fmt.Errorf("%w: must exceed ping_interval", ErrInvalidValue)))
	}
	return errs
}

func validateFlow(c *FlowConfig) error {
	var errs error
	if c.MaxBufferSize < 1 {
		errs = multierr.Append(errs, NewValidationError("flow", "max_buffer_size", fmt.Errorf("%w: must be positive", ErrInvalidValue)))
	}
	if c.MaxMemoryUsage < 1 {
		errs = multierr.Append(errs, NewValidationError("flow", "max_memory_usage", fmt.Errorf("%w: must be positive", ErrInvalidValue)))
	}
	if c.HighWaterMark <= 0 || c.HighWaterMark > 1 {
		errs = multierr.Append(errs, NewValidationError("flow", "high_water_mark", fmt.Errorf("%w: must be in (0,1]", ErrInvalidValue)))
	}
	if c.LowWaterMark <= 0 || c.LowWaterMark >= c.HighWaterMark {
		errs = multierr.Append(errs, NewValidationError("flow", "low_water_mark",
			fmt.Errorf("%w: must be in (0, high_water_mark)", ErrInvalidValue)))
	}
	if c.ProcessingRate <= 0 {
		errs = multierr.Append(errs, NewValidationError("flow", "processing_rate", fmt.Errorf("%w: must be positive", ErrInvalidValue)))
	}
	if c.SlowConsumerThreshold <= 0 {
		errs = multierr.Append(errs, NewValidationError("flow", "slow_consumer_threshold", fmt.Errorf("%w: must be positive", ErrInvalidValue)))
	}
	return errs
}

func validateBus(c *BusConfig) error {
	var errs error
	if c.MaxSubscriptionsPerUser < 1 {
		errs = multierr.Append(errs, NewValidationError("bus", "max_subscriptions_per_user", fmt.Errorf("%w: must be positive", ErrInvalidValue)))
	}
	if c.MaxSubscriptionsPerChannel < 1 {
		errs = multierr.Append(errs, NewValidationError("bus", "max_subscriptions_per_channel", fmt.Errorf("%w: must be positive", ErrInvalidValue)))
	}
	if c.SubscriptionTimeout <= 0 {
		errs = multierr.Append(errs, NewValidationError("bus", "subscription_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue)))
	}
	if c.SweepInterval <= 0 {
		errs = multierr.Append(errs, NewValidationError("bus", "sweep_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue)))
	}
	return errs
}

func validateContainer(c *ContainerConfig) error {
	var errs error
	if c.Namespace == "" {
		errs = multierr.Append(errs, NewValidationError("container", "namespace", fmt.Errorf("%w: required", ErrInvalidValue)))
	}
	if c.MemoryLimit < 1 {
		errs = multierr.Append(errs, NewValidationError("container", "memory_limit", fmt.Errorf("%w: must be positive", ErrInvalidValue)))
	}
	if c.CPULimit <= 0 {
		errs = multierr.Append(errs, NewValidationError("container", "cpu_limit", fmt.Errorf("%w: must be positive", ErrInvalidValue)))
	}
	if c.DefaultTimeout <= 0 {
		errs = multierr.Append(errs, NewValidationError("container", "default_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue)))
	}
	return errs
}

// knownStrategies mirrors the strategies registered by the healing engine.
var knownStrategies = map[string]bool{
	"css_selector":        true,
	"xpath":               true,
	"text_content":        true,
	"visual_recognition":  true,
	"structural_analysis": true,
}

func validateHealing(c *HealingConfig) error {
	var errs error
	if len(c.Strategies) == 0 {
		errs = multierr.Append(errs, NewValidationError("healing", "strategies", fmt.Errorf("%w: at least one strategy required", ErrInvalidValue)))
	}
	for _, s := range c.Strategies {
		if !knownStrategies[s] {
			errs = multierr.Append(errs, NewValidationError("healing", "strategies", fmt.Errorf("%w: unknown strategy %q", ErrInvalidValue, s)))
		}
	}
	if c.MaxAttempts < 1 {
		errs = multierr.Append(errs, NewValidationError("healing", "max_attempts", fmt.Errorf("%w: must be positive", ErrInvalidValue)))
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = multierr.Append(errs, NewValidationError("healing", "confidence_threshold", fmt.Errorf("%w: must be in [0,1]", ErrInvalidValue)))
	}
	return errs
}

func validateProviders(c *ProvidersConfig) error {
	var errs error
	if c.Default == "" {
		errs = multierr.Append(errs, NewValidationError("providers", "default", fmt.Errorf("%w: required", ErrInvalidValue)))
	} else if _, ok := c.Providers[c.Default]; !ok {
		errs = multierr.Append(errs, NewValidationError("providers", "default",
			fmt.Errorf("%w: provider %q not declared", ErrInvalidReference, c.Default)))
	}
	if c.Fallback != "" {
		if _, ok := c.Providers[c.Fallback]; !ok {
			errs = multierr.Append(errs, NewValidationError("providers", "fallback",
				fmt.Errorf("%w: provider %q not declared", ErrInvalidReference, c.Fallback)))
		}
	}
	for name, p := range c.Providers {
		if p.TokensPerMinute < 1 {
			errs = multierr.Append(errs, NewValidationError("providers", name+".tokens_per_minute", fmt.Errorf("%w: must be positive", ErrInvalidValue)))
		}
		if p.RequestsPerMinute < 1 {
			errs = multierr.Append(errs, NewValidationError("providers", name+".requests_per_minute", fmt.Errorf("%w: must be positive", ErrInvalidValue)))
		}
		if p.Breaker.FailureThreshold < 1 {
			errs = multierr.Append(errs, NewValidationError("providers", name+".breaker.failure_threshold", fmt.Errorf("%w: must be positive", ErrInvalidValue)))
		}
		if p.Breaker.ResetTimeout <= 0 {
			errs = multierr.Append(errs, NewValidationError("providers", name+".breaker.reset_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue)))
		}
	}
	return errs
}

func validateCapture(c *CaptureConfig) error {
	var errs error
	if c.ScreenshotQuality < 1 || c.ScreenshotQuality > 100 {
		errs = multierr.Append(errs, NewValidationError("capture", "screenshot_quality", fmt.Errorf("%w: must be in [1,100]", ErrInvalidValue)))
	}
	if c.UploadRetries < 0 {
		errs = multierr.Append(errs, NewValidationError("capture", "upload_retries", fmt.Errorf("%w: must not be negative", ErrInvalidValue)))
	}
	switch c.Store {
	case "memory", "fs":
	default:
		errs = multierr.Append(errs, NewValidationError("capture", "store", fmt.Errorf("%w: must be \"memory\" or \"fs\"", ErrInvalidValue)))
	}
	if c.Store == "fs" && c.FSRoot == "" {
		errs = multierr.Append(errs, NewValidationError("capture", "fs_root", fmt.Errorf("%w: required when store is \"fs\"", ErrInvalidValue)))
	}
	return errs
}

func validateRetention(c *RetentionConfig) error {
	var errs error
	if c.ArtifactMaxAge <= 0 {
		errs = multierr.Append(errs, NewValidationError("retention", "artifact_max_age", fmt.Errorf("%w: must be positive", ErrInvalidValue)))
	}
	if c.SweepInterval <= 0 {
		errs = multierr.Append(errs, NewValidationError("retention", "sweep_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue)))
	}
	return errs
}

func validateOrchestrator(c *OrchestratorConfig) error {
	var errs error
	if c.Concurrency < 1 {
		errs = multierr.Append(errs, NewValidationError("orchestrator", "concurrency", fmt.Errorf("%w: must be positive", ErrInvalidValue)))
	}
	if c.ResultCacheTTL <= 0 {
		errs = multierr.Append(errs, NewValidationError("orchestrator", "result_cache_ttl", fmt.Errorf("%w: must be positive", ErrInvalidValue)))
	}
	return errs
}
