package config

import "time"

// Built-in defaults. Values in autoqa.yaml are merged over these; anything
// not set in the file keeps the default.

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            8080,
		PingInterval:    30 * time.Second,
		PongTimeout:     60 * time.Second,
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// DefaultFlowConfig returns the built-in flow controller defaults.
func DefaultFlowConfig() *FlowConfig {
	return &FlowConfig{
		MaxBufferSize:         10000,
		MaxMemoryUsage:        256 << 20, // 256 MiB
		HighWaterMark:         0.8,
		LowWaterMark:          0.5,
		ProcessingRate:        100,
		SlowConsumerThreshold: 10 * time.Second,
	}
}

// DefaultBusConfig returns the built-in subscription bus defaults.
func DefaultBusConfig() *BusConfig {
	return &BusConfig{
		MaxSubscriptionsPerUser:    50,
		MaxSubscriptionsPerChannel: 1000,
		SubscriptionTimeout:        30 * time.Minute,
		SweepInterval:              time.Minute,
	}
}

// DefaultContainerConfig returns the built-in container manager defaults.
func DefaultContainerConfig() *ContainerConfig {
	return &ContainerConfig{
		Namespace:          "autoqa-executions",
		MemoryLimit:        2 << 30, // 2 GiB
		CPULimit:           2,
		DefaultTimeout:     5 * time.Minute,
		StatusPollInterval: 2 * time.Second,
	}
}

// DefaultHealingConfig returns the built-in healing engine defaults.
// The strategy order is fixed; deployments may override it.
func DefaultHealingConfig() *HealingConfig {
	return &HealingConfig{
		Strategies: []string{
			"css_selector",
			"xpath",
			"text_content",
			"visual_recognition",
			"structural_analysis",
		},
		MaxAttempts:         5,
		ConfidenceThreshold: 0.8,
	}
}

// DefaultProviderConfig returns the built-in per-provider defaults.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		MaxTokens:         4096,
		Temperature:       0.2,
		Timeout:           60 * time.Second,
		TokensPerMinute:   90000,
		RequestsPerMinute: 60,
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			MonitoringPeriod: time.Minute,
		},
	}
}

// DefaultProvidersConfig returns the built-in provider pool layout: a single
// scripted local provider, no fallback.
func DefaultProvidersConfig() *ProvidersConfig {
	return &ProvidersConfig{
		Default: "local",
		Providers: map[string]ProviderConfig{
			"local": DefaultProviderConfig(),
		},
	}
}

// DefaultCaptureConfig returns the built-in artifact capture defaults.
func DefaultCaptureConfig() *CaptureConfig {
	return &CaptureConfig{
		Compression:       true,
		ScreenshotQuality: 80,
		UploadRetries:     3,
		Store:             "memory",
	}
}

// DefaultOrchestratorConfig returns the built-in orchestrator defaults.
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		Concurrency:    10,
		ResultCacheTTL: time.Hour,
	}
}

// DefaultNotifyConfig returns the built-in notification defaults.
func DefaultNotifyConfig() *NotifyConfig {
	return &NotifyConfig{
		PerUserBuffer: 500,
		SlackTokenEnv: "SLACK_BOT_TOKEN",
	}
}

// DefaultRetentionConfig returns the built-in artifact retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		ArtifactMaxAge: 7 * 24 * time.Hour,
		SweepInterval:  time.Hour,
	}
}

// Default returns a fully populated configuration with every component at
// its built-in defaults.
func Default() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Flow:         DefaultFlowConfig(),
		Bus:          DefaultBusConfig(),
		Container:    DefaultContainerConfig(),
		Healing:      DefaultHealingConfig(),
		Providers:    DefaultProvidersConfig(),
		Capture:      DefaultCaptureConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Notify:       DefaultNotifyConfig(),
		Retention:    DefaultRetentionConfig(),
	}
}
