// Package config loads, merges, and validates the control plane
// configuration: one record per component with every recognized option
// enumerated, built-in defaults, ${ENV} expansion, and unknown-key
// rejection.
package config

import "time"

// Config is the umbrella configuration object returned by Initialize().
type Config struct {
	configDir string

	Server       *ServerConfig       `yaml:"server"`
	Flow         *FlowConfig         `yaml:"flow"`
	Bus          *BusConfig          `yaml:"bus"`
	Container    *ContainerConfig    `yaml:"container"`
	Healing      *HealingConfig      `yaml:"healing"`
	Providers    *ProvidersConfig    `yaml:"providers"`
	Capture      *CaptureConfig      `yaml:"capture"`
	Orchestrator *OrchestratorConfig `yaml:"orchestrator"`
	Notify       *NotifyConfig       `yaml:"notify"`
	Retention    *RetentionConfig    `yaml:"retention"`
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// ServerConfig holds the HTTP/WebSocket server settings.
type ServerConfig struct {
	// Port the API server listens on.
	Port int `yaml:"port"`

	// AllowedWSOrigins is the origin allow-list for WebSocket upgrades.
	// Empty means same-origin only.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`

	// PingInterval is how often idle event stream clients are pinged.
	PingInterval time.Duration `yaml:"ping_interval"`

	// PongTimeout disconnects a client that has not answered a ping
	// within this duration.
	PongTimeout time.Duration `yaml:"pong_timeout"`

	// WriteTimeout bounds a single WebSocket frame write.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// FlowConfig holds the admission queue and backpressure settings.
type FlowConfig struct {
	// MaxBufferSize is the total queued message count across all three
	// priority queues.
	MaxBufferSize int `yaml:"max_buffer_size"`

	// MaxMemoryUsage is the byte budget across queued messages.
	MaxMemoryUsage int64 `yaml:"max_memory_usage"`

	// HighWaterMark is the utilization fraction (0..1) that activates
	// backpressure.
	HighWaterMark float64 `yaml:"high_water_mark"`

	// LowWaterMark is the utilization fraction (0..1) that deactivates
	// backpressure.
	LowWaterMark float64 `yaml:"low_water_mark"`

	// ProcessingRate is the service loop pace in messages per second.
	ProcessingRate float64 `yaml:"processing_rate"`

	// SlowConsumerThreshold flags the consumer as slow when no pop has
	// succeeded for this long while messages are queued.
	SlowConsumerThreshold time.Duration `yaml:"slow_consumer_threshold"`
}

// BusConfig holds subscription bus limits and sweep settings.
type BusConfig struct {
	// MaxSubscriptionsPerUser caps subscriptions held by one user.
	MaxSubscriptionsPerUser int `yaml:"max_subscriptions_per_user"`

	// MaxSubscriptionsPerChannel caps subscribers on one channel.
	MaxSubscriptionsPerChannel int `yaml:"max_subscriptions_per_channel"`

	// SubscriptionTimeout removes subscriptions idle for longer than this.
	SubscriptionTimeout time.Duration `yaml:"subscription_timeout"`

	// SweepInterval is how often the idle-subscription sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ContainerConfig holds browser pod provisioning settings.
type ContainerConfig struct {
	// Namespace pods are created in.
	Namespace string `yaml:"namespace"`

	// MemoryLimit is the per-pod memory cap in bytes.
	MemoryLimit int64 `yaml:"memory_limit"`

	// CPULimit is the per-pod CPU cap in cores.
	CPULimit float64 `yaml:"cpu_limit"`

	// DefaultTimeout applies when a request does not set one.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// StatusPollInterval is the cadence of the container status poller.
	StatusPollInterval time.Duration `yaml:"status_poll_interval"`
}

// HealingConfig holds the self-healing engine settings.
type HealingConfig struct {
	// Strategies is the ordered strategy list. Empty means the built-in
	// default order.
	Strategies []string `yaml:"strategies"`

	// MaxAttempts bounds strategy attempts per heal call.
	MaxAttempts int `yaml:"max_attempts"`

	// ConfidenceThreshold is the minimum confidence that counts as a
	// successful heal (0..1).
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// BreakerConfig holds circuit breaker settings for one provider.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
	MonitoringPeriod time.Duration `yaml:"monitoring_period"`
}

// ProviderConfig holds per-provider model and admission settings.
type ProviderConfig struct {
	Model             string        `yaml:"model"`
	MaxTokens         int           `yaml:"max_tokens"`
	Temperature       float64       `yaml:"temperature"`
	Timeout           time.Duration `yaml:"timeout"`
	TokensPerMinute   int           `yaml:"tokens_per_minute"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Breaker           BreakerConfig `yaml:"breaker"`
}

// ProvidersConfig holds the provider pool layout.
type ProvidersConfig struct {
	// Default is the provider tried first.
	Default string `yaml:"default"`

	// Fallback is tried once on non-rate-limit failures. Empty disables
	// fallback.
	Fallback string `yaml:"fallback"`

	// Providers maps provider name to its settings.
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// CaptureConfig holds artifact capture settings.
type CaptureConfig struct {
	// Compression enables screenshot recompression and DOM/HAR gzip.
	Compression bool `yaml:"compression"`

	// ScreenshotQuality is the JPEG quality used when compression is on.
	ScreenshotQuality int `yaml:"screenshot_quality"`

	// UploadRetries bounds blob upload retry attempts.
	UploadRetries int `yaml:"upload_retries"`

	// Store selects the blob store backend: "memory" or "fs".
	Store string `yaml:"store"`

	// FSRoot is the filesystem store root (Store == "fs").
	FSRoot string `yaml:"fs_root"`
}

// RetentionConfig holds artifact retention settings.
type RetentionConfig struct {
	// ArtifactMaxAge deletes stored artifacts older than this.
	ArtifactMaxAge time.Duration `yaml:"artifact_max_age"`

	// SweepInterval is how often the retention sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// OrchestratorConfig holds execution scheduling settings.
type OrchestratorConfig struct {
	// Concurrency is the worker pool size for per-execution work.
	Concurrency int `yaml:"concurrency"`

	// ResultCacheTTL keeps terminal executions queryable after cleanup.
	ResultCacheTTL time.Duration `yaml:"result_cache_ttl"`
}

// NotifyConfig holds notification delivery settings.
type NotifyConfig struct {
	// PerUserBuffer caps retained notifications per user.
	PerUserBuffer int `yaml:"per_user_buffer"`

	// SlackEnabled mirrors SystemAlert notifications to Slack.
	SlackEnabled bool `yaml:"slack_enabled"`

	// SlackTokenEnv names the environment variable holding the token.
	SlackTokenEnv string `yaml:"slack_token_env"`

	// SlackChannel is the destination channel ID.
	SlackChannel string `yaml:"slack_channel"`
}
