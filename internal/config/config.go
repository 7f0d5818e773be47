// Package config provides the configuration schema, loader, and provider registry
// for the DizAí pronunciation practice backend.
package config

import "time"

// LogLevel controls log verbosity for the DizAí server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults] for zero-valued fields.
const (
	DefaultListenAddr         = ":3000"
	DefaultMaxUploadBytes     = 25 << 20
	DefaultShutdownTimeout    = 15 * time.Second
	DefaultProfile            = "default"
	DefaultTheme              = "restaurant"
	DefaultPollInterval       = 500 * time.Millisecond
	DefaultMaxPolls           = 240
	DefaultGenerationTimeout  = 3 * time.Minute
	DefaultLanguage           = "pt"
	DefaultTranscribeAttempts = 3
	DefaultRetryInterval      = 500 * time.Millisecond
	DefaultAnalysisTimeout    = 2 * time.Minute
	DefaultFeedbackBuffer     = 64
	DefaultHistorySize        = 200
	DefaultHistoryProfiles    = 1000
	DefaultFileMaxSizeMB      = 100
	DefaultServiceName        = "dizai"
	DefaultMetricsPath        = "/metrics"
)

// Config is the root configuration structure for DizAí.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Exercise  ExerciseConfig  `yaml:"exercise"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Feedback  FeedbackConfig  `yaml:"feedback"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the HTTP server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":3000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// MaxUploadBytes caps the size of a multipart body accepted by
	// /api/analyze. Default: 25 MiB.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// CORSOrigins lists the browser origins allowed to call the API. Empty
	// allows any origin.
	CORSOrigins []string `yaml:"cors_origins"`

	// AnalyzeRate limits /api/analyze to this many requests per second
	// across all clients. 0 disables the limit.
	AnalyzeRate float64 `yaml:"analyze_rate"`

	// AnalyzeBurst is the number of analysis requests allowed at once above
	// AnalyzeRate. Default: 1 when a rate is set.
	AnalyzeBurst int `yaml:"analyze_burst"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation backs each external
// service. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	// LLM evaluates pronunciation transcripts.
	LLM ProviderEntry `yaml:"llm"`

	// STT transcribes learner and reference recordings.
	STT ProviderEntry `yaml:"stt"`

	// Conversation hosts the exercise generation agent and the feedback log.
	Conversation ProviderEntry `yaml:"conversation"`

	// LLMFallbacks are tried in order when the primary LLM fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	// STTFallbacks are tried in order when the primary STT provider fails.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	// Use ${ENV_VAR} to keep secrets out of the file.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Required for self-hosted services such as whisper.cpp.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// common fields above.
	Options map[string]any `yaml:"options"`
}

// ExerciseConfig configures exercise set generation.
type ExerciseConfig struct {
	// AssistantID is the remote agent that authors exercise sets. Required.
	AssistantID string `yaml:"assistant_id"`

	// DefaultTheme is used when a request names no theme.
	DefaultTheme string `yaml:"default_theme"`

	// DefaultProfile is used when a request names no profile.
	DefaultProfile string `yaml:"default_profile"`

	// PollInterval is the delay between run status checks.
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxPolls bounds the number of status checks per generation.
	MaxPolls int `yaml:"max_polls"`

	// GenerationTimeout is a hard limit on one generation.
	GenerationTimeout time.Duration `yaml:"generation_timeout"`
}

// AnalysisConfig configures pronunciation analysis.
type AnalysisConfig struct {
	// Language is the ISO-639-1 code passed to transcription. Default: "pt".
	Language string `yaml:"language"`

	// TranscribeAttempts is the number of transcription attempts per clip.
	TranscribeAttempts int `yaml:"transcribe_attempts"`

	// RetryInterval is the initial delay between transcription attempts.
	RetryInterval time.Duration `yaml:"retry_interval"`

	// Timeout bounds one analysis end to end.
	Timeout time.Duration `yaml:"timeout"`
}

// FeedbackConfig selects where feedback records are written. Every
// configured destination receives every record.
type FeedbackConfig struct {
	// PostgresDSN enables the PostgreSQL feedback table when non-empty.
	PostgresDSN string `yaml:"postgres_dsn"`

	// FilePath enables the append-only JSONL log when non-empty.
	FilePath string `yaml:"file_path"`

	// FileMaxSizeMB rotates the JSONL log once it reaches this size.
	// Default: 100.
	FileMaxSizeMB int `yaml:"file_max_size_mb"`

	// FileMaxBackups is the number of rotated files kept. 0 keeps all.
	FileMaxBackups int `yaml:"file_max_backups"`

	// FileCompress gzips rotated files.
	FileCompress bool `yaml:"file_compress"`

	// ConversationLog posts each record to the generation conversation and to
	// a global log conversation.
	ConversationLog bool `yaml:"conversation_log"`

	// GlobalConversationID reuses an existing global log conversation. When
	// empty a new one is created at startup.
	GlobalConversationID string `yaml:"global_conversation_id"`

	// Buffer is the number of records queued before new ones are dropped.
	Buffer int `yaml:"buffer"`

	// HistorySize is the number of records per profile kept in memory for
	// /api/feedback.
	HistorySize int `yaml:"history_size"`

	// HistoryProfiles bounds how many profiles the in-memory history tracks.
	HistoryProfiles int `yaml:"history_profiles"`
}

// TelemetryConfig configures the OpenTelemetry providers.
type TelemetryConfig struct {
	// ServiceName is reported as the OTel service name. Default: "dizai".
	ServiceName string `yaml:"service_name"`

	// MetricsPath is where the Prometheus scrape handler is mounted.
	MetricsPath string `yaml:"metrics_path"`
}

// ApplyDefaults fills zero-valued fields with their documented defaults.
// It is called by [LoadFromReader] before validation.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	ex := &cfg.Exercise
	if ex.DefaultTheme == "" {
		ex.DefaultTheme = DefaultTheme
	}
	if ex.DefaultProfile == "" {
		ex.DefaultProfile = DefaultProfile
	}
	if ex.PollInterval == 0 {
		ex.PollInterval = DefaultPollInterval
	}
	if ex.MaxPolls == 0 {
		ex.MaxPolls = DefaultMaxPolls
	}
	if ex.GenerationTimeout == 0 {
		ex.GenerationTimeout = DefaultGenerationTimeout
	}

	an := &cfg.Analysis
	if an.Language == "" {
		an.Language = DefaultLanguage
	}
	if an.TranscribeAttempts == 0 {
		an.TranscribeAttempts = DefaultTranscribeAttempts
	}
	if an.RetryInterval == 0 {
		an.RetryInterval = DefaultRetryInterval
	}
	if an.Timeout == 0 {
		an.Timeout = DefaultAnalysisTimeout
	}

	if cfg.Feedback.Buffer == 0 {
		cfg.Feedback.Buffer = DefaultFeedbackBuffer
	}
	if cfg.Feedback.HistorySize == 0 {
		cfg.Feedback.HistorySize = DefaultHistorySize
	}
	if cfg.Feedback.HistoryProfiles == 0 {
		cfg.Feedback.HistoryProfiles = DefaultHistoryProfiles
	}
	if cfg.Feedback.FileMaxSizeMB == 0 {
		cfg.Feedback.FileMaxSizeMB = DefaultFileMaxSizeMB
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
	if cfg.Telemetry.MetricsPath == "" {
		cfg.Telemetry.MetricsPath = DefaultMetricsPath
	}
}
