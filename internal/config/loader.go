package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":          {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":          {"openai", "deepgram", "whisper"},
	"conversation": {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. ${VAR} references are expanded from the environment
// before decoding.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes must not be negative, got %d", cfg.Server.MaxUploadBytes))
	}
	if cfg.Server.AnalyzeRate < 0 || cfg.Server.AnalyzeBurst < 0 {
		errs = append(errs, errors.New("server.analyze_rate and server.analyze_burst must not be negative"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("conversation", cfg.Providers.Conversation.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	if len(cfg.Providers.LLMFallbacks) > 0 && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
	}
	if len(cfg.Providers.STTFallbacks) > 0 && cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt_fallbacks requires providers.stt"))
	}

	// Provider availability
	if cfg.Providers.Conversation.Name == "" {
		slog.Warn("providers.conversation is not configured; exercise generation will not be available")
	} else if strings.TrimSpace(cfg.Exercise.AssistantID) == "" {
		errs = append(errs, errors.New("exercise.assistant_id is required when providers.conversation is configured"))
	}
	if cfg.Providers.LLM.Name == "" || cfg.Providers.STT.Name == "" {
		slog.Warn("providers.llm or providers.stt is not configured; pronunciation analysis will not be available")
	}

	// Exercise
	if cfg.Exercise.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("exercise.poll_interval must not be negative, got %s", cfg.Exercise.PollInterval))
	}
	if cfg.Exercise.MaxPolls < 0 {
		errs = append(errs, fmt.Errorf("exercise.max_polls must not be negative, got %d", cfg.Exercise.MaxPolls))
	}
	if cfg.Exercise.GenerationTimeout < 0 {
		errs = append(errs, fmt.Errorf("exercise.generation_timeout must not be negative, got %s", cfg.Exercise.GenerationTimeout))
	}

	// Analysis
	if cfg.Analysis.TranscribeAttempts < 0 || cfg.Analysis.TranscribeAttempts > 10 {
		errs = append(errs, fmt.Errorf("analysis.transcribe_attempts %d is out of range [1, 10]", cfg.Analysis.TranscribeAttempts))
	}
	if cfg.Analysis.RetryInterval < 0 {
		errs = append(errs, fmt.Errorf("analysis.retry_interval must not be negative, got %s", cfg.Analysis.RetryInterval))
	}
	if cfg.Analysis.Timeout < 0 {
		errs = append(errs, fmt.Errorf("analysis.timeout must not be negative, got %s", cfg.Analysis.Timeout))
	}

	// Feedback
	if cfg.Feedback.Buffer < 0 {
		errs = append(errs, fmt.Errorf("feedback.buffer must not be negative, got %d", cfg.Feedback.Buffer))
	}
	if cfg.Feedback.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("feedback.history_size must not be negative, got %d", cfg.Feedback.HistorySize))
	}
	if cfg.Feedback.HistoryProfiles < 0 {
		errs = append(errs, fmt.Errorf("feedback.history_profiles must not be negative, got %d", cfg.Feedback.HistoryProfiles))
	}
	if cfg.Feedback.FileMaxSizeMB < 0 || cfg.Feedback.FileMaxBackups < 0 {
		errs = append(errs, errors.New("feedback.file_max_size_mb and feedback.file_max_backups must not be negative"))
	}
	if cfg.Feedback.ConversationLog && cfg.Providers.Conversation.Name == "" {
		errs = append(errs, errors.New("feedback.conversation_log requires providers.conversation"))
	}

	// Telemetry
	if p := cfg.Telemetry.MetricsPath; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("telemetry.metrics_path %q must start with /", p))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
