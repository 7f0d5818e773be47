package main

import (
	"errors"
	"testing"

	"github.com/MrWong99/dizai/internal/config"
)

func TestBuildProviders(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			LLM:          config.ProviderEntry{Name: "openai", APIKey: "sk-test", Model: "gpt-4o"},
			STT:          config.ProviderEntry{Name: "openai", APIKey: "sk-test"},
			Conversation: config.ProviderEntry{Name: "openai", APIKey: "sk-test"},
			LLMFallbacks: []config.ProviderEntry{{Name: "ollama", Model: "llama3", BaseURL: "http://localhost:11434"}},
			STTFallbacks: []config.ProviderEntry{{Name: "whisper", BaseURL: "http://localhost:8080"}},
		},
	}

	ps, err := buildProviders(cfg, reg)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.LLM == nil || ps.STT == nil || ps.Conversation == nil {
		t.Fatalf("providers = %+v, want all primaries set", ps)
	}
	if len(ps.LLMFallbacks) != 1 || ps.LLMFallbacks[0].Name != "ollama" {
		t.Errorf("llm fallbacks = %+v", ps.LLMFallbacks)
	}
	if len(ps.STTFallbacks) != 1 || ps.STTFallbacks[0].Name != "whisper" {
		t.Errorf("stt fallbacks = %+v", ps.STTFallbacks)
	}
}

func TestBuildProviders_Empty(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	ps, err := buildProviders(&config.Config{}, reg)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.LLM != nil || ps.STT != nil || ps.Conversation != nil {
		t.Errorf("providers = %+v, want none", ps)
	}
}

func TestBuildProviders_Errors(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	tests := []struct {
		name    string
		cfg     config.ProvidersConfig
		wantReg bool
	}{
		{
			name:    "unregistered llm",
			cfg:     config.ProvidersConfig{LLM: config.ProviderEntry{Name: "nope"}},
			wantReg: true,
		},
		{
			name: "openai llm without key",
			cfg:  config.ProvidersConfig{LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o"}},
		},
		{
			name:    "unregistered stt fallback",
			cfg:     config.ProvidersConfig{STTFallbacks: []config.ProviderEntry{{Name: "nope"}}},
			wantReg: true,
		},
		{
			name: "conversation without key",
			cfg:  config.ProvidersConfig{Conversation: config.ProviderEntry{Name: "openai"}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := buildProviders(&config.Config{Providers: tc.cfg}, reg)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, config.ErrProviderNotRegistered); got != tc.wantReg {
				t.Errorf("errors.Is(ErrProviderNotRegistered) = %v, want %v (err: %v)", got, tc.wantReg, err)
			}
		})
	}
}

func TestOptString(t *testing.T) {
	opts := map[string]any{"language": "pt", "n": 3}
	if got := optString(opts, "language"); got != "pt" {
		t.Errorf("language = %q", got)
	}
	if got := optString(opts, "n"); got != "" {
		t.Errorf("non-string = %q, want empty", got)
	}
	if got := optString(nil, "language"); got != "" {
		t.Errorf("nil map = %q, want empty", got)
	}
}
