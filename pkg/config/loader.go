package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConductorYAMLConfig represents the complete conductor.yaml file structure
type ConductorYAMLConfig struct {
	Server      *ServerYAMLConfig      `yaml:"server"`
	LLM         *LLMYAMLConfig         `yaml:"llm"`
	FunctionHub *FunctionHubYAMLConfig `yaml:"function_hub"`
	Agent       *AgentYAMLConfig       `yaml:"agent"`
	Session     *SessionConfig         `yaml:"session"`
}

// ServerYAMLConfig holds HTTP server settings from YAML.
type ServerYAMLConfig struct {
	Host             string   `yaml:"host,omitempty"`
	Port             int      `yaml:"port,omitempty"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins,omitempty"`
}

// LLMYAMLConfig holds model settings from YAML.
type LLMYAMLConfig struct {
	Model              string        `yaml:"model,omitempty"`
	BaseURL            string        `yaml:"base_url,omitempty"`
	APIKeyEnv          string        `yaml:"api_key_env,omitempty"` // Defaults to "LLM_API_KEY" if omitted
	Temperature        *float64      `yaml:"temperature,omitempty"`
	MaxOutputTokens    int64         `yaml:"max_output_tokens,omitempty"`
	Timeout            time.Duration `yaml:"timeout,omitempty"`
	CachingPrompt      *bool         `yaml:"caching_prompt,omitempty"`
	InputCostPerToken  float64       `yaml:"input_cost_per_token,omitempty"`
	OutputCostPerToken float64       `yaml:"output_cost_per_token,omitempty"`
}

// FunctionHubYAMLConfig holds Function Hub settings from YAML.
type FunctionHubYAMLConfig struct {
	URL           string        `yaml:"url,omitempty"`
	WalletAddress string        `yaml:"wallet_address,omitempty"`
	APIKey        string        `yaml:"api_key,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
}

// AgentYAMLConfig holds executor capability toggles from YAML. Pointer
// booleans distinguish "unset" from an explicit false so defaults that are
// true can still be switched off.
type AgentYAMLConfig struct {
	EnableBrowsing          *bool `yaml:"enable_browsing,omitempty"`
	EnableJupyter           *bool `yaml:"enable_jupyter,omitempty"`
	EnableLLMEditor         *bool `yaml:"enable_llm_editor,omitempty"`
	EnableHistoryTruncation *bool `yaml:"enable_history_truncation,omitempty"`
	EnableVision            *bool `yaml:"enable_vision,omitempty"`
	MaxMessageChars         *int  `yaml:"max_message_chars,omitempty"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load conductor.yaml from configDir (missing file = defaults only)
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Resolve each section against built-in defaults
//  5. Validate all configuration
//  6. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized successfully",
		"model", cfg.LLM.Model,
		"function_hub_url", cfg.FunctionHub.URL,
		"max_concurrent_sessions", cfg.Session.MaxConcurrent)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	yamlCfg, err := loader.loadConductorYAML()
	if err != nil {
		return nil, NewLoadError("conductor.yaml", err)
	}

	// Resolve session config (merge user YAML with built-in defaults).
	// Start with defaults, then merge user config on top to preserve
	// unset defaults.
	sessionCfg := DefaultSessionConfig()
	if yamlCfg.Session != nil {
		if err := mergo.Merge(sessionCfg, yamlCfg.Session, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge session config: %w", err)
		}
	}

	return &Config{
		configDir:   configDir,
		Server:      resolveServerConfig(yamlCfg.Server),
		LLM:         resolveLLMConfig(yamlCfg.LLM),
		FunctionHub: resolveFunctionHubConfig(yamlCfg.FunctionHub),
		Agent:       resolveAgentConfig(yamlCfg.Agent),
		Session:     sessionCfg,
	}, nil
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	// Parse YAML
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

// loadConductorYAML reads conductor.yaml. A missing file is not an error:
// every section has built-in defaults and secrets come from the
// environment, so headless runs work without any config directory.
func (l *configLoader) loadConductorYAML() (*ConductorYAMLConfig, error) {
	var config ConductorYAMLConfig

	if err := l.loadYAML("conductor.yaml", &config); err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			slog.Warn("conductor.yaml not found, using built-in defaults",
				"config_dir", l.configDir)
			return &config, nil
		}
		return nil, err
	}

	return &config, nil
}

// resolveServerConfig resolves server configuration from YAML, applying defaults.
func resolveServerConfig(s *ServerYAMLConfig) *ServerConfig {
	cfg := &ServerConfig{
		Host: "0.0.0.0",
		Port: 8080,
	}

	if s == nil {
		return cfg
	}

	if s.Host != "" {
		cfg.Host = s.Host
	}
	if s.Port != 0 {
		cfg.Port = s.Port
	}
	if len(s.AllowedWSOrigins) > 0 {
		cfg.AllowedWSOrigins = s.AllowedWSOrigins
	}

	return cfg
}

// resolveLLMConfig resolves model configuration from YAML, applying defaults.
func resolveLLMConfig(l *LLMYAMLConfig) *LLMConfig {
	cfg := &LLMConfig{
		Model:         "gpt-4o",
		APIKeyEnv:     "LLM_API_KEY",
		Temperature:   0,
		Timeout:       2 * time.Minute,
		CachingPrompt: true,
	}

	if l == nil {
		return cfg
	}

	if l.Model != "" {
		cfg.Model = l.Model
	}
	if l.BaseURL != "" {
		cfg.BaseURL = l.BaseURL
	}
	if l.APIKeyEnv != "" {
		cfg.APIKeyEnv = l.APIKeyEnv
	}
	if l.Temperature != nil {
		cfg.Temperature = *l.Temperature
	}
	if l.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = l.MaxOutputTokens
	}
	if l.Timeout > 0 {
		cfg.Timeout = l.Timeout
	}
	if l.CachingPrompt != nil {
		cfg.CachingPrompt = *l.CachingPrompt
	}
	if l.InputCostPerToken > 0 {
		cfg.InputCostPerToken = l.InputCostPerToken
	}
	if l.OutputCostPerToken > 0 {
		cfg.OutputCostPerToken = l.OutputCostPerToken
	}

	return cfg
}

// resolveFunctionHubConfig resolves hub configuration from YAML, applying defaults.
func resolveFunctionHubConfig(h *FunctionHubYAMLConfig) *FunctionHubConfig {
	cfg := &FunctionHubConfig{
		URL:     "http://localhost:8000",
		Timeout: 30 * time.Second,
	}

	if h == nil {
		return cfg
	}

	if h.URL != "" {
		cfg.URL = h.URL
	}
	if h.WalletAddress != "" {
		cfg.WalletAddress = h.WalletAddress
	}
	if h.APIKey != "" {
		cfg.APIKey = h.APIKey
	}
	if h.Timeout > 0 {
		cfg.Timeout = h.Timeout
	}

	return cfg
}

// resolveAgentConfig resolves capability toggles from YAML, applying defaults.
func resolveAgentConfig(a *AgentYAMLConfig) *AgentConfig {
	cfg := &AgentConfig{
		EnableBrowsing:          true,
		EnableJupyter:           true,
		EnableLLMEditor:         false,
		EnableHistoryTruncation: true,
		EnableVision:            false,
		MaxMessageChars:         30000,
	}

	if a == nil {
		return cfg
	}

	if a.EnableBrowsing != nil {
		cfg.EnableBrowsing = *a.EnableBrowsing
	}
	if a.EnableJupyter != nil {
		cfg.EnableJupyter = *a.EnableJupyter
	}
	if a.EnableLLMEditor != nil {
		cfg.EnableLLMEditor = *a.EnableLLMEditor
	}
	if a.EnableHistoryTruncation != nil {
		cfg.EnableHistoryTruncation = *a.EnableHistoryTruncation
	}
	if a.EnableVision != nil {
		cfg.EnableVision = *a.EnableVision
	}
	if a.MaxMessageChars != nil {
		cfg.MaxMessageChars = *a.MaxMessageChars
	}

	return cfg
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return NewValidationError("server", "port", fmt.Errorf("%w: %d", ErrInvalidValue, cfg.Server.Port))
	}

	if cfg.LLM.Model == "" {
		return NewValidationError("llm", "model", ErrMissingRequiredField)
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return NewValidationError("llm", "temperature", fmt.Errorf("%w: %g (expected 0..2)", ErrInvalidValue, cfg.LLM.Temperature))
	}
	if cfg.LLM.Timeout <= 0 {
		return NewValidationError("llm", "timeout", fmt.Errorf("%w: %s", ErrInvalidValue, cfg.LLM.Timeout))
	}

	if err := validateHubURL(cfg.FunctionHub.URL); err != nil {
		return NewValidationError("function_hub", "url", err)
	}

	if cfg.Session.MaxConcurrent < 1 {
		return NewValidationError("session", "max_concurrent", fmt.Errorf("%w: %d", ErrInvalidValue, cfg.Session.MaxConcurrent))
	}
	if cfg.Session.MaxIterations < 1 {
		return NewValidationError("session", "max_iterations", fmt.Errorf("%w: %d", ErrInvalidValue, cfg.Session.MaxIterations))
	}
	if cfg.Session.MaxBudgetPerTask < 0 {
		return NewValidationError("session", "max_budget_per_task", fmt.Errorf("%w: %g", ErrInvalidValue, cfg.Session.MaxBudgetPerTask))
	}
	if cfg.Session.SessionTimeout <= 0 {
		return NewValidationError("session", "session_timeout", fmt.Errorf("%w: %s", ErrInvalidValue, cfg.Session.SessionTimeout))
	}

	return nil
}

// validateHubURL requires an absolute URL with scheme and authority.
func validateHubURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: function hub URL is required", ErrMissingRequiredField)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q (expected scheme://host)", ErrInvalidValue, raw)
	}
	return nil
}
