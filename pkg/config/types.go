package config

import (
	"net"
	"os"
	"strconv"
	"time"
)

// Config is the umbrella configuration object that encapsulates all
// resolved settings. This is the primary object returned by Initialize()
// and used throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// HTTP/WebSocket server settings
	Server *ServerConfig

	// LLM connection and accounting settings
	LLM *LLMConfig

	// Function Hub client settings
	FunctionHub *FunctionHubConfig

	// Executor capability toggles
	Agent *AgentConfig

	// Session lifecycle and budget defaults
	Session *SessionConfig
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// ServerConfig holds resolved HTTP server configuration.
type ServerConfig struct {
	Host             string   // Listen address (default: "0.0.0.0")
	Port             int      // Listen port (default: 8080)
	AllowedWSOrigins []string // Additional WebSocket origin patterns beyond same-host
}

// Addr returns the host:port listen address.
func (s *ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LLMConfig holds resolved model configuration.
// The API key itself stays in the environment; only the variable name is
// configured so the key never lands in YAML or logs.
type LLMConfig struct {
	Model              string        // Model name (default: "gpt-4o")
	BaseURL            string        // OpenAI-compatible endpoint (empty = platform default)
	APIKeyEnv          string        // Env var name containing the API key (default: "LLM_API_KEY")
	Temperature        float64       // Sampling temperature
	MaxOutputTokens    int64         // Completion token cap (0 = provider default)
	Timeout            time.Duration // Per-request timeout (default: 2m)
	CachingPrompt      bool          // Mark prompt-cache anchors (default: true)
	InputCostPerToken  float64       // USD per prompt token (0 disables costing)
	OutputCostPerToken float64       // USD per completion token
}

// APIKey reads the configured environment variable. Empty is legal:
// keyless OpenAI-compatible endpoints (local inference) need none.
func (c *LLMConfig) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}

// FunctionHubConfig holds resolved Function Hub client configuration.
type FunctionHubConfig struct {
	URL           string        // Hub base URL (default: "http://localhost:8000")
	WalletAddress string        // Caller wallet identity forwarded on execute calls
	APIKey        string        // Hub API key (usually expanded from {{.FUNCTION_HUB_API_KEY}})
	Timeout       time.Duration // Per-call HTTP timeout (default: 30s)
}

// AgentConfig holds the executor capability toggles.
type AgentConfig struct {
	EnableBrowsing          bool // Browser toolset available to the executor (default: true)
	EnableJupyter           bool // IPython cell execution available (default: true)
	EnableLLMEditor         bool // LLM-based file editor instead of the plain one
	EnableHistoryTruncation bool // Recover from context overflow by halving history (default: true)
	EnableVision            bool // Forward image URLs on user messages
	MaxMessageChars         int  // Per-message clip length (default: 30000; negative disables)
}

// SessionConfig contains session lifecycle and budget defaults. These are
// starting values; per-conversation API parameters override them.
type SessionConfig struct {
	// MaxConcurrent is the number of conversations this instance will run
	// at once. Creation beyond the cap is refused, not queued.
	MaxConcurrent int `yaml:"max_concurrent"`

	// MaxIterations bounds agent steps per task before traffic control
	// engages (interactive) or the session errors out (headless).
	MaxIterations int `yaml:"max_iterations"`

	// MaxBudgetPerTask bounds accumulated LLM spend in USD per task.
	// Zero disables budget tracking.
	MaxBudgetPerTask float64 `yaml:"max_budget_per_task"`

	// ConfirmationMode gates command execution behind user approval.
	ConfirmationMode bool `yaml:"confirmation_mode"`

	// SessionTimeout is the maximum wall-clock lifetime of a conversation.
	SessionTimeout time.Duration `yaml:"session_timeout"`

	// GracefulShutdownTimeout is the max time to wait for active
	// conversations to settle during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultSessionConfig returns the built-in session defaults.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		MaxConcurrent:           5,
		MaxIterations:           100,
		MaxBudgetPerTask:        0,
		ConfirmationMode:        false,
		SessionTimeout:          30 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}
