// Package config loads the YAML runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/martinemde/agentd/approval"
	"github.com/martinemde/agentd/safety"
)

// Telegram holds the chat gateway settings. The bot token is named by
// environment variable, never stored in the file.
type Telegram struct {
	TokenEnv       string  `yaml:"token_env"`
	AllowedUserIDs []int64 `yaml:"allowed_user_ids"`
}

// Config is the full runtime configuration.
type Config struct {
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	APIKeyEnv    string `yaml:"api_key_env"`
	WorkspaceDir string `yaml:"workspace_dir"`
	SessionDir   string `yaml:"session_dir"`

	SandboxPolicy  safety.SandboxPolicy `yaml:"sandbox_policy"`
	ApprovalPolicy approval.Policy      `yaml:"approval_policy"`

	MaxIterations        int `yaml:"max_iterations"`
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors"`
	MaxHistory           int `yaml:"max_history"`

	ToolsAllow []string `yaml:"tools_allow"`
	ToolsDeny  []string `yaml:"tools_deny"`

	Telegram Telegram `yaml:"telegram"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when a field is absent.
func Default() Config {
	return Config{
		Provider:             "anthropic",
		APIKeyEnv:            "ANTHROPIC_API_KEY",
		SessionDir:           filepath.Join(".", ".agentd", "sessions"),
		SandboxPolicy:        safety.PolicyWorkspaceWrite,
		ApprovalPolicy:       approval.PolicyOnRequest,
		MaxIterations:        15,
		MaxConsecutiveErrors: 3,
		MaxHistory:           200,
		LogLevel:             "info",
		Telegram:             Telegram{TokenEnv: "TELEGRAM_BOT_TOKEN"},
	}
}

// Load reads and validates a YAML config file, filling absent fields with
// defaults. A missing file yields the pure defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg = applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg Config) Config {
	def := Default()
	if cfg.Provider == "" {
		cfg.Provider = def.Provider
	}
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = def.APIKeyEnv
	}
	if cfg.SessionDir == "" {
		cfg.SessionDir = def.SessionDir
	}
	if cfg.SandboxPolicy == "" {
		cfg.SandboxPolicy = def.SandboxPolicy
	}
	if cfg.ApprovalPolicy == "" {
		cfg.ApprovalPolicy = def.ApprovalPolicy
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = def.MaxConsecutiveErrors
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = def.MaxHistory
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.Telegram.TokenEnv == "" {
		cfg.Telegram.TokenEnv = def.Telegram.TokenEnv
	}
	return cfg
}

// Validate rejects values outside the known enumerations.
func (c Config) Validate() error {
	switch c.SandboxPolicy {
	case safety.PolicyReadOnly, safety.PolicyWorkspaceWrite, safety.PolicyFullAccess:
	default:
		return fmt.Errorf("invalid sandbox_policy %q", c.SandboxPolicy)
	}
	switch c.ApprovalPolicy {
	case approval.PolicyNever, approval.PolicyOnRequest, approval.PolicyAlways:
	default:
		return fmt.Errorf("invalid approval_policy %q", c.ApprovalPolicy)
	}
	return nil
}

// APIKey resolves the provider API key from the configured environment
// variable.
func (c Config) APIKey() (string, error) {
	key := os.Getenv(c.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("environment variable %s is not set", c.APIKeyEnv)
	}
	return key, nil
}

// TelegramToken resolves the bot token from the configured environment
// variable.
func (c Config) TelegramToken() (string, error) {
	token := os.Getenv(c.Telegram.TokenEnv)
	if token == "" {
		return "", fmt.Errorf("environment variable %s is not set", c.Telegram.TokenEnv)
	}
	return token, nil
}
