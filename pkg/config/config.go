// Package config provides configuration loading from YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate for values the server cannot run with.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	LLM      LLMConfig      `yaml:"llm"`
	Ollama   OllamaConfig   `yaml:"ollama"`
	Twitter  TwitterConfig  `yaml:"twitter"`
	Image    ImageConfig    `yaml:"image"`
	Agent    AgentConfig    `yaml:"agent"`
	Loop     LoopConfig     `yaml:"loop"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	CORSOrigins    []string `yaml:"cors_origins"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
}

// DatabaseConfig configures Postgres. An empty DSN disables the catalog table
// and the action journal.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig configures Redis. An empty URL disables state snapshots and
// wallet sign-in nonces.
type RedisConfig struct {
	URL string `yaml:"url"`
}

type LLMConfig struct {
	APIKey      string  `yaml:"api_key"`
	APIURL      string  `yaml:"api_url"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type OllamaConfig struct {
	APIURL string `yaml:"api_url"`
	Model  string `yaml:"model"`
}

type TwitterConfig struct {
	APIURL      string `yaml:"api_url"`
	BearerToken string `yaml:"bearer_token"`
	Username    string `yaml:"username"`
}

// ImageConfig selects the image generation backend ("stability" or "openai").
type ImageConfig struct {
	Provider  string `yaml:"provider"`
	APIKey    string `yaml:"api_key"`
	APIURL    string `yaml:"api_url"`
	Model     string `yaml:"model"`
	OutputDir string `yaml:"output_dir"`
}

// AgentConfig points at the agent definitions and names the one loaded at startup.
type AgentConfig struct {
	Dir     string `yaml:"dir"`
	Default string `yaml:"default"`
}

// LoopConfig tunes the background worker. Durations use Go syntax ("5s", "30s").
type LoopConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	ErrorBackoff time.Duration `yaml:"error_backoff"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`
}

// AuthConfig guards the mutating control routes. Operators lists the
// wallet addresses allowed to sign in; empty allows any valid signature.
type AuthConfig struct {
	Enabled   bool     `yaml:"enabled"`
	JWTSecret string   `yaml:"jwt_secret"`
	Operators []string `yaml:"operators"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from a YAML file, then applies environment variable
// overrides. Environment variables take precedence over YAML values.
// Env var format: SOCIALAGENT_SERVER_PORT, SOCIALAGENT_TWITTER_BEARER_TOKEN, etc.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, fmt.Errorf("load yaml config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// Validate reports the first setting the server cannot run with.
func (c *Config) Validate() error {
	if c.Loop.PollInterval < 0 || c.Loop.ErrorBackoff < 0 || c.Loop.StopTimeout < 0 {
		return fmt.Errorf("%w: loop durations must not be negative", ErrInvalidConfig)
	}
	switch c.Image.Provider {
	case "stability", "openai":
	default:
		return fmt.Errorf("%w: unknown image provider %q", ErrInvalidConfig, c.Image.Provider)
	}
	if c.Auth.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("%w: auth requires redis", ErrInvalidConfig)
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8001,
			CORSOrigins:    []string{"http://localhost:3000"},
			RateLimitRPS:   5,
			RateLimitBurst: 20,
		},
		LLM:     LLMConfig{APIURL: "https://api.openai.com/v1", Model: "gpt-4o-mini", Temperature: 0.7},
		Ollama:  OllamaConfig{APIURL: "http://localhost:11434/v1", Model: "llama3.2"},
		Twitter: TwitterConfig{APIURL: "https://api.twitter.com/2"},
		Image: ImageConfig{
			Provider:  "stability",
			APIURL:    "https://api.stability.ai/v2beta/stable-image/generate/ultra",
			Model:     "dall-e-3",
			OutputDir: ".",
		},
		Agent: AgentConfig{Dir: "agents", Default: "social_agent"},
		Loop: LoopConfig{
			PollInterval: 5 * time.Second,
			ErrorBackoff: 30 * time.Second,
			StopTimeout:  5 * time.Second,
		},
		Auth: AuthConfig{JWTSecret: "change-me"},
		Log:  LogConfig{Level: "info"},
	}
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no config file is fine, use defaults + env
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SOCIALAGENT_SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("SOCIALAGENT_SERVER_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("SOCIALAGENT_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("SOCIALAGENT_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("SOCIALAGENT_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("SOCIALAGENT_LLM_API_URL"); v != "" {
		cfg.LLM.APIURL = v
	}
	if v := os.Getenv("SOCIALAGENT_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("SOCIALAGENT_OLLAMA_API_URL"); v != "" {
		cfg.Ollama.APIURL = v
	}
	if v := os.Getenv("SOCIALAGENT_OLLAMA_MODEL"); v != "" {
		cfg.Ollama.Model = v
	}
	if v := os.Getenv("SOCIALAGENT_TWITTER_BEARER_TOKEN"); v != "" {
		cfg.Twitter.BearerToken = v
	}
	if v := os.Getenv("SOCIALAGENT_TWITTER_USERNAME"); v != "" {
		cfg.Twitter.Username = v
	}
	if v := os.Getenv("SOCIALAGENT_IMAGE_PROVIDER"); v != "" {
		cfg.Image.Provider = strings.ToLower(v)
	}
	// STABILITY_AI_API_KEY is what existing deployments already export.
	if v := os.Getenv("STABILITY_AI_API_KEY"); v != "" {
		cfg.Image.APIKey = v
	}
	if v := os.Getenv("SOCIALAGENT_IMAGE_API_KEY"); v != "" {
		cfg.Image.APIKey = v
	}
	if v := os.Getenv("SOCIALAGENT_AGENT_DIR"); v != "" {
		cfg.Agent.Dir = v
	}
	if v := os.Getenv("SOCIALAGENT_AGENT_DEFAULT"); v != "" {
		cfg.Agent.Default = v
	}
	if v := os.Getenv("SOCIALAGENT_LOOP_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Loop.PollInterval = d
		}
	}
	if v := os.Getenv("SOCIALAGENT_LOOP_STOP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Loop.StopTimeout = d
		}
	}
	if v := os.Getenv("SOCIALAGENT_AUTH_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Auth.Enabled = b
		}
	}
	if v := os.Getenv("SOCIALAGENT_AUTH_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("SOCIALAGENT_AUTH_OPERATORS"); v != "" {
		cfg.Auth.Operators = strings.Split(v, ",")
	}
	if v := os.Getenv("SOCIALAGENT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
}
