package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix scopes environment overrides: AGENTCORE_SERVER_PORT=9000 overrides server.port.
const EnvPrefix = "AGENTCORE"

// Config is the root service configuration. Policy rules are not here: they live in
// the hot-reloadable policy file referenced by Agent.PolicyPath.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Agent    AgentConfig    `mapstructure:"agent"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Search   SearchConfig   `mapstructure:"search"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig describes the optional PostgreSQL audit store.
// An empty URL routes audit records to Redis instead.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds the caller API key hash and the RS256 key for operator tokens.
type AuthConfig struct {
	// APIKeyHash is a bcrypt hash of the X-Api-Key accepted by /v1 routes.
	APIKeyHash    string `mapstructure:"api_key_hash"`
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// AgentConfig drives the tool loop and chat surface.
type AgentConfig struct {
	PolicyPath         string        `mapstructure:"policy_path"`
	MaxIterations      int           `mapstructure:"max_iterations"`
	SystemPrompt       string        `mapstructure:"system_prompt"`
	HistoryTokenBudget int           `mapstructure:"history_token_budget"`
	HistoryTTL         time.Duration `mapstructure:"history_ttl"`
	DisabledSkills     []string      `mapstructure:"disabled_skills"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	ApprovalPoll       time.Duration `mapstructure:"approval_poll"`
}

type LLMConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	DefaultModel      string        `mapstructure:"default_model"`
	ReasoningModel    string        `mapstructure:"reasoning_model"`
	ReasoningKeywords []string      `mapstructure:"reasoning_keywords"`
	NumCtx            int           `mapstructure:"num_ctx"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RatePerSecond     float64       `mapstructure:"rate_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// SearchConfig drives the web_search skill.
type SearchConfig struct {
	URL        string `mapstructure:"url"`
	MaxResults int    `mapstructure:"max_results"`
	// APIKeyEnv names the variable holding the key; it is read on every search.
	APIKeyEnv string `mapstructure:"api_key_env"`
	APIKey    string `mapstructure:"api_key"`
}

// Key returns the search API key. The variable named by APIKeyEnv wins over the
// file value so a rotated key applies without a restart.
func (c SearchConfig) Key() (string, error) {
	if c.APIKeyEnv != "" {
		if v := os.Getenv(c.APIKeyEnv); v != "" {
			return v, nil
		}
	}
	if c.APIKey != "" {
		return c.APIKey, nil
	}
	return "", fmt.Errorf("web search API key is not configured: set %s or search.api_key", c.APIKeyEnv)
}

// EngineConfig holds runtime tuning for audit batching and the LLM circuit breaker.
type EngineConfig struct {
	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`

	CBMaxRequests int           `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
}

type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
	// File enables a rotating log file next to stderr output.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// LoadConfig merges defaults, an optional config.yaml and the environment.
// An explicit path that does not exist is an error; a missing default file is not.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// 1. Config file lookup
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// 2. Environment overrides
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Defaults
	setDefaults(v)

	// 4. Read file
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// 5. Decode
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. PEM key from env first (containers), then from the configured path
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, EnvPrefix+"_AUTH_PUBLIC_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	// /v1/chat may block on a human approval for minutes
	v.SetDefault("server.write_timeout", 10*time.Minute)

	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)

	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("agent.policy_path", "./configs/policy.yaml")
	v.SetDefault("agent.max_iterations", 5)
	v.SetDefault("agent.system_prompt", "You are a helpful assistant with access to tools. Use them when they help answer the user.")
	v.SetDefault("agent.history_token_budget", 6000)
	v.SetDefault("agent.history_ttl", 7*24*time.Hour)
	v.SetDefault("agent.heartbeat_interval", 5*time.Minute)
	v.SetDefault("agent.approval_poll", 2*time.Second)

	v.SetDefault("llm.base_url", "http://localhost:11434")
	v.SetDefault("llm.default_model", "llama3.1:8b")
	v.SetDefault("llm.num_ctx", 8192)
	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("llm.rate_per_second", 10)
	v.SetDefault("llm.burst", 5)

	v.SetDefault("search.url", "https://api.tavily.com/search")
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.api_key_env", "TAVILY_API_KEY")

	v.SetDefault("engine.audit_buffer_size", 1000)
	v.SetDefault("engine.audit_flush_interval", 500*time.Millisecond)
	v.SetDefault("engine.cb_max_requests", 3)
	v.SetDefault("engine.cb_interval", 5*time.Second)
	v.SetDefault("engine.cb_timeout", 30*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.max_size_mb", 10)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 30)
}

func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
