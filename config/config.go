package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research workflow system
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	DefaultLocale  string        `mapstructure:"default_locale"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai, anthropic, local, etc.
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name        string  `mapstructure:"name"`
	APIName     string  `mapstructure:"api_name"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// LLMRoutingConfig maps LLM capability tiers to provider models. Agents are
// assigned a tier, not a model, so swapping models never touches node logic.
type LLMRoutingConfig struct {
	Basic     string `mapstructure:"basic"`     // coordinator, researcher, reporter
	Reasoning string `mapstructure:"reasoning"` // planner, coder, deep thinking
	Vision    string `mapstructure:"vision"`    // reserved for visual content agents
	Fallback  string `mapstructure:"fallback"`
}

// WorkflowConfig contains orchestration limits and defaults
type WorkflowConfig struct {
	MaxPlanIterations   int           `mapstructure:"max_plan_iterations"`
	MaxStepNum          int           `mapstructure:"max_step_num"`
	MaxSearchResults    int           `mapstructure:"max_search_results"`
	AgentRecursionLimit int           `mapstructure:"agent_recursion_limit"`
	RequirePlanSteps    bool          `mapstructure:"require_plan_steps"`
	NodeTimeout         time.Duration `mapstructure:"node_timeout"`
	EnableDeepThinking  bool          `mapstructure:"enable_deep_thinking"`
	EnableInvestigation bool          `mapstructure:"enable_investigation"`
	AutoAcceptedPlan    bool          `mapstructure:"auto_accepted_plan"`
	DefaultReportStyle  string        `mapstructure:"default_report_style"`
	StreamChannelBuffer int           `mapstructure:"stream_channel_buffer"`
}

func (w WorkflowConfig) Validate() error {
	if w.MaxPlanIterations <= 0 {
		return fmt.Errorf("workflow.max_plan_iterations must be > 0")
	}
	if w.MaxStepNum <= 0 {
		return fmt.Errorf("workflow.max_step_num must be > 0")
	}
	return nil
}

// ToolsConfig contains built-in tool settings and external tool servers
type ToolsConfig struct {
	WebSearch  WebSearchConfig       `mapstructure:"web_search"`
	Crawler    CrawlerConfig         `mapstructure:"crawler"`
	CodeRunner CodeRunnerConfig      `mapstructure:"code_runner"`
	Servers    map[string]ToolServer `mapstructure:"servers"`
}

// WebSearchConfig contains web search settings
type WebSearchConfig struct {
	Engine       string        `mapstructure:"engine"` // brave or serper
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	MaxResults   int           `mapstructure:"max_results"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// CrawlerConfig controls rendered-page fetching and article extraction
type CrawlerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	RenderTimeout time.Duration `mapstructure:"render_timeout"`
	MaxBodyChars  int           `mapstructure:"max_body_chars"`
}

// CodeRunnerConfig controls the code execution tool
type CodeRunnerConfig struct {
	Command string        `mapstructure:"command"`
	Args    []string      `mapstructure:"args"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ToolServer declares one external tool server reachable over stdio or SSE.
type ToolServer struct {
	Transport    string   `mapstructure:"transport" json:"transport"` // stdio or sse
	Command      string   `mapstructure:"command" json:"command"`
	Args         []string `mapstructure:"args" json:"args"`
	URL          string   `mapstructure:"url" json:"url"`
	Env          []string `mapstructure:"env" json:"env"`
	EnabledTools []string `mapstructure:"enabled_tools" json:"enabled_tools"`
	AddToAgents  []string `mapstructure:"add_to_agents" json:"add_to_agents"`
}

func (t ToolServer) Validate() error {
	switch t.Transport {
	case "stdio":
		if strings.TrimSpace(t.Command) == "" {
			return fmt.Errorf("tool server with stdio transport requires command")
		}
	case "sse":
		if strings.TrimSpace(t.URL) == "" {
			return fmt.Errorf("tool server with sse transport requires url")
		}
	default:
		return fmt.Errorf("unsupported tool server transport %q", t.Transport)
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings for the checkpoint log.
// An empty host means checkpointing falls back to the in-memory log.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

// PostgresConfig contains Postgres connection settings for the summary store.
// An empty configuration means summaries fall back to the in-memory store.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DSN builds a postgres connection string from the configuration.
func (p PostgresConfig) DSN() (string, error) {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres configuration incomplete: host/dbname required")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// Configured reports whether any postgres connection detail was provided.
func (p PostgresConfig) Configured() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort < 0 {
		return fmt.Errorf("telemetry.metrics_port must be >= 0 when telemetry is enabled")
	}
	return nil
}

// RetentionConfig controls the replay retention janitor.
type RetentionConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule"` // cron expression
	MaxAge   time.Duration `mapstructure:"max_age"`
}

func (r RetentionConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	if strings.TrimSpace(r.Schedule) == "" {
		return fmt.Errorf("retention.schedule required when retention is enabled")
	}
	if r.MaxAge <= 0 {
		return fmt.Errorf("retention.max_age must be > 0 when retention is enabled")
	}
	return nil
}

// LoadConfig loads config from file
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.default_timeout", 30*time.Second)
	viper.SetDefault("general.default_locale", "en-US")
	viper.SetDefault("server.address", ":10002")
	viper.SetDefault("workflow.max_plan_iterations", 1)
	viper.SetDefault("workflow.max_step_num", 3)
	viper.SetDefault("workflow.max_search_results", 3)
	viper.SetDefault("workflow.agent_recursion_limit", 25)
	viper.SetDefault("workflow.node_timeout", 5*time.Minute)
	viper.SetDefault("workflow.default_report_style", "academic")
	viper.SetDefault("workflow.stream_channel_buffer", 64)
	viper.SetDefault("tools.web_search.engine", "brave")
	viper.SetDefault("tools.web_search.max_results", 3)
	viper.SetDefault("tools.web_search.timeout", 30*time.Second)
	viper.SetDefault("tools.crawler.render_timeout", 20*time.Second)
	viper.SetDefault("tools.crawler.max_body_chars", 8000)
	viper.SetDefault("tools.code_runner.timeout", 60*time.Second)
	viper.SetDefault("retention.schedule", "0 3 * * *")
	viper.SetDefault("retention.max_age", 30*24*time.Hour)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("RESEARCHFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine: defaults plus env cover a minimal run.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := config.Workflow.Validate(); err != nil {
		return nil, err
	}
	if err := config.Telemetry.Validate(); err != nil {
		return nil, err
	}
	if err := config.Retention.Validate(); err != nil {
		return nil, err
	}
	for name, srv := range config.Tools.Servers {
		if err := srv.Validate(); err != nil {
			return nil, fmt.Errorf("tool server %q: %w", name, err)
		}
	}
	return &config, nil
}
