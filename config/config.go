package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the orchestrator.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Roleplay  RoleplayConfig  `mapstructure:"roleplay"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	StoragePath    string        `mapstructure:"storage_path"`
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
	Type       string        `mapstructure:"type"` // openai, ollama
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	MaxRetries int           `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// LLMRoutingConfig defines which model to use for different graph roles
type LLMRoutingConfig struct {
	Coordinator string `mapstructure:"coordinator"`
	Planning    string `mapstructure:"planning"`
	Research    string `mapstructure:"research"`
	Coding      string `mapstructure:"coding"`
	Reporting   string `mapstructure:"reporting"`
	Summarize   string `mapstructure:"summarize"`
	Embedding   string `mapstructure:"embedding"`
	Fallback    string `mapstructure:"fallback"`
}

// GraphConfig controls the agent graph runtime.
type GraphConfig struct {
	RecursionLimit          int  `mapstructure:"recursion_limit"`
	MaxPlanIterations       int  `mapstructure:"max_plan_iterations"`
	MaxStepNum              int  `mapstructure:"max_step_num"`
	AutoAcceptedPlan        bool `mapstructure:"auto_accepted_plan"`
	BackgroundInvestigation bool `mapstructure:"background_investigation"`
}

// RecursionLimitFromEnv resolves the graph recursion limit, preferring the
// AGENT_RECURSION_LIMIT environment variable over the config value.
func (g GraphConfig) RecursionLimitFromEnv() int {
	if v := os.Getenv("AGENT_RECURSION_LIMIT"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	if g.RecursionLimit > 0 {
		return g.RecursionLimit
	}
	return 25
}

// ToolsConfig configures the tool mediation layer.
type ToolsConfig struct {
	MaxResponseTokens int              `mapstructure:"max_response_tokens"`
	SummarizeEnabled  bool             `mapstructure:"summarize_enabled"`
	ChunkEnabled      bool             `mapstructure:"chunk_enabled"`
	TruncateEnabled   bool             `mapstructure:"truncate_enabled"`
	PythonBin         string           `mapstructure:"python_bin"`
	PythonTimeout     time.Duration    `mapstructure:"python_timeout"`
	Browser           BrowserConfig    `mapstructure:"browser"`
	WebSearch         WebSearchConfig  `mapstructure:"web_search"`
	TTS               TTSConfig        `mapstructure:"tts"`
	MCPInitTimeout    time.Duration    `mapstructure:"mcp_init_timeout"`
	MCPServers        []MCPServerEntry `mapstructure:"mcp_servers"`
}

// BrowserConfig controls the chromedp-backed fetch tool.
type BrowserConfig struct {
	TimeoutMS int `mapstructure:"timeout_ms"`
	MaxChars  int `mapstructure:"max_chars"`
}

// WebSearchConfig holds search provider keys.
type WebSearchConfig struct {
	Provider string `mapstructure:"provider"` // brave, serper
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
	MaxItems int    `mapstructure:"max_items"`
}

// TTSConfig configures the speech synthesis tool.
type TTSConfig struct {
	Model  string `mapstructure:"model"`
	Voice  string `mapstructure:"voice"`
	Format string `mapstructure:"format"`
}

// MCPServerEntry describes one configured MCP server (stdio or sse).
type MCPServerEntry struct {
	Name    string            `mapstructure:"name"`
	Enabled bool              `mapstructure:"enabled"`
	Type    string            `mapstructure:"type"` // stdio, sse
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

// IngestConfig controls the document ingestion worker.
type IngestConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	MaxRawChars    int           `mapstructure:"max_raw_chars"`
	FolderSyncCron string        `mapstructure:"folder_sync_cron"`
}

// RoleplayConfig controls the world-info engine defaults.
type RoleplayConfig struct {
	MaxRecursionSteps int     `mapstructure:"max_recursion_steps"`
	BudgetRatio       float64 `mapstructure:"budget_ratio"`
	ScanDepth         int     `mapstructure:"scan_depth"`
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
}

// StorageConfig groups persistence backends.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Milvus   MilvusConfig   `mapstructure:"milvus"`
}

// PostgresConfig contains Postgres connection settings
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

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a connection string from the config.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

// MilvusConfig contains vector store connection settings.
type MilvusConfig struct {
	Address        string `mapstructure:"address"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	DistanceMethod string `mapstructure:"distance_method"`
}

// Distance resolves the metric, preferring MILVUS_DISTANCE_METHOD.
func (m MilvusConfig) Distance() string {
	if v := os.Getenv("MILVUS_DISTANCE_METHOD"); v != "" {
		return v
	}
	if m.DistanceMethod != "" {
		return m.DistanceMethod
	}
	return "COSINE"
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.default_timeout", time.Minute)
	viper.SetDefault("graph.recursion_limit", 25)
	viper.SetDefault("graph.max_plan_iterations", 3)
	viper.SetDefault("graph.max_step_num", 5)
	viper.SetDefault("graph.auto_accepted_plan", true)
	viper.SetDefault("tools.max_response_tokens", 4000)
	viper.SetDefault("tools.summarize_enabled", true)
	viper.SetDefault("tools.chunk_enabled", true)
	viper.SetDefault("tools.truncate_enabled", true)
	viper.SetDefault("tools.python_bin", "python3")
	viper.SetDefault("tools.python_timeout", 60*time.Second)
	viper.SetDefault("tools.mcp_init_timeout", 5*time.Minute)
	viper.SetDefault("tools.browser.timeout_ms", 15000)
	viper.SetDefault("tools.browser.max_chars", 20000)
	viper.SetDefault("tools.tts.model", "tts-1")
	viper.SetDefault("tools.tts.voice", "alloy")
	viper.SetDefault("tools.tts.format", "mp3")
	viper.SetDefault("ingest.poll_interval", 5*time.Second)
	viper.SetDefault("ingest.batch_size", 20)
	viper.SetDefault("ingest.max_raw_chars", 1000000)
	viper.SetDefault("ingest.folder_sync_cron", "*/1 * * * *")
	viper.SetDefault("roleplay.max_recursion_steps", 10)
	viper.SetDefault("roleplay.budget_ratio", 0.25)
	viper.SetDefault("roleplay.scan_depth", 4)

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

	viper.SetEnvPrefix("SURVEYOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	if config.General.StoragePath == "" {
		if v := os.Getenv("SURVEYOR_STORAGE_PATH"); v != "" {
			config.General.StoragePath = v
		} else {
			config.General.StoragePath = "./data"
		}
	}
	return &config
}
