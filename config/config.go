package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the opine service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Search    SearchConfig    `mapstructure:"search"`
	Opinion   OpinionConfig   `mapstructure:"opinion"`
	Artifact  ArtifactConfig  `mapstructure:"artifact"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type GeneralConfig struct {
	Debug     bool   `mapstructure:"debug"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
	// JanitorSchedule is a cron expression for the session pruning job.
	JanitorSchedule string        `mapstructure:"janitor_schedule"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
}

type LLMConfig struct {
	Provider  string                    `mapstructure:"provider"`
	APIKey    string                    `mapstructure:"api_key"`
	BaseURL   string                    `mapstructure:"base_url"`
	Timeout   time.Duration             `mapstructure:"timeout"`
	Routing   LLMRoutingConfig          `mapstructure:"routing"`
	Models    map[string]LLMModelConfig `mapstructure:"models"`
}

// LLMRoutingConfig maps engine roles to model names so the heavy
// planning model is not burned on cheap extraction calls.
type LLMRoutingConfig struct {
	Planning   string `mapstructure:"planning"`
	Synthesis  string `mapstructure:"synthesis"`
	Extraction string `mapstructure:"extraction"`
}

type LLMModelConfig struct {
	CostPer1KIn  float64 `mapstructure:"cost_per_1k_in"`
	CostPer1KOut float64 `mapstructure:"cost_per_1k_out"`
	MaxTokens    int     `mapstructure:"max_tokens"`
}

type EngineConfig struct {
	// MaxRounds is the hard ceiling on planner/tool rounds per request.
	MaxRounds int `mapstructure:"max_rounds"`
	// HistoryWindow is the number of recent turns handed to the planner.
	HistoryWindow  int           `mapstructure:"history_window"`
	ToolTimeout    time.Duration `mapstructure:"tool_timeout"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type SearchConfig struct {
	Provider      string        `mapstructure:"provider"` // brave | serper
	BraveAPIKey   string        `mapstructure:"brave_api_key"`
	SerperAPIKey  string        `mapstructure:"serper_api_key"`
	MaxResults    int           `mapstructure:"max_results"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Enrich        bool          `mapstructure:"enrich"`
	EnrichTopN    int           `mapstructure:"enrich_top_n"`
	EnrichTimeout time.Duration `mapstructure:"enrich_timeout"`
}

type OpinionConfig struct {
	// MaxRounds bounds the internal refine-and-research loop.
	MaxRounds int `mapstructure:"max_rounds"`
	// AffinityFile optionally points at a JSON file extending the
	// built-in entity affinity table.
	AffinityFile string `mapstructure:"affinity_file"`
	// HomogeneityIterate: above this ratio the pool is considered one-sided.
	HomogeneityIterate float64 `mapstructure:"homogeneity_iterate"`
	// HomogeneityStop: below this ratio (with enough diversity) the pool is balanced.
	HomogeneityStop float64 `mapstructure:"homogeneity_stop"`
	DiversityStop   float64 `mapstructure:"diversity_stop"`
}

type ArtifactConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	RendererURL  string        `mapstructure:"renderer_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	TriggerTerms []string      `mapstructure:"trigger_terms"`
}

type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	// SessionBackend selects the session store: memory | redis.
	SessionBackend string `mapstructure:"session_backend"`
}

type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN assembles a postgres connection string, preferring the explicit URL.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
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

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	CostTracker bool `mapstructure:"cost_tracker"`
}

func (c *Config) Validate() error {
	if c.Engine.MaxRounds < 1 {
		return fmt.Errorf("engine.max_rounds must be >= 1, got %d", c.Engine.MaxRounds)
	}
	if c.Opinion.MaxRounds < 1 {
		return fmt.Errorf("opinion.max_rounds must be >= 1, got %d", c.Opinion.MaxRounds)
	}
	for name, v := range map[string]float64{
		"opinion.homogeneity_iterate": c.Opinion.HomogeneityIterate,
		"opinion.homogeneity_stop":    c.Opinion.HomogeneityStop,
		"opinion.diversity_stop":      c.Opinion.DiversityStop,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}
	if c.Opinion.HomogeneityStop > c.Opinion.HomogeneityIterate {
		return fmt.Errorf("opinion.homogeneity_stop (%v) must not exceed opinion.homogeneity_iterate (%v)",
			c.Opinion.HomogeneityStop, c.Opinion.HomogeneityIterate)
	}
	switch c.Storage.SessionBackend {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("storage.session_backend must be memory or redis, got %q", c.Storage.SessionBackend)
	}
	switch c.Search.Provider {
	case "", "brave", "serper":
	default:
		return fmt.Errorf("search.provider must be brave or serper, got %q", c.Search.Provider)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)

	v.SetDefault("server.address", ":10010")
	v.SetDefault("server.janitor_schedule", "*/10 * * * *")
	v.SetDefault("server.session_ttl", "24h")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.timeout", "120s")
	v.SetDefault("llm.routing.planning", "gpt-4o")
	v.SetDefault("llm.routing.synthesis", "gpt-4o")
	v.SetDefault("llm.routing.extraction", "gpt-4o-mini")

	v.SetDefault("engine.max_rounds", 3)
	v.SetDefault("engine.history_window", 10)
	v.SetDefault("engine.tool_timeout", "45s")
	v.SetDefault("engine.max_concurrent", 4)
	v.SetDefault("engine.request_timeout", "5m")

	v.SetDefault("search.provider", "brave")
	v.SetDefault("search.max_results", 10)
	v.SetDefault("search.timeout", "15s")
	v.SetDefault("search.enrich", false)
	v.SetDefault("search.enrich_top_n", 3)
	v.SetDefault("search.enrich_timeout", "10s")

	v.SetDefault("opinion.max_rounds", 2)
	v.SetDefault("opinion.homogeneity_iterate", 0.80)
	v.SetDefault("opinion.homogeneity_stop", 0.70)
	v.SetDefault("opinion.diversity_stop", 0.50)

	v.SetDefault("artifact.enabled", true)
	v.SetDefault("artifact.timeout", "30s")
	v.SetDefault("artifact.trigger_terms", []string{"chart", "graph", "plot", "visualize", "show", "create"})

	v.SetDefault("storage.session_backend", "memory")
	v.SetDefault("storage.redis.addr", "localhost:6379")

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.cost_tracker", true)
}

// LoadConfig reads configuration from the given path (or the working
// directory when empty), applies OPINE_* environment overrides and
// validates the result. It terminates the process on failure, matching
// how the binaries use it at startup.
func LoadConfig(path string) *Config {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("OPINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Fatalf("config: reading config file: %v", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("config: unmarshalling config: %v", err)
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v.GetString("llm.api_key")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: invalid configuration: %v", err)
	}
	return &cfg
}
