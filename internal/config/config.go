package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	OSConfigPath      = "CONFIG_PATH"
	DefaultConfigName = "config"
	TypeYaml          = "yaml"
)

type Config struct {
	HTTP       HTTP       `mapstructure:"http"`
	Log        Log        `mapstructure:"log"`
	RAG        RAG        `mapstructure:"rag"`
	Session    Session    `mapstructure:"session"`
	LLM        LLM        `mapstructure:"llm"`
	Embedding  Embedding  `mapstructure:"embedding"`
	OpenAI     OpenAI     `mapstructure:"openai"`
	Groq       APIKeyOnly `mapstructure:"groq"`
	OpenRouter OpenRouter `mapstructure:"openrouter"`
	Ollama     Ollama     `mapstructure:"ollama"`
	Gemini     APIKeyOnly `mapstructure:"gemini"`
	AppDB      AppDB      `mapstructure:"appdb"`
	Redis      Redis      `mapstructure:"redis"`
	Rabbit     Rabbit     `mapstructure:"rabbit"`
	Worker     Worker     `mapstructure:"worker"`
}

type HTTP struct {
	Addr string `mapstructure:"addr"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RAG struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	K             int           `mapstructure:"k"`
	MaxRows       int           `mapstructure:"max_rows"`
	ChunkMaxChars int           `mapstructure:"chunk_max_chars"`
	ChunkOverlap  int           `mapstructure:"chunk_overlap"`
	IndexParallel int           `mapstructure:"index_parallel"`
	SQLDialect    string        `mapstructure:"sql_dialect"`
}

type Session struct {
	IdleTTL        time.Duration `mapstructure:"idle_ttl"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	MaxOpenConns   int           `mapstructure:"max_open_conns"`
}

type LLM struct {
	Provider string        `mapstructure:"provider"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type Embedding struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
}

type OpenAI struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type APIKeyOnly struct {
	APIKey string `mapstructure:"api_key"`
}

type OpenRouter struct {
	APIKey  string `mapstructure:"api_key"`
	SiteURL string `mapstructure:"site_url"`
	AppName string `mapstructure:"app_name"`
}

type Ollama struct {
	BaseURL string `mapstructure:"base_url"`
}

type AppDB struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type Redis struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	AnswerTTL time.Duration `mapstructure:"answer_ttl"`
}

type Rabbit struct {
	URL   string `mapstructure:"url"`
	Queue string `mapstructure:"queue"`
}

type Worker struct {
	Concurrency int           `mapstructure:"concurrency"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("rag.timeout", "60s")
	v.SetDefault("rag.k", 5)
	v.SetDefault("rag.max_rows", 500)
	v.SetDefault("rag.chunk_max_chars", 1000)
	v.SetDefault("rag.chunk_overlap", 200)
	v.SetDefault("rag.index_parallel", 4)
	v.SetDefault("rag.sql_dialect", "MySQL")

	v.SetDefault("session.idle_ttl", "30m")
	v.SetDefault("session.sweep_interval", "1m")
	v.SetDefault("session.connect_timeout", "5s")
	v.SetDefault("session.max_open_conns", 5)

	v.SetDefault("llm.provider", "groq")
	v.SetDefault("llm.model", "llama-3.1-70b-versatile")
	v.SetDefault("llm.timeout", "60s")

	v.SetDefault("embedding.provider", "ollama")
	v.SetDefault("embedding.model", "nomic-embed-text")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("groq.api_key", "")
	v.SetDefault("openrouter.api_key", "")
	v.SetDefault("openrouter.site_url", "")
	v.SetDefault("openrouter.app_name", "dbrag")
	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("gemini.api_key", "")

	v.SetDefault("appdb.driver", "sqlite")
	v.SetDefault("appdb.dsn", "dbrag.db")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.answer_ttl", "10m")

	v.SetDefault("rabbit.url", "")
	v.SetDefault("rabbit.queue", "dbrag_index_jobs")

	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.retry_delay", "5s")
}

// Load reads defaults, then config.yaml (if found), then environment
// variables named after the key with dots as underscores (rag.timeout ->
// RAG_TIMEOUT). A YAML string value of the exact form ${VAR} is replaced by
// the environment variable VAR, or "" when unset.
//
// file, when non-empty, names the config file directly; otherwise
// CONFIG_PATH, "." and "./config" are searched.
func Load(file string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	raw, err := readFile(file)
	if err != nil {
		return Config{}, err
	}
	if raw != nil {
		if err := v.MergeConfigMap(resolveEnv(raw).(map[string]any)); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, cfg.Validate()
}

func readFile(file string) (map[string]any, error) {
	fv := viper.New()
	fv.SetConfigType(TypeYaml)
	if file != "" {
		fv.SetConfigFile(file)
	} else {
		fv.SetConfigName(DefaultConfigName)
		if p := os.Getenv(OSConfigPath); p != "" {
			fv.AddConfigPath(p)
		}
		fv.AddConfigPath(".")
		fv.AddConfigPath(filepath.Join(".", "config"))
	}

	if err := fv.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return fv.AllSettings(), nil
}

func resolveEnv(value any) any {
	switch t := value.(type) {
	case string:
		if strings.HasPrefix(t, "${") && strings.HasSuffix(t, "}") {
			return os.Getenv(t[2 : len(t)-1])
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = resolveEnv(v)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = resolveEnv(v)
		}
		return out
	default:
		return value
	}
}

func (c Config) Validate() error {
	if c.RAG.ChunkMaxChars <= 0 || c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkMaxChars {
		return fmt.Errorf("config: rag.chunk_overlap must be in [0, rag.chunk_max_chars)")
	}
	if c.RAG.Timeout <= 0 {
		return fmt.Errorf("config: rag.timeout must be positive")
	}
	if c.Session.IdleTTL < 0 {
		return fmt.Errorf("config: session.idle_ttl must not be negative")
	}
	return nil
}
