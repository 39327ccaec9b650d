package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/grant-interviewer/internal/ai"
	"github.com/spigell/grant-interviewer/internal/interview"
)

const (
	app = "grant-interviewer"
)

type Config struct {
	Interview *InterviewConfig `mapstructure:"interview"`
	LLM       *LLMConfig       `mapstructure:"llm"`
	Store     *StoreConfig     `mapstructure:"store"`
	Archive   *ArchiveConfig   `mapstructure:"archive"`
	Events    *EventsConfig    `mapstructure:"events"`
	Server    *ServerConfig    `mapstructure:"server"`
}

type InterviewConfig struct {
	MinQuestions int           `mapstructure:"min-questions"`
	MaxQuestions int           `mapstructure:"max-questions"`
	IdleTimeout  time.Duration `mapstructure:"idle-timeout"`
	Aggregate    string        `mapstructure:"aggregate"`
	TopicsFile   string        `mapstructure:"topics-file"`
}

type LLMConfig struct {
	Provider string        `mapstructure:"provider"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Attempts int           `mapstructure:"attempts"`
	Backoff  time.Duration `mapstructure:"backoff"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey            string  `mapstructure:"api-key"`
	APIKeyFile        string  `mapstructure:"api-key-file"`
	Model             string  `mapstructure:"model"`
	MaxRetries        int     `mapstructure:"max-retries"`
	RequestsPerMinute int     `mapstructure:"requests-per-minute"`
	Temperature       float64 `mapstructure:"temperature"`
	MaxLogLength      int     `mapstructure:"max-log-length"`
}

type StoreConfig struct {
	Driver string       `mapstructure:"driver"`
	Redis  *RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type ArchiveConfig struct {
	Mongo *MongoConfig `mapstructure:"mongo"`
}

type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type EventsConfig struct {
	AMQP *AMQPConfig `mapstructure:"amqp"`
}

type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

const (
	providerGemini = "gemini"
	providerNone   = "none"

	driverMemory = "memory"
	driverRedis  = "redis"
)

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "grant-interviewer interviews a grant applicant and exports structured, scored answers",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	setDefaults()

	for key, env := range map[string]string{
		"llm.gemini.api-key-file": "GEMINI_API_KEY_FILE",
		"store.redis.addr":        "REDIS_ADDR",
		"archive.mongo.uri":       "MONGO_URI",
		"events.amqp.url":         "AMQP_URL",
	} {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is grant-interviewer.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func setDefaults() {
	viper.SetDefault("interview.min-questions", interview.DefaultMinQuestions)
	viper.SetDefault("interview.max-questions", interview.DefaultMaxQuestions)
	viper.SetDefault("interview.idle-timeout", 24*time.Hour)
	viper.SetDefault("interview.aggregate", "mean")

	viper.SetDefault("llm.provider", providerGemini)
	viper.SetDefault("llm.timeout", ai.DefaultTimeout)
	viper.SetDefault("llm.attempts", ai.DefaultAttempts)
	viper.SetDefault("llm.backoff", ai.DefaultBackoff)
	viper.SetDefault("llm.gemini.model", "gemini-2.5-flash")
	viper.SetDefault("llm.gemini.max-retries", 1)
	viper.SetDefault("llm.gemini.temperature", 0.2)

	viper.SetDefault("store.driver", driverMemory)
	viper.SetDefault("store.redis.addr", "localhost:6379")
	viper.SetDefault("store.redis.ttl", 30*24*time.Hour)

	viper.SetDefault("archive.mongo.database", "grants")
	viper.SetDefault("archive.mongo.collection", "interviews")

	viper.SetDefault("events.amqp.exchange", "grant.interviews")

	viper.SetDefault("server.addr", ":8080")
}

func initConfig() {
	// A .env file is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env file: %v", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		// Without an explicit --config the defaults are enough to run.
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	if config == nil {
		return nil, errors.New("config is empty")
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.Interview == nil {
		c.Interview = &InterviewConfig{}
	}
	if c.LLM == nil {
		c.LLM = &LLMConfig{Provider: providerGemini}
	}
	if c.LLM.Gemini == nil {
		c.LLM.Gemini = &GeminiConfig{}
	}
	if c.Store == nil {
		c.Store = &StoreConfig{Driver: driverMemory}
	}
	if c.Archive == nil {
		c.Archive = &ArchiveConfig{}
	}
	if c.Events == nil {
		c.Events = &EventsConfig{}
	}
	if c.Server == nil {
		c.Server = &ServerConfig{}
	}

	if c.Interview.MinQuestions < 1 || c.Interview.MaxQuestions < c.Interview.MinQuestions {
		return fmt.Errorf("interview.min-questions (%d) must be positive and not above interview.max-questions (%d)",
			c.Interview.MinQuestions, c.Interview.MaxQuestions)
	}
	if c.Interview.IdleTimeout < 0 {
		return errors.New("interview.idle-timeout must not be negative")
	}
	if _, err := interview.AggregateByName(c.Interview.Aggregate); err != nil {
		return fmt.Errorf("interview.aggregate: %w", err)
	}

	switch strings.ToLower(c.LLM.Provider) {
	case providerGemini, providerNone:
	default:
		return fmt.Errorf("llm.provider must be %q or %q, got %q", providerGemini, providerNone, c.LLM.Provider)
	}

	switch strings.ToLower(c.Store.Driver) {
	case driverMemory:
	case driverRedis:
		if c.Store.Redis == nil || c.Store.Redis.Addr == "" {
			return errors.New("store.redis.addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", driverMemory, driverRedis, c.Store.Driver)
	}

	return nil
}
