package cmd

import (
	"errors"
	"io/fs"
	"log"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/resume-ranker/internal/document"
	"github.com/spigell/resume-ranker/internal/pipeline"
	"github.com/spigell/resume-ranker/internal/ranking"
	"github.com/spigell/resume-ranker/internal/session"
	"github.com/spigell/resume-ranker/internal/store"
)

const (
	app       = "resume-ranker"
	envPrefix = "RESUME_RANKER"
)

type Config struct {
	Source     *SourceConfig     `mapstructure:"source" validate:"required"`
	Discovery  *DiscoveryConfig  `mapstructure:"discovery"`
	Extraction pipeline.Config   `mapstructure:"extraction"`
	Store      store.RetryConfig `mapstructure:"store"`
	Session    session.Config    `mapstructure:"session"`
	Ranking    ranking.Config    `mapstructure:"ranking"`
	AI         *AIConfig         `mapstructure:"ai" validate:"required"`
	Log        *LogConfig        `mapstructure:"log"`
}

type SourceConfig struct {
	Type  string       `mapstructure:"type" validate:"oneof=local drive gcs"`
	Root  string       `mapstructure:"root"`
	Local *LocalConfig `mapstructure:"local"`
	Drive *DriveConfig `mapstructure:"drive"`
	GCS   *GCSConfig   `mapstructure:"gcs"`
}

type LocalConfig struct {
	Path string `mapstructure:"path"`
}

type DriveConfig struct {
	CredentialsFile string `mapstructure:"credentials-file"`
}

type GCSConfig struct {
	Bucket          string `mapstructure:"bucket"`
	CredentialsFile string `mapstructure:"credentials-file"`
}

type DiscoveryConfig struct {
	Extensions []string `mapstructure:"extensions"`
}

type AIConfig struct {
	Provider string        `mapstructure:"provider" validate:"omitempty,oneof=gemini"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey       string `mapstructure:"api-key"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries" validate:"gte=0"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

type LogConfig struct {
	File string `mapstructure:"file"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "resume-ranker ranks and answers questions about the resumes stored in a folder",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is resume-ranker.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")
	rootCmd.PersistentFlags().String("source", "", "document source: local, drive or gcs")
	rootCmd.PersistentFlags().String("root", "", "root folder: a local path, a Drive folder id or URL, or gs://bucket/prefix")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("source.type", rootCmd.PersistentFlags().Lookup("source"))
	viper.BindPFlag("source.root", rootCmd.PersistentFlags().Lookup("root"))

	setDefaults(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	extraction := pipeline.DefaultConfig()
	retry := store.DefaultRetryConfig()
	sessions := session.DefaultConfig()
	budgets := ranking.DefaultConfig()

	v.SetDefault("source.type", "local")
	v.SetDefault("source.root", ".")
	// Empty defaults make these keys visible to Unmarshal for env overrides.
	v.SetDefault("source.local.path", "")
	v.SetDefault("source.drive.credentials-file", "")
	v.SetDefault("source.gcs.bucket", "")
	v.SetDefault("source.gcs.credentials-file", "")
	v.SetDefault("discovery.extensions", document.DefaultExtensions)

	v.SetDefault("extraction.workers", extraction.Workers)
	v.SetDefault("extraction.max-workers", extraction.MaxWorkers)
	v.SetDefault("extraction.fetch-timeout", extraction.FetchTimeout)

	v.SetDefault("store.max-attempts", retry.MaxAttempts)
	v.SetDefault("store.initial-interval", retry.InitialInterval)
	v.SetDefault("store.max-interval", retry.MaxInterval)
	v.SetDefault("store.requests-per-second", 10.0)

	v.SetDefault("session.ttl", sessions.TTL)
	v.SetDefault("session.cleanup-interval", sessions.CleanupInterval)

	v.SetDefault("ranking.max-chars-per-candidate", budgets.MaxCharsPerCandidate)
	v.SetDefault("ranking.prompt-budget-chars", budgets.PromptBudgetChars)
	v.SetDefault("ranking.bisection-factor", budgets.BisectionFactor)
	v.SetDefault("ranking.request-timeout", budgets.RequestTimeout)
	v.SetDefault("ranking.answer-min-chars-per-candidate", budgets.AnswerMinCharsPerCandidate)

	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.gemini.api-key", "")
	v.SetDefault("ai.gemini.api-key-file", "")
	v.SetDefault("ai.gemini.model", "gemini-2.5-flash")
	v.SetDefault("ai.gemini.max-retries", 3)
	v.SetDefault("ai.gemini.max-log-length", 2000)

	v.SetDefault("ranking.exclude", []string{})
	v.SetDefault("ranking.exclude-file", "")
	v.SetDefault("log.file", "")
}

func initConfig() {
	// A missing .env is fine; values may come from the real environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// Without an explicit --config the file is optional: flags, env and
	// defaults are enough to run against a local folder.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	if err := viper.Unmarshal(&config); err != nil {
		return config, err
	}
	if config == nil {
		return nil, errors.New("config is empty")
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(config); err != nil {
		return config, err
	}
	return config, nil
}
