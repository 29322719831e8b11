package cmd

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arpitpandey/jobagent/internal/posting"
)

const app = "jobagent"

// Config is the file-backed configuration for the whole agent.
type Config struct {
	CandidateID string            `mapstructure:"candidate-id"`
	Profile     string            `mapstructure:"profile"`
	Postings    []string          `mapstructure:"postings"`
	Ledger      string            `mapstructure:"ledger"`
	LettersDir  string            `mapstructure:"letters-dir"`
	ReportsDir  string            `mapstructure:"reports-dir"`
	Matching    *MatchingConfig   `mapstructure:"matching"`
	Submission  *SubmissionConfig `mapstructure:"submission"`
	AI          *AIConfig         `mapstructure:"ai"`
}

// MatchingConfig tunes scoring and selection.
type MatchingConfig struct {
	Alpha          float64  `mapstructure:"alpha"`
	Threshold      float64  `mapstructure:"threshold"`
	TopK           int      `mapstructure:"top-k"`
	Concurrency    int      `mapstructure:"concurrency"`
	MaxRetries     int      `mapstructure:"max-retries"`
	Vocabulary     []string `mapstructure:"vocabulary"`
	SourcePriority []string `mapstructure:"source-priority"`
}

// SubmissionConfig tunes the submission stage.
type SubmissionConfig struct {
	DailyCap     int              `mapstructure:"daily-cap"`
	DelaySeconds int              `mapstructure:"delay-seconds"`
	Automator    *AutomatorConfig `mapstructure:"automator"`
}

// AutomatorConfig points at the external submission sidecar.
type AutomatorConfig struct {
	URL            string `mapstructure:"url"`
	Token          string `mapstructure:"token"`
	TokenFile      string `mapstructure:"token-file"`
	TimeoutSeconds int    `mapstructure:"timeout-seconds"`
	MaxRetries     int    `mapstructure:"max-retries"`
}

// AIConfig selects and configures the AI provider.
type AIConfig struct {
	Provider string        `mapstructure:"provider"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig stores Gemini provider configuration.
type GeminiConfig struct {
	APIKey       string `mapstructure:"api-key"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	EmbedModel   string `mapstructure:"embed-model"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "jobagent matches scraped job postings against a candidate profile and tracks applications",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("ai.gemini.api-key", "GEMINI_API_KEY"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY environment variable: %v", err)
	}

	// Zero is a legal value for both weights (pure skill-overlap scoring,
	// keep-everything threshold), so their defaults live in viper where an
	// explicitly configured zero still wins.
	viper.SetDefault("matching.alpha", 0.6)
	viper.SetDefault("matching.threshold", 0.5)

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is jobagent.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Matching == nil {
		c.Matching = &MatchingConfig{
			Alpha:     viper.GetFloat64("matching.alpha"),
			Threshold: viper.GetFloat64("matching.threshold"),
		}
	}
	if c.Matching.TopK == 0 {
		c.Matching.TopK = 20
	}
	if c.Matching.Concurrency == 0 {
		c.Matching.Concurrency = 4
	}
	if c.Matching.MaxRetries == 0 {
		c.Matching.MaxRetries = 3
	}

	if c.Submission == nil {
		c.Submission = &SubmissionConfig{}
	}
	if c.Submission.DailyCap == 0 {
		c.Submission.DailyCap = 50
	}
	if c.Submission.DelaySeconds == 0 {
		c.Submission.DelaySeconds = 60
	}

	if c.Ledger == "" {
		c.Ledger = "data/applications.db"
	}
	if c.LettersDir == "" {
		c.LettersDir = "data/cover_letters"
	}
	if c.ReportsDir == "" {
		c.ReportsDir = "data/reports"
	}
}

// validate rejects configurations the engine cannot run with. These errors
// are fatal at startup.
func (c *Config) validate() error {
	if strings.TrimSpace(c.CandidateID) == "" {
		return fmt.Errorf("candidate-id is required")
	}
	if c.Matching.Alpha < 0 || c.Matching.Alpha > 1 {
		return fmt.Errorf("matching.alpha must be in [0,1], got %v", c.Matching.Alpha)
	}
	if c.Matching.Threshold < 0 || c.Matching.Threshold > 1 {
		return fmt.Errorf("matching.threshold must be in [0,1], got %v", c.Matching.Threshold)
	}
	if c.Matching.TopK < 1 {
		return fmt.Errorf("matching.top-k must be at least 1, got %d", c.Matching.TopK)
	}
	if c.Matching.Concurrency < 1 {
		return fmt.Errorf("matching.concurrency must be at least 1, got %d", c.Matching.Concurrency)
	}
	if c.Submission.DailyCap < 1 {
		return fmt.Errorf("submission.daily-cap must be at least 1, got %d", c.Submission.DailyCap)
	}
	if c.Submission.DelaySeconds < 0 {
		return fmt.Errorf("submission.delay-seconds must not be negative, got %d", c.Submission.DelaySeconds)
	}

	if _, err := c.sourcePriority(); err != nil {
		return err
	}

	return nil
}

func (c *Config) sourcePriority() ([]posting.Source, error) {
	if c.Matching == nil || len(c.Matching.SourcePriority) == 0 {
		return posting.DefaultSourcePriority, nil
	}

	priority := make([]posting.Source, 0, len(c.Matching.SourcePriority))
	for _, s := range c.Matching.SourcePriority {
		src, err := posting.ParseSource(s)
		if err != nil {
			return nil, fmt.Errorf("matching.source-priority: %w", err)
		}
		priority = append(priority, src)
	}
	return priority, nil
}

func (c *Config) submitDelay() time.Duration {
	return time.Duration(c.Submission.DelaySeconds) * time.Second
}
