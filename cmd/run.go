package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/arpitpandey/jobagent/internal/ai/gemini"
	"github.com/arpitpandey/jobagent/internal/automator"
	"github.com/arpitpandey/jobagent/internal/logger"
	"github.com/arpitpandey/jobagent/internal/match"
	"github.com/arpitpandey/jobagent/internal/pipeline"
	"github.com/arpitpandey/jobagent/internal/posting"
	"github.com/arpitpandey/jobagent/internal/profile"
	"github.com/arpitpandey/jobagent/internal/secrets"
	"github.com/arpitpandey/jobagent/internal/tracker"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one batch: normalize, dedup, score, rank and submit applications",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation before submitting")
	runCmd.Flags().Bool("dry-run", false, "rank and report only, submit nothing")
	runCmd.Flags().StringSliceP("postings", "p", nil, "scraper dump files (overrides config)")

	viper.BindPFlag("postings", runCmd.Flags().Lookup("postings"))
}

// run is the main command for the cli.
func run(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log0, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		log0.Fatal("getting a config", zap.Error(err))
	}

	log0.Info("starting jobagent", zap.String("version", version))

	pretty, _ := json.MarshalIndent(config, "", "  ")
	log0.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	if strings.TrimSpace(config.Profile) == "" {
		log0.Fatal("profile path is required to match postings against a candidate")
	}

	candidate, err := profile.Load(config.Profile)
	if err != nil {
		log0.Fatal("loading candidate profile", zap.Error(err))
	}

	log0.Info("loaded candidate profile",
		zap.String("name", candidate.Name),
		zap.Int("skills", len(candidate.Skills)),
		zap.Float64("experience_years", candidate.ExperienceYears),
	)

	raws := loadPostings(log0, config)
	if len(raws) == 0 {
		log0.Info("exiting", zap.String("reason", "no postings to process"))
		return
	}

	store, err := tracker.OpenSQLite(config.Ledger)
	if err != nil {
		log0.Fatal("opening application ledger", zap.Error(err))
	}
	defer store.Close()

	dryRun := cmd.Flag("dry-run").Value.String() == "true"

	deps, err := buildDeps(ctx, log0, config, store, dryRun)
	if err != nil {
		log0.Fatal("building pipeline dependencies", zap.Error(err))
	}

	priority, _ := config.sourcePriority()

	coordinator := pipeline.NewCoordinator(pipeline.Config{
		CandidateID:    config.CandidateID,
		Threshold:      config.Matching.Threshold,
		TopK:           config.Matching.TopK,
		DailyCap:       config.Submission.DailyCap,
		SourcePriority: priority,
		SubmitDelay:    config.submitDelay(),
		DryRun:         dryRun,
	}, deps)

	if !dryRun && cmd.Flag("auto-approve").Value.String() == "false" {
		prompt := promptui.Select{
			Label: fmt.Sprintf("Submit up to %d applications for %s?", config.Matching.TopK, candidate.Name),
			Items: []string{PromptYes, PromptNo},
		}
		_, answer, err := prompt.Run()
		if err != nil {
			log0.Fatal("exiting", zap.Error(err))
		}
		if answer != PromptYes {
			log0.Info("exiting", zap.String("reason", "got no from prompt"))
			return
		}
	}

	result, err := coordinator.Run(ctx, candidate, raws)
	if err != nil {
		if result != nil {
			writeReports(log0, config, candidate, result)
		}
		log0.Fatal("batch failed", zap.Error(err))
	}

	writeReports(log0, config, candidate, result)

	log0.Info("batch summary",
		zap.String("batch_id", result.BatchID),
		zap.Int("submitted", result.Counts.Submitted),
		zap.Int("failed", result.Counts.Failed),
		zap.Int("skipped", result.Counts.Skipped),
		zap.Int("dropped", result.Counts.Dropped),
	)
}

func loadPostings(log0 *zap.Logger, config *Config) []posting.Raw {
	paths := viper.GetStringSlice("postings")
	if len(paths) == 0 {
		paths = config.Postings
	}

	var raws []posting.Raw
	for _, path := range paths {
		entries, dropped, err := posting.LoadDump(path)
		if err != nil {
			log0.Fatal("loading postings dump", zap.String("path", path), zap.Error(err))
		}
		if dropped > 0 {
			log0.Warn("dropped undecodable dump entries",
				zap.String("path", path),
				zap.Int("dropped", dropped),
			)
		}
		raws = append(raws, entries...)
	}

	log0.Info("loaded scraped postings", zap.Int("count", len(raws)), zap.Int("files", len(paths)))
	return raws
}

func buildDeps(ctx context.Context, log0 *zap.Logger, config *Config, store tracker.Store, dryRun bool) (pipeline.Deps, error) {
	deps := pipeline.Deps{
		Logger:     log0,
		Normalizer: posting.NewNormalizer(config.Matching.Vocabulary),
		Tracker:    tracker.New(store, log0),
	}

	if config.AI == nil || config.AI.Gemini == nil {
		return deps, fmt.Errorf("ai.gemini configuration is required")
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: config.AI.Gemini.APIKey,
		File:  config.AI.Gemini.APIKeyFile,
	})
	if err != nil {
		return deps, err
	}

	client, err := gemini.NewClient(ctx, apiKey, config.AI.Gemini.Model, config.AI.Gemini.EmbedModel)
	if err != nil {
		return deps, err
	}

	deps.Scorer = match.NewScorer(gemini.NewSimilarity(client, log0), log0, match.ScorerConfig{
		Alpha:       config.Matching.Alpha,
		MaxRetries:  config.Matching.MaxRetries,
		Concurrency: config.Matching.Concurrency,
	})
	deps.Letters = gemini.NewLetterWriter(client, log0, config.LettersDir, config.AI.Gemini.MaxLogLength)

	if dryRun {
		return deps, nil
	}

	if config.Submission.Automator == nil || strings.TrimSpace(config.Submission.Automator.URL) == "" {
		return deps, fmt.Errorf("submission.automator.url is required unless running with --dry-run")
	}

	token := ""
	if config.Submission.Automator.Token != "" || config.Submission.Automator.TokenFile != "" {
		token, err = secrets.Load(secrets.Source{
			Name:  "automator token",
			Value: config.Submission.Automator.Token,
			File:  config.Submission.Automator.TokenFile,
		})
		if err != nil {
			return deps, err
		}
	}

	deps.Submitter = automator.New(automator.Config{
		BaseURL:    config.Submission.Automator.URL,
		Token:      token,
		Timeout:    time.Duration(config.Submission.Automator.TimeoutSeconds) * time.Second,
		MaxRetries: config.Submission.Automator.MaxRetries,
	}, log0)

	return deps, nil
}

func writeReports(log0 *zap.Logger, config *Config, candidate *profile.CandidateProfile, result *pipeline.BatchResult) {
	if err := os.MkdirAll(config.ReportsDir, 0o750); err != nil {
		log0.Warn("creating reports dir", zap.Error(err))
		return
	}

	stamp := time.Now().Format("20060102_150405")

	resultPath := filepath.Join(config.ReportsDir, fmt.Sprintf("batch_%s.json", stamp))
	if data, err := json.MarshalIndent(result, "", "  "); err == nil {
		if err := os.WriteFile(resultPath, data, 0o640); err != nil {
			log0.Warn("writing batch result", zap.Error(err))
		} else {
			log0.Info("batch result written", zap.String("path", resultPath))
		}
	}

	reportPath := filepath.Join(config.ReportsDir, fmt.Sprintf("match_report_%s.txt", stamp))
	if err := os.WriteFile(reportPath, []byte(matchReport(candidate, result)), 0o640); err != nil {
		log0.Warn("writing match report", zap.Error(err))
		return
	}
	log0.Info("match report written", zap.String("path", reportPath))
}

// matchReport renders the human-readable shortlist for auditing.
func matchReport(candidate *profile.CandidateProfile, result *pipeline.BatchResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "JOB MATCH REPORT\n")
	fmt.Fprintf(&b, "Batch: %s\n", result.BatchID)
	fmt.Fprintf(&b, "Candidate: %s (%.0f years)\n", candidate.Name, candidate.ExperienceYears)
	fmt.Fprintf(&b, "Skills: %s\n\n", strings.Join(candidate.Skills, ", "))
	fmt.Fprintf(&b, "Selected postings: %d\n\n", len(result.Selected))

	for _, r := range result.Selected {
		fmt.Fprintf(&b, "%d. %s\n", r.Rank, r.Posting.Title)
		fmt.Fprintf(&b, "   Company: %s\n", r.Posting.Company)
		if r.Posting.Location != "" {
			fmt.Fprintf(&b, "   Location: %s\n", r.Posting.Location)
		}
		fmt.Fprintf(&b, "   %s\n", r.Explanation)
		if r.Posting.URL != "" {
			fmt.Fprintf(&b, "   Apply at: %s\n", r.Posting.URL)
		}
		b.WriteString("\n")
	}

	return b.String()
}
