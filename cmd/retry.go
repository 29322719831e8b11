package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/arpitpandey/jobagent/internal/logger"
	"github.com/arpitpandey/jobagent/internal/tracker"
)

var retryCmd = &cobra.Command{
	Use:   "retry [fingerprint...]",
	Short: "Reset failed applications back to pending for the next run",
	Long: "Failed applications are never retried automatically: the target site may " +
		"already have recorded the attempt. This command is the explicit operator " +
		"action that makes them eligible again.",
	Run: func(cmd *cobra.Command, args []string) {
		retry(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(retryCmd)

	retryCmd.Flags().Bool("all", false, "retry every failed application")
	retryCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation")
}

func retry(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	log0, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		log0.Fatal("getting a config", zap.Error(err))
	}

	all := cmd.Flag("all").Value.String() == "true"
	if !all && len(args) == 0 {
		log0.Fatal("provide at least one fingerprint or use --all")
	}

	store, err := tracker.OpenSQLite(config.Ledger)
	if err != nil {
		log0.Fatal("opening application ledger", zap.Error(err))
	}
	defer store.Close()

	trk := tracker.New(store, log0)

	fingerprints := args
	if all {
		records, err := trk.List(ctx)
		if err != nil {
			log0.Fatal("listing ledger records", zap.Error(err))
		}
		fingerprints = fingerprints[:0]
		for _, rec := range records {
			if rec.Status == tracker.StatusFailed && rec.Key.CandidateID == config.CandidateID {
				fingerprints = append(fingerprints, rec.Key.Fingerprint)
			}
		}
	}

	if len(fingerprints) == 0 {
		log0.Info("exiting", zap.String("reason", "no failed applications to retry"))
		return
	}

	if cmd.Flag("auto-approve").Value.String() == "false" {
		prompt := promptui.Select{
			Label: fmt.Sprintf("Reset %d failed application(s) to pending?", len(fingerprints)),
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

	for _, fp := range fingerprints {
		key := tracker.Key{Fingerprint: fp, CandidateID: config.CandidateID}
		if err := trk.Retry(ctx, key); err != nil {
			log0.Error("retry failed", zap.String("fingerprint", fp), zap.Error(err))
			continue
		}
		log0.Info("application reset to pending", zap.String("fingerprint", fp))
	}
}
