package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/arpitpandey/jobagent/internal/logger"
	"github.com/arpitpandey/jobagent/internal/tracker"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the application ledger: aggregate counts and recent records",
	Run: func(cmd *cobra.Command, _ []string) {
		status(cmd)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().Bool("records", false, "list individual records instead of aggregate counts")
}

func status(cmd *cobra.Command) {
	ctx := context.Background()

	log0, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		log0.Fatal("getting a config", zap.Error(err))
	}

	store, err := tracker.OpenSQLite(config.Ledger)
	if err != nil {
		log0.Fatal("opening application ledger", zap.Error(err))
	}
	defer store.Close()

	trk := tracker.New(store, log0)

	if cmd.Flag("records").Value.String() == "true" {
		records, err := trk.List(ctx)
		if err != nil {
			log0.Fatal("listing ledger records", zap.Error(err))
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FINGERPRINT\tSTATUS\tATTEMPTS\tLAST ATTEMPT\tREASON")
		for _, rec := range records {
			last := ""
			if !rec.LastAttemptAt.IsZero() {
				last = rec.LastAttemptAt.Local().Format(time.RFC3339)
			}
			fp := rec.Key.Fingerprint
			if len(fp) > 12 {
				fp = fp[:12]
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				fp, rec.Status, rec.Attempts, last, rec.Reason)
		}
		w.Flush()
		return
	}

	stats, err := trk.Stats(ctx)
	if err != nil {
		log0.Fatal("reading ledger stats", zap.Error(err))
	}

	log0.Info("application ledger",
		zap.Int("total", stats.Total),
		zap.Int("pending", stats.ByStatus[tracker.StatusPending]),
		zap.Int("submitted", stats.ByStatus[tracker.StatusSubmitted]),
		zap.Int("failed", stats.ByStatus[tracker.StatusFailed]),
		zap.Int("skipped", stats.ByStatus[tracker.StatusSkipped]),
	)
}
