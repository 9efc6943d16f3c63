package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opsforge/medic/internal/core/config"
	"github.com/opsforge/medic/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent jobs and open issue counts",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Database.URL == "" {
		slog.Error("status requires a database URL in the config")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	rows, err := db.QueryContext(ctx, `
		SELECT type, state, COUNT(*) FROM jobs GROUP BY type, state ORDER BY type, state`)
	if err != nil {
		slog.Error("Failed to query jobs", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = rows.Close()
	}()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "TYPE\tSTATE\tCOUNT")

	for rows.Next() {
		var jobType, state string
		var count int64
		if err := rows.Scan(&jobType, &state, &count); err != nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", jobType, state, count)
	}
	_ = w.Flush()

	var open int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE NOT resolved`).Scan(&open); err == nil {
		_, _ = fmt.Fprintf(w, "\nOPEN ISSUES\t%d\n", open)
	}
	_ = w.Flush()
}
