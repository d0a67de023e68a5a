package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/infra"
	"server/internal/sqlinline"
)

// cleaner prunes stale failed generation rows. Ops run it from cron; the
// API exposes the same cleanup per-user, this one works across accounts.
func main() {
	var (
		olderThanFlag time.Duration
		userFlag      string
		dryRunFlag    bool
	)

	flag.DurationVar(&olderThanFlag, "older-than", 24*time.Hour, "minimum age of failed rows to remove")
	flag.StringVar(&userFlag, "user", "", "restrict cleanup to one user ID (UUID), empty for all users")
	flag.BoolVar(&dryRunFlag, "dry-run", false, "count matching rows without deleting them")
	flag.Parse()

	if olderThanFlag <= 0 {
		exitWithError(errors.New("-older-than must be positive"))
	}

	var userID *string
	if v := strings.TrimSpace(userFlag); v != "" {
		if _, err := uuid.Parse(v); err != nil {
			exitWithError(fmt.Errorf("invalid -user value %q: %w", v, err))
		}
		userID = &v
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "cleaner").Logger()
	runner := infra.NewSQLRunner(pool, logger)

	cutoff := time.Now().Add(-olderThanFlag)

	runCtx, cancelRun := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelRun()

	if dryRunFlag {
		var count int64
		row := runner.QueryRow(runCtx, sqlinline.QAdminCountFailed, cutoff, userID)
		if err := row.Scan(&count); err != nil {
			exitWithError(fmt.Errorf("failed to count stale rows: %w", err))
		}
		fmt.Printf("%d failed generation(s) older than %s would be removed\n", count, olderThanFlag)
		return
	}

	tag, err := runner.Exec(runCtx, sqlinline.QAdminCleanupFailed, cutoff, userID)
	if err != nil {
		exitWithError(fmt.Errorf("failed to clean stale rows: %w", err))
	}
	fmt.Printf("removed %d failed generation(s) older than %s\n", tag.RowsAffected(), olderThanFlag)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
