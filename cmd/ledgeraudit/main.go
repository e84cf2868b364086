package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"crowdfund/internal/infra"
	"crowdfund/internal/sqlinline"
)

// ledgeraudit compares every stored project total with the sum of its
// confirmed donations and prints the donation status breakdown. It exits 2
// when any total drifted.
func main() {
	var (
		projectFlag string
		quietFlag   bool
	)
	flag.StringVar(&projectFlag, "project", "", "limit the total check to one project ID")
	flag.BoolVar(&quietFlag, "quiet", false, "skip the status breakdown")
	flag.Parse()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli", "ledgeraudit")
	runner := infra.NewSQLRunner(pool, logger)

	if !quietFlag {
		if err := printBreakdown(ctx, runner); err != nil {
			exitWithError(err)
		}
	}

	drifted, err := auditTotals(ctx, runner, strings.TrimSpace(projectFlag))
	if err != nil {
		exitWithError(err)
	}
	if drifted > 0 {
		fmt.Printf("%d project total(s) disagree with confirmed donations\n", drifted)
		os.Exit(2)
	}
	fmt.Println("all project totals match confirmed donations")
}

func printBreakdown(ctx context.Context, runner *infra.SQLRunner) error {
	rows, err := runner.Query(ctx, sqlinline.QCountDonationsByStatus)
	if err != nil {
		return fmt.Errorf("failed to count donations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status, rail string
			count        int64
		)
		if err := rows.Scan(&status, &rail, &count); err != nil {
			return fmt.Errorf("failed to read donation counts: %w", err)
		}
		fmt.Printf("%-10s %-15s %d\n", status, rail, count)
	}
	return rows.Err()
}

func auditTotals(ctx context.Context, runner *infra.SQLRunner, projectID string) (int, error) {
	rows, err := runner.Query(ctx, sqlinline.QAuditProjectTotals, projectID)
	if err != nil {
		return 0, fmt.Errorf("failed to audit totals: %w", err)
	}
	defer rows.Close()
	drifted := 0
	for rows.Next() {
		var project, currency, storedRaw, confirmedRaw string
		if err := rows.Scan(&project, &currency, &storedRaw, &confirmedRaw); err != nil {
			return 0, fmt.Errorf("failed to read audit row: %w", err)
		}
		stored, _ := decimal.NewFromString(storedRaw)
		confirmed, _ := decimal.NewFromString(confirmedRaw)
		fmt.Printf("DRIFT project=%s currency=%s stored=%s confirmed=%s diff=%s\n",
			project, currency, stored, confirmed, stored.Sub(confirmed))
		drifted++
	}
	return drifted, rows.Err()
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
