package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mediagateway/internal/accounts"
	"mediagateway/internal/infra"
)

const usage = `usage: accounts <command>

commands:
  list          print active accounts with their usage
  reset-quota   zero the usage counter of every active account`

func main() {
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	command := strings.TrimSpace(strings.ToLower(flag.Arg(0)))
	switch command {
	case "list", "reset-quota":
	default:
		flag.Usage()
		os.Exit(2)
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli", "").With().Str("cmd", "accounts").Str("command", command).Logger()
	store := accounts.NewStore(infra.NewSQLRunner(pool, logger))

	switch command {
	case "list":
		accts, err := store.ListActive(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to list accounts: %v\n", err)
			os.Exit(1)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tEMAIL\tPROJECT\tUSAGE\tLIMIT")
		for _, a := range accts {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", a.ID, a.Email, a.ProjectID, a.UsageCount, a.UsageLimit)
		}
		_ = tw.Flush()
	case "reset-quota":
		if err := store.ResetQuota(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to reset quota: %v\n", err)
			os.Exit(1)
		}
		logger.Info().Msg("usage counters reset")
	}
}
