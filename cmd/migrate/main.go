package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/cheynewallace/tabby"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AbhishekMashetty/axon/internal/app/migrate"
	"github.com/AbhishekMashetty/axon/pkg/config"
	"github.com/AbhishekMashetty/axon/pkg/logger"
)

func main() {
	command := flag.String("command", "up", "migrate command (up|status|down)")
	timeout := flag.Duration("timeout", time.Minute, "command timeout")
	target := flag.Int64("target", 0, "target version for down command (optional)")
	flag.Parse()

	cfg := config.LoadAPIConfig()
	log := logger.New("migrate", logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	runner, err := migrate.New(pool, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migration runner", "error", err)
		os.Exit(1)
	}

	switch *command {
	case "up":
		if err := runner.Ensure(ctx); err != nil {
			log.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
	case "status":
		states, err := runner.Status(ctx)
		if err != nil {
			log.Error("failed to fetch migration status", "error", err)
			os.Exit(1)
		}
		t := tabby.New()
		t.AddHeader("VERSION", "STATE", "APPLIED AT", "PATH")
		for _, st := range states {
			state, appliedAt := "pending", "-"
			if st.Applied {
				state = "applied"
				appliedAt = st.AppliedAt.UTC().Format(time.RFC3339)
			}
			t.AddLine(st.Version, state, appliedAt, st.Path)
		}
		t.Print()
	case "down":
		if err := runner.Down(ctx, *target); err != nil {
			log.Error("failed to roll back migrations", "error", err)
			os.Exit(1)
		}
	default:
		log.Error("unsupported command", "command", *command)
		os.Exit(1)
	}

	log.Info("migration command completed", "command", *command)
}
