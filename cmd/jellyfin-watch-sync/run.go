package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/watchhero/jellyfin-watch-sync/internal/api/jellyfin"
	"github.com/watchhero/jellyfin-watch-sync/internal/config"
	"github.com/watchhero/jellyfin-watch-sync/internal/console"
	"github.com/watchhero/jellyfin-watch-sync/internal/history"
	"github.com/watchhero/jellyfin-watch-sync/internal/logger"
	syncsvc "github.com/watchhero/jellyfin-watch-sync/internal/sync"
)

// runSync is the default action: plan, provision, replay, summarize
func runSync(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		// Logger is not configured yet; write the one-line reason directly
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return cli.Exit("", 1)
	}

	applyFlags(c, cfg)

	logger.Setup(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     logger.ParseLogFormat(cfg.Logging.Format),
		TimeFormat: time.RFC3339,
	})
	log := logger.Get()

	log.Info("Starting jellyfin-watch-sync", map[string]interface{}{
		"version": version,
		"mode":    cfg.App.Mode,
		"dry_run": cfg.App.DryRun,
	})

	// An interrupt during the prompts aborts before any mutation; once
	// per-item writes begin it cancels at the next request boundary.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source := jellyfin.NewClient("source", cfg.Source.BaseURL, cfg.Source.APIKey)
	dest := jellyfin.NewClient("destination", cfg.Destination.BaseURL, cfg.Destination.APIKey)
	service := syncsvc.NewService(source, dest, cfg)
	term := console.New(os.Stdin, os.Stdout)

	startedAt := time.Now()

	plan, err := service.Plan(ctx)
	if err != nil {
		return fmt.Errorf("sync could not start: %w", err)
	}

	usersCreated := 0
	if len(plan.Missing) > 0 {
		create := cfg.App.CreateUsers
		if cfg.App.Mode == config.ModeInteractive {
			names := make([]string, len(plan.Missing))
			for i, u := range plan.Missing {
				names[i] = u.Name
			}
			term.PresentMissingUsers(names)
			create, err = term.Confirm(ctx, "Create these users on the destination?")
			if err != nil {
				return err
			}
		}
		if create {
			// An interrupt at the prompt must abort before any mutation
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("run aborted before any changes were made: %w", err)
			}
			summary := service.CreateMissingUsers(ctx, plan.Missing)
			term.CreateSummary(summary)
			usersCreated = summary.Created

			if summary.Created > 0 && !cfg.App.DryRun {
				// Newly created users become common users for this run
				plan, err = service.Plan(ctx)
				if err != nil {
					return fmt.Errorf("failed to refresh user lists: %w", err)
				}
			}
		}
	}

	if len(plan.Common) == 0 {
		return fmt.Errorf("no common users between source and destination, nothing to sync")
	}

	var pairs []syncsvc.UserPair
	if cfg.App.Mode == config.ModeInteractive {
		pairs, err = term.ChooseTarget(ctx, plan.Common)
		if err != nil {
			return err
		}
	} else {
		pairs, err = syncsvc.SelectTarget(plan, cfg.App.Target)
		if err != nil {
			return err
		}
	}

	summary, err := service.SyncAll(ctx, pairs, term.Progress)
	if err != nil {
		return err
	}
	term.RunSummary(summary)

	if cfg.History.Enabled {
		if err := recordRun(cfg, startedAt, usersCreated, summary); err != nil {
			// Recording is best-effort; the sync itself succeeded
			log.Warn("Failed to record run history", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	// Per-item failures are reported in the summary, not the exit code
	return nil
}

// applyFlags layers command-line flags over the loaded configuration
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.Bool("batch") {
		cfg.App.Mode = config.ModeBatch
	}
	if target := c.String("target"); target != "" {
		cfg.App.Target = target
	}
	if c.Bool("create-users") {
		cfg.App.CreateUsers = true
	}
	if c.Bool("dry-run") {
		cfg.App.DryRun = true
	}
}

func recordRun(cfg *config.Config, startedAt time.Time, usersCreated int, summary *syncsvc.RunSummary) error {
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Record(startedAt, cfg.App.Mode, cfg.App.DryRun, usersCreated, summary)
}

// runHistory prints the outcome of recent sync runs
func runHistory(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return cli.Exit("", 1)
	}

	if !cfg.History.Enabled {
		return fmt.Errorf("run history is disabled in the configuration")
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Recent(c.Int("limit"))
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No recorded sync runs.")
		return nil
	}

	for _, run := range runs {
		fmt.Printf("%s  mode=%s dry_run=%t users_created=%d total=%d completed=%d skipped=%d failed=%d\n",
			run.StartedAt.Format(time.RFC3339), run.Mode, run.DryRun,
			run.UsersCreated, run.Total, run.Completed, run.Skipped, run.Failed)
		for _, u := range run.Users {
			fmt.Printf("    %-24s total=%d completed=%d skipped=%d failed=%d\n",
				u.UserName, u.Total, u.Completed, u.Skipped, u.Failed)
		}
	}
	return nil
}
