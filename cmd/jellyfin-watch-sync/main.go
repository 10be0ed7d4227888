// jellyfin-watch-sync copies user accounts and watch-history state from
// one Jellyfin server to another. The source server always wins: each
// item's played flag, playback position, play count and last-played date
// are replayed onto the destination as an idempotent upsert.
//
// Environment variables:
//
//	SOURCE_URL       Base URL of the source server
//	SOURCE_API_KEY   API key for the source server
//	DEST_URL         Base URL of the destination server
//	DEST_API_KEY     API key for the destination server
//	LOG_LEVEL        (optional) debug, info, warn, error
//	LOG_FORMAT       (optional) console or json
//	DRY_RUN          (optional) true to log writes without performing them
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/watchhero/jellyfin-watch-sync/internal/config"
	"github.com/watchhero/jellyfin-watch-sync/internal/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "jellyfin-watch-sync",
		Usage:   "Sync user accounts and watch history between two Jellyfin servers",
		Version: fmt.Sprintf("%s (%s) %s", version, commit, date),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   config.DefaultConfigFile,
			},
			&cli.BoolFlag{
				Name:  "batch",
				Usage: "Run without prompts (non-interactive mode)",
			},
			&cli.StringFlag{
				Name:  "target",
				Usage: "User to sync in batch mode: \"all\" or a username",
			},
			&cli.BoolFlag{
				Name:  "create-users",
				Usage: "Create missing users on the destination (batch mode; interactive mode asks)",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Log what would be written without changing the destination",
			},
		},
		Action: runSync,
		Commands: []*cli.Command{
			{
				Name:  "history",
				Usage: "Show the outcome of recent sync runs",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Number of runs to show",
						Value: 10,
					},
				},
				Action: runHistory,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Get().Error("Run failed", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}
}
