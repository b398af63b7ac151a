// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// setupCommand handles setup operations for the config file and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:   "config",
				Usage:  "Write the default config.toml to the --config path",
				Action: r.SetupConfig,
			},
		},
	}
}

// scanCommand runs the matcher over a catalog.
func scanCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Match a catalog against a source and queue new items",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "source",
				Usage: "Source the catalog refers to (remote or archive)",
			},
			&cli.StringFlag{
				Name:  "catalog",
				Usage: "Path to the catalog file",
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "Catalog format: json, jsonl or csv (default: from the file extension)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Scan,
		Commands: []*cli.Command{
			{
				Name:  "archive",
				Usage: "Build the catalog from the archive listing and match it",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "ext",
						Usage: "File extensions to include (default: common video extensions)",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.ScanArchive,
			},
		},
	}
}

// catalogCommand manages the destination's published keys.
func catalogCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "catalog",
		Usage: "Manage the destination catalog",
		Commands: []*cli.Command{
			{
				Name:  "import",
				Usage: "Record already-published stable keys so scans mark them as duplicates",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "source",
						Usage:    "Source the keys belong to",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Path to the catalog file",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "format",
						Usage: "Catalog format: json, jsonl or csv (default: from the file extension)",
					},
				},
				Action: r.CatalogImport,
			},
			{
				Name:  "list",
				Usage: "List published keys",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "source",
						Usage: "Only list keys for this source",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.CatalogList,
			},
		},
	}
}

// runCommand runs the download pipeline in the foreground.
func runCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Download pending items until idle or interrupted",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "concurrency",
				Aliases: []string{"n"},
				Usage:   "Download slots (default: pipeline.concurrency)",
			},
		},
		Action: r.Run,
	}
}

// statusCommand prints counts and progress.
func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show item counts by state and progress",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Status,
	}
}

// itemsCommand inspects items.
func itemsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "items",
		Usage: "Inspect migration items",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List items in sequence order",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "state",
						Usage: "Only list items in this state",
					},
					&cli.StringFlag{
						Name:  "source",
						Usage: "Only list items from this source",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.ItemsList,
			},
			{
				Name:  "show",
				Usage: "Show one item",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "id",
					},
				},
				Action: r.ItemsShow,
			},
		},
	}
}

// retryCommand requeues failed items.
func retryCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "retry",
		Usage: "Requeue failed items",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "id",
				Usage: "Item to retry",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Retry every failed item",
			},
		},
		Action: r.Retry,
	}
}

// purgeCommand deletes items and their assets.
func purgeCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Delete items and their downloaded assets",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "id",
				Usage:    "Item to purge (repeatable)",
				Required: true,
			},
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "Confirm the purge",
			},
		},
		Action: r.Purge,
	}
}

// reclaimCommand releases orphaned claims.
func reclaimCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "reclaim",
		Usage:  "Release stale claims and reconcile downloaded items",
		Action: r.Reclaim,
	}
}

// handoffCommand is the transcoder's side of the pipeline.
func handoffCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "handoff",
		Usage: "Transcode handoff operations",
		Commands: []*cli.Command{
			{
				Name:  "claim",
				Usage: "Claim the next item waiting for transcode",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "worker",
						Usage: "Transcode worker id (default: generated)",
					},
				},
				Action: r.HandoffClaim,
			},
			{
				Name:  "complete",
				Usage: "Report the outcome of a transcode",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "Claimed item",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "worker",
						Usage:    "Worker id the claim was issued to",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "failed",
						Usage: "Mark the transcode as failed",
					},
					&cli.StringFlag{
						Name:  "reason",
						Usage: "Failure reason",
					},
				},
				Action: r.HandoffComplete,
			},
		},
	}
}

// reportCommand exports items and stats.
func reportCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "Export a migration report",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "format",
				Usage: "Report format: text, markdown, csv or json",
				Value: "text",
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Output path (csv: base filename, markdown: directory, others: file)",
			},
			&cli.StringFlag{
				Name:  "state",
				Usage: "Only include items in this state",
			},
		},
		Action: r.Report,
	}
}

// serveCommand runs the HTTP control surface.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the JSON API, metrics and status page",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (default: server.host:server.port)",
			},
			&cli.BoolFlag{
				Name:  "open",
				Usage: "Open the status page in a browser",
			},
		},
		Action: r.Serve,
	}
}

// watchCommand launches the terminal dashboard.
func watchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "watch",
		Aliases: []string{"tui", "ui"},
		Usage:   "Launch the interactive dashboard",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "concurrency",
				Aliases: []string{"n"},
				Usage:   "Download slots used by the start key (default: pipeline.concurrency)",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Where logs go while the dashboard owns the terminal",
				Value: "./tmp/vidport-watch.log",
			},
		},
		Action: r.Watch,
	}
}
