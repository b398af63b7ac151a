package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/vidport/internal/repositories"
	"github.com/desertthunder/vidport/internal/shared"
	"github.com/desertthunder/vidport/internal/sources"
	"github.com/desertthunder/vidport/internal/tasks"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	sources    []sources.Source
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	Sources    []sources.Source // Registered after the configured sources, replacing any with the same name
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		sources:    opts.Sources,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, scanCommand, catalogCommand, runCommand, statusCommand, itemsCommand,
		retryCommand, purgeCommand, reclaimCommand, handoffCommand, reportCommand, serveCommand, watchCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// SetLogger replaces the runner's logger.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// loadConfig reads .env and the config file named by --config, then applies
// environment overrides and --log-level. A missing config file keeps the defaults.
func (r *Runner) loadConfig(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if err := shared.LoadEnv(".env"); err != nil {
		return ctx, err
	}

	if path := cmd.String("config"); path != "" {
		r.configPath = path
	}

	if _, err := os.Stat(r.configPath); err == nil {
		config, err := shared.LoadConfig(r.configPath)
		if err != nil {
			return ctx, err
		}
		r.config = config
	} else if !errors.Is(err, os.ErrNotExist) {
		return ctx, fmt.Errorf("failed to stat config: %w", err)
	} else {
		r.logger.Debug("config file not found, using defaults", "path", r.configPath)
	}

	r.config.ApplyEnv()

	if lvl := cmd.String("log-level"); lvl != "" {
		level, err := log.ParseLevel(lvl)
		if err != nil {
			return ctx, fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
		}
		shared.SetLogLevel(r.logger, level)
	}

	return ctx, nil
}

// openDatabase opens the configured database and brings its schema up to date.
func (r *Runner) openDatabase() (*sql.DB, error) {
	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// registry builds the source registry from config. Sources that are not
// configured are left out.
func (r *Runner) registry(ctx context.Context) *sources.Registry {
	reg := sources.NewRegistry()

	remote := r.config.Sources.Remote
	if remote.BaseURL != "" && remote.LibraryID != "" {
		reg.Register(sources.NewRemoteSource(remote, r.httpClient, shared.WithLogger(r.logger, "source", sources.RemoteName)))
	}

	if root := r.config.Sources.Archive.Root; root != "" {
		archive, err := sources.NewArchiveSource(ctx, root)
		if err != nil {
			r.logger.Warn("archive source unavailable", "root", root, "error", err)
		} else {
			reg.Register(archive)
		}
	}

	for _, s := range r.sources {
		reg.Register(s)
	}
	return reg
}

// pipeline is everything a command needs to drive the orchestrator.
type pipeline struct {
	db       *sql.DB
	items    *repositories.ItemRepository
	catalog  *repositories.CatalogRepository
	registry *sources.Registry
	orch     *tasks.Orchestrator
}

func (p *pipeline) Close() error {
	return p.db.Close()
}

// openPipeline opens the database and wires an orchestrator over it.
//
// opts.Pipeline, opts.Storage and opts.Logger default to the runner's.
func (r *Runner) openPipeline(ctx context.Context, opts tasks.Options) (*pipeline, error) {
	db, err := r.openDatabase()
	if err != nil {
		return nil, err
	}

	if opts.Pipeline == (shared.PipelineConfig{}) {
		opts.Pipeline = r.config.Pipeline
	}
	if opts.Storage == (shared.StorageConfig{}) {
		opts.Storage = r.config.Storage
	}
	if opts.Logger == nil {
		opts.Logger = r.logger
	}

	p := &pipeline{
		db:       db,
		items:    repositories.NewItemRepository(db),
		catalog:  repositories.NewCatalogRepository(db),
		registry: r.registry(ctx),
	}
	p.orch = tasks.NewOrchestrator(p.items, p.catalog, p.registry, opts)
	return p, nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := shared.MarshalJSON(data, pretty)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
