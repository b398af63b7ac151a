package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/vidport/internal/catalog"
	"github.com/desertthunder/vidport/internal/models"
	"github.com/desertthunder/vidport/internal/shared"
	"github.com/desertthunder/vidport/internal/sources"
	"github.com/desertthunder/vidport/internal/tasks"
)

// readCatalog parses the catalog file at path. An empty format is guessed from the extension.
func readCatalog(path, format string) ([]models.CandidateItem, error) {
	f := catalog.FormatFromPath(path)
	if format != "" {
		parsed, err := catalog.ParseFormat(format)
		if err != nil {
			return nil, err
		}
		f = parsed
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer file.Close()

	items, err := catalog.Parse(file, f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	return items, nil
}

// Scan matches a catalog file against a source.
func (r *Runner) Scan(ctx context.Context, cmd *cli.Command) error {
	source := cmd.String("source")
	path := cmd.String("catalog")
	if source == "" || path == "" {
		return fmt.Errorf("%w: --source and --catalog are required", shared.ErrMissingArgument)
	}

	candidates, err := readCatalog(path, cmd.String("format"))
	if err != nil {
		return err
	}
	r.logger.Info("catalog loaded", "path", path, "entries", len(candidates))

	return r.scan(ctx, source, candidates, cmd.Bool("json"))
}

// ScanArchive lists the archive root and matches every video file in it.
func (r *Runner) ScanArchive(ctx context.Context, cmd *cli.Command) error {
	src, err := r.registry(ctx).Get(sources.ArchiveName)
	if err != nil {
		return fmt.Errorf("%w: set sources.archive.root", err)
	}

	archive, ok := src.(*sources.ArchiveSource)
	if !ok {
		return fmt.Errorf("%w: archive source cannot be listed", shared.ErrServiceUnavailable)
	}

	entries, err := archive.List(ctx)
	if err != nil {
		return err
	}

	var exts []string
	if e := cmd.StringSlice("ext"); len(e) > 0 {
		exts = e
	}
	candidates := catalog.FromListing(entries, exts)
	r.logger.Info("archive listed", "root", archive.Root(), "files", len(entries), "videos", len(candidates))

	return r.scan(ctx, sources.ArchiveName, candidates, cmd.Bool("json"))
}

func (r *Runner) scan(ctx context.Context, source string, candidates []models.CandidateItem, useJSON bool) error {
	updates := make(chan tasks.ProgressUpdate, 64)
	p, err := r.openPipeline(ctx, tasks.Options{Progress: updates})
	if err != nil {
		return err
	}
	defer p.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range updates {
			r.logger.Debug(u.Message, "phase", u.Phase, "step", u.Step, "total", u.Total)
		}
	}()

	report, err := p.orch.Scan(ctx, source, candidates)
	close(updates)
	<-done
	if err != nil {
		return err
	}

	if useJSON {
		return r.writeJSON(report, true)
	}

	r.writePlainHeader(fmt.Sprintf("Scan of %s: %d entries", report.Source, report.Total))
	outcomes := make([]string, 0, len(report.Counts))
	for outcome := range report.Counts {
		outcomes = append(outcomes, string(outcome))
	}
	sort.Strings(outcomes)
	for _, outcome := range outcomes {
		r.writePlain("  %-18s %d\n", outcome, report.Counts[tasks.MatchOutcome(outcome)])
	}
	return nil
}

// CatalogImport records the keys in a catalog file as already published.
func (r *Runner) CatalogImport(ctx context.Context, cmd *cli.Command) error {
	source := cmd.String("source")
	candidates, err := readCatalog(cmd.String("file"), cmd.String("format"))
	if err != nil {
		return err
	}

	p, err := r.openPipeline(ctx, tasks.Options{})
	if err != nil {
		return err
	}
	defer p.Close()

	imported, existing := 0, 0
	for _, c := range candidates {
		err := p.catalog.Create(ctx, &models.CatalogRecord{
			Source:    source,
			StableKey: c.StableKey,
			Title:     c.Title,
		})
		switch {
		case errors.Is(err, shared.ErrDuplicateKey):
			existing++
		case err != nil:
			return err
		default:
			imported++
		}
	}

	r.logger.Info("catalog imported", "source", source, "imported", imported, "existing", existing)
	r.writePlain("✓ Imported %d keys for %s (%d already present)\n", imported, source, existing)
	return nil
}

// CatalogList prints the published keys.
func (r *Runner) CatalogList(ctx context.Context, cmd *cli.Command) error {
	p, err := r.openPipeline(ctx, tasks.Options{})
	if err != nil {
		return err
	}
	defer p.Close()

	records, err := p.catalog.List(ctx, cmd.String("source"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		if records == nil {
			records = []models.CatalogRecord{}
		}
		return r.writeJSON(records, true)
	}

	r.writePlainHeader(fmt.Sprintf("Catalog (%d records)", len(records)))
	for _, rec := range records {
		r.writePlain("  %-8s %-32s %s\n", rec.Source, rec.StableKey, rec.Title)
	}
	return nil
}
