package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/vidport/internal/formatter"
	"github.com/desertthunder/vidport/internal/models"
	"github.com/desertthunder/vidport/internal/shared"
	"github.com/desertthunder/vidport/internal/tasks"
)

// Status prints counts by state and the progress percentage.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	p, err := r.openPipeline(ctx, tasks.Options{})
	if err != nil {
		return err
	}
	defer p.Close()

	stats, err := p.orch.StatsSnapshot(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(stats, true)
	}
	return r.writePlain("%s", formatter.ExportToText(stats))
}

func criteria(state, source string) (map[string]any, error) {
	c := map[string]any{}
	if state != "" {
		st, err := models.ParseState(state)
		if err != nil {
			return nil, err
		}
		c["state"] = st
	}
	if source != "" {
		c["source"] = source
	}
	return c, nil
}

// ItemsList prints items in sequence order.
func (r *Runner) ItemsList(ctx context.Context, cmd *cli.Command) error {
	c, err := criteria(cmd.String("state"), cmd.String("source"))
	if err != nil {
		return err
	}

	p, err := r.openPipeline(ctx, tasks.Options{})
	if err != nil {
		return err
	}
	defer p.Close()

	items, err := p.orch.Items(ctx, c)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		if items == nil {
			items = []*models.MigrationItem{}
		}
		return r.writeJSON(items, true)
	}

	r.writePlainHeader(fmt.Sprintf("Items (%d)", len(items)))
	for _, item := range items {
		r.writePlain("%4d  %-36s  %-20s  %-18s", item.Sequence(), item.ID(), item.StableKey(), item.State())
		if item.RetryCount() > 0 {
			r.writePlain("  retries=%d", item.RetryCount())
		}
		if item.FailureReason() != "" {
			r.writePlain("  %s", item.FailureReason())
		}
		r.writePlain("\n")
	}
	return nil
}

// ItemsShow prints one item as JSON.
func (r *Runner) ItemsShow(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: item id is required", shared.ErrMissingArgument)
	}

	p, err := r.openPipeline(ctx, tasks.Options{})
	if err != nil {
		return err
	}
	defer p.Close()

	item, err := p.orch.Item(ctx, id)
	if err != nil {
		return err
	}
	return r.writeJSON(item, true)
}

// Retry requeues one failed item, or all of them with --all.
func (r *Runner) Retry(ctx context.Context, cmd *cli.Command) error {
	id, all := cmd.String("id"), cmd.Bool("all")
	switch {
	case id == "" && !all:
		return fmt.Errorf("%w: either --id or --all must be provided", shared.ErrMissingArgument)
	case id != "" && all:
		return fmt.Errorf("%w: cannot specify both --id and --all", shared.ErrInvalidArgument)
	}

	p, err := r.openPipeline(ctx, tasks.Options{})
	if err != nil {
		return err
	}
	defer p.Close()

	if all {
		n, err := p.orch.RetryAllFailed(ctx)
		if err != nil {
			return err
		}
		return r.writePlain("✓ %d items queued for retry\n", n)
	}

	if err := p.orch.RetrySingle(ctx, id); err != nil {
		return err
	}
	return r.writePlain("✓ %s queued for retry\n", id)
}

// Purge deletes items and their assets. Requires --yes.
func (r *Runner) Purge(ctx context.Context, cmd *cli.Command) error {
	ids := cmd.StringSlice("id")
	if !cmd.Bool("yes") {
		return fmt.Errorf("%w: purging %d items deletes their files, pass --yes", shared.ErrConfirmationRequired, len(ids))
	}

	p, err := r.openPipeline(ctx, tasks.Options{})
	if err != nil {
		return err
	}
	defer p.Close()

	res, err := p.orch.Purge(ctx, ids)
	if err != nil {
		return err
	}

	r.writePlain("✓ Purged %d items\n", len(res.Removed))
	for _, id := range res.Skipped {
		r.writePlain("  skipped %s (claimed)\n", id)
	}
	for _, id := range res.Missing {
		r.writePlain("  missing %s\n", id)
	}
	return nil
}

// Reclaim releases stale claims and reconciles downloaded items.
func (r *Runner) Reclaim(ctx context.Context, cmd *cli.Command) error {
	p, err := r.openPipeline(ctx, tasks.Options{})
	if err != nil {
		return err
	}
	defer p.Close()

	report, err := p.orch.Reclaim(ctx)
	if err != nil {
		return err
	}
	return r.writePlain("✓ Released %d downloads and %d transcodes, recovered %d downloaded items\n",
		report.Downloads, report.Transcodes, report.Recovered)
}

// HandoffClaim claims the next pending_transcode item and prints it as JSON.
func (r *Runner) HandoffClaim(ctx context.Context, cmd *cli.Command) error {
	worker := cmd.String("worker")
	if worker == "" {
		worker = "transcoder-" + shared.GenerateID()
	}

	p, err := r.openPipeline(ctx, tasks.Options{})
	if err != nil {
		return err
	}
	defer p.Close()

	item, err := p.orch.Handoff().Claim(ctx, worker)
	if errors.Is(err, shared.ErrNoEligibleItems) {
		r.logger.Info("nothing waiting for transcode")
		return nil
	}
	if err != nil {
		return err
	}

	return r.writeJSON(map[string]any{"worker": worker, "item": item}, true)
}

// HandoffComplete reports a transcode outcome.
func (r *Runner) HandoffComplete(ctx context.Context, cmd *cli.Command) error {
	id, worker := cmd.String("id"), cmd.String("worker")
	failed := cmd.Bool("failed")

	p, err := r.openPipeline(ctx, tasks.Options{})
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.orch.Handoff().Complete(ctx, id, worker, !failed, cmd.String("reason")); err != nil {
		return err
	}

	item, err := p.orch.Item(ctx, id)
	if err != nil {
		return err
	}
	return r.writePlain("✓ %s is now %s\n", id, item.State())
}

// Report exports items and stats in the requested format.
func (r *Runner) Report(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	c, err := criteria(cmd.String("state"), "")
	if err != nil {
		return err
	}

	p, err := r.openPipeline(ctx, tasks.Options{})
	if err != nil {
		return err
	}
	defer p.Close()

	stats, err := p.orch.StatsSnapshot(ctx)
	if err != nil {
		return err
	}
	items, err := p.orch.Items(ctx, c)
	if err != nil {
		return err
	}

	report := &formatter.Report{Title: "vidport migration report", Stats: stats, Items: items}
	out := cmd.String("out")

	switch {
	case out == "":
		return formatter.Write(r.output, format, report)
	case format == formatter.FormatCSV:
		res, err := formatter.WriteCSVExport(report, out)
		if err != nil {
			return err
		}
		return r.writePlain("✓ Wrote %s and %s\n", res.ItemsFile, res.StatsFile)
	case format == formatter.FormatMarkdown:
		path, err := formatter.WriteMarkdownExport(report, out)
		if err != nil {
			return err
		}
		return r.writePlain("✓ Wrote %s\n", path)
	default:
		return r.writeReportFile(out, format, report)
	}
}

func (r *Runner) writeReportFile(path string, format formatter.Format, report *formatter.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := formatter.Write(f, format, report); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close report file: %w", err)
	}
	return r.writePlain("✓ Wrote %s\n", path)
}
