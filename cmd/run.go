package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/vidport/internal/formatter"
	"github.com/desertthunder/vidport/internal/server"
	"github.com/desertthunder/vidport/internal/shared"
	"github.com/desertthunder/vidport/internal/tasks"
	"github.com/desertthunder/vidport/internal/ui"
	"github.com/desertthunder/vidport/internal/web"
)

// Run downloads pending items in the foreground. It returns once nothing is
// left to claim, or after an interrupt has drained the in-flight downloads.
func (r *Runner) Run(ctx context.Context, cmd *cli.Command) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	updates := make(chan tasks.ProgressUpdate, 64)
	p, err := r.openPipeline(ctx, tasks.Options{ExitWhenIdle: true, Progress: updates})
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.orch.Start(ctx, cmd.Int("concurrency")); err != nil {
		return err
	}

	for done := false; !done; {
		select {
		case u := <-updates:
			r.logger.Info(u.Message, "phase", u.Phase)
		case <-ctx.Done():
			r.logger.Warn("interrupted, waiting for in-flight downloads")
			<-p.orch.Done()
			done = true
		case <-p.orch.Done():
			done = true
		}
	}

	status := p.orch.Status()
	stats, err := p.orch.StatsSnapshot(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}

	r.writePlainHeader(fmt.Sprintf("Run finished: %d completed, %d failed", status.Session.Completed, status.Session.Failed))
	r.writePlain("%s", formatter.ExportToText(stats))
	return nil
}

// Serve runs the HTTP control surface until interrupted. A run still active
// at shutdown is stopped and drained.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := shared.WithLogger(r.logger, "component", "server")
	p, err := r.openPipeline(ctx, tasks.Options{})
	if err != nil {
		return err
	}
	defer p.Close()

	addr := cmd.String("addr")
	if addr == "" {
		addr = r.config.Server.Addr()
	}

	api := server.NewAPI(ctx, p.orch, logger)
	router := server.NewRouter(api, logger, web.NewPage("vidport", r.config.Pipeline.TickInterval.Duration))

	if cmd.Bool("open") {
		url := "http://" + addr + "/"
		go func() {
			if err := shared.OpenBrowser(url); err != nil {
				logger.Warn("failed to open browser", "url", url, "error", err)
			}
		}()
	}

	serveErr := server.Serve(ctx, addr, router, logger)

	p.orch.Stop()
	<-p.orch.Done()
	return serveErr
}

// Watch launches the dashboard. Logs go to a file while it owns the terminal.
func (r *Runner) Watch(ctx context.Context, cmd *cli.Command) error {
	fileLogger, err := shared.NewFileLogger(cmd.String("log-file"))
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	fileLogger.SetLevel(r.logger.GetLevel())
	r.SetLogger(fileLogger)

	updates := make(chan tasks.ProgressUpdate, 64)
	p, err := r.openPipeline(ctx, tasks.Options{Progress: updates})
	if err != nil {
		return err
	}
	defer p.Close()

	concurrency := cmd.Int("concurrency")
	if concurrency == 0 {
		concurrency = r.config.Pipeline.Concurrency
	}

	runErr := ui.Run(ctx, p.orch, r.config.Pipeline.TickInterval.Duration, concurrency, updates)

	p.orch.Stop()
	<-p.orch.Done()
	return runErr
}
