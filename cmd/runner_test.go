package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/desertthunder/vidport/internal/models"
	"github.com/desertthunder/vidport/internal/shared"
	"github.com/desertthunder/vidport/internal/sources"
	tu "github.com/desertthunder/vidport/internal/testing"
)

func testConfig(t *testing.T) *shared.Config {
	t.Helper()
	dir := t.TempDir()

	config := shared.DefaultConfig()
	config.Database.Path = filepath.Join(dir, "vidport.db")
	config.Storage.Dir = filepath.Join(dir, "media")
	config.Sources.Archive.Root = ""
	config.Sources.Remote.BaseURL = ""
	config.Pipeline.TickInterval = shared.Duration{Duration: 10 * time.Millisecond}
	config.Pipeline.FetchTimeout = shared.Duration{Duration: 5 * time.Second}
	return config
}

// exec runs the CLI with args against r and returns what it printed.
func exec(t *testing.T, r *Runner, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	r.output = out

	argv := append([]string{"vidport", "--config", filepath.Join(t.TempDir(), "missing.toml")}, args...)
	err := newApp(r).Run(context.Background(), argv)
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}
			src := tu.NewFakeSource("remote")

			runner := NewRunner(RunnerOpts{
				Config:     config,
				ConfigPath: "/test/path/config.toml",
				Logger:     logger,
				Output:     output,
				HTTPClient: httpClient,
				Sources:    []sources.Source{src},
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.configPath != "/test/path/config.toml" {
				t.Errorf("expected configPath to be set, got %s", runner.configPath)
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
			if len(runner.sources) != 1 {
				t.Error("expected sources to be set")
			}
		})

		t.Run("with nil config uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Config: nil})
			if runner.config == nil {
				t.Error("expected default config to be set")
			}
		})

		t.Run("with nil logger uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Logger: nil})
			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
		})

		t.Run("with nil output uses stdout", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: nil})
			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
		})

		t.Run("with nil httpClient uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{HTTPClient: nil})
			if runner.httpClient != http.DefaultClient {
				t.Error("expected httpClient to default to http.DefaultClient")
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, true); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, false); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			expected := `{"key":"value"}` + "\n"
			if output.String() != expected {
				t.Errorf("expected %q, got %q", expected, output.String())
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}})

			// channels cannot be marshaled to JSON
			err := runner.writeJSON(make(chan int), false)
			if err == nil {
				t.Fatal("expected error for non-serializable data")
			}
			if !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("handles newline write failure", func(t *testing.T) {
			limitedWriter := tu.NewLimitedWriter(1, 0, &bytes.Buffer{})
			runner := NewRunner(RunnerOpts{Output: &limitedWriter})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil {
				t.Fatal("expected error writing newline")
			}
			if !strings.Contains(err.Error(), "failed to write newline") {
				t.Errorf("expected newline write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("writes plain text successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writePlain("hello %s", "world"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if output.String() != "hello world" {
				t.Errorf("expected 'hello world', got %q", output.String())
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writePlain("test")
			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		commands := runner.register()

		if len(commands) == 0 {
			t.Error("expected at least one command to be registered")
		}

		seen := map[string]bool{}
		for i, cmd := range commands {
			if cmd == nil {
				t.Fatalf("command at index %d is nil", i)
			}
			if seen[cmd.Name] {
				t.Errorf("command %s registered twice", cmd.Name)
			}
			seen[cmd.Name] = true
		}
		for _, name := range []string{"setup", "scan", "run", "status", "items", "retry", "purge", "reclaim", "handoff", "report", "serve", "watch"} {
			if !seen[name] {
				t.Errorf("expected %s command", name)
			}
		}
	})

	t.Run("registry", func(t *testing.T) {
		t.Run("skips unconfigured sources", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Config: testConfig(t), Logger: shared.NewLogger(io.Discard)})
			if names := runner.registry(context.Background()).Names(); len(names) != 0 {
				t.Errorf("expected no sources, got %v", names)
			}
		})

		t.Run("registers configured sources", func(t *testing.T) {
			config := testConfig(t)
			config.Sources.Remote.BaseURL = "http://127.0.0.1:1/api"
			config.Sources.Remote.LibraryID = "lib"
			config.Sources.Archive.Root = t.TempDir()

			runner := NewRunner(RunnerOpts{Config: config, Logger: shared.NewLogger(io.Discard)})
			names := runner.registry(context.Background()).Names()
			if strings.Join(names, ",") != "archive,remote" {
				t.Errorf("unexpected sources %v", names)
			}
		})

		t.Run("injected sources replace configured ones", func(t *testing.T) {
			config := testConfig(t)
			config.Sources.Archive.Root = t.TempDir()
			fake := tu.NewFakeSource(sources.ArchiveName)

			runner := NewRunner(RunnerOpts{Config: config, Logger: shared.NewLogger(io.Discard), Sources: []sources.Source{fake}})
			got, err := runner.registry(context.Background()).Get(sources.ArchiveName)
			if err != nil {
				t.Fatal(err)
			}
			if got != fake {
				t.Error("expected the injected source")
			}
		})
	})
}

func TestCommands(t *testing.T) {
	newRunner := func(t *testing.T, srcs ...sources.Source) *Runner {
		return NewRunner(RunnerOpts{
			Config:  testConfig(t),
			Logger:  shared.NewLogger(io.Discard),
			Sources: srcs,
		})
	}

	t.Run("setup database", func(t *testing.T) {
		r := newRunner(t)
		out, err := exec(t, r, "setup", "database")
		if err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		tu.AssertFileExists(t, r.config.Database.Path)
		if !strings.Contains(out, "Database ready") {
			t.Errorf("unexpected output %q", out)
		}
	})

	t.Run("log level is validated", func(t *testing.T) {
		r := newRunner(t)
		_, err := exec(t, r, "--log-level", "loud", "status")
		if !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("full migration flow", func(t *testing.T) {
		src := tu.NewFakeSource("remote")
		src.Put("a.mp4", []byte("alpha"))
		src.Put("b.mp4", []byte("bravo"))

		r := newRunner(t, src)
		dir := t.TempDir()
		catalogPath := writeFile(t, filepath.Join(dir, "catalog.json"), `[
			{"stable_key": "vid-a", "title": "Alpha", "source_locator": "a.mp4"},
			{"stable_key": "vid-b", "title": "Bravo", "source_locator": "b.mp4"},
			{"stable_key": "vid-c", "title": "Charlie", "source_locator": "c.mp4"}
		]`)
		publishedPath := writeFile(t, filepath.Join(dir, "published.jsonl"),
			`{"stable_key": "vid-b", "title": "Bravo", "source_locator": "b.mp4"}`+"\n")

		out, err := exec(t, r, "catalog", "import", "--source", "remote", "--file", publishedPath)
		if err != nil {
			t.Fatalf("catalog import failed: %v", err)
		}
		if !strings.Contains(out, "Imported 1 keys") {
			t.Errorf("unexpected import output %q", out)
		}

		out, err = exec(t, r, "scan", "--source", "remote", "--catalog", catalogPath, "--json")
		if err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		var report struct {
			Total  int            `json:"total"`
			Counts map[string]int `json:"counts"`
		}
		if err := json.Unmarshal([]byte(out), &report); err != nil {
			t.Fatalf("scan output is not JSON: %v\n%s", err, out)
		}
		if report.Total != 3 || report.Counts["pending_download"] != 1 ||
			report.Counts["skipped_duplicate"] != 1 || report.Counts["unmatched"] != 1 {
			t.Errorf("unexpected scan report %+v", report)
		}

		out, err = exec(t, r, "run", "--concurrency", "1")
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
		if !strings.Contains(out, "Run finished: 1 completed, 0 failed") {
			t.Errorf("unexpected run output %q", out)
		}
		if src.Fetches("b.mp4") != 0 {
			t.Error("duplicate should never be fetched")
		}

		out, err = exec(t, r, "items", "list", "--state", "pending_transcode", "--json")
		if err != nil {
			t.Fatalf("items list failed: %v", err)
		}
		var items []models.ItemView
		if err := json.Unmarshal([]byte(out), &items); err != nil {
			t.Fatalf("items output is not JSON: %v", err)
		}
		if len(items) != 1 || items[0].StableKey != "vid-a" {
			t.Fatalf("unexpected items %+v", items)
		}
		id := items[0].ID
		tu.AssertFileExists(t, items[0].AssetPath)

		out, err = exec(t, r, "handoff", "claim", "--worker", "w1")
		if err != nil {
			t.Fatalf("handoff claim failed: %v", err)
		}
		if !strings.Contains(out, id) {
			t.Errorf("claim output missing item id: %s", out)
		}

		out, err = exec(t, r, "handoff", "complete", "--id", id, "--worker", "w1")
		if err != nil {
			t.Fatalf("handoff complete failed: %v", err)
		}
		if !strings.Contains(out, "is now processed") {
			t.Errorf("unexpected complete output %q", out)
		}

		out, err = exec(t, r, "status", "--json")
		if err != nil {
			t.Fatalf("status failed: %v", err)
		}
		var stats models.Stats
		if err := json.Unmarshal([]byte(out), &stats); err != nil {
			t.Fatalf("status output is not JSON: %v", err)
		}
		if stats.Processed != 1 || stats.Total != 3 {
			t.Errorf("unexpected stats %+v", stats)
		}

		base := filepath.Join(t.TempDir(), "run")
		if _, err := exec(t, r, "report", "--format", "csv", "--out", base); err != nil {
			t.Fatalf("report failed: %v", err)
		}
		tu.AssertFileExists(t, base+"_items.csv")
		tu.AssertFileExists(t, base+"_stats.json")

		out, err = exec(t, r, "report", "--format", "markdown")
		if err != nil {
			t.Fatalf("report failed: %v", err)
		}
		if !strings.Contains(out, "# vidport migration report") {
			t.Errorf("unexpected markdown report %q", out)
		}
	})

	t.Run("handoff claim with nothing waiting", func(t *testing.T) {
		out, err := exec(t, newRunner(t), "handoff", "claim")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if out != "" {
			t.Errorf("expected no output, got %q", out)
		}
	})

	t.Run("retry needs a target", func(t *testing.T) {
		r := newRunner(t)
		if _, err := exec(t, r, "retry"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
		if _, err := exec(t, r, "retry", "--id", "x", "--all"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
		if _, err := exec(t, r, "retry", "--id", "missing"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("purge requires confirmation", func(t *testing.T) {
		_, err := exec(t, newRunner(t), "purge", "--id", "a")
		if !errors.Is(err, shared.ErrConfirmationRequired) {
			t.Errorf("expected ErrConfirmationRequired, got %v", err)
		}
	})

	t.Run("purge reports missing items", func(t *testing.T) {
		out, err := exec(t, newRunner(t), "purge", "--id", "a", "--id", "b", "--yes")
		if err != nil {
			t.Fatalf("purge failed: %v", err)
		}
		if !strings.Contains(out, "Purged 0 items") || !strings.Contains(out, "missing b") {
			t.Errorf("unexpected purge output %q", out)
		}
	})

	t.Run("scan requires source and catalog", func(t *testing.T) {
		if _, err := exec(t, newRunner(t), "scan"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("scan archive without an archive", func(t *testing.T) {
		if _, err := exec(t, newRunner(t), "scan", "archive"); !errors.Is(err, shared.ErrUnknownSource) {
			t.Errorf("expected ErrUnknownSource, got %v", err)
		}
	})

	t.Run("reclaim on an empty store", func(t *testing.T) {
		out, err := exec(t, newRunner(t), "reclaim")
		if err != nil {
			t.Fatalf("reclaim failed: %v", err)
		}
		if !strings.Contains(out, "Released 0 downloads and 0 transcodes") {
			t.Errorf("unexpected reclaim output %q", out)
		}
	})
}
