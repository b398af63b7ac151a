// package formatter renders item reports and progress summaries as CSV, Markdown, JSON and plain text
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/desertthunder/vidport/internal/models"
	"github.com/desertthunder/vidport/internal/shared"
)

// Format is an output format for reports.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatText     Format = "text"
)

// ParseFormat converts s into a [Format]. "md" and "txt" are accepted as aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "text", "txt", "":
		return FormatText, nil
	}
	return "", fmt.Errorf("%w: unknown report format %q", shared.ErrInvalidArgument, s)
}

// Report is everything a report renders: the aggregate view and the items it covers.
type Report struct {
	Title string                  `json:"title"`
	Stats models.Stats            `json:"stats"`
	Items []*models.MigrationItem `json:"items"`
}

var csvHeaders = []string{"ID", "Sequence", "Source", "Stable Key", "Title", "State", "Retries", "Failure Reason", "Bytes", "Checksum", "Asset Path"}

// ExportToCSV converts items to CSV with one row per item.
func ExportToCSV(items []*models.MigrationItem) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(csvHeaders); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, item := range items {
		record := []string{
			item.ID(),
			strconv.Itoa(item.Sequence()),
			item.Source(),
			item.StableKey(),
			item.Title(),
			item.State().String(),
			strconv.Itoa(item.RetryCount()),
			item.FailureReason(),
			strconv.FormatInt(item.Bytes(), 10),
			item.Checksum(),
			item.AssetPath(),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown renders the report as a Markdown document: a summary
// table of counts by state followed by the items that need attention.
func ExportToMarkdown(r *Report) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s\n\n", r.Title)
	fmt.Fprintf(&buf, "**Progress**: %d of %d importable items processed (%.1f%%)\n\n", r.Stats.Processed, r.Stats.Importable, r.Stats.Percent)

	buf.WriteString("| State | Items |\n|---|---|\n")
	for _, state := range models.AllStates {
		fmt.Fprintf(&buf, "| %s | %d |\n", state, r.Stats.Counts[state])
	}
	fmt.Fprintf(&buf, "| **total** | %d |\n\n", r.Stats.Total)

	buf.WriteString("## Items\n\n")
	if len(r.Items) == 0 {
		buf.WriteString("_No items._\n")
		return buf.Bytes(), nil
	}

	for _, item := range r.Items {
		fmt.Fprintf(&buf, "%d. `%s` %s [%s]", item.Sequence(), item.StableKey(), markdownEscape(item.Title()), item.State())
		if item.RetryCount() > 0 {
			fmt.Fprintf(&buf, " (retries: %d)", item.RetryCount())
		}
		if item.FailureReason() != "" {
			fmt.Fprintf(&buf, ": %s", markdownEscape(item.FailureReason()))
		}
		buf.WriteString("\n")
	}

	return buf.Bytes(), nil
}

// ExportToText renders the stats as a plain text summary.
func ExportToText(stats models.Stats) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Progress: %.1f%% (%d/%d processed)\n", stats.Percent, stats.Processed, stats.Importable)
	fmt.Fprintf(&buf, "Total: %d  Active: %d  Pending: %d  Failed: %d\n\n", stats.Total, stats.Active, stats.Pending, stats.Failed)

	width := 0
	for _, state := range models.AllStates {
		width = max(width, len(state))
	}
	for _, state := range models.AllStates {
		fmt.Fprintf(&buf, "  %-*s %6d\n", width, state, stats.Counts[state])
	}

	return buf.Bytes()
}

// ExportToJSON renders the whole report as indented JSON.
func ExportToJSON(r *Report) ([]byte, error) {
	if r.Items == nil {
		r.Items = []*models.MigrationItem{}
	}
	return shared.MarshalJSON(r, true)
}

// Write renders r in format to w.
func Write(w io.Writer, format Format, r *Report) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatCSV:
		data, err = ExportToCSV(r.Items)
	case FormatMarkdown:
		data, err = ExportToMarkdown(r)
	case FormatJSON:
		data, err = ExportToJSON(r)
	case FormatText:
		data = ExportToText(r.Stats)
	default:
		return fmt.Errorf("%w: unknown report format %q", shared.ErrInvalidArgument, format)
	}
	if err != nil {
		return err
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// CSVExportResult contains the paths of files created by WriteCSVExport
type CSVExportResult struct {
	ItemsFile string
	StatsFile string
}

// WriteCSVExport writes the items as {base}_items.csv and the stats as {base}_stats.json.
//
// Defaults to "report" as the base filename.
func WriteCSVExport(r *Report, baseFilepath string) (*CSVExportResult, error) {
	if baseFilepath == "" {
		baseFilepath = "report"
	}

	csvData, err := ExportToCSV(r.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CSV: %w", err)
	}

	itemsFile := baseFilepath + "_items.csv"
	if err := os.WriteFile(itemsFile, csvData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write CSV file: %w", err)
	}

	statsJSON, err := shared.MarshalJSON(r.Stats, true)
	if err != nil {
		return nil, fmt.Errorf("failed to generate stats JSON: %w", err)
	}

	statsFile := baseFilepath + "_stats.json"
	if err := os.WriteFile(statsFile, statsJSON, 0644); err != nil {
		return nil, fmt.Errorf("failed to write stats file: %w", err)
	}

	return &CSVExportResult{ItemsFile: itemsFile, StatsFile: statsFile}, nil
}

// WriteMarkdownExport writes the report to {dir}/README.md, creating dir as needed.
func WriteMarkdownExport(r *Report, outputDir string) (string, error) {
	if outputDir == "" {
		outputDir = "report"
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	mdData, err := ExportToMarkdown(r)
	if err != nil {
		return "", fmt.Errorf("failed to generate Markdown: %w", err)
	}

	mdFile := filepath.Join(outputDir, "README.md")
	if err := os.WriteFile(mdFile, mdData, 0644); err != nil {
		return "", fmt.Errorf("failed to write Markdown file: %w", err)
	}
	return mdFile, nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func markdownEscape(s string) string {
	r := strings.NewReplacer("|", `\|`, "*", `\*`, "_", `\_`, "`", "\\`", "\n", " ")
	return r.Replace(s)
}
