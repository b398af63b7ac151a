// Package catalog turns source catalogs into ordered candidate items.
//
// A catalog is the list of videos a source claims to hold. Three formats are
// accepted: a JSON array, JSON lines, and CSV with a header row. Catalog
// order is preserved; it becomes claim order once the matcher creates items.
package catalog

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/desertthunder/vidport/internal/models"
	"github.com/desertthunder/vidport/internal/shared"
	"github.com/desertthunder/vidport/internal/sources"
)

// Format names a catalog encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

// ParseFormat converts s into a [Format].
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatJSONL, FormatCSV:
		return f, nil
	case "ndjson":
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("%w: unknown catalog format %q", shared.ErrInvalidArgument, s)
	}
}

// FormatFromPath guesses the format from a file extension, defaulting to JSON.
func FormatFromPath(p string) Format {
	switch strings.ToLower(path.Ext(p)) {
	case ".jsonl", ".ndjson":
		return FormatJSONL
	case ".csv":
		return FormatCSV
	default:
		return FormatJSON
	}
}

// Parse reads a whole catalog from r. Any malformed record, missing stable
// key or locator, or repeated stable key fails the whole catalog with
// [shared.ErrParse]; no partial result is returned.
func Parse(r io.Reader, format Format) ([]models.CandidateItem, error) {
	var (
		items []models.CandidateItem
		err   error
	)

	switch format {
	case FormatJSON:
		items, err = parseJSON(r)
	case FormatJSONL:
		items, err = parseJSONL(r)
	case FormatCSV:
		items, err = parseCSV(r)
	default:
		return nil, fmt.Errorf("%w: unknown catalog format %q", shared.ErrInvalidArgument, format)
	}
	if err != nil {
		return nil, err
	}

	if err := validate(items); err != nil {
		return nil, err
	}
	return items, nil
}

func parseJSON(r io.Reader) ([]models.CandidateItem, error) {
	var items []models.CandidateItem
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", shared.ErrParse, err)
	}
	return items, nil
}

func parseJSONL(r io.Reader) ([]models.CandidateItem, error) {
	var items []models.CandidateItem

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var item models.CandidateItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", shared.ErrParse, line, err)
		}
		items = append(items, item)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrParse, err)
	}
	return items, nil
}

// csvColumns are the recognised CSV header names. Only stable_key and
// source_locator are required; unknown columns land in Metadata.Extra.
var csvColumns = map[string]bool{
	"stable_key": true, "title": true, "source_locator": true, "size_hint": true,
	"duration": true, "views": true, "category": true, "tags": true, "published_at": true,
}

func parseCSV(r io.Reader) ([]models.CandidateItem, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", shared.ErrParse, err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"stable_key", "source_locator"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("%w: header is missing %s", shared.ErrParse, required)
		}
	}

	var items []models.CandidateItem
	for row := 2; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", shared.ErrParse, row, err)
		}

		item, err := csvItem(index, record)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", shared.ErrParse, row, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func csvItem(index map[string]int, record []string) (models.CandidateItem, error) {
	field := func(name string) string {
		i, ok := index[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	item := models.CandidateItem{
		StableKey:     field("stable_key"),
		Title:         field("title"),
		SourceLocator: field("source_locator"),
		Metadata:      models.Metadata{Category: field("category")},
	}

	if v := field("size_hint"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return item, fmt.Errorf("size_hint %q: %v", v, err)
		}
		item.SizeHint = n
	}
	if v := field("duration"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return item, fmt.Errorf("duration %q: %v", v, err)
		}
		item.Metadata.Duration = n
	}
	if v := field("views"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return item, fmt.Errorf("views %q: %v", v, err)
		}
		item.Metadata.Views = n
	}
	if v := field("tags"); v != "" {
		for tag := range strings.SplitSeq(v, ";") {
			if tag = strings.TrimSpace(tag); tag != "" {
				item.Metadata.Tags = append(item.Metadata.Tags, tag)
			}
		}
	}
	if v := field("published_at"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return item, fmt.Errorf("published_at %q: %v", v, err)
		}
		ts = ts.UTC()
		item.Metadata.PublishedAt = &ts
	}

	for name, i := range index {
		if csvColumns[name] || i >= len(record) || record[i] == "" {
			continue
		}
		if item.Metadata.Extra == nil {
			item.Metadata.Extra = make(map[string]string)
		}
		item.Metadata.Extra[name] = record[i]
	}
	return item, nil
}

func validate(items []models.CandidateItem) error {
	seen := make(map[string]int, len(items))
	for i := range items {
		items[i].StableKey = strings.TrimSpace(items[i].StableKey)
		items[i].SourceLocator = strings.TrimSpace(items[i].SourceLocator)
		if items[i].Title == "" {
			items[i].Title = items[i].StableKey
		}

		if err := items[i].Validate(); err != nil {
			return fmt.Errorf("%w: entry %d: %v", shared.ErrParse, i+1, err)
		}
		if first, ok := seen[items[i].StableKey]; ok {
			return fmt.Errorf("%w: entry %d repeats stable_key %q from entry %d", shared.ErrParse, i+1, items[i].StableKey, first)
		}
		seen[items[i].StableKey] = i + 1
	}
	return nil
}

// VideoExtensions are the file extensions [FromListing] keeps by default.
var VideoExtensions = []string{".mp4", ".mov", ".mkv", ".webm", ".avi", ".m4v", ".mpg", ".mpeg", ".wmv", ".flv"}

// FromListing builds a catalog from an archive listing. The stable key and
// locator are the relative path; the title is the file name without its
// extension. Entries whose extension is not in exts are dropped; a nil exts
// means [VideoExtensions]. Order follows the listing sorted by path.
func FromListing(entries []sources.ArchiveEntry, exts []string) []models.CandidateItem {
	if exts == nil {
		exts = VideoExtensions
	}
	keep := make(map[string]bool, len(exts))
	for _, e := range exts {
		keep[strings.ToLower(e)] = true
	}

	sorted := make([]sources.ArchiveEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	items := make([]models.CandidateItem, 0, len(sorted))
	for _, e := range sorted {
		ext := strings.ToLower(path.Ext(e.Path))
		if !keep[ext] {
			continue
		}

		name := path.Base(e.Path)
		item := models.CandidateItem{
			StableKey:     e.Path,
			Title:         strings.TrimSuffix(name, path.Ext(name)),
			SourceLocator: e.Path,
			SizeHint:      e.Size,
		}
		if !e.ModTime.IsZero() {
			mod := e.ModTime.UTC()
			item.Metadata.PublishedAt = &mod
		}
		items = append(items, item)
	}
	return items
}
