package catalog

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desertthunder/vidport/internal/shared"
	"github.com/desertthunder/vidport/internal/sources"
)

func TestParseJSON(t *testing.T) {
	input := `[
		{"stable_key": "101", "title": "Opening", "source_locator": "v-101", "size_hint": 2048,
		 "metadata": {"duration": 90, "tags": ["keynote"], "published_at": "2021-05-01T10:00:00Z"}},
		{"stable_key": "102", "source_locator": "v-102"}
	]`

	items, err := Parse(strings.NewReader(input), FormatJSON)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "101", items[0].StableKey)
	assert.Equal(t, int64(2048), items[0].SizeHint)
	assert.Equal(t, 90, items[0].Metadata.Duration)
	assert.Equal(t, []string{"keynote"}, items[0].Metadata.Tags)
	require.NotNil(t, items[0].Metadata.PublishedAt)
	assert.Equal(t, 2021, items[0].Metadata.PublishedAt.Year())

	assert.Equal(t, "102", items[1].Title, "title defaults to the stable key")
}

func TestParseJSONL(t *testing.T) {
	input := "{\"stable_key\":\"a\",\"source_locator\":\"a.mp4\"}\n\n{\"stable_key\":\"b\",\"source_locator\":\"b.mp4\"}\n"

	items, err := Parse(strings.NewReader(input), FormatJSONL)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].StableKey)
	assert.Equal(t, "b", items[1].StableKey)

	_, err = Parse(strings.NewReader("{\"stable_key\":\"a\",\"source_locator\":\"a\"}\n{oops\n"), FormatJSONL)
	assert.ErrorIs(t, err, shared.ErrParse)
	assert.Contains(t, err.Error(), "line 2")
}

func TestParseCSV(t *testing.T) {
	input := "stable_key,title,source_locator,size_hint,tags,published_at,speaker\n" +
		"k1,First,2019/first.mp4,10,a;b,2020-01-02T03:04:05Z,Ada\n" +
		"k2,Second,2019/second.mp4,,,,\n"

	items, err := Parse(strings.NewReader(input), FormatCSV)
	require.NoError(t, err)
	require.Len(t, items, 2)

	first := items[0]
	assert.Equal(t, "k1", first.StableKey)
	assert.Equal(t, "2019/first.mp4", first.SourceLocator)
	assert.Equal(t, int64(10), first.SizeHint)
	assert.Equal(t, []string{"a", "b"}, first.Metadata.Tags)
	assert.Equal(t, time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC), *first.Metadata.PublishedAt)
	assert.Equal(t, "Ada", first.Metadata.Extra["speaker"])

	assert.Zero(t, items[1].SizeHint)
	assert.Nil(t, items[1].Metadata.Extra)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		input  string
	}{
		{"malformed json", FormatJSON, `[{"stable_key":`},
		{"missing stable key", FormatJSON, `[{"source_locator":"x"}]`},
		{"missing locator", FormatJSON, `[{"stable_key":"x"}]`},
		{"duplicate key", FormatJSON, `[{"stable_key":"x","source_locator":"a"},{"stable_key":"x","source_locator":"b"}]`},
		{"csv missing column", FormatCSV, "stable_key,title\nk1,First\n"},
		{"csv bad size", FormatCSV, "stable_key,source_locator,size_hint\nk1,a,big\n"},
		{"csv duplicate key", FormatCSV, "stable_key,source_locator\nk1,a\nk1,b\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := Parse(strings.NewReader(tt.input), tt.format)
			assert.ErrorIs(t, err, shared.ErrParse)
			assert.Nil(t, items)
		})
	}

	_, err := Parse(strings.NewReader("[]"), Format("xml"))
	assert.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestParseEmpty(t *testing.T) {
	for _, f := range []Format{FormatJSON, FormatJSONL, FormatCSV} {
		items, err := Parse(strings.NewReader(""), f)
		require.NoError(t, err, f)
		assert.Empty(t, items, f)
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" JSONL ")
	require.NoError(t, err)
	assert.Equal(t, FormatJSONL, f)

	f, err = ParseFormat("ndjson")
	require.NoError(t, err)
	assert.Equal(t, FormatJSONL, f)

	_, err = ParseFormat("yaml")
	assert.ErrorIs(t, err, shared.ErrInvalidArgument)

	assert.Equal(t, FormatCSV, FormatFromPath("export/videos.CSV"))
	assert.Equal(t, FormatJSONL, FormatFromPath("videos.jsonl"))
	assert.Equal(t, FormatJSON, FormatFromPath("videos.txt"))
}

func TestFromListing(t *testing.T) {
	mod := time.Date(2022, 3, 4, 5, 6, 7, 0, time.UTC)
	entries := []sources.ArchiveEntry{
		{Path: "b/talk.MKV", Size: 30},
		{Path: "notes.txt", Size: 1},
		{Path: "a/intro.mp4", Size: 10, ModTime: mod},
	}

	items := FromListing(entries, nil)
	require.Len(t, items, 2)

	assert.Equal(t, "a/intro.mp4", items[0].StableKey)
	assert.Equal(t, "a/intro.mp4", items[0].SourceLocator)
	assert.Equal(t, "intro", items[0].Title)
	assert.Equal(t, int64(10), items[0].SizeHint)
	assert.Equal(t, mod, *items[0].Metadata.PublishedAt)

	assert.Equal(t, "talk", items[1].Title)
	assert.Nil(t, items[1].Metadata.PublishedAt)

	only := FromListing(entries, []string{".txt"})
	require.Len(t, only, 1)
	assert.Equal(t, "notes.txt", only[0].StableKey)
}
