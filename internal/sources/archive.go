package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	_ "github.com/rclone/rclone/backend/local"
	"github.com/rclone/rclone/fs"
	"github.com/rclone/rclone/fs/operations"

	"github.com/desertthunder/vidport/internal/shared"
)

// ArchiveName is the registry name of [ArchiveSource].
const ArchiveName = "archive"

// ArchiveEntry describes one object found while listing an archive.
type ArchiveEntry struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// ArchiveSource implements [Source] over an rclone filesystem rooted at the
// archive directory. Locators are slash separated paths relative to the root.
type ArchiveSource struct {
	root string
	f    fs.Fs
}

// NewArchiveSource opens root, which may be a local directory or any rclone path.
func NewArchiveSource(ctx context.Context, root string) (*ArchiveSource, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: archive root is required", shared.ErrMissingConfig)
	}

	f, err := fs.NewFs(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", root, err)
	}
	return &ArchiveSource{root: root, f: f}, nil
}

// Name returns the source name.
func (a *ArchiveSource) Name() string { return ArchiveName }

// Root returns the archive root the source was opened with.
func (a *ArchiveSource) Root() string { return a.root }

// Probe checks that a file exists at locator.
func (a *ArchiveSource) Probe(ctx context.Context, locator string) (ProbeResult, error) {
	remote, err := cleanLocator(locator)
	if err != nil {
		return ProbeResult{}, err
	}

	o, err := a.f.NewObject(ctx, remote)
	if isMissing(err) {
		return ProbeResult{Exists: false}, nil
	}
	if err != nil {
		return ProbeResult{}, fmt.Errorf("failed to stat %s: %w", remote, err)
	}
	return ProbeResult{Exists: true, Size: o.Size()}, nil
}

// Fetch opens the file at locator.
func (a *ArchiveSource) Fetch(ctx context.Context, locator string) (io.ReadCloser, int64, error) {
	remote, err := cleanLocator(locator)
	if err != nil {
		return nil, 0, err
	}

	o, err := a.f.NewObject(ctx, remote)
	if isMissing(err) {
		return nil, 0, fmt.Errorf("%w: no file at %s", shared.ErrNotFound, remote)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to stat %s: %w", remote, err)
	}

	rc, err := o.Open(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s: %w", remote, err)
	}
	return rc, o.Size(), nil
}

// List walks the archive and returns every object under the root.
func (a *ArchiveSource) List(ctx context.Context) ([]ArchiveEntry, error) {
	var entries []ArchiveEntry
	err := operations.ListFn(ctx, a.f, func(o fs.Object) {
		entries = append(entries, ArchiveEntry{
			Path:    o.Remote(),
			Size:    o.Size(),
			ModTime: o.ModTime(ctx),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list archive %s: %w", a.root, err)
	}
	return entries, nil
}

func cleanLocator(locator string) (string, error) {
	p := strings.TrimSpace(strings.ReplaceAll(locator, "\\", "/"))
	if p == "" {
		return "", fmt.Errorf("%w: empty archive path", shared.ErrInvalidInput)
	}
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if p == "" || p == "." {
		return "", fmt.Errorf("%w: archive path %q names the root", shared.ErrInvalidInput, locator)
	}
	return p, nil
}

func isMissing(err error) bool {
	return errors.Is(err, fs.ErrorObjectNotFound) ||
		errors.Is(err, fs.ErrorIsDir) ||
		errors.Is(err, fs.ErrorNotAFile) ||
		errors.Is(err, fs.ErrorDirNotFound)
}
