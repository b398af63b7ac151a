// package testing contains shared testing utilities
package testing

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/desertthunder/vidport/internal/shared"
	"github.com/desertthunder/vidport/internal/sources"
)

// SetupDB creates a migrated database for a test. In-memory databases are
// pinned to one connection; pass onDisk for tests that need real concurrency.
func SetupDB(t *testing.T, onDisk bool) *sql.DB {
	t.Helper()

	path := ":memory:"
	if onDisk {
		path = filepath.Join(t.TempDir(), "vidport.db")
	}

	db, err := shared.NewDatabase(path)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if onDisk {
		shared.ConfigureDatabase(db, 8, 8)
	}
	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// FakeSource is an in-memory [sources.Source].
//
// Objects are keyed by locator. Fetches can be made to fail, to hang until
// their context ends, or to wait on a gate so tests can hold downloads open.
type FakeSource struct {
	name string

	mu        sync.Mutex
	objects   map[string][]byte
	probeErrs map[string]error
	fetchErrs map[string]error
	hangs     map[string]bool
	reported  map[string]int64
	fetches   map[string]int
	gate      chan struct{}
	inFlight  int
	maxFlight int

	// Started receives the locator of every fetch once it is in flight, when non-nil.
	Started chan string
}

var _ sources.Source = (*FakeSource)(nil)

// NewFakeSource creates an empty fake named name.
func NewFakeSource(name string) *FakeSource {
	return &FakeSource{
		name:      name,
		objects:   make(map[string][]byte),
		probeErrs: make(map[string]error),
		fetchErrs: make(map[string]error),
		hangs:     make(map[string]bool),
		reported:  make(map[string]int64),
		fetches:   make(map[string]int),
	}
}

func (f *FakeSource) Name() string { return f.name }

// Put stores data under locator.
func (f *FakeSource) Put(locator string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[locator] = data
}

// Remove deletes locator.
func (f *FakeSource) Remove(locator string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, locator)
}

// FailProbe makes probes of locator return err.
func (f *FakeSource) FailProbe(locator string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeErrs[locator] = err
}

// FailFetch makes fetches of locator return err.
func (f *FakeSource) FailFetch(locator string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErrs[locator] = err
}

// Hang makes fetches of locator block until their context is done.
func (f *FakeSource) Hang(locator string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangs[locator] = true
}

// ReportSize makes fetches of locator report size instead of the real length.
func (f *FakeSource) ReportSize(locator string, size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reported[locator] = size
}

// Gate makes every fetch wait until the returned function is called.
func (f *FakeSource) Gate() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Fetches returns how many times locator was fetched.
func (f *FakeSource) Fetches(locator string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[locator]
}

// MaxInFlight returns the highest number of simultaneous fetches seen.
func (f *FakeSource) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxFlight
}

func (f *FakeSource) Probe(ctx context.Context, locator string) (sources.ProbeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.probeErrs[locator]; err != nil {
		return sources.ProbeResult{}, err
	}
	data, ok := f.objects[locator]
	if !ok {
		return sources.ProbeResult{Exists: false}, nil
	}
	return sources.ProbeResult{Exists: true, Size: int64(len(data))}, nil
}

func (f *FakeSource) Fetch(ctx context.Context, locator string) (io.ReadCloser, int64, error) {
	f.mu.Lock()
	f.fetches[locator]++
	f.inFlight++
	if f.inFlight > f.maxFlight {
		f.maxFlight = f.inFlight
	}
	gate, hang := f.gate, f.hangs[locator]
	fetchErr := f.fetchErrs[locator]
	data, ok := f.objects[locator]
	size, reported := f.reported[locator]
	started := f.Started
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if started != nil {
		started <- locator
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	if hang {
		<-ctx.Done()
		return nil, 0, ctx.Err()
	}
	if fetchErr != nil {
		return nil, 0, fetchErr
	}
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", shared.ErrNotFound, locator)
	}
	if !reported {
		size = int64(len(data))
	}
	return io.NopCloser(bytes.NewReader(data)), size, nil
}

// FakeCatalog is an in-memory published catalog keyed by source and stable key.
type FakeCatalog struct {
	mu   sync.Mutex
	keys map[string]bool
}

// NewFakeCatalog creates a catalog already holding keys for source.
func NewFakeCatalog(source string, keys ...string) *FakeCatalog {
	c := &FakeCatalog{keys: make(map[string]bool)}
	for _, k := range keys {
		c.keys[source+"/"+k] = true
	}
	return c
}

func (c *FakeCatalog) Exists(ctx context.Context, source, stableKey string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys[source+"/"+stableKey], nil
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertNoFile(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Errorf("File should not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
