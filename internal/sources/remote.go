package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/desertthunder/vidport/internal/shared"
)

// RemoteName is the registry name of [RemoteSource].
const RemoteName = "remote"

const (
	defaultRemoteTimeout = 30 * time.Second
	breakerFailures      = 5
	breakerCooldown      = 30 * time.Second
)

// remoteVideo is the subset of the library's video document used for probing.
type remoteVideo struct {
	GUID   string `json:"guid"`
	Title  string `json:"title"`
	Length int64  `json:"length"`
	Size   int64  `json:"size"`
}

// RemoteSource implements [Source] for an HTTP video library API.
type RemoteSource struct {
	baseURL     string
	downloadURL string
	libraryID   string
	apiKey      string
	timeout     time.Duration
	httpClient  *http.Client
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker[ProbeResult]
	logger      *log.Logger
}

// NewRemoteSource creates a remote library source from cfg.
//
// When client is nil it uses an oauth2 client-credentials client if cfg
// carries client credentials and [http.DefaultClient] otherwise.
func NewRemoteSource(cfg shared.RemoteConfig, client *http.Client, logger *log.Logger) *RemoteSource {
	if client == nil {
		client = http.DefaultClient
		if cfg.ClientID != "" && cfg.TokenURL != "" {
			cc := clientcredentials.Config{
				ClientID:     cfg.ClientID,
				ClientSecret: cfg.ClientSecret,
				TokenURL:     cfg.TokenURL,
			}
			client = cc.Client(context.Background())
		}
	}
	if logger == nil {
		logger = shared.NewLogger(io.Discard)
	}

	limit := rate.Inf
	burst := 1
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = max(1, int(cfg.RateLimit))
	}

	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}

	downloadURL := cfg.DownloadURL
	if downloadURL == "" {
		downloadURL = cfg.BaseURL
	}

	s := &RemoteSource{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		downloadURL: strings.TrimRight(downloadURL, "/"),
		libraryID:   cfg.LibraryID,
		apiKey:      cfg.APIKey,
		timeout:     timeout,
		httpClient:  client,
		limiter:     rate.NewLimiter(limit, burst),
		logger:      shared.WithLogger(logger, "source", RemoteName),
	}

	s.breaker = gobreaker.NewCircuitBreaker[ProbeResult](gobreaker.Settings{
		Name:        "remote-probe",
		MaxRequests: 1,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("circuit breaker changed state", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return s
}

// Name returns the source name.
func (s *RemoteSource) Name() string { return RemoteName }

// Probe looks the video up in the library. A 404 means the id does not exist.
func (s *RemoteSource) Probe(ctx context.Context, locator string) (ProbeResult, error) {
	id := strings.TrimSpace(locator)
	if id == "" {
		return ProbeResult{}, fmt.Errorf("%w: empty remote id", shared.ErrInvalidInput)
	}

	res, err := s.breaker.Execute(func() (ProbeResult, error) {
		return s.probe(ctx, id)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ProbeResult{}, fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	}
	return res, err
}

func (s *RemoteSource) probe(ctx context.Context, id string) (ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fullURL := fmt.Sprintf("%s/library/%s/videos/%s", s.baseURL, url.PathEscape(s.libraryID), url.PathEscape(id))
	resp, err := s.do(ctx, fullURL, "application/json")
	if err != nil {
		return ProbeResult{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ProbeResult{Exists: false}, nil
	case resp.StatusCode != http.StatusOK:
		return ProbeResult{}, statusError(resp)
	}

	var video remoteVideo
	if err := json.NewDecoder(resp.Body).Decode(&video); err != nil {
		return ProbeResult{}, fmt.Errorf("failed to decode video %s: %w", id, err)
	}

	size := video.Size
	if size == 0 {
		size = video.Length
	}
	return ProbeResult{Exists: true, Size: size}, nil
}

// Fetch streams the original upload of the video. The caller closes the body.
func (s *RemoteSource) Fetch(ctx context.Context, locator string) (io.ReadCloser, int64, error) {
	id := strings.TrimSpace(locator)
	if id == "" {
		return nil, 0, fmt.Errorf("%w: empty remote id", shared.ErrInvalidInput)
	}

	fullURL := fmt.Sprintf("%s/%s/original", s.downloadURL, url.PathEscape(id))
	resp, err := s.do(ctx, fullURL, "")
	if err != nil {
		return nil, 0, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, 0, fmt.Errorf("%w: remote id %s", shared.ErrNotFound, id)
	case resp.StatusCode != http.StatusOK:
		defer resp.Body.Close()
		return nil, 0, statusError(resp)
	}

	return resp.Body, resp.ContentLength, nil
}

func (s *RemoteSource) do(ctx context.Context, fullURL, accept string) (*http.Response, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("AccessKey", s.apiKey)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
}
