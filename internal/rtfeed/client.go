// Package rtfeed fetches and decodes GTFS-Realtime feeds. It is the
// decode boundary of the reconciler: a fetch either yields a typed feed
// entity sequence or fails loudly, and a decode failure is fatal for the
// current poll of that feed.
package rtfeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	gtfsrtpb "github.com/OneBusAway/go-gtfs/proto"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"

	"reconciler.transitchat.org/internal/logging"
)

// ErrDecode marks a feed whose bytes could not be parsed as a GTFS-RT
// FeedMessage. Callers must abort the current pass for the affected feed;
// a malformed feed cannot be partially trusted.
var ErrDecode = errors.New("gtfs-rt feed decode failed")

const maxFeedBytes = 25 * 1024 * 1024

// newFeedHTTPClient builds the dedicated HTTP client for feed fetching,
// configured with explicit timeouts and transport limits to avoid the
// pitfalls of http.DefaultClient. The transport is cloned from
// http.DefaultTransport to preserve its defaults (ProxyFromEnvironment,
// DialContext, HTTP/2, keepalives).
func newFeedHTTPClient() *http.Client {
	var transport *http.Transport
	if t, ok := http.DefaultTransport.(*http.Transport); ok {
		transport = t.Clone()
	} else {
		transport = &http.Transport{}
	}
	transport.MaxIdleConns = 50
	transport.MaxIdleConnsPerHost = 10
	transport.IdleConnTimeout = 90 * time.Second
	transport.TLSHandshakeTimeout = 10 * time.Second
	transport.ExpectContinueTimeout = 1 * time.Second

	return &http.Client{
		Timeout:   10 * time.Second,
		Transport: transport,
	}
}

// Client fetches GTFS-RT feeds over HTTP, rate limited per client so a
// short poll interval cannot hammer an agency's endpoints.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient builds a feed client allowing fetchesPerMinute requests per
// minute (0 or negative disables limiting).
func NewClient(fetchesPerMinute int, logger *slog.Logger) *Client {
	limit := rate.Inf
	burst := 1
	if fetchesPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(fetchesPerMinute))
		burst = fetchesPerMinute
	}
	return &Client{
		httpClient: newFeedHTTPClient(),
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}
}

// FetchEntities downloads the feed at url and returns its decoded entity
// sequence. An empty url yields an empty sequence, allowing optional feeds.
func (c *Client) FetchEntities(ctx context.Context, url string) ([]*gtfsrtpb.FeedEntity, error) {
	if url == "" {
		return nil, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("feed fetch rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute GTFS-RT request: %w", err)
	}
	defer logging.SafeCloseWithLogging(resp.Body, c.logger, "http_response_body")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gtfs-rt fetch failed: %s returned %s", url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > maxFeedBytes {
		return nil, fmt.Errorf("GTFS-RT response exceeds size limit of %d bytes", maxFeedBytes)
	}

	return Decode(body)
}

// Decode parses raw protobuf bytes into the feed's entity sequence.
// Failures wrap ErrDecode so callers can distinguish the fatal decode
// path from transport errors.
func Decode(b []byte) ([]*gtfsrtpb.FeedEntity, error) {
	var fm gtfsrtpb.FeedMessage
	if err := proto.Unmarshal(b, &fm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return fm.GetEntity(), nil
}
