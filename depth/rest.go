package depth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/0x5487/hft"
)

const (
	DefaultRestURL    = "https://api.binance.com"
	DefaultDepthLimit = 1000
)

// RESTFetcher fetches depth snapshots from GET /api/v3/depth.
type RESTFetcher struct {
	BaseURL string
	Limit   int
	Client  *http.Client
}

// NewRESTFetcher creates a fetcher for baseURL with the given request timeout.
func NewRESTFetcher(baseURL string, limit int, timeout time.Duration) *RESTFetcher {
	if baseURL == "" {
		baseURL = DefaultRestURL
	}
	if limit <= 0 {
		limit = DefaultDepthLimit
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTFetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Limit:   limit,
		Client:  &http.Client{Timeout: timeout},
	}
}

// FetchSnapshot implements SnapshotFetcher.
func (f *RESTFetcher) FetchSnapshot(ctx context.Context, symbol string) (hft.BookSnapshot, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("limit", strconv.Itoa(f.Limit))
	endpoint := f.BaseURL + "/api/v3/depth?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return hft.BookSnapshot{}, err
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return hft.BookSnapshot{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return hft.BookSnapshot{}, fmt.Errorf("depth: GET %s: status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var body restDepth
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return hft.BookSnapshot{}, fmt.Errorf("depth: decode %s snapshot: %w", symbol, err)
	}
	return body.snapshot(strings.ToUpper(symbol)), nil
}
