package clipsource

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"reelsmith/internal/fileutil"
	"reelsmith/internal/services"
	"reelsmith/internal/services/transport"
)

// Candidate is one search hit.
type Candidate struct {
	ID       string  `json:"id"`
	URL      string  `json:"url"`
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
	Score    float64 `json:"score"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
}

type searchResponse struct {
	Results []Candidate `json:"results"`
}

// Client is the clip catalogue client.
type Client struct {
	client *transport.Client
}

// New wraps a guarded transport client.
func New(client *transport.Client) *Client {
	return &Client{client: client}
}

// Search returns up to limit candidates for query. Hits without an id or a
// download URL are dropped, as are duplicate ids.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, services.Errorf(services.ErrValidation, "", "search_clips", "search query is empty")
	}
	params := url.Values{"q": {query}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var resp searchResponse
	err := c.client.DoJSON(ctx, "search_clips", func(ctx context.Context) (*http.Request, error) {
		endpoint, err := c.client.URL("/search", params)
		if err != nil {
			return nil, err
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	}, &resp)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(resp.Results))
	out := make([]Candidate, 0, len(resp.Results))
	for _, cand := range resp.Results {
		cand.ID = strings.TrimSpace(cand.ID)
		if cand.ID == "" || strings.TrimSpace(cand.URL) == "" {
			continue
		}
		if _, dup := seen[cand.ID]; dup {
			continue
		}
		seen[cand.ID] = struct{}{}
		out = append(out, cand)
	}
	return out, nil
}

// Download streams rawURL into dst. The file appears only when the whole
// body was received.
func (c *Client) Download(ctx context.Context, rawURL, dst string) (int64, error) {
	resp, err := c.client.Open(ctx, "download_clip", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	n, err := fileutil.WriteStreamAtomic(dst, resp.Body, 0o644)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, services.Wrap(services.ErrTransient, "", "download_clip", "clip download interrupted", err,
			services.WithCode("download_interrupted"), services.WithDetail("url", rawURL))
	}
	if n == 0 {
		_ = fileutil.RemoveFiles(dst)
		return 0, services.Errorf(services.ErrCorrupted, "", "download_clip", "clip download was empty")
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		_ = fileutil.RemoveFiles(dst)
		return 0, services.Wrap(services.ErrTransient, "", "download_clip", "clip download was truncated", nil,
			services.WithCode("download_truncated"),
			services.WithDetail("expected", resp.ContentLength),
			services.WithDetail("received", n))
	}
	return n, nil
}
