// Package itunes enriches song metadata from the iTunes Search API and
// downloads album artwork at the best available resolution.
package itunes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperr "karaoke/internal/errors"
	"karaoke/internal/logger"
	"karaoke/internal/ratelimit"
)

const defaultBaseURL = "https://itunes.apple.com"

// Track is one normalized result from the search API.
type Track struct {
	TrackID        int64  `json:"trackId"`
	ArtistID       int64  `json:"artistId"`
	CollectionID   int64  `json:"collectionId"`
	Title          string `json:"trackName"`
	Artist         string `json:"artistName"`
	Album          string `json:"collectionName"`
	Genre          string `json:"primaryGenreName"`
	ReleaseDate    string `json:"releaseDate"`
	DurationMs     int64  `json:"trackTimeMillis"`
	Explicitness   string `json:"trackExplicitness"`
	IsStreamable   bool   `json:"isStreamable"`
	PreviewURL     string `json:"previewUrl"`
	ArtworkURL30   string `json:"artworkUrl30"`
	ArtworkURL60   string `json:"artworkUrl60"`
	ArtworkURL100  string `json:"artworkUrl100"`
}

// ArtworkURLs returns the known artwork variants, best first.
func (t Track) ArtworkURLs() []string {
	var urls []string
	for _, u := range []string{t.ArtworkURL100, t.ArtworkURL60, t.ArtworkURL30} {
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// Result is the enrichment output handed back to the worker: the
// canonical track plus the raw provider response for storage.
type Result struct {
	Track   Track
	RawJSON string
}

// Client queries the iTunes Search API. Requests are paced by a token
// bucket so bursts of jobs cannot trip Apple's rate limiting.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	userAgent  string
}

// NewClient creates a search client. contactEmail, when set, is included
// in the User-Agent so the provider can reach out about traffic.
func NewClient(contactEmail string) *Client {
	ua := "karaoke-studio/1.0"
	if contactEmail != "" {
		ua = fmt.Sprintf("karaoke-studio/1.0 (%s)", contactEmail)
	}
	return &Client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter:   ratelimit.NewLimiter(4, 2),
		userAgent: ua,
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

// Enrich searches for the canonical release of (artist, title, album).
// Search tiers go from specific to broad, stopping at the first tier
// with results; the ranked best match wins.
func (c *Client) Enrich(ctx context.Context, artist, title, album string) (*Result, error) {
	tiers := [][]string{
		{artist, title, album},
		{artist, title},
		{title},
	}

	var lastErr error
	for _, terms := range tiers {
		query := joinTerms(terms)
		if query == "" {
			continue
		}

		tracks, raw, err := c.search(ctx, query)
		if err != nil {
			lastErr = err
			continue
		}
		if len(tracks) == 0 {
			continue
		}

		ranked := RankTracks(tracks, artist, title)
		logger.Log.Debug().
			Str("query", query).
			Int("results", len(tracks)).
			Str("picked", ranked[0].Title).
			Msg("itunes search ranked")
		return &Result{Track: ranked[0], RawJSON: raw}, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, apperr.NewWithMessage("itunes.Enrich", apperr.ErrNotFound,
		fmt.Sprintf("no iTunes match for %q by %q", title, artist))
}

func (c *Client) search(ctx context.Context, query string) ([]Track, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", apperr.Wrap("itunes.search", err)
	}

	params := url.Values{
		"term":    {query},
		"entity":  {"song"},
		"media":   {"music"},
		"limit":   {"25"},
		"sort":    {"recent"},
		"country": {"US"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, "", apperr.Wrap("itunes.search", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", apperr.WrapWithMessage("itunes.search", apperr.ErrProvider, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
		return nil, "", apperr.NewWithMessage("itunes.search", apperr.ErrRateLimited,
			fmt.Sprintf("itunes returned %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", apperr.NewWithMessage("itunes.search", apperr.ErrProvider,
			fmt.Sprintf("itunes returned %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, "", apperr.Wrap("itunes.search", err)
	}

	var parsed struct {
		ResultCount int     `json:"resultCount"`
		Results     []Track `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, "", apperr.WrapWithMessage("itunes.search", apperr.ErrProvider, "malformed response")
	}

	return parsed.Results, string(body), nil
}

func joinTerms(terms []string) string {
	var parts []string
	for _, t := range terms {
		if trimmed := strings.TrimSpace(t); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, " ")
}
