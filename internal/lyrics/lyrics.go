// Package lyrics fetches plain and synchronized lyrics from LRCLIB and
// caches them on the song row.
package lyrics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	apperr "karaoke/internal/errors"
	"karaoke/internal/logger"
	"karaoke/internal/model"
)

const defaultBaseURL = "https://lrclib.net"

// Result is one lyrics record from the provider.
type Result struct {
	ID           int64   `json:"id"`
	TrackName    string  `json:"trackName"`
	ArtistName   string  `json:"artistName"`
	AlbumName    string  `json:"albumName"`
	Duration     float64 `json:"duration"`
	Instrumental bool    `json:"instrumental"`
	PlainLyrics  string  `json:"plainLyrics"`
	SyncedLyrics string  `json:"syncedLyrics"`
}

// SongStore is the slice of the song repository the service needs.
type SongStore interface {
	Get(id string) (*model.Song, error)
	Update(song *model.Song) error
}

// Service resolves lyrics for songs, consulting the local cache first.
type Service struct {
	baseURL    string
	httpClient *http.Client
	songs      SongStore
	userAgent  string
}

// NewService creates a lyrics service backed by songs.
func NewService(songs SongStore, contactEmail string) *Service {
	ua := "karaoke-studio/1.0"
	if contactEmail != "" {
		ua = fmt.Sprintf("karaoke-studio/1.0 (%s)", contactEmail)
	}
	return &Service{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		songs:     songs,
		userAgent: ua,
	}
}

// SetBaseURL overrides the provider endpoint. Used by tests.
func (s *Service) SetBaseURL(u string) {
	s.baseURL = u
}

// GetCached returns locally stored lyrics for the song without a
// network call, or nil if none are stored.
func (s *Service) GetCached(songID string) (*Result, error) {
	song, err := s.songs.Get(songID)
	if err != nil {
		return nil, err
	}
	if song.PlainLyrics == "" && song.SyncedLyrics == "" {
		return nil, nil
	}
	return &Result{
		TrackName:    song.Title,
		ArtistName:   song.Artist,
		PlainLyrics:  song.PlainLyrics,
		SyncedLyrics: song.SyncedLyrics,
	}, nil
}

// Search queries the provider. The exact-match endpoint is tried first;
// when it misses, the fuzzy search endpoint takes over.
func (s *Service) Search(ctx context.Context, artist, title, album string, durationSec int) (*Result, error) {
	if r, err := s.get(ctx, artist, title, album, durationSec); err == nil && r != nil {
		return r, nil
	}

	params := url.Values{
		"track_name":  {title},
		"artist_name": {artist},
	}
	var results []Result
	if err := s.request(ctx, "/api/search", params, &results); err != nil {
		return nil, err
	}
	for _, r := range results {
		if !r.Instrumental && (r.PlainLyrics != "" || r.SyncedLyrics != "") {
			found := r
			return &found, nil
		}
	}
	return nil, apperr.NewWithMessage("lyrics.Search", apperr.ErrNotFound,
		fmt.Sprintf("no lyrics for %q by %q", title, artist))
}

// Save stores lyrics on the song row.
func (s *Service) Save(songID string, result *Result) error {
	song, err := s.songs.Get(songID)
	if err != nil {
		return err
	}
	song.PlainLyrics = result.PlainLyrics
	song.SyncedLyrics = result.SyncedLyrics
	return s.songs.Update(song)
}

// FetchForSong resolves lyrics for the song: cache first, then the
// provider with a write-back. A failed write-back is logged and the
// fetched lyrics are still returned.
func (s *Service) FetchForSong(ctx context.Context, song *model.Song) (*Result, error) {
	if cached, err := s.GetCached(song.ID); err == nil && cached != nil {
		return cached, nil
	}

	result, err := s.Search(ctx, song.Artist, song.Title, song.Album, int(song.DurationMs/1000))
	if err != nil {
		return nil, err
	}

	if err := s.Save(song.ID, result); err != nil {
		logger.Log.Warn().Err(err).Str("songID", song.ID).Msg("failed to cache lyrics")
	}
	return result, nil
}

func (s *Service) get(ctx context.Context, artist, title, album string, durationSec int) (*Result, error) {
	params := url.Values{
		"track_name":  {title},
		"artist_name": {artist},
	}
	if album != "" {
		params.Set("album_name", album)
	}
	if durationSec > 0 {
		params.Set("duration", strconv.Itoa(durationSec))
	}

	var result Result
	if err := s.request(ctx, "/api/get", params, &result); err != nil {
		return nil, err
	}
	if result.PlainLyrics == "" && result.SyncedLyrics == "" {
		return nil, nil
	}
	return &result, nil
}

func (s *Service) request(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return apperr.Wrap("lyrics.request", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return apperr.WrapWithMessage("lyrics.request", apperr.ErrProvider, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return apperr.NewWithMessage("lyrics.request", apperr.ErrNotFound, "no lyrics record")
	}
	if resp.StatusCode != http.StatusOK {
		return apperr.NewWithMessage("lyrics.request", apperr.ErrProvider,
			fmt.Sprintf("lrclib returned %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return apperr.Wrap("lyrics.request", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.WrapWithMessage("lyrics.request", apperr.ErrProvider, "malformed response")
	}
	return nil
}
