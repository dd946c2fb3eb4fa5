package itunes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"

	apperr "karaoke/internal/errors"
	"karaoke/internal/library"
	"karaoke/internal/logger"
)

const (
	// Covers below lowResThreshold are worth replacing; covers at or
	// above highResThreshold are left alone.
	lowResThreshold  = 20 * 1024
	highResThreshold = 50 * 1024

	maxArtworkSize = 20 * 1024 * 1024
)

// dimensionSegment matches the trailing size spec in iTunes artwork
// URLs, e.g. "100x100bb.jpg".
var dimensionSegment = regexp.MustCompile(`\d+x\d+bb\.jpg`)

// CoverIsLowRes reports whether the cover at path is absent or small
// enough that a higher-resolution download should replace it.
func CoverIsLowRes(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return info.Size() < lowResThreshold
}

// CoverIsHighRes reports whether the cover at path already meets the
// high-resolution threshold.
func CoverIsHighRes(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Size() >= highResThreshold
}

// HighResURL rewrites an iTunes artwork URL to the 600x600 variant.
// URLs without a recognizable dimension segment come back unchanged.
func HighResURL(artworkURL string) string {
	return dimensionSegment.ReplaceAllString(artworkURL, "600x600bb.jpg")
}

// DownloadCover fetches the track's artwork, preferring the 600x600
// variant and falling back to the original URL. The image is verified
// by magic bytes regardless of the Content-Type the server claims, then
// atomically renamed to pathStem + the sniffed extension.
// Returns the final path.
func (c *Client) DownloadCover(ctx context.Context, track Track, pathStem string) (string, error) {
	urls := track.ArtworkURLs()
	if len(urls) == 0 {
		return "", apperr.NewWithMessage("itunes.DownloadCover", apperr.ErrNotFound, "track has no artwork URLs")
	}

	candidates := []string{HighResURL(urls[0])}
	if candidates[0] != urls[0] {
		candidates = append(candidates, urls[0])
	}

	var lastErr error
	for _, u := range candidates {
		path, err := c.fetchImage(ctx, u, pathStem)
		if err == nil {
			return path, nil
		}
		lastErr = err
		logger.Log.Warn().Err(err).Str("url", u).Msg("cover art download failed, trying fallback")
	}
	return "", lastErr
}

func (c *Client) fetchImage(ctx context.Context, imageURL, pathStem string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", apperr.Wrap("itunes.fetchImage", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperr.WrapWithMessage("itunes.fetchImage", apperr.ErrProvider, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperr.NewWithMessage("itunes.fetchImage", apperr.ErrProvider,
			fmt.Sprintf("artwork fetch returned %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtworkSize))
	if err != nil {
		return "", apperr.Wrap("itunes.fetchImage", err)
	}

	ext, ok := library.SniffImageExt(data)
	if !ok {
		return "", apperr.NewWithMessage("itunes.fetchImage", apperr.ErrProvider,
			"downloaded content is not a recognizable image")
	}

	target := pathStem + ext
	if err := library.WriteFileAtomic(target, data); err != nil {
		return "", err
	}
	return target, nil
}
