// Package youtube drives yt-dlp to fetch source audio and video
// metadata for karaoke jobs.
package youtube

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	apperr "karaoke/internal/errors"
	"karaoke/internal/library"
	"karaoke/internal/logger"
)

var (
	// videoIDPattern is the canonical 11-character YouTube id.
	videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

	// progressRegex captures percentage values from yt-dlp output.
	progressRegex = regexp.MustCompile(`(\d+\.?\d*)%`)

	// ansiRegex removes ANSI color codes from terminal output.
	ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)
)

// ExtractVideoID pulls the video id out of the common YouTube URL
// forms (watch?v=, youtu.be/, embed/, v/) or accepts a bare id.
func ExtractVideoID(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if videoIDPattern.MatchString(trimmed) {
		return trimmed, nil
	}

	candidate := ""
	switch {
	case strings.Contains(trimmed, "youtu.be/"):
		rest := trimmed[strings.Index(trimmed, "youtu.be/")+len("youtu.be/"):]
		candidate = firstPathSegment(rest)
	case strings.Contains(trimmed, "watch?"):
		for _, param := range strings.Split(trimmed[strings.Index(trimmed, "watch?")+len("watch?"):], "&") {
			if strings.HasPrefix(param, "v=") {
				candidate = strings.TrimPrefix(param, "v=")
				break
			}
		}
	case strings.Contains(trimmed, "/embed/"):
		rest := trimmed[strings.Index(trimmed, "/embed/")+len("/embed/"):]
		candidate = firstPathSegment(rest)
	case strings.Contains(trimmed, "/v/"):
		rest := trimmed[strings.Index(trimmed, "/v/")+len("/v/"):]
		candidate = firstPathSegment(rest)
	}

	if videoIDPattern.MatchString(candidate) {
		return candidate, nil
	}
	return "", apperr.NewWithMessage("youtube.ExtractVideoID", apperr.ErrInvalidURL,
		fmt.Sprintf("not a recognizable YouTube URL or id: %q", input))
}

// WatchURL formats the canonical watch URL for a video id.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

func firstPathSegment(rest string) string {
	for i, r := range rest {
		if r == '/' || r == '?' || r == '&' || r == '#' {
			return rest[:i]
		}
	}
	return rest
}

// Thumbnail is one variant reported by yt-dlp. Preference is the
// downloader's own ranking, which in practice favors WebP over JPEG at
// the same resolution.
type Thumbnail struct {
	URL        string `json:"url"`
	Preference int    `json:"preference"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// VideoInfo is the subset of yt-dlp's --dump-json output the pipeline
// needs.
type VideoInfo struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Duration   float64     `json:"duration"`
	Uploader   string      `json:"uploader"`
	ChannelID  string      `json:"channel_id"`
	UploadDate string      `json:"upload_date"`
	Thumbnail  string      `json:"thumbnail"`
	Thumbnails []Thumbnail `json:"thumbnails"`
}

// Metadata is the normalized result of a download: what the worker
// writes onto the song row.
type Metadata struct {
	Title         string
	Artist        string
	DurationMs    int64
	Uploader      string
	ChannelID     string
	UploadDate    string
	ThumbnailURLs []string
}

// ParseArtistTitle splits an "Artist - Title" video title. When no
// separator is present the whole string is the title and the fallback
// artist is used.
func ParseArtistTitle(videoTitle, fallbackArtist string) (artist, title string) {
	for _, sep := range []string{" - ", " – ", " — "} {
		if idx := strings.Index(videoTitle, sep); idx > 0 {
			return strings.TrimSpace(videoTitle[:idx]), strings.TrimSpace(videoTitle[idx+len(sep):])
		}
	}
	return fallbackArtist, strings.TrimSpace(videoTitle)
}

// RankThumbnails orders thumbnail variants best first: yt-dlp's own
// preference score, then the shared image-format ranking for ties.
func RankThumbnails(thumbs []Thumbnail) []string {
	sorted := make([]Thumbnail, len(thumbs))
	copy(sorted, thumbs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Preference != sorted[j].Preference {
			return sorted[i].Preference > sorted[j].Preference
		}
		return formatRank(sorted[i].URL) > formatRank(sorted[j].URL)
	})

	urls := make([]string, 0, len(sorted))
	for _, t := range sorted {
		if t.URL != "" {
			urls = append(urls, t.URL)
		}
	}
	return urls
}

func formatRank(u string) int {
	ext := strings.ToLower(filepath.Ext(u))
	if idx := strings.IndexAny(ext, "?#"); idx >= 0 {
		ext = ext[:idx]
	}
	for _, f := range library.ImageFormats {
		if f.Ext == ext {
			return f.Preference
		}
	}
	return 0
}

// ProgressFunc receives download progress in percent.
type ProgressFunc func(percent float64)

// Client wraps yt-dlp operations.
type Client struct {
	ytDlpPath  string
	ffmpegPath string
	httpClient *http.Client
}

// NewClient creates a downloader using the given binaries.
func NewClient(ytDlpPath, ffmpegPath string) *Client {
	return &Client{
		ytDlpPath:  ytDlpPath,
		ffmpegPath: ffmpegPath,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// GetVideoInfo fetches metadata for a video without downloading it.
func (c *Client) GetVideoInfo(ctx context.Context, videoID string) (*VideoInfo, error) {
	args := []string{
		"--dump-json",
		"--no-playlist",
		"--no-warnings",
		"--socket-timeout", "10",
		WatchURL(videoID),
	}

	cmd := c.command(ctx, args)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, apperr.NewWithMessage("youtube.GetVideoInfo", apperr.ErrDownload, msg)
	}

	var info VideoInfo
	if err := json.Unmarshal(output, &info); err != nil {
		return nil, apperr.WrapWithMessage("youtube.GetVideoInfo", apperr.ErrDownload,
			"failed to parse video info")
	}
	return &info, nil
}

// Download fetches the video's audio as MP3 into destPath (the song's
// canonical original.mp3), reporting progress, and returns the
// normalized metadata. The file lands via atomic rename, so a crashed
// download never leaves a partial original behind.
func (c *Client) Download(ctx context.Context, videoID, destPath string, hintArtist, hintTitle string, onProgress ProgressFunc) (*Metadata, error) {
	info, err := c.GetVideoInfo(ctx, videoID)
	if err != nil {
		return nil, err
	}

	tmpDir, err := os.MkdirTemp(filepath.Dir(destPath), "download-*")
	if err != nil {
		return nil, apperr.Wrap("youtube.Download", err)
	}
	defer os.RemoveAll(tmpDir)

	outTemplate := filepath.Join(tmpDir, "original.%(ext)s")
	args := []string{
		"--ffmpeg-location", c.ffmpegPath,
		"--newline",
		"-o", outTemplate,
		"--no-playlist",
		"--no-warnings",
		"--socket-timeout", "10",
		"-x",
		"--audio-format", "mp3",
		"--audio-quality", "0",
		WatchURL(videoID),
	}

	cmd := c.command(ctx, args)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperr.Wrap("youtube.Download", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, apperr.Wrap("youtube.Download", err)
	}

	// CommandContext kills on cancel; the explicit kill repeats it. Only
	// the yt-dlp process itself is signalled, not processes it spawned.
	go func() {
		<-ctx.Done()
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
	}()

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(ansiRegex.ReplaceAllString(scanner.Text(), ""))
		if matches := progressRegex.FindStringSubmatch(line); len(matches) >= 2 {
			if percent, err := strconv.ParseFloat(matches[1], 64); err == nil && onProgress != nil {
				onProgress(percent)
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		select {
		case <-ctx.Done():
			return nil, apperr.Wrap("youtube.Download", apperr.ErrCancelled)
		default:
			return nil, apperr.NewWithMessage("youtube.Download", apperr.ErrDownload, err.Error())
		}
	}

	produced := filepath.Join(tmpDir, "original.mp3")
	if info, err := os.Stat(produced); err != nil || info.Size() == 0 {
		return nil, apperr.NewWithMessage("youtube.Download", apperr.ErrDownload,
			"yt-dlp finished without producing original.mp3")
	}
	if err := os.Rename(produced, destPath); err != nil {
		return nil, apperr.Wrap("youtube.Download", err)
	}

	meta := c.normalize(info, hintArtist, hintTitle)
	logger.Log.Info().
		Str("videoID", videoID).
		Str("title", meta.Title).
		Str("dest", destPath).
		Msg("download complete")
	return meta, nil
}

// DownloadThumbnail fetches the best-ranked thumbnail and writes it
// atomically to pathStem plus the sniffed extension. Returns the final
// path.
func (c *Client) DownloadThumbnail(ctx context.Context, meta *Metadata, pathStem string) (string, error) {
	var lastErr error = apperr.NewWithMessage("youtube.DownloadThumbnail", apperr.ErrNotFound,
		"video has no thumbnails")

	for _, u := range meta.ThumbnailURLs {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			lastErr = apperr.Wrap("youtube.DownloadThumbnail", err)
			continue
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = apperr.WrapWithMessage("youtube.DownloadThumbnail", apperr.ErrProvider, err.Error())
			continue
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		resp.Body.Close()
		if err != nil || resp.StatusCode != http.StatusOK {
			lastErr = apperr.NewWithMessage("youtube.DownloadThumbnail", apperr.ErrProvider,
				fmt.Sprintf("thumbnail fetch returned %d", resp.StatusCode))
			continue
		}

		ext, ok := library.SniffImageExt(data)
		if !ok {
			lastErr = apperr.NewWithMessage("youtube.DownloadThumbnail", apperr.ErrProvider,
				"thumbnail content is not a recognizable image")
			continue
		}

		target := pathStem + ext
		if err := library.WriteFileAtomic(target, data); err != nil {
			return "", err
		}
		return target, nil
	}
	return "", lastErr
}

func (c *Client) normalize(info *VideoInfo, hintArtist, hintTitle string) *Metadata {
	artist, title := ParseArtistTitle(info.Title, hintArtist)
	if hintTitle != "" {
		title = hintTitle
	}
	if hintArtist != "" {
		artist = hintArtist
	}

	thumbs := RankThumbnails(info.Thumbnails)
	if len(thumbs) == 0 && info.Thumbnail != "" {
		thumbs = []string{info.Thumbnail}
	}

	return &Metadata{
		Title:         title,
		Artist:        artist,
		DurationMs:    int64(info.Duration * 1000),
		Uploader:      info.Uploader,
		ChannelID:     info.ChannelID,
		UploadDate:    info.UploadDate,
		ThumbnailURLs: thumbs,
	}
}

func (c *Client) command(ctx context.Context, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.ytDlpPath, args...)
	cmd.Env = append(cmd.Environ(),
		"PYTHONIOENCODING=utf-8",
		"PYTHONUTF8=1",
		"PYTHONUNBUFFERED=1",
	)
	return cmd
}
