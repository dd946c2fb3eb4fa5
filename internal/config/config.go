// Package config holds the server configuration, loaded from the
// environment with sensible defaults for a single-node deployment.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable the server reads at startup.
type Config struct {
	// DataDir is the root for logs and the database file.
	DataDir string

	// LibraryDir is the root of the song artifact library.
	LibraryDir string

	// DatabasePath is the SQLite database file.
	DatabasePath string

	// BindAddr is the HTTP listen address.
	BindAddr string

	// CORSOrigins is the list of allowed browser origins.
	CORSOrigins []string

	// Workers is the job worker pool size.
	Workers int

	// DemucsModel is the separation model name passed to demucs.
	DemucsModel string

	// DemucsPath, YtDlpPath and FFmpegPath locate the external binaries.
	DemucsPath string
	YtDlpPath  string
	FFmpegPath string

	// MP3Bitrate is the bitrate in kbps for MP3 stem output.
	MP3Bitrate int

	// ContactEmail is sent in User-Agent headers to metadata providers.
	ContactEmail string

	// StaleJobAge is how old a non-terminal job must be before the
	// startup sweep marks it failed.
	StaleJobAge time.Duration
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first if present.
func Load() *Config {
	_ = godotenv.Load()

	dataDir := envStr("KARAOKE_DATA_DIR", defaultDataDir())

	cfg := &Config{
		DataDir:      dataDir,
		LibraryDir:   envStr("KARAOKE_LIBRARY_DIR", filepath.Join(dataDir, "library")),
		DatabasePath: envStr("KARAOKE_DATABASE_PATH", filepath.Join(dataDir, "karaoke.db")),
		BindAddr:     envStr("KARAOKE_BIND_ADDR", ":5123"),
		CORSOrigins:  envList("KARAOKE_CORS_ORIGINS", []string{"http://localhost:5173"}),
		Workers:      envInt("KARAOKE_WORKERS", 1),
		DemucsModel:  envStr("KARAOKE_DEMUCS_MODEL", "htdemucs"),
		DemucsPath:   envStr("KARAOKE_DEMUCS_PATH", "demucs"),
		YtDlpPath:    envStr("KARAOKE_YTDLP_PATH", "yt-dlp"),
		FFmpegPath:   envStr("KARAOKE_FFMPEG_PATH", "ffmpeg"),
		MP3Bitrate:   envInt("KARAOKE_MP3_BITRATE", 320),
		ContactEmail: envStr("KARAOKE_CONTACT_EMAIL", ""),
		StaleJobAge:  envDuration("KARAOKE_STALE_JOB_AGE", time.Hour),
	}

	return cfg
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "karaoke-data"
	}
	return filepath.Join(home, ".karaoke")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
