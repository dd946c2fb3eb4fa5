// Package model defines the domain entities shared by the store, the
// pipeline and the API layers.
package model

import "time"

// JobStatus represents the state of a processing job.
type JobStatus string

const (
	StatusPending     JobStatus = "pending"
	StatusDownloading JobStatus = "downloading"
	StatusProcessing  JobStatus = "processing"
	StatusFinalizing  JobStatus = "finalizing"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
	StatusCancelled   JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusDownloading, StatusProcessing,
		StatusFinalizing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows moving from s
// to next. Terminal states never transition; any non-terminal state may
// fail or be cancelled.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed || next == StatusCancelled {
		return true
	}
	switch s {
	case StatusPending:
		return next == StatusDownloading || next == StatusProcessing
	case StatusDownloading:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusFinalizing
	case StatusFinalizing:
		return next == StatusCompleted
	}
	return false
}

// Job represents one attempt to produce karaoke artifacts for one Song.
type Job struct {
	ID            string     `json:"id"`
	Filename      string     `json:"filename"`
	Status        JobStatus  `json:"status"`
	Progress      int        `json:"progress"`
	StatusMessage string     `json:"statusMessage,omitempty"`
	TaskID        string     `json:"taskId,omitempty"`
	SongID        string     `json:"songId"`
	Title         string     `json:"title,omitempty"`
	Artist        string     `json:"artist,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	Error         string     `json:"error,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	Dismissed     bool       `json:"dismissed"`
}

// Song is the persistent entity for a karaoke-ready track and its artifacts.
// Artifact paths are relative to the library root.
type Song struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Artist           string     `json:"artist"`
	Album            string     `json:"album,omitempty"`
	Genre            string     `json:"genre,omitempty"`
	ReleaseDate      string     `json:"releaseDate,omitempty"`
	DurationMs       int64      `json:"durationMs,omitempty"`
	Source           string     `json:"source,omitempty"`
	VideoID          string     `json:"videoId,omitempty"`
	Uploader         string     `json:"uploader,omitempty"`
	ChannelID        string     `json:"channelId,omitempty"`
	UploadDate       string     `json:"uploadDate,omitempty"`
	ItunesTrackID    int64      `json:"itunesTrackId,omitempty"`
	ItunesArtistID   int64      `json:"itunesArtistId,omitempty"`
	OriginalPath     string     `json:"originalPath,omitempty"`
	VocalsPath       string     `json:"vocalsPath,omitempty"`
	InstrumentalPath string     `json:"instrumentalPath,omitempty"`
	ThumbnailPath    string     `json:"thumbnailPath,omitempty"`
	CoverArtPath     string     `json:"coverArtPath,omitempty"`
	PlainLyrics      string     `json:"plainLyrics,omitempty"`
	SyncedLyrics     string     `json:"syncedLyrics,omitempty"`
	RawMetadata      string     `json:"-"`
	HasAudioFiles    bool       `json:"hasAudioFiles"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        *time.Time `json:"updatedAt,omitempty"`
}

// QueueItem is one entry in the karaoke singer queue.
type QueueItem struct {
	ID       string `json:"id"`
	SongID   string `json:"songId"`
	Singer   string `json:"singer"`
	Position int    `json:"position"`
}

// PerformanceState is the shared, in-memory snapshot of the player
// controls for all connected karaoke clients.
type PerformanceState struct {
	VocalVolume        float64 `json:"vocal_volume"`
	InstrumentalVolume float64 `json:"instrumental_volume"`
	LyricsSize         string  `json:"lyrics_size"`
	LyricsOffset       float64 `json:"lyrics_offset"`
	CurrentTime        float64 `json:"current_time"`
	Duration           float64 `json:"duration"`
	IsPlaying          bool    `json:"is_playing"`
}

// DefaultPerformanceState returns the state new processes start with.
func DefaultPerformanceState() PerformanceState {
	return PerformanceState{
		VocalVolume:        0,
		InstrumentalVolume: 1,
		LyricsSize:         "medium",
	}
}
