package worker

import (
	"context"
	"path/filepath"
	"time"

	apperr "karaoke/internal/errors"
	"karaoke/internal/itunes"
	"karaoke/internal/library"
	"karaoke/internal/logger"
	"karaoke/internal/model"
	"karaoke/internal/youtube"
)

// Progress bands for the pipeline phases. The separator's 0-100 maps
// linearly into the processing band.
const (
	progressAccepted     = 5
	progressDownloadEnd  = 30
	progressSeparateEnd  = 90
	progressFinalizeTail = 99
)

// retryDelays paces the job-row fetch retries that absorb
// writer-vs-reader commit races. Only this step retries.
var retryDelays = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// processJob runs the full pipeline for one queued job and records the
// outcome on the job row.
func (m *Manager) processJob(j *job) {
	jobID := j.spec.JobID
	defer m.cleanupJob(jobID)

	record, err := m.fetchJobWithRetry(j.ctx, jobID)
	if err != nil {
		logger.Log.Error().Err(err).Str("traceID", jobID).Msg("job row not found after retries")
		return
	}
	if record.Status.Terminal() {
		// Cancelled while still queued; nothing to run.
		return
	}

	logger.Log.Info().
		Str("traceID", jobID).
		Str("phase", "start").
		Str("songID", j.spec.SongID).
		Msg("processing job")

	err = m.runPipeline(j, record)
	switch {
	case err == nil:
		m.finishCompleted(record)
	case apperr.IsCancelled(err) || j.ctx.Err() != nil:
		m.finishCancelled(record)
	default:
		m.finishFailed(record, err)
	}
}

// fetchJobWithRetry reads the job row, retrying with exponential
// backoff to tolerate a submission transaction that has not become
// visible yet.
func (m *Manager) fetchJobWithRetry(ctx context.Context, jobID string) (*model.Job, error) {
	record, err := m.store.Get(jobID)
	if err == nil {
		return record, nil
	}

	for attempt, delay := range retryDelays {
		logger.Log.Warn().
			Str("traceID", jobID).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("job row not visible yet, retrying")

		select {
		case <-ctx.Done():
			return nil, apperr.Wrap("Manager.fetchJobWithRetry", apperr.ErrCancelled)
		case <-time.After(delay):
		}

		record, err = m.store.Get(jobID)
		if err == nil {
			return record, nil
		}
	}
	return nil, err
}

func (m *Manager) runPipeline(j *job, record *model.Job) error {
	songID := j.spec.SongID
	now := time.Now().UTC()
	record.StartedAt = &now

	songDir, err := m.lib.SongDir(songID)
	if err != nil {
		return err
	}

	fromURL := j.spec.VideoID != ""

	var meta *youtube.Metadata
	var enriched *itunes.Result
	if fromURL {
		record.Status = model.StatusDownloading
		m.updateJob(record, progressAccepted, "Downloading video from YouTube")

		meta, err = m.runDownload(j, record, songID)
		if err != nil {
			return err
		}

		// Metadata enhancement is attempted before processing; its
		// failure never fails the job.
		enriched = m.enrichSong(j.ctx, record, songID, meta)
	}

	if err := checkCancel(j.ctx); err != nil {
		return err
	}

	record.Status = model.StatusProcessing
	m.updateJob(record, progressDownloadEnd, "Download complete, starting audio processing")

	originalPath, err := m.lib.ResolveTrack(songID, library.TrackOriginal)
	if err != nil {
		return apperr.NewWithMessage("Manager.runPipeline", apperr.ErrSeparation,
			"original audio file not found for song "+songID)
	}

	vocalsPath, instrumentalPath, err := m.separator.Separate(j.ctx, originalPath, songDir,
		func(percent float64, message string) {
			scaled := progressDownloadEnd + int(percent*float64(progressSeparateEnd-progressDownloadEnd)/100)
			m.updateJob(record, scaled, message)
		})
	if err != nil {
		return err
	}

	if err := checkCancel(j.ctx); err != nil {
		return err
	}

	record.Status = model.StatusFinalizing
	m.updateJob(record, progressSeparateEnd, "Audio processing complete, finalizing")

	m.finalizeArtifacts(j.ctx, record, songID, meta, enriched)

	if err := m.updateSongPaths(songID, originalPath, vocalsPath, instrumentalPath); err != nil {
		return err
	}
	m.updateJob(record, progressFinalizeTail, "Finalizing processing")

	return checkCancel(j.ctx)
}

// runDownload fetches the original audio, mapping downloader progress
// into the download band.
func (m *Manager) runDownload(j *job, record *model.Job, songID string) (*youtube.Metadata, error) {
	dest := m.lib.OriginalPath(songID, ".mp3")
	meta, err := m.downloader.Download(j.ctx, j.spec.VideoID, dest, j.spec.Artist, j.spec.Title,
		func(percent float64) {
			scaled := progressAccepted + int(percent*float64(progressDownloadEnd-progressAccepted-5)/100)
			m.updateJob(record, scaled, "Downloading video from YouTube")
		})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// enrichSong applies downloader metadata and the iTunes canonical match
// to the song row. Best-effort throughout; the enrichment result is
// returned so finalization can fetch the matching artwork.
func (m *Manager) enrichSong(ctx context.Context, record *model.Job, songID string, meta *youtube.Metadata) *itunes.Result {
	song, err := m.songs.Get(songID)
	if err != nil {
		logger.Log.Warn().Err(err).Str("songID", songID).Msg("song row missing during enrichment")
		return nil
	}

	if meta != nil {
		if song.Title == "" || song.Title == "Unknown Title" {
			song.Title = meta.Title
		}
		if song.Artist == "" || song.Artist == "Unknown Artist" {
			song.Artist = meta.Artist
		}
		if meta.DurationMs > 0 {
			song.DurationMs = meta.DurationMs
		}
		song.Uploader = meta.Uploader
		song.ChannelID = meta.ChannelID
		song.UploadDate = meta.UploadDate
	}

	var enriched *itunes.Result
	if m.enricher != nil && song.Title != "" {
		result, err := m.enricher.Enrich(ctx, song.Artist, song.Title, song.Album)
		if err != nil {
			logger.Log.Warn().Err(err).Str("songID", songID).Msg("metadata enrichment failed, continuing")
		} else {
			enriched = result
			track := result.Track
			song.Title = track.Title
			song.Artist = track.Artist
			song.Album = track.Album
			song.Genre = track.Genre
			song.ReleaseDate = track.ReleaseDate
			if track.DurationMs > 0 {
				song.DurationMs = track.DurationMs
			}
			song.ItunesTrackID = track.TrackID
			song.ItunesArtistID = track.ArtistID
			song.RawMetadata = result.RawJSON
		}
	}

	if err := m.songs.Update(song); err != nil {
		logger.Log.Warn().Err(err).Str("songID", songID).Msg("failed to save enriched metadata")
		return enriched
	}
	m.updateJob(record, 25, "Enhanced metadata saved")
	return enriched
}

// finalizeArtifacts downloads the thumbnail and cover art and resolves
// lyrics. Every step is soft: the job completes without them.
func (m *Manager) finalizeArtifacts(ctx context.Context, record *model.Job, songID string, meta *youtube.Metadata, enriched *itunes.Result) {
	song, err := m.songs.Get(songID)
	if err != nil {
		logger.Log.Warn().Err(err).Str("songID", songID).Msg("song row missing during finalize")
		return
	}
	changed := false

	if meta != nil && len(meta.ThumbnailURLs) > 0 {
		m.updateJob(record, 93, "Downloading thumbnail")
		stem := filepath.Join(m.lib.Root(), songID, "thumbnail")
		if path, err := m.downloader.DownloadThumbnail(ctx, meta, stem); err != nil {
			logger.Log.Warn().Err(err).Str("songID", songID).Msg("thumbnail download failed, continuing")
		} else {
			song.ThumbnailPath = m.lib.Relative(path)
			changed = true
		}
	}

	if m.enricher != nil && enriched != nil && len(enriched.Track.ArtworkURLs()) > 0 {
		if currentCoverLowRes(m.lib, songID) {
			m.updateJob(record, 95, "Downloading cover art")
			stem := filepath.Join(m.lib.Root(), songID, "cover")
			if path, err := m.enricher.DownloadCover(ctx, enriched.Track, stem); err != nil {
				logger.Log.Warn().Err(err).Str("songID", songID).Msg("cover art download failed, continuing")
			} else {
				song.CoverArtPath = m.lib.Relative(path)
				changed = true
			}
		}
	}

	if m.lyrics != nil {
		m.updateJob(record, 97, "Fetching lyrics")
		if result, err := m.lyrics.FetchForSong(ctx, song); err != nil {
			logger.Log.Warn().Err(err).Str("songID", songID).Msg("lyrics fetch failed, continuing")
		} else {
			song.PlainLyrics = result.PlainLyrics
			song.SyncedLyrics = result.SyncedLyrics
			changed = true
		}
	}

	if changed {
		if err := m.songs.Update(song); err != nil {
			logger.Log.Warn().Err(err).Str("songID", songID).Msg("failed to save finalize artifacts")
		}
	}
}

// updateSongPaths records the stem artifacts on the song row, only
// after verifying the files exist and are non-empty.
func (m *Manager) updateSongPaths(songID, originalPath, vocalsPath, instrumentalPath string) error {
	if _, err := m.lib.ResolveTrack(songID, library.TrackVocals); err != nil {
		return apperr.NewWithMessage("Manager.updateSongPaths", apperr.ErrSeparation,
			"vocals stem missing after separation")
	}
	if _, err := m.lib.ResolveTrack(songID, library.TrackInstrumental); err != nil {
		return apperr.NewWithMessage("Manager.updateSongPaths", apperr.ErrSeparation,
			"instrumental stem missing after separation")
	}

	song, err := m.songs.Get(songID)
	if err != nil {
		return err
	}
	song.OriginalPath = m.lib.Relative(originalPath)
	song.VocalsPath = m.lib.Relative(vocalsPath)
	song.InstrumentalPath = m.lib.Relative(instrumentalPath)
	song.HasAudioFiles = true
	return m.songs.Update(song)
}

func (m *Manager) finishCompleted(record *model.Job) {
	now := time.Now().UTC()
	record.Status = model.StatusCompleted
	record.Progress = 100
	record.StatusMessage = "Processing complete"
	record.CompletedAt = &now
	if err := m.store.Update(record); err != nil {
		logger.Log.Error().Err(err).Str("traceID", record.ID).Msg("failed to mark job completed")
	}

	m.mu.Lock()
	m.totalCompleted++
	m.mu.Unlock()

	logger.Log.Info().
		Str("traceID", record.ID).
		Str("phase", "completed").
		Str("songID", record.SongID).
		Msg("job completed")
}

// finishCancelled removes the partially-written song directory and
// marks the job cancelled.
func (m *Manager) finishCancelled(record *model.Job) {
	if err := m.lib.DeleteSong(record.SongID); err != nil {
		logger.Log.Error().Err(err).Str("songID", record.SongID).Msg("failed to remove cancelled song dir")
	}

	now := time.Now().UTC()
	record.Status = model.StatusCancelled
	record.Error = "Cancelled by user"
	record.CompletedAt = &now
	if err := m.store.Update(record); err != nil {
		logger.Log.Error().Err(err).Str("traceID", record.ID).Msg("failed to mark job cancelled")
	}

	logger.Log.Info().
		Str("traceID", record.ID).
		Str("phase", "cancelled").
		Msg("job cancelled")
}

// finishFailed marks the job failed. Artifacts stay on disk for
// post-mortem inspection.
func (m *Manager) finishFailed(record *model.Job, cause error) {
	now := time.Now().UTC()
	record.Status = model.StatusFailed
	record.Error = cause.Error()
	record.CompletedAt = &now
	if err := m.store.Update(record); err != nil {
		logger.Log.Error().Err(err).Str("traceID", record.ID).Msg("failed to mark job failed")
	}

	m.mu.Lock()
	m.totalFailed++
	m.mu.Unlock()

	logger.Log.Error().
		Str("traceID", record.ID).
		Str("phase", "failed").
		Str("error", cause.Error()).
		Msg("job failed")
}

// updateJob persists a progress update. Progress never moves backwards
// within a run.
func (m *Manager) updateJob(record *model.Job, progress int, message string) {
	if progress > 100 {
		progress = 100
	}
	if progress > record.Progress {
		record.Progress = progress
	}
	record.StatusMessage = message
	if err := m.store.Update(record); err != nil {
		logger.Log.Error().Err(err).Str("traceID", record.ID).Msg("failed to persist progress")
	}
}

func checkCancel(ctx context.Context) error {
	if ctx.Err() != nil {
		return apperr.Wrap("worker.checkCancel", apperr.ErrCancelled)
	}
	return nil
}

// currentCoverLowRes reports whether the song's cover, in any supported
// format, is below the replacement threshold.
func currentCoverLowRes(lib *library.Library, songID string) bool {
	path, _, err := lib.ResolveImage(songID, "cover")
	if err != nil {
		return true
	}
	return itunes.CoverIsLowRes(path)
}
