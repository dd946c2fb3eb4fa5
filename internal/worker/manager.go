// Package worker runs the karaoke processing pipeline: a fixed pool of
// workers drains a FIFO queue of jobs, each driving download,
// separation and finalization for one song while publishing progress
// through the job store.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apperr "karaoke/internal/errors"
	"karaoke/internal/itunes"
	"karaoke/internal/library"
	"karaoke/internal/logger"
	"karaoke/internal/lyrics"
	"karaoke/internal/model"
	"karaoke/internal/separator"
	"karaoke/internal/storage"
	"karaoke/internal/youtube"
)

// Downloader is the slice of the youtube client the pipeline drives.
type Downloader interface {
	Download(ctx context.Context, videoID, destPath, hintArtist, hintTitle string, onProgress youtube.ProgressFunc) (*youtube.Metadata, error)
	DownloadThumbnail(ctx context.Context, meta *youtube.Metadata, pathStem string) (string, error)
}

// Enricher is the slice of the itunes client the pipeline drives.
type Enricher interface {
	Enrich(ctx context.Context, artist, title, album string) (*itunes.Result, error)
	DownloadCover(ctx context.Context, track itunes.Track, pathStem string) (string, error)
}

// LyricsFetcher resolves lyrics for a song.
type LyricsFetcher interface {
	FetchForSong(ctx context.Context, song *model.Song) (*lyrics.Result, error)
}

// JobSpec describes a submission.
type JobSpec struct {
	JobID   string // optional; generated when empty
	SongID  string
	VideoID string // empty for already-uploaded sources
	Title   string
	Artist  string
}

// job pairs a queued spec with its cancellation token.
type job struct {
	spec   JobSpec
	ctx    context.Context
	cancel context.CancelFunc
}

// Manager owns the queue, the worker pool and per-job cancellation.
type Manager struct {
	store      *storage.JobStore
	songs      *storage.SongRepository
	lib        *library.Library
	downloader Downloader
	separator  separator.Separator
	enricher   Enricher
	lyrics     LyricsFetcher

	maxWorkers  int
	staleJobAge time.Duration

	queue       chan *job
	activeSlots chan struct{} // semaphore for concurrency control
	jobs        map[string]*job
	mu          sync.RWMutex
	quit        chan struct{}
	wg          sync.WaitGroup

	totalCompleted int64
	totalFailed    int64
}

// Options wires the manager's collaborators.
type Options struct {
	Store       *storage.JobStore
	Songs       *storage.SongRepository
	Library     *library.Library
	Downloader  Downloader
	Separator   separator.Separator
	Enricher    Enricher
	Lyrics      LyricsFetcher
	Workers     int
	StaleJobAge time.Duration
}

// NewManager creates a job manager.
func NewManager(opts Options) *Manager {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	staleAge := opts.StaleJobAge
	if staleAge <= 0 {
		staleAge = time.Hour
	}

	return &Manager{
		store:       opts.Store,
		songs:       opts.Songs,
		lib:         opts.Library,
		downloader:  opts.Downloader,
		separator:   opts.Separator,
		enricher:    opts.Enricher,
		lyrics:      opts.Lyrics,
		maxWorkers:  workers,
		staleJobAge: staleAge,
		queue:       make(chan *job, 100),
		activeSlots: make(chan struct{}, workers),
		jobs:        make(map[string]*job),
		quit:        make(chan struct{}),
	}
}

// Start sweeps jobs stranded by a previous process and begins the
// worker loop.
func (m *Manager) Start() {
	logger.Log.Info().Int("maxWorkers", m.maxWorkers).Msg("job manager started")

	cutoff := time.Now().UTC().Add(-m.staleJobAge)
	if marked, err := m.store.MarkStaleFailed(cutoff, "marked failed by startup sweep"); err != nil {
		logger.Log.Error().Err(err).Msg("startup sweep failed")
	} else if marked > 0 {
		logger.Log.Warn().Int("count", marked).Msg("marked stale jobs failed")
	}

	go m.logStatsLoop()

	go func() {
		for {
			select {
			case j := <-m.queue:
				// Acquire a slot (blocks if maxWorkers reached)
				m.activeSlots <- struct{}{}

				m.wg.Add(1)
				go func(j *job) {
					defer m.wg.Done()
					defer func() { <-m.activeSlots }()
					m.processJob(j)
				}(j)

			case <-m.quit:
				logger.Log.Info().Msg("job manager shutting down")
				return
			}
		}
	}()
}

// Stop drains in-flight work and shuts the manager down.
func (m *Manager) Stop() {
	close(m.quit)
	m.wg.Wait()
	logger.Log.Info().Msg("job manager stopped")
}

// Submit persists a pending job and enqueues it. A duplicate pre-chosen
// job id fails with Conflict and leaves no second row.
func (m *Manager) Submit(spec JobSpec) (string, error) {
	if spec.SongID == "" {
		return "", apperr.NewWithMessage("Manager.Submit", apperr.ErrValidation, "song id is required")
	}
	if spec.JobID == "" {
		spec.JobID = uuid.New().String()
	}

	record := &model.Job{
		ID:       spec.JobID,
		SongID:   spec.SongID,
		Filename: "original.mp3",
		Title:    spec.Title,
		Artist:   spec.Artist,
		Status:   model.StatusPending,
	}
	if err := m.store.Create(record); err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{spec: spec, ctx: ctx, cancel: cancel}

	m.mu.Lock()
	m.jobs[spec.JobID] = j
	m.mu.Unlock()

	m.queue <- j

	logger.Log.Info().
		Str("traceID", spec.JobID).
		Str("phase", "enqueue").
		Str("songID", spec.SongID).
		Str("videoID", spec.VideoID).
		Msg("job added to queue")

	return spec.JobID, nil
}

// Cancel signals the job's token. A job still waiting in the queue is
// marked cancelled directly; a running job notices the token at its
// next suspension point.
func (m *Manager) Cancel(jobID string) error {
	record, err := m.store.Get(jobID)
	if err != nil {
		return err
	}
	if record.Status.Terminal() {
		return apperr.NewWithMessage("Manager.Cancel", apperr.ErrInvalidState,
			"job "+jobID+" already finished")
	}

	m.mu.RLock()
	j, tracked := m.jobs[jobID]
	m.mu.RUnlock()

	if tracked {
		logger.Log.Info().Str("traceID", jobID).Msg("cancel requested, signalling token")
		j.cancel()
	}

	// Not yet picked up by a worker: finish it here so the queue drain
	// skips it.
	if record.Status == model.StatusPending {
		now := time.Now().UTC()
		record.Status = model.StatusCancelled
		record.Error = "Cancelled by user"
		record.CompletedAt = &now
		return m.store.Update(record)
	}
	return nil
}

func (m *Manager) cleanupJob(id string) {
	m.mu.Lock()
	delete(m.jobs, id)
	m.mu.Unlock()
}

// logStatsLoop periodically logs manager metrics for observability.
func (m *Manager) logStatsLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.mu.RLock()
			activeJobs := len(m.jobs)
			m.mu.RUnlock()

			logger.Log.Info().
				Int("activeJobs", activeJobs).
				Int("queueLen", len(m.queue)).
				Int64("totalCompleted", m.totalCompleted).
				Int64("totalFailed", m.totalFailed).
				Msg("manager stats")
		case <-m.quit:
			return
		}
	}
}
