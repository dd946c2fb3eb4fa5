package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"karaoke/internal/events"
	"karaoke/internal/itunes"
	"karaoke/internal/library"
	"karaoke/internal/logger"
	"karaoke/internal/lyrics"
	"karaoke/internal/model"
	"karaoke/internal/separator"
	"karaoke/internal/storage"
	"karaoke/internal/worker"
	"karaoke/internal/ws"
	"karaoke/internal/youtube"
)

func init() {
	logger.InitDiscard()
	gin.SetMode(gin.TestMode)
}

// Minimal pipeline fakes; the worker package exercises the real
// pipeline behavior, handlers only need a functioning manager.

type stubDownloader struct{}

func (stubDownloader) Download(ctx context.Context, videoID, destPath, hintArtist, hintTitle string, onProgress youtube.ProgressFunc) (*youtube.Metadata, error) {
	if err := library.WriteFileAtomic(destPath, []byte("mp3")); err != nil {
		return nil, err
	}
	return &youtube.Metadata{Title: hintTitle, Artist: hintArtist}, nil
}

func (stubDownloader) DownloadThumbnail(ctx context.Context, meta *youtube.Metadata, pathStem string) (string, error) {
	target := pathStem + ".jpg"
	return target, library.WriteFileAtomic(target, []byte("jpg"))
}

type stubSeparator struct{}

func (stubSeparator) Separate(ctx context.Context, inputPath, songDir string, onProgress separator.ProgressFunc) (string, string, error) {
	vocals := filepath.Join(songDir, "vocals.mp3")
	instrumental := filepath.Join(songDir, "instrumental.mp3")
	if err := library.WriteFileAtomic(vocals, []byte("v")); err != nil {
		return "", "", err
	}
	if err := library.WriteFileAtomic(instrumental, []byte("i")); err != nil {
		return "", "", err
	}
	return vocals, instrumental, nil
}

type stubEnricher struct{}

func (stubEnricher) Enrich(ctx context.Context, artist, title, album string) (*itunes.Result, error) {
	return &itunes.Result{Track: itunes.Track{Title: title, Artist: artist}}, nil
}

func (stubEnricher) DownloadCover(ctx context.Context, track itunes.Track, pathStem string) (string, error) {
	target := pathStem + ".jpg"
	return target, library.WriteFileAtomic(target, []byte("cover"))
}

type stubLyrics struct{}

func (stubLyrics) FetchForSong(ctx context.Context, song *model.Song) (*lyrics.Result, error) {
	return &lyrics.Result{PlainLyrics: "la"}, nil
}

type testAPI struct {
	router *gin.Engine
	songs  *storage.SongRepository
	jobs   *storage.JobStore
	lib    *library.Library
}

func setupAPI(t *testing.T) *testAPI {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "karaoke.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	lib, err := library.New(filepath.Join(t.TempDir(), "library"))
	if err != nil {
		t.Fatalf("create library: %v", err)
	}

	bus := events.NewBus()
	jobs := storage.NewJobStore(db, bus)
	songs := storage.NewSongRepository(db)
	queue := storage.NewQueueRepository(db)

	manager := worker.NewManager(worker.Options{
		Store:      jobs,
		Songs:      songs,
		Library:    lib,
		Downloader: stubDownloader{},
		Separator:  stubSeparator{},
		Enricher:   stubEnricher{},
		Lyrics:     stubLyrics{},
		Workers:    1,
	})
	manager.Start()
	t.Cleanup(manager.Stop)

	hub := ws.NewHub(jobs, bus)

	srv := New(Options{
		Songs:   songs,
		Jobs:    jobs,
		Queue:   queue,
		Library: lib,
		Manager: manager,
		Hub:     hub,
	})

	return &testAPI{
		router: srv.Router([]string{"http://localhost:5173"}),
		songs:  songs,
		jobs:   jobs,
		lib:    lib,
	}
}

func (a *testAPI) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) (string, string) {
	t.Helper()

	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("error body is not JSON: %s", w.Body.String())
	}
	return payload.Error, payload.Code
}

// =============================================================================
// Songs
// =============================================================================

func TestCreateSong(t *testing.T) {
	api := setupAPI(t)

	w := api.do(t, http.MethodPost, "/api/songs", gin.H{
		"title":  "Never Gonna Give You Up",
		"artist": "Rick Astley",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var payload struct {
		Song   model.Song `json:"song"`
		Status string     `json:"status"`
	}
	json.Unmarshal(w.Body.Bytes(), &payload)
	if payload.Status != "pending" || payload.Song.ID == "" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestCreateSong_Validation(t *testing.T) {
	api := setupAPI(t)

	w := api.do(t, http.MethodPost, "/api/songs", gin.H{"title": "No Artist"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if _, code := decodeError(t, w); code != "VALIDATION_ERROR" {
		t.Errorf("code = %s", code)
	}
}

func TestGetSong_NotFoundShape(t *testing.T) {
	api := setupAPI(t)

	w := api.do(t, http.MethodGet, "/api/songs/ghost", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if _, code := decodeError(t, w); code != "NOT_FOUND" {
		t.Errorf("code = %s", code)
	}
}

func TestPathTraversalRejected(t *testing.T) {
	api := setupAPI(t)

	w := api.do(t, http.MethodGet, "/api/songs/..%2Fetc/download/original", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if _, code := decodeError(t, w); code != "SECURITY_VIOLATION" {
		t.Errorf("code = %s, want SECURITY_VIOLATION", code)
	}
}

func TestDownloadTrack_UnknownKind(t *testing.T) {
	api := setupAPI(t)

	w := api.do(t, http.MethodGet, "/api/songs/s1/download/drums", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestDownloadTrack_ServesAudio(t *testing.T) {
	api := setupAPI(t)

	api.songs.Create(&model.Song{ID: "s1", Title: "t", Artist: "a"})
	dir, _ := api.lib.SongDir("s1")
	library.WriteFileAtomic(filepath.Join(dir, "vocals.mp3"), []byte("mp3 bytes"))

	w := api.do(t, http.MethodGet, "/api/songs/s1/download/vocals", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Content-Type = %s", ct)
	}
	if w.Body.String() != "mp3 bytes" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestServeCover_FormatPreference(t *testing.T) {
	api := setupAPI(t)

	api.songs.Create(&model.Song{ID: "s1", Title: "t", Artist: "a"})
	dir, _ := api.lib.SongDir("s1")
	library.WriteFileAtomic(filepath.Join(dir, "cover.png"), []byte("png bytes"))
	library.WriteFileAtomic(filepath.Join(dir, "cover.webp"), []byte("webp bytes"))

	w := api.do(t, http.MethodGet, "/api/songs/s1/cover", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/webp" {
		t.Errorf("Content-Type = %s, want image/webp preferred", ct)
	}

	missing := api.do(t, http.MethodGet, "/api/songs/s1/thumbnail", nil)
	if missing.Code != http.StatusNotFound {
		t.Errorf("missing thumbnail status = %d", missing.Code)
	}
}

func TestDeleteSong_RemovesArtifacts(t *testing.T) {
	api := setupAPI(t)

	api.songs.Create(&model.Song{ID: "s1", Title: "t", Artist: "a"})
	dir, _ := api.lib.SongDir("s1")
	library.WriteFileAtomic(filepath.Join(dir, "original.mp3"), []byte("x"))

	w := api.do(t, http.MethodDelete, "/api/songs/s1", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}

	if _, err := api.songs.Get("s1"); err == nil {
		t.Error("song row should be gone")
	}
	ids, _ := api.lib.ListSongIDs()
	if len(ids) != 0 {
		t.Errorf("artifact dirs remain: %v", ids)
	}
}

// =============================================================================
// Jobs
// =============================================================================

func TestYouTubeDownload_Accepted(t *testing.T) {
	api := setupAPI(t)

	w := api.do(t, http.MethodPost, "/api/youtube/download", gin.H{
		"video_id": "dQw4w9WgXcQ",
		"song_id":  "s1",
		"title":    "t",
		"artist":   "a",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var payload struct {
		JobID  string `json:"jobId"`
		Status string `json:"status"`
	}
	json.Unmarshal(w.Body.Bytes(), &payload)
	if payload.JobID == "" || payload.Status != "pending" {
		t.Errorf("payload = %+v", payload)
	}

	// The song row was created alongside the job.
	if _, err := api.songs.Get("s1"); err != nil {
		t.Errorf("song row missing: %v", err)
	}
}

func TestYouTubeDownload_InvalidURL(t *testing.T) {
	api := setupAPI(t)

	w := api.do(t, http.MethodPost, "/api/youtube/download", gin.H{
		"video_id": "https://vimeo.com/1234",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if _, code := decodeError(t, w); code != "INVALID_URL" {
		t.Errorf("code = %s", code)
	}
}

func TestJobsListAndFilter(t *testing.T) {
	api := setupAPI(t)

	api.jobs.Create(&model.Job{ID: "j1", SongID: "s1", Status: model.StatusPending})
	done := &model.Job{ID: "j2", SongID: "s2", Status: model.StatusCompleted, Progress: 100}
	api.jobs.Create(done)
	api.jobs.Dismiss("j2")

	w := api.do(t, http.MethodGet, "/api/jobs", nil)
	var payload struct {
		Jobs []model.Job `json:"jobs"`
	}
	json.Unmarshal(w.Body.Bytes(), &payload)
	if len(payload.Jobs) != 1 {
		t.Errorf("default list = %d jobs, want dismissed hidden", len(payload.Jobs))
	}

	w = api.do(t, http.MethodGet, "/api/jobs?include_dismissed=true", nil)
	json.Unmarshal(w.Body.Bytes(), &payload)
	if len(payload.Jobs) != 2 {
		t.Errorf("include_dismissed list = %d jobs", len(payload.Jobs))
	}

	w = api.do(t, http.MethodGet, "/api/jobs?status=bogus", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bogus status filter = %d, want 400", w.Code)
	}
}

func TestCancelCompletedJob_InvalidState(t *testing.T) {
	api := setupAPI(t)

	done := &model.Job{ID: "j1", SongID: "s1", Status: model.StatusCompleted, Progress: 100}
	api.jobs.Create(done)

	w := api.do(t, http.MethodPost, "/api/jobs/j1/cancel", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if _, code := decodeError(t, w); code != "INVALID_STATE" {
		t.Errorf("code = %s", code)
	}
}

func TestDismissJob(t *testing.T) {
	api := setupAPI(t)

	api.jobs.Create(&model.Job{ID: "j1", SongID: "s1", Status: model.StatusPending})

	w := api.do(t, http.MethodPost, "/api/jobs/j1/dismiss", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("dismiss pending = %d, want 400", w.Code)
	}

	job, _ := api.jobs.Get("j1")
	job.Status = model.StatusFailed
	api.jobs.Update(job)

	w = api.do(t, http.MethodPost, "/api/jobs/j1/dismiss", nil)
	if w.Code != http.StatusOK {
		t.Errorf("dismiss failed job = %d, want 200", w.Code)
	}
}

func TestEndToEndThroughAPI(t *testing.T) {
	api := setupAPI(t)

	w := api.do(t, http.MethodPost, "/api/youtube/download", gin.H{
		"video_id": "dQw4w9WgXcQ",
		"song_id":  "s1",
		"title":    "t",
		"artist":   "a",
	})
	var payload struct {
		JobID string `json:"jobId"`
	}
	json.Unmarshal(w.Body.Bytes(), &payload)

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := api.jobs.Get(payload.JobID)
		if err == nil && job.Status.Terminal() {
			if job.Status != model.StatusCompleted {
				t.Fatalf("job finished as %s: %s", job.Status, job.Error)
			}
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	song, _ := api.songs.Get("s1")
	if !song.HasAudioFiles {
		t.Error("song should have audio files after the pipeline")
	}

	track := api.do(t, http.MethodGet, "/api/songs/s1/download/instrumental", nil)
	if track.Code != http.StatusOK {
		t.Errorf("instrumental download = %d", track.Code)
	}
}

// =============================================================================
// Karaoke queue
// =============================================================================

func TestQueueEndpoints(t *testing.T) {
	api := setupAPI(t)

	api.songs.Create(&model.Song{ID: "s1", Title: "t", Artist: "a"})
	api.songs.Create(&model.Song{ID: "s2", Title: "t2", Artist: "a2"})

	w := api.do(t, http.MethodPost, "/api/karaoke-queue", gin.H{"songId": "s1", "singer": "Alice"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add = %d, body %s", w.Code, w.Body.String())
	}
	var first model.QueueItem
	json.Unmarshal(w.Body.Bytes(), &first)

	w = api.do(t, http.MethodPost, "/api/karaoke-queue", gin.H{"songId": "s2", "singer": "Bob"})
	var second model.QueueItem
	json.Unmarshal(w.Body.Bytes(), &second)

	// Unknown song is rejected.
	w = api.do(t, http.MethodPost, "/api/karaoke-queue", gin.H{"songId": "ghost", "singer": "Eve"})
	if w.Code != http.StatusNotFound {
		t.Errorf("queueing unknown song = %d, want 404", w.Code)
	}

	w = api.do(t, http.MethodPut, "/api/karaoke-queue/reorder", gin.H{"ids": []string{second.ID, first.ID}})
	if w.Code != http.StatusOK {
		t.Fatalf("reorder = %d", w.Code)
	}
	var payload struct {
		Queue []model.QueueItem `json:"queue"`
	}
	json.Unmarshal(w.Body.Bytes(), &payload)
	if payload.Queue[0].Singer != "Bob" || payload.Queue[0].Position != 0 {
		t.Errorf("reorder result = %+v", payload.Queue)
	}

	w = api.do(t, http.MethodDelete, "/api/karaoke-queue/"+first.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("remove = %d", w.Code)
	}
}
