package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"karaoke/internal/config"
	"karaoke/internal/events"
	"karaoke/internal/itunes"
	"karaoke/internal/library"
	"karaoke/internal/logger"
	"karaoke/internal/lyrics"
	"karaoke/internal/separator"
	"karaoke/internal/server"
	"karaoke/internal/storage"
	"karaoke/internal/worker"
	"karaoke/internal/ws"
	"karaoke/internal/youtube"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run is the composition root: it builds every component once and
// passes references inward, so there is no global wiring anywhere else.
func run() error {
	cfg := config.Load()

	if err := logger.Init(cfg.DataDir); err != nil {
		return fmt.Errorf("logger init: %w", err)
	}

	db, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lib, err := library.New(cfg.LibraryDir)
	if err != nil {
		return fmt.Errorf("open library: %w", err)
	}

	bus := events.NewBus()
	jobStore := storage.NewJobStore(db, bus)
	songRepo := storage.NewSongRepository(db)
	queueRepo := storage.NewQueueRepository(db)

	downloader := youtube.NewClient(cfg.YtDlpPath, cfg.FFmpegPath)
	demucs := separator.NewDemucs(cfg.DemucsPath, cfg.FFmpegPath, cfg.DemucsModel, cfg.MP3Bitrate)
	enricher := itunes.NewClient(cfg.ContactEmail)
	lyricsService := lyrics.NewService(songRepo, cfg.ContactEmail)

	manager := worker.NewManager(worker.Options{
		Store:       jobStore,
		Songs:       songRepo,
		Library:     lib,
		Downloader:  downloader,
		Separator:   demucs,
		Enricher:    enricher,
		Lyrics:      lyricsService,
		Workers:     cfg.Workers,
		StaleJobAge: cfg.StaleJobAge,
	})
	manager.Start()
	defer manager.Stop()

	hub := ws.NewHub(jobStore, bus)

	if os.Getenv("KARAOKE_DEBUG") != "true" && os.Getenv("KARAOKE_DEBUG") != "1" {
		gin.SetMode(gin.ReleaseMode)
	}

	api := server.New(server.Options{
		Songs:   songRepo,
		Jobs:    jobStore,
		Queue:   queueRepo,
		Library: lib,
		Manager: manager,
		Hub:     hub,
	})

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(cfg.CORSOrigins),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info().
			Str("addr", cfg.BindAddr).
			Str("library", cfg.LibraryDir).
			Int("workers", cfg.Workers).
			Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Log.Error().Err(err).Msg("http shutdown failed")
	}
	return nil
}
