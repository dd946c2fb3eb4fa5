// Package server exposes the HTTP and WebSocket API over gin.
package server

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	apperr "karaoke/internal/errors"
	"karaoke/internal/library"
	"karaoke/internal/logger"
	"karaoke/internal/storage"
	"karaoke/internal/worker"
	"karaoke/internal/ws"
)

// Server wires the API handlers to their collaborators.
type Server struct {
	songs   *storage.SongRepository
	jobs    *storage.JobStore
	queue   *storage.QueueRepository
	lib     *library.Library
	manager *worker.Manager
	hub     *ws.Hub
}

// Options carries the server's dependencies.
type Options struct {
	Songs   *storage.SongRepository
	Jobs    *storage.JobStore
	Queue   *storage.QueueRepository
	Library *library.Library
	Manager *worker.Manager
	Hub     *ws.Hub
}

// New creates the server.
func New(opts Options) *Server {
	return &Server{
		songs:   opts.Songs,
		jobs:    opts.Jobs,
		queue:   opts.Queue,
		lib:     opts.Library,
		manager: opts.Manager,
		hub:     opts.Hub,
	}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router(corsOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// Raw path matching keeps encoded separators inside path params, so
	// traversal attempts reach the handler and are rejected there
	// instead of being silently rewritten.
	r.UseRawPath = true

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = corsOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	r.Use(cors.New(corsConfig))

	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.POST("/songs", s.createSong)
		api.GET("/songs", s.listSongs)
		api.GET("/songs/:id", s.getSong)
		api.PATCH("/songs/:id", s.patchSong)
		api.DELETE("/songs/:id", s.deleteSong)
		api.GET("/songs/:id/download/:track", s.downloadTrack)
		api.GET("/songs/:id/thumbnail", s.serveImage("thumbnail"))
		api.GET("/songs/:id/cover", s.serveImage("cover"))

		api.POST("/youtube/download", s.submitYouTubeJob)

		api.GET("/jobs", s.listJobs)
		api.GET("/jobs/stats", s.jobStats)
		api.GET("/jobs/:id", s.getJob)
		api.POST("/jobs/:id/cancel", s.cancelJob)
		api.POST("/jobs/:id/dismiss", s.dismissJob)

		api.GET("/karaoke-queue", s.listQueue)
		api.POST("/karaoke-queue", s.addToQueue)
		api.PUT("/karaoke-queue/reorder", s.reorderQueue)
		api.DELETE("/karaoke-queue/:id", s.removeFromQueue)
	}

	r.GET("/ws/jobs", func(c *gin.Context) {
		s.hub.ServeJobs(c.Writer, c.Request)
	})
	r.GET("/ws/performance", func(c *gin.Context) {
		s.hub.ServePerformance(c.Writer, c.Request)
	})

	return r
}

// respondError translates a domain error into the API error shape.
func respondError(c *gin.Context, err error) {
	code := apperr.Code(err)

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrValidation),
		errors.Is(err, apperr.ErrInvalidURL),
		errors.Is(err, apperr.ErrInvalidState),
		errors.Is(err, apperr.ErrAccessDenied):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, apperr.ErrProvider), errors.Is(err, apperr.ErrTimeout):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		logger.Log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}

	var app *apperr.AppError
	message := err.Error()
	if errors.As(err, &app) && app.Message != "" {
		message = app.Message
	}

	c.JSON(status, gin.H{
		"error":   message,
		"code":    code,
		"details": gin.H{},
	})
}

func badRequest(c *gin.Context, message string) {
	respondError(c, apperr.NewWithMessage("api", apperr.ErrValidation, message))
}
