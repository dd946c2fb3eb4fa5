package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperr "karaoke/internal/errors"
	"karaoke/internal/library"
	"karaoke/internal/model"
)

type createSongRequest struct {
	Title      string `json:"title" binding:"required"`
	Artist     string `json:"artist" binding:"required"`
	Album      string `json:"album"`
	DurationMs int64  `json:"durationMs"`
	Source     string `json:"source"`
	VideoID    string `json:"videoId"`
}

func (s *Server) createSong(c *gin.Context) {
	var req createSongRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "title and artist are required")
		return
	}

	song := &model.Song{
		ID:         uuid.New().String(),
		Title:      req.Title,
		Artist:     req.Artist,
		Album:      req.Album,
		DurationMs: req.DurationMs,
		Source:     req.Source,
		VideoID:    req.VideoID,
	}
	if err := s.songs.Create(song); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"song":   song,
		"status": "pending",
	})
}

func (s *Server) listSongs(c *gin.Context) {
	songs, err := s.songs.List()
	if err != nil {
		respondError(c, err)
		return
	}
	if songs == nil {
		songs = []*model.Song{}
	}
	c.JSON(http.StatusOK, gin.H{"songs": songs})
}

func (s *Server) getSong(c *gin.Context) {
	song, err := s.songs.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, song)
}

type patchSongRequest struct {
	Title  *string `json:"title"`
	Artist *string `json:"artist"`
	Album  *string `json:"album"`
}

func (s *Server) patchSong(c *gin.Context) {
	song, err := s.songs.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	var req patchSongRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "malformed song patch")
		return
	}

	if req.Title != nil {
		song.Title = *req.Title
	}
	if req.Artist != nil {
		song.Artist = *req.Artist
	}
	if req.Album != nil {
		song.Album = *req.Album
	}

	if err := s.songs.Update(song); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, song)
}

// deleteSong removes the row, its queue entries and the artifact
// directory.
func (s *Server) deleteSong(c *gin.Context) {
	id := c.Param("id")

	if _, err := s.songs.Get(id); err != nil {
		respondError(c, err)
		return
	}
	if err := s.queue.RemoveBySong(id); err != nil {
		respondError(c, err)
		return
	}
	if err := s.songs.Delete(id); err != nil {
		respondError(c, err)
		return
	}
	if err := s.lib.DeleteSong(id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// downloadTrack serves one audio artifact. Track kinds outside
// {vocals, instrumental, original} and any path escaping the library
// root are rejected before a file is touched.
func (s *Server) downloadTrack(c *gin.Context) {
	id := c.Param("id")
	track := c.Param("track")

	if !library.ValidTrack(track) {
		badRequest(c, "unknown track kind: "+track)
		return
	}
	if err := rejectTraversal(id); err != nil {
		respondError(c, err)
		return
	}

	path, err := s.lib.ResolveTrack(id, library.TrackKind(track))
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", library.AudioMIME(strings.ToLower(pathExt(path))))
	c.File(path)
}

// serveImage serves the cover or thumbnail with format auto-detection.
func (s *Server) serveImage(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := rejectTraversal(id); err != nil {
			respondError(c, err)
			return
		}

		path, mime, err := s.lib.ResolveImage(id, name)
		if err != nil {
			respondError(c, err)
			return
		}

		c.Header("Content-Type", mime)
		c.File(path)
	}
}

// rejectTraversal refuses ids that attempt to leave the library tree.
// The library layer re-checks; this keeps the 400 shape for raw-path
// requests before any filesystem access.
func rejectTraversal(id string) error {
	if id == "" || strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return apperr.NewWithCode("api.rejectTraversal", apperr.ErrAccessDenied,
			"SECURITY_VIOLATION", "song id escapes the library root")
	}
	return nil
}

func pathExt(path string) string {
	if idx := strings.LastIndex(path, "."); idx >= 0 {
		return path[idx:]
	}
	return ""
}
