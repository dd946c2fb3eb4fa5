package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"karaoke/internal/model"
)

type addQueueRequest struct {
	SongID string `json:"songId" binding:"required"`
	Singer string `json:"singer" binding:"required"`
}

func (s *Server) listQueue(c *gin.Context) {
	items, err := s.queue.List()
	if err != nil {
		respondError(c, err)
		return
	}
	if items == nil {
		items = []*model.QueueItem{}
	}
	c.JSON(http.StatusOK, gin.H{"queue": items})
}

func (s *Server) addToQueue(c *gin.Context) {
	var req addQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "songId and singer are required")
		return
	}

	// The song must exist before anyone can queue up to sing it.
	if _, err := s.songs.Get(req.SongID); err != nil {
		respondError(c, err)
		return
	}

	item, err := s.queue.Add(req.SongID, req.Singer)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

type reorderRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

func (s *Server) reorderQueue(c *gin.Context) {
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "ids list is required")
		return
	}

	if err := s.queue.Reorder(req.IDs); err != nil {
		respondError(c, err)
		return
	}

	items, err := s.queue.List()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": items})
}

func (s *Server) removeFromQueue(c *gin.Context) {
	if err := s.queue.Remove(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
