package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperr "karaoke/internal/errors"
	"karaoke/internal/model"
	"karaoke/internal/storage"
	"karaoke/internal/worker"
	"karaoke/internal/youtube"
)

type youtubeDownloadRequest struct {
	VideoID string `json:"video_id" binding:"required"`
	SongID  string `json:"song_id"`
	Title   string `json:"title"`
	Artist  string `json:"artist"`
}

// submitYouTubeJob validates the video reference, ensures a song row
// exists, and enqueues the processing job.
func (s *Server) submitYouTubeJob(c *gin.Context) {
	var req youtubeDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "video_id is required")
		return
	}

	videoID, err := youtube.ExtractVideoID(req.VideoID)
	if err != nil {
		respondError(c, err)
		return
	}

	songID := req.SongID
	if songID == "" {
		songID = uuid.New().String()
	}
	if _, err := s.songs.Get(songID); apperr.IsNotFound(err) {
		title := req.Title
		if title == "" {
			title = "Unknown Title"
		}
		song := &model.Song{
			ID:      songID,
			Title:   title,
			Artist:  req.Artist,
			Source:  "youtube",
			VideoID: videoID,
		}
		if err := s.songs.Create(song); err != nil {
			respondError(c, err)
			return
		}
	} else if err != nil {
		respondError(c, err)
		return
	}

	jobID, err := s.manager.Submit(worker.JobSpec{
		SongID:  songID,
		VideoID: videoID,
		Title:   req.Title,
		Artist:  req.Artist,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"jobId":  jobID,
		"songId": songID,
		"status": "pending",
	})
}

func (s *Server) listJobs(c *gin.Context) {
	filter := storage.JobFilter{
		IncludeDismissed: c.Query("include_dismissed") == "true",
	}
	if status := c.Query("status"); status != "" {
		parsed := model.JobStatus(status)
		if !parsed.Valid() {
			badRequest(c, "unknown status: "+status)
			return
		}
		filter.Status = parsed
	}

	jobs, err := s.jobs.List(filter)
	if err != nil {
		respondError(c, err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.jobs.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) cancelJob(c *gin.Context) {
	if err := s.manager.Cancel(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
}

func (s *Server) dismissJob(c *gin.Context) {
	if err := s.jobs.Dismiss(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "dismissed"})
}

func (s *Server) jobStats(c *gin.Context) {
	stats, err := s.jobs.Stats()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
