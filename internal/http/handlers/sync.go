package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/lexisync/internal/http/middleware"
	"github.com/example/lexisync/internal/ingest"
	"github.com/example/lexisync/internal/logger"
)

type SyncHandler struct {
	log    *logger.Logger
	queue  *ingest.Queue
	worker *ingest.Worker
}

func NewSyncHandler(log *logger.Logger, queue *ingest.Queue, worker *ingest.Worker) *SyncHandler {
	return &SyncHandler{
		log:    log.With("handler", "SyncHandler"),
		queue:  queue,
		worker: worker,
	}
}

// POST /api/sync/jobs
func (h *SyncHandler) CreateJob(c *gin.Context) {
	body, _ := c.Get(middleware.RawBodyKey)
	raw, _ := body.([]byte)
	job, err := h.queue.Enqueue(c.Request.Context(), c.GetHeader(ingest.HeaderRequestID), "", raw)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, ingest.JobResponse{Status: job.Status, Job: ingest.ViewOf(job)})
}

// GET /api/sync/jobs/:requestId
func (h *SyncHandler) GetJob(c *gin.Context) {
	job, err := h.queue.Status(c.Request.Context(), c.Param("requestId"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, ingest.JobResponse{Status: job.Status, Job: ingest.ViewOf(job)})
}

// GET /api/sync/health
func (h *SyncHandler) Health(c *gin.Context) {
	if h.worker == nil {
		counts, err := h.queue.Counts(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, ingest.Health{Counts: counts})
		return
	}
	health, err := h.worker.Health(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, health)
}
