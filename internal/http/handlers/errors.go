package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/lexisync/internal/http/response"
	"github.com/example/lexisync/internal/ingest"
	"github.com/example/lexisync/internal/progress"
)

// respondErr maps service errors onto status codes. Anything unknown is a 500.
func respondErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ingest.ErrInvalidPayload):
		response.RespondError(c, http.StatusBadRequest, "invalid_payload", err)
	case errors.Is(err, ingest.ErrJobNotFound):
		response.RespondError(c, http.StatusNotFound, "job_not_found", err)
	case errors.Is(err, progress.ErrInvalidTrack):
		response.RespondError(c, http.StatusBadRequest, "invalid_track", err)
	case errors.Is(err, progress.ErrInvalidItemType):
		response.RespondError(c, http.StatusBadRequest, "invalid_item_type", err)
	case errors.Is(err, progress.ErrEmptyID):
		response.RespondError(c, http.StatusBadRequest, "empty_id", err)
	case errors.Is(err, progress.ErrUnknownSense):
		response.RespondError(c, http.StatusNotFound, "unknown_sense", err)
	case errors.Is(err, progress.ErrCollectionNotFound):
		response.RespondError(c, http.StatusNotFound, "collection_not_found", err)
	default:
		_ = c.Error(err)
		response.RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}
