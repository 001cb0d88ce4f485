package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/lexisync/internal/daily"
	"github.com/example/lexisync/internal/http/response"
	"github.com/example/lexisync/internal/logger"
	"github.com/example/lexisync/internal/progress"
	"github.com/example/lexisync/internal/streak"
)

// LearnerHandler serves the per-learner routes under /api/learners/:username
type LearnerHandler struct {
	log        *logger.Logger
	tracker    *progress.Tracker
	selector   *daily.Selector
	accountant *streak.Accountant
}

func NewLearnerHandler(
	log *logger.Logger,
	tracker *progress.Tracker,
	selector *daily.Selector,
	accountant *streak.Accountant,
) *LearnerHandler {
	return &LearnerHandler{
		log:        log.With("handler", "LearnerHandler"),
		tracker:    tracker,
		selector:   selector,
		accountant: accountant,
	}
}

func username(c *gin.Context) (string, bool) {
	u := strings.TrimSpace(c.Param("username"))
	if u == "" {
		response.RespondError(c, http.StatusBadRequest, "username_required", errors.New("username is required"))
		return "", false
	}
	return u, true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return false
	}
	return true
}

// GET /api/learners/:username
func (h *LearnerHandler) Summary(c *gin.Context) {
	user, ok := username(c)
	if !ok {
		return
	}
	summary, err := h.tracker.Summary(c.Request.Context(), user)
	if err != nil {
		respondErr(c, err)
		return
	}
	response.RespondOK(c, summary)
}

// GET /api/learners/:username/today?lang=
func (h *LearnerHandler) Today(c *gin.Context) {
	user, ok := username(c)
	if !ok {
		return
	}
	lang := strings.TrimSpace(c.Query("lang"))
	if lang == "" {
		response.RespondError(c, http.StatusBadRequest, "lang_required", errors.New("lang query parameter is required"))
		return
	}
	pack, err := h.selector.Today(c.Request.Context(), user, lang)
	if err != nil {
		h.log.Error("Today failed", "error", err, "username", user, "lang", lang)
		respondErr(c, err)
		return
	}
	response.RespondOK(c, pack)
}

// POST /api/learners/:username/activity
func (h *LearnerHandler) RecordActivity(c *gin.Context) {
	user, ok := username(c)
	if !ok {
		return
	}
	res, err := h.accountant.RecordActivity(c.Request.Context(), user)
	if err != nil {
		h.log.Error("RecordActivity failed", "error", err, "username", user)
		respondErr(c, err)
		return
	}
	response.RespondOK(c, res)
}

// GET /api/learners/:username/streak
func (h *LearnerHandler) Streak(c *gin.Context) {
	user, ok := username(c)
	if !ok {
		return
	}
	rec, err := h.accountant.Get(c.Request.Context(), user)
	if err != nil {
		respondErr(c, err)
		return
	}
	response.RespondOK(c, rec)
}

type saveItemsRequest struct {
	SenseID  string   `json:"senseId"`
	SenseIDs []string `json:"senseIds"`
	Status   string   `json:"status"`
	Source   string   `json:"source"`
}

// POST /api/learners/:username/items
func (h *LearnerHandler) SaveItems(c *gin.Context) {
	user, ok := username(c)
	if !ok {
		return
	}
	var req saveItemsRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	if len(req.SenseIDs) > 0 {
		res, err := h.tracker.AddMany(ctx, user, req.SenseIDs, req.Status, req.Source)
		if err != nil {
			respondErr(c, err)
			return
		}
		response.RespondOK(c, res)
		return
	}
	saved, err := h.tracker.SaveItem(ctx, user, req.SenseID, req.Status, req.Source)
	if err != nil {
		respondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"saved": saved})
}

type statusRequest struct {
	Status string `json:"status"`
}

// PUT /api/learners/:username/items/:senseId/status
func (h *LearnerHandler) SetStatus(c *gin.Context) {
	user, ok := username(c)
	if !ok {
		return
	}
	var req statusRequest
	if !bindJSON(c, &req) {
		return
	}
	updated, err := h.tracker.SetStatus(c.Request.Context(), user, c.Param("senseId"), req.Status)
	if err != nil {
		respondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"updated": updated, "status": progress.NormalizeStatus(req.Status)})
}

type bulkStatusRequest struct {
	SenseIDs []string `json:"senseIds" binding:"required"`
	Status   string   `json:"status"`
}

// PUT /api/learners/:username/items
func (h *LearnerHandler) SetStatusMany(c *gin.Context) {
	user, ok := username(c)
	if !ok {
		return
	}
	var req bulkStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	updated, err := h.tracker.SetStatusMany(c.Request.Context(), user, req.SenseIDs, req.Status)
	if err != nil {
		respondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"updated": updated, "status": progress.NormalizeStatus(req.Status)})
}

type progressRequest struct {
	Track   string `json:"track"`
	Correct bool   `json:"correct"`
}

// POST /api/learners/:username/items/:senseId/progress
func (h *LearnerHandler) UpdateProgress(c *gin.Context) {
	user, ok := username(c)
	if !ok {
		return
	}
	var req progressRequest
	if !bindJSON(c, &req) {
		return
	}
	track, err := progress.ParseTrack(req.Track)
	if err != nil {
		respondErr(c, err)
		return
	}
	score, err := h.tracker.UpdateTrackProgress(c.Request.Context(), user, c.Param("senseId"), track, req.Correct)
	if err != nil {
		respondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"track": track, "score": score})
}

// PUT /api/learners/:username/phrases/:itemType/:itemId
func (h *LearnerHandler) SetPhraseStatus(c *gin.Context) {
	user, ok := username(c)
	if !ok {
		return
	}
	var req statusRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.tracker.SetPhraseStatus(c.Request.Context(), user, c.Param("itemType"), c.Param("itemId"), req.Status)
	if err != nil {
		respondErr(c, err)
		return
	}
	response.RespondOK(c, p)
}

// GET /api/learners/:username/phrases?itemType=
func (h *LearnerHandler) ListPhrases(c *gin.Context) {
	user, ok := username(c)
	if !ok {
		return
	}
	list, err := h.tracker.PhraseProgress(c.Request.Context(), user, strings.TrimSpace(c.Query("itemType")))
	if err != nil {
		respondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"phrases": list})
}

// POST /api/learners/:username/collections/:collectionId/enroll
func (h *LearnerHandler) EnrollCollection(c *gin.Context) {
	user, ok := username(c)
	if !ok {
		return
	}
	res, err := h.tracker.EnrollCollection(c.Request.Context(), user, c.Param("collectionId"))
	if err != nil {
		respondErr(c, err)
		return
	}
	response.RespondOK(c, res)
}

// POST /api/learners/:username/legacy/migrate
func (h *LearnerHandler) MigrateLegacy(c *gin.Context) {
	user, ok := username(c)
	if !ok {
		return
	}
	res, err := h.tracker.MigrateLegacy(c.Request.Context(), user)
	if err != nil {
		h.log.Error("MigrateLegacy failed", "error", err, "username", user)
		respondErr(c, err)
		return
	}
	response.RespondOK(c, res)
}
