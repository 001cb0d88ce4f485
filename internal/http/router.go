package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/example/lexisync/internal/http/handlers"
	httpMW "github.com/example/lexisync/internal/http/middleware"
	"github.com/example/lexisync/internal/logger"
)

type RouterConfig struct {
	Log                 *logger.Logger
	SignatureMiddleware *httpMW.SignatureMiddleware

	SyncHandler        *httpH.SyncHandler
	LearnerHandler     *httpH.LearnerHandler
	LeaderboardHandler *httpH.LeaderboardHandler
	HealthHandler      *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.RequestLogger(cfg.Log))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")

	// Sync ingestion (signed)
	if cfg.SyncHandler != nil {
		api.GET("/sync/health", cfg.SyncHandler.Health)
		signed := api.Group("/sync/jobs")
		if cfg.SignatureMiddleware != nil {
			signed.Use(cfg.SignatureMiddleware.RequireSignature())
		}
		signed.POST("", cfg.SyncHandler.CreateJob)
		signed.GET("/:requestId", cfg.SyncHandler.GetJob)
	}

	// Learners
	if cfg.LearnerHandler != nil {
		learner := api.Group("/learners/:username")
		learner.GET("", cfg.LearnerHandler.Summary)
		learner.GET("/today", cfg.LearnerHandler.Today)
		learner.POST("/activity", cfg.LearnerHandler.RecordActivity)
		learner.GET("/streak", cfg.LearnerHandler.Streak)
		learner.POST("/items", cfg.LearnerHandler.SaveItems)
		learner.PUT("/items", cfg.LearnerHandler.SetStatusMany)
		learner.PUT("/items/:senseId/status", cfg.LearnerHandler.SetStatus)
		learner.POST("/items/:senseId/progress", cfg.LearnerHandler.UpdateProgress)
		learner.GET("/phrases", cfg.LearnerHandler.ListPhrases)
		learner.PUT("/phrases/:itemType/:itemId", cfg.LearnerHandler.SetPhraseStatus)
		learner.POST("/collections/:collectionId/enroll", cfg.LearnerHandler.EnrollCollection)
		learner.POST("/legacy/migrate", cfg.LearnerHandler.MigrateLegacy)
	}

	if cfg.LeaderboardHandler != nil {
		api.GET("/leaderboard", cfg.LeaderboardHandler.Top)
	}

	return r
}
