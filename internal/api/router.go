// internal/api/router.go
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	ginprometheus "github.com/zsais/go-gin-prometheus"

	"github.com/Corphon/ContinuityTrackerMCP/internal/di"
	"github.com/Corphon/ContinuityTrackerMCP/internal/services"
)

// SetupRouter 配置路由
func SetupRouter(logger zerolog.Logger) *gin.Engine {
	container := di.GetContainer()

	handlers := &Handlers{
		Productions: container.Get("production_service").(*services.ProductionService),
		States:      container.Get("state_service").(*services.StateService),
		Events:      container.Get("event_service").(*services.EventService),
		Progression: container.Get("progression_service").(*services.ProgressionService),
		Tasks:       container.Get("task_service").(*services.TaskService),
		LLM:         container.Get("llm_service").(*services.LLMService),
	}
	feed := container.Get("change_feed").(*services.ChangeFeed)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(logger))

	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))

	prom := ginprometheus.NewPrometheus("continuity_tracker")
	prom.Use(r)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.POST("/productions", handlers.CreateProduction)
		api.GET("/productions", handlers.ListProductions)

		production := api.Group("/productions/:id")
		{
			production.GET("", handlers.GetProduction)
			production.DELETE("", handlers.DeleteProduction)

			production.PUT("/scenes", handlers.ReplaceScenes)
			production.GET("/scenes", handlers.ListScenes)
			production.GET("/scenes/:scene", handlers.GetScene)
			production.PATCH("/scenes/:scene", handlers.UpdateSceneMeta)

			production.POST("/scenes/:scene/cast", handlers.AddCastMember)
			production.DELETE("/scenes/:scene/cast/:character", handlers.RemoveCastMember)

			production.GET("/scenes/:scene/states", handlers.StatesForScene)
			production.GET("/scenes/:scene/states/:character", handlers.GetState)
			production.PUT("/scenes/:scene/states/:character", handlers.UpsertState)
			production.POST("/scenes/:scene/states/:character/no-change", handlers.SetNoChange)
			production.POST("/scenes/:scene/states/:character/has-changes", handlers.MarkHasChanges)
			production.GET("/scenes/:scene/states/:character/previous", handlers.FindPreviousState)
			production.POST("/scenes/:scene/states/:character/copy-forward", handlers.CopyForward)

			production.GET("/characters", handlers.ListCharacters)
			production.GET("/characters/:character/states", handlers.StatesForCharacter)

			production.POST("/events", handlers.CreateEvent)
			production.GET("/events", handlers.ListEvents)
			production.GET("/events/:eventId", handlers.GetEvent)
			production.DELETE("/events/:eventId", handlers.DeleteEvent)
			production.PUT("/events/:eventId/observations", handlers.RecordObservation)
			production.POST("/events/:eventId/end", handlers.EndEvent)
			production.POST("/events/:eventId/reopen", handlers.ReopenEvent)
			production.PUT("/events/:eventId/visibility", handlers.SetVisibility)
			production.POST("/events/:eventId/presence/recompute", handlers.RecomputePresence)

			production.GET("/events/:eventId/healing", handlers.HealingStatus)
			production.POST("/events/:eventId/progression", handlers.ApplyProgression)

			// AI生成类接口单独限流
			generate := production.Group("")
			generate.Use(RateLimitMiddleware(10, time.Minute))
			generate.POST("/events/:eventId/progression/generate", handlers.GenerateProgression)
			generate.POST("/scenes/:scene/states/:character/suggest", handlers.SuggestAppearance)
		}

		api.GET("/tasks/:taskId", handlers.GetTask)

		api.GET("/config/llm", handlers.GetLLMConfig)
		api.PUT("/config/llm", handlers.UpdateLLMConfig)
	}

	r.GET("/ws/:id", ChangeFeedHandler(feed, logger))

	return r
}
