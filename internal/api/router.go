package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cea/internal/config"
	"cea/internal/relay"
	"cea/internal/session"
)

func NewRouter(backend *relay.Backend, sessions *session.Manager, rateLimit config.RateLimitConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())
	r.Use(RequestIDMiddleware())

	// Global health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:    "ok",
			Timestamp: formatTime(time.Now()),
		})
	})

	chatHandler := NewChatHandler(backend, sessions, rateLimit)
	sessionHandler := NewSessionHandler(sessions)

	v1 := r.Group("/api/v1")
	v1.Use(IdentityMiddleware())
	{
		// Chat relay
		v1.POST("/chat", chatHandler.Chat)
		v1.GET("/chat/history", chatHandler.GetHistory)
		v1.DELETE("/chat/history", chatHandler.ClearHistory)

		// Session state
		sess := v1.Group("/session")
		{
			sess.GET("", sessionHandler.GetSession)
			sess.PUT("", sessionHandler.UpdateSession)
			sess.DELETE("", sessionHandler.DeleteSession)
			sess.POST("/activity", sessionHandler.TouchActivity)
			sess.GET("/preferences", sessionHandler.GetPreferences)
			sess.PUT("/preferences", sessionHandler.UpdatePreferences)
		}

		// Job search memoization
		jobs := v1.Group("/jobs")
		{
			jobs.POST("/search-cache", sessionHandler.CacheSearch)
			jobs.GET("/search-cache/:key", sessionHandler.GetCachedSearch)
			jobs.GET("/matches", sessionHandler.GetJobMatches)
			jobs.PUT("/matches", sessionHandler.SetJobMatches)
		}

		// Transient form data
		v1.POST("/forms/:id", sessionHandler.SaveForm)
		v1.GET("/forms/:id", sessionHandler.GetForm)

		// Upload progress
		v1.PUT("/uploads/:id/progress", sessionHandler.SetUploadProgress)
		v1.GET("/uploads/:id/progress", sessionHandler.GetUploadProgress)
	}

	return r
}
