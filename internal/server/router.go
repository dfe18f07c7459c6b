package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/liveon/scrapbook-backend/internal/http/handlers"
)

type RouterConfig struct {
	ScrapbookHandler *handlers.ScrapbookHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.POST("/scrapbook/generate", cfg.ScrapbookHandler.Generate)
		api.GET("/scrapbook/:id", cfg.ScrapbookHandler.Get)
		api.POST("/scrapbook/:id/replace", cfg.ScrapbookHandler.Replace)
		api.POST("/scrapbook/:id/undo", cfg.ScrapbookHandler.Undo)
		api.POST("/scrapbook/:id/render", cfg.ScrapbookHandler.Render)
		api.DELETE("/scrapbook/:id", cfg.ScrapbookHandler.Delete)
	}

	return router
}
