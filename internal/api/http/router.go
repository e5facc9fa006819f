package http

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func SetupRouter(relayController *RelayController, roomController *RoomController, metricsHandler http.Handler, allowedOrigins []string) *gin.Engine {
	router := gin.Default()
	config := cors.DefaultConfig()
	config.AllowOrigins = allowedOrigins
	if len(config.AllowOrigins) == 0 {
		config.AllowAllOrigins = true
	}
	config.AllowCredentials = !config.AllowAllOrigins
	config.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"Origin",
		"Accept",
	}
	config.AllowMethods = []string{"GET", "HEAD", "OPTIONS"}
	router.Use(cors.New(config))
	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	if relayController != nil {
		router.GET("/ws", relayController.Serve)
	}

	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	api := router.Group("/api")

	if roomController != nil {
		rooms := api.Group("/rooms")
		rooms.GET("", roomController.ListRooms)
		rooms.GET("/:roomID", roomController.GetRoom)
	}

	return router
}
