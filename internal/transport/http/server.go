package http

import (
	"github.com/gin-gonic/gin"

	"stockqa/internal/bootstrap"
	"stockqa/internal/transport/http/handler"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	ragHandler := handler.NewRAGHandler(app.RAG, app.Config.Index.Collection)
	RegisterRAGRoutes(router.Group("/api/v1"), ragHandler)

	return router
}

func RegisterRAGRoutes(v1 *gin.RouterGroup, ragHandler *handler.RAGHandler) {
	chatGroup := v1.Group("/chat")
	chatGroup.POST("", ragHandler.Chat)
	chatGroup.POST("/index", ragHandler.Index)
	chatGroup.POST("/index/batch", ragHandler.IndexBatch)
	chatGroup.POST("/index/async", ragHandler.IndexAsync)
	chatGroup.DELETE("/index/:stock_code", ragHandler.DeleteIndex)
	chatGroup.GET("/stats", ragHandler.Stats)
}
