package api

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/haozhang92/comp-intel/internal/api/handlers"
	"github.com/haozhang92/comp-intel/internal/metrics"
	"github.com/haozhang92/comp-intel/internal/services"
)

func SetupRouter(db *gorm.DB, priceHistoryService *services.PriceHistoryService, knowledgeBase *services.KnowledgeBaseService, aiService *services.AIService) *gin.Engine {
	router := gin.Default()

	// CORS configuration - allow origins from environment or use defaults
	config := cors.DefaultConfig()
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		config.AllowOrigins = strings.Split(corsOrigins, ",")
	} else {
		config.AllowOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	config.AllowCredentials = false
	router.Use(cors.New(config))
	router.Use(requestMetrics())

	// Initialize handlers
	competitorHandler := handlers.NewCompetitorHandler(db)
	productHandler := handlers.NewProductHandler(db, aiService)
	priceHistoryHandler := handlers.NewPriceHistoryHandler(db, priceHistoryService)
	searchHandler := handlers.NewSearchHandler(db, knowledgeBase)

	// API routes
	api := router.Group("/api")
	{
		competitors := api.Group("/competitors")
		{
			competitors.GET("", competitorHandler.ListCompetitors)
			competitors.POST("", competitorHandler.CreateCompetitor)
			competitors.GET("/:id", competitorHandler.GetCompetitor)
			competitors.PUT("/:id", competitorHandler.UpdateCompetitor)
			competitors.DELETE("/:id", competitorHandler.DeleteCompetitor)
			competitors.POST("/:id/products", productHandler.CreateProduct)
		}

		products := api.Group("/products")
		{
			products.GET("/:id", productHandler.GetProduct)
			products.PUT("/:id", productHandler.UpdateProduct)
			products.DELETE("/:id", productHandler.DeleteProduct)
			products.POST("/:id/price-history", priceHistoryHandler.UploadPriceHistory)
			products.DELETE("/:id/price-history", priceHistoryHandler.ClearPriceHistory)
			products.POST("/:id/analyze-reviews", productHandler.AnalyzeReviews)
		}

		api.GET("/search", searchHandler.Search)
		api.GET("/knowledge-base/stats", searchHandler.GetStats)
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Prometheus scrape endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// requestMetrics records per-request counters. The route template is used
// as the path label to keep cardinality bounded.
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
		).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(
			c.Request.Method, path,
		).Observe(time.Since(start).Seconds())
	}
}
