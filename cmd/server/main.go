package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/haozhang92/comp-intel/internal/api"
	"github.com/haozhang92/comp-intel/internal/database"
	"github.com/haozhang92/comp-intel/internal/services"
)

func main() {
	// Database path
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./comp_intel.db"
	}

	// Initialize database
	if err := database.Initialize(dbPath); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize AI service for knowledge base delegation and review analysis
	aiDailyLimit := 0
	if limitStr := os.Getenv("GEMINI_DAILY_LIMIT"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			aiDailyLimit = limit
		}
	}
	aiService := services.NewAIService(os.Getenv("GOOGLE_API_KEY"), aiDailyLimit)

	// Initialize price history importer. DEFAULT_IMPORT_YEAR overrides the
	// year prefixed onto partial MM-DD dates (defaults to current year).
	defaultYear := 0
	if yearStr := os.Getenv("DEFAULT_IMPORT_YEAR"); yearStr != "" {
		if year, err := strconv.Atoi(yearStr); err == nil {
			defaultYear = year
		}
	}
	priceHistoryService := services.NewPriceHistoryService(database.GetDB(), defaultYear)

	// Initialize knowledge base with the AI service as its delegate
	knowledgeBase := services.NewKnowledgeBaseService(aiService)

	// Setup router
	router := api.SetupRouter(database.GetDB(), priceHistoryService, knowledgeBase, aiService)

	// Get port from environment
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create HTTP server for graceful shutdown
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting server on port %s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests a deadline to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
