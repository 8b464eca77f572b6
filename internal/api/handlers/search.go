package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/haozhang92/comp-intel/internal/models"
	"github.com/haozhang92/comp-intel/internal/services"
)

type SearchHandler struct {
	db *gorm.DB
	kb *services.KnowledgeBaseService
}

func NewSearchHandler(db *gorm.DB, kb *services.KnowledgeBaseService) *SearchHandler {
	return &SearchHandler{db: db, kb: kb}
}

// Search answers a free-text knowledge base query. The catalog snapshot
// is loaded per request; the service decides between the structured
// filter and the AI delegate.
func (h *SearchHandler) Search(c *gin.Context) {
	query := c.Query("q")

	var competitors []models.Competitor
	if err := h.db.Preload("Products").Find(&competitors).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	outcome := h.kb.Search(c.Request.Context(), query, competitors)
	c.JSON(http.StatusOK, outcome)
}

// GetStats returns knowledge base totals for the dashboard header
func (h *SearchHandler) GetStats(c *gin.Context) {
	var competitors []models.Competitor
	if err := h.db.Preload("Products").Find(&competitors).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, services.ComputeStats(competitors))
}
