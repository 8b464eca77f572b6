package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/haozhang92/comp-intel/internal/models"
)

type CompetitorHandler struct {
	db *gorm.DB
}

func NewCompetitorHandler(db *gorm.DB) *CompetitorHandler {
	return &CompetitorHandler{db: db}
}

// ListCompetitors returns all competitors with their products
func (h *CompetitorHandler) ListCompetitors(c *gin.Context) {
	var competitors []models.Competitor
	if err := h.db.Preload("Products").Order("created_at").Find(&competitors).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"competitors": competitors})
}

// GetCompetitor returns one competitor with its products
func (h *CompetitorHandler) GetCompetitor(c *gin.Context) {
	var competitor models.Competitor
	err := h.db.Preload("Products").First(&competitor, "id = ?", c.Param("id")).Error
	if err == gorm.ErrRecordNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "competitor not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, competitor)
}

// CreateCompetitor adds a new competitor brand
func (h *CompetitorHandler) CreateCompetitor(c *gin.Context) {
	var competitor models.Competitor
	if err := c.ShouldBindJSON(&competitor); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if competitor.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if competitor.ID == "" {
		competitor.ID = uuid.NewString()
	}

	if err := h.db.Create(&competitor).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, competitor)
}

// UpdateCompetitor updates competitor fields; the product list is managed
// through the product endpoints
func (h *CompetitorHandler) UpdateCompetitor(c *gin.Context) {
	var competitor models.Competitor
	err := h.db.First(&competitor, "id = ?", c.Param("id")).Error
	if err == gorm.ErrRecordNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "competitor not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var update models.Competitor
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	competitor.Name = update.Name
	competitor.Domain = update.Domain
	competitor.Focus = update.Focus
	competitor.IsDomestic = update.IsDomestic
	competitor.FoundedDate = update.FoundedDate
	competitor.Country = update.Country

	if err := h.db.Save(&competitor).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, competitor)
}

// DeleteCompetitor removes a competitor and its products
func (h *CompetitorHandler) DeleteCompetitor(c *gin.Context) {
	result := h.db.Delete(&models.Competitor{}, "id = ?", c.Param("id"))
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": result.Error.Error()})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "competitor not found"})
		return
	}
	h.db.Delete(&models.Product{}, "competitor_id = ?", c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
