package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/haozhang92/comp-intel/internal/models"
	"github.com/haozhang92/comp-intel/internal/services"
)

type ProductHandler struct {
	db *gorm.DB
	ai *services.AIService
}

func NewProductHandler(db *gorm.DB, ai *services.AIService) *ProductHandler {
	return &ProductHandler{db: db, ai: ai}
}

// CreateProduct adds a product under a competitor
func (h *ProductHandler) CreateProduct(c *gin.Context) {
	competitorID := c.Param("id")
	var competitor models.Competitor
	err := h.db.First(&competitor, "id = ?", competitorID).Error
	if err == gorm.ErrRecordNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "competitor not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var product models.Product
	if err := c.ShouldBindJSON(&product); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if product.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	product.CompetitorID = competitorID
	if product.Tags == nil {
		product.Tags = models.StringSlice{}
	}
	if product.PriceHistory == nil {
		product.PriceHistory = models.PriceHistory{}
	}

	if err := h.db.Create(&product).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, product)
}

// GetProduct returns one product
func (h *ProductHandler) GetProduct(c *gin.Context) {
	var product models.Product
	err := h.db.First(&product, "id = ?", c.Param("id")).Error
	if err == gorm.ErrRecordNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, product)
}

// UpdateProduct updates catalog fields. Price history is only changed
// through the dedicated upload/clear endpoints.
func (h *ProductHandler) UpdateProduct(c *gin.Context) {
	var product models.Product
	err := h.db.First(&product, "id = ?", c.Param("id")).Error
	if err == gorm.ErrRecordNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var update models.Product
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	product.Name = update.Name
	product.Price = update.Price
	product.Category = update.Category
	product.Gender = update.Gender
	product.Sales = update.Sales
	product.LaunchDate = update.LaunchDate
	product.Link = update.Link
	if update.Tags != nil {
		product.Tags = update.Tags
	}

	if err := h.db.Save(&product).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, product)
}

// DeleteProduct removes a product
func (h *ProductHandler) DeleteProduct(c *gin.Context) {
	result := h.db.Delete(&models.Product{}, "id = ?", c.Param("id"))
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": result.Error.Error()})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type analyzeReviewsRequest struct {
	Reviews []models.Review `json:"reviews" binding:"required"`
}

// AnalyzeReviews runs the AI review analysis for a product and stores the
// result on the product record
func (h *ProductHandler) AnalyzeReviews(c *gin.Context) {
	var product models.Product
	err := h.db.First(&product, "id = ?", c.Param("id")).Error
	if err == gorm.ErrRecordNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var req analyzeReviewsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Reviews) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one review is required"})
		return
	}
	if h.ai == nil || !h.ai.IsEnabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "AI analysis unavailable"})
		return
	}

	analysis, err := h.ai.AnalyzeReviews(c.Request.Context(), product.Name, req.Reviews)
	if err != nil {
		log.Printf("Review analysis failed for product %s: %v", product.ID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "AI analysis unavailable"})
		return
	}

	product.Analysis = analysis
	if err := h.db.Save(&product).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": product, "analysis": analysis})
}
