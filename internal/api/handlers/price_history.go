package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/haozhang92/comp-intel/internal/models"
	"github.com/haozhang92/comp-intel/internal/services"
)

type PriceHistoryHandler struct {
	db           *gorm.DB
	priceHistory *services.PriceHistoryService
}

func NewPriceHistoryHandler(db *gorm.DB, priceHistory *services.PriceHistoryService) *PriceHistoryHandler {
	return &PriceHistoryHandler{db: db, priceHistory: priceHistory}
}

// UploadPriceHistory imports one or more price export files for a product.
// The reconciled series replaces any stored series wholesale. An upload
// with zero valid rows leaves stored data untouched and reports a soft
// failure so a garbled file cannot wipe good history.
func (h *PriceHistoryHandler) UploadPriceHistory(c *gin.Context) {
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

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
		return
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one file is required"})
		return
	}

	var files []services.NamedFile
	var opened []interface{ Close() error }
	for _, fh := range fileHeaders {
		f, err := fh.Open()
		if err != nil {
			// Per-file policy: keep going with the rest of the batch; the
			// failure is counted in the import report
			files = append(files, services.FailedFile(fh.Filename, err))
			continue
		}
		opened = append(opened, f)
		files = append(files, services.NamedFile{Name: fh.Filename, Reader: f})
	}
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()

	series, report := h.priceHistory.ParsePriceHistoryFromFiles(files)

	if err := h.priceHistory.ApplyUploadedSeries(&product, series); err != nil {
		if err == services.ErrNoValidData {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":  "no valid price data found",
				"report": report,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       fmt.Sprintf("%d of %d rows imported", report.RowsAccepted, report.RowsSeen),
		"report":        report,
		"price_history": series,
		"latest_price":  product.Price,
	})
}

// ClearPriceHistory empties the stored series for a product
func (h *PriceHistoryHandler) ClearPriceHistory(c *gin.Context) {
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

	if err := h.priceHistory.ClearPriceHistory(&product); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}
