package services

import (
	"errors"
	"log"
	"math"
	"regexp"
	"sort"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/haozhang92/comp-intel/internal/metrics"
	"github.com/haozhang92/comp-intel/internal/models"
)

// ErrNoValidData is returned when an upload batch contains zero usable
// rows. Callers must not overwrite stored price data in that case.
var ErrNoValidData = errors.New("no valid price data found")

var (
	fullDatePattern    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	partialDatePattern = regexp.MustCompile(`^\d{1,2}-\d{1,2}$`)
)

// Spreadsheet serial dates count days from 1899-12-30
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// ImportReport summarizes an upload batch. RowsAccepted counts rows that
// survived extraction, before per-date reconciliation.
type ImportReport struct {
	RowsSeen     int `json:"rows_seen"`
	RowsAccepted int `json:"rows_accepted"`
	FilesFailed  int `json:"files_failed"`
}

// PriceHistoryService normalizes uploaded price exports into reconciled
// per-product price series
type PriceHistoryService struct {
	db *gorm.DB

	// defaultYear is prefixed onto partial MM-DD dates. The scraped
	// exports omit the year on mid-year re-exports.
	defaultYear int
}

// NewPriceHistoryService creates a price history service. A defaultYear of
// zero means the current calendar year.
func NewPriceHistoryService(db *gorm.DB, defaultYear int) *PriceHistoryService {
	if defaultYear <= 0 {
		defaultYear = time.Now().Year()
	}
	return &PriceHistoryService{db: db, defaultYear: defaultYear}
}

// ParsePriceHistoryFromFiles runs extraction and reconciliation across all
// given files. A file that cannot be read is logged and skipped; its rows
// contribute nothing. Reconciliation only runs after every file has been
// consumed so multi-month exports merge as one batch.
func (s *PriceHistoryService) ParsePriceHistoryFromFiles(files []NamedFile) (models.PriceHistory, ImportReport) {
	start := time.Now()
	var allRows []RawRow
	report := ImportReport{}

	for _, file := range files {
		rows, err := ReadRows(file.Reader)
		if err != nil {
			log.Printf("Failed to read %s: %v", file.Name, err)
			metrics.ImportFilesFailed.Inc()
			report.FilesFailed++
			continue
		}
		allRows = append(allRows, rows...)
	}

	report.RowsSeen = len(allRows)
	series, accepted := s.ParsePriceHistory(allRows)
	report.RowsAccepted = accepted

	metrics.ImportRowsAccepted.Add(float64(accepted))
	metrics.ImportRowsDropped.Add(float64(report.RowsSeen - accepted))
	metrics.ImportDuration.Observe(time.Since(start).Seconds())

	return series, report
}

// ParsePriceHistory extracts points from raw rows and reconciles them into
// a sorted, deduplicated series. Malformed rows are dropped silently; the
// accepted count is the only aggregate signal.
func (s *PriceHistoryService) ParsePriceHistory(rows []RawRow) (models.PriceHistory, int) {
	var points []models.PricePoint
	for _, row := range rows {
		if point, ok := s.extractPoint(row); ok {
			points = append(points, point)
		}
	}
	return Reconcile(points), len(points)
}

// extractPoint applies the row-level rules: both date and final price must
// be present and valid. An unusable original price degrades to absent
// rather than dropping the row.
func (s *PriceHistoryService) extractPoint(row RawRow) (models.PricePoint, bool) {
	if row.Date == "" || row.FinalPrice == "" {
		return models.PricePoint{}, false
	}

	date, ok := s.normalizeDate(row.Date)
	if !ok {
		return models.PricePoint{}, false
	}

	finalPrice, err := strconv.ParseFloat(row.FinalPrice, 64)
	if err != nil || math.IsNaN(finalPrice) || math.IsInf(finalPrice, 0) || finalPrice <= 0 {
		return models.PricePoint{}, false
	}

	point := models.PricePoint{Date: date, FinalPrice: finalPrice}

	if row.OriginalPrice != "" {
		if original, err := strconv.ParseFloat(row.OriginalPrice, 64); err == nil &&
			!math.IsNaN(original) && !math.IsInf(original, 0) && original > 0 {
			point.OriginalPrice = &original
		}
	}

	return point, true
}

// normalizeDate converts a raw date cell into canonical YYYY-MM-DD.
// Numeric cells are spreadsheet serial numbers; string cells must already
// be YYYY-MM-DD, except partial MM-DD which gets the default year.
func (s *PriceHistoryService) normalizeDate(raw string) (string, bool) {
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		// Bare years and other small numbers are not plausible serials
		// for this data: serial 10000 is already mid-1927
		if serial <= 9999 || serial > 200000 {
			return "", false
		}
		return excelEpoch.AddDate(0, 0, int(serial)).Format("2006-01-02"), true
	}

	if partialDatePattern.MatchString(raw) {
		if t, err := time.Parse("2006-1-2", strconv.Itoa(s.defaultYear)+"-"+raw); err == nil {
			return t.Format("2006-01-02"), true
		}
		return "", false
	}

	if !fullDatePattern.MatchString(raw) {
		return "", false
	}
	return raw, true
}

// Reconcile merges duplicate-date points, keeping the lowest final price
// per date, and returns the series in ascending date order. The original
// price of the surviving point is kept as-is.
func Reconcile(points []models.PricePoint) models.PriceHistory {
	byDate := make(map[string]models.PricePoint, len(points))
	for _, p := range points {
		existing, seen := byDate[p.Date]
		if !seen || p.FinalPrice < existing.FinalPrice {
			byDate[p.Date] = p
		}
	}

	series := make(models.PriceHistory, 0, len(byDate))
	for _, p := range byDate {
		series = append(series, p)
	}
	sort.Slice(series, func(i, j int) bool {
		return series[i].Date < series[j].Date
	})
	return series
}

// LatestPrice returns the final price of the last point of a reconciled
// series, or false for an empty series.
func LatestPrice(series models.PriceHistory) (float64, bool) {
	if len(series) == 0 {
		return 0, false
	}
	return series[len(series)-1].FinalPrice, true
}

// ApplyUploadedSeries replaces the product's stored series wholesale and
// sets its price to the latest final price. Re-uploads correct bad imports
// by overwriting, never merging. An empty series returns ErrNoValidData
// and leaves the product untouched.
func (s *PriceHistoryService) ApplyUploadedSeries(product *models.Product, series models.PriceHistory) error {
	if len(series) == 0 {
		return ErrNoValidData
	}

	if latest, ok := LatestPrice(series); ok {
		product.Price = latest
	}
	product.PriceHistory = series

	if s.db != nil {
		return s.db.Save(product).Error
	}
	return nil
}

// ClearPriceHistory empties the stored series. The current price is not
// touched.
func (s *PriceHistoryService) ClearPriceHistory(product *models.Product) error {
	product.PriceHistory = models.PriceHistory{}
	if s.db != nil {
		return s.db.Save(product).Error
	}
	return nil
}
