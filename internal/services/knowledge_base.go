package services

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/haozhang92/comp-intel/internal/metrics"
	"github.com/haozhang92/comp-intel/internal/models"
)

// Thresholds for handing a query to the AI delegate: delegate when the
// structured pass found nothing, or found fewer than minStructuredResults
// while the query is longer than longQueryRunes (reads like a
// natural-language question).
const (
	minStructuredResults = 3
	longQueryRunes       = 10
)

// Match weights. Category is the strongest signal; residual keywords the
// weakest. More matches always score higher.
const (
	scoreCategory   = 15
	scoreFeature    = 10
	scoreKeyword    = 5
	scoreRange      = 5
	scoreFuzzyName  = 10
	scoreFuzzyCat   = 8
	scoreFuzzyTag   = 3
	scoreFuzzyComp  = 6
	approxPriceBand = 0.2 // operator-less price conditions match within ±20%
)

// categoryVocabulary is the closed product-type catalog. Matched by
// substring against the lower-cased query.
var categoryVocabulary = []string{
	"跳蛋", "震动棒", "伸缩棒", "av棒", "飞机杯", "倒模", "按摩器",
}

// featureVocabulary are the recognized product feature keywords
var featureVocabulary = []string{
	"加热", "恒温", "自动加热", "温控",
	"静音", "无声", "低噪音",
	"防水", "ipx", "可水洗",
	"无线", "蓝牙", "app",
	"多档", "多模式", "多频",
	"大功率", "强震", "强劲",
	"小巧", "便携", "迷你",
}

// Connector words dropped from residual keywords
var queryStopwords = map[string]bool{
	"的": true, "具有": true, "功能": true, "产品": true, "类型": true, "类别": true,
}

var (
	pricePattern       = regexp.MustCompile(`(低于|小于|不超过|高于|大于|超过|价格|价格范围)?\s*(\d+)`)
	salesAfterPattern  = regexp.MustCompile(`销量\s*(大于|小于|超过|低于)?\s*(\d+\.?\d*)\s*(w|万)?`)
	salesBeforePattern = regexp.MustCompile(`(大于|小于|超过|低于|不超过)\s*(\d+\.?\d*)\s*(w|万)?\s*销量`)
	recentYearsPattern = regexp.MustCompile(`(?:最)?近\s*(\d+)?\s*年\s*上市`)
	launchYearPattern  = regexp.MustCompile(`(\d{4})\s*年?\s*(前|后|之前|之后|以前|以后)?\s*上市`)
	launchMonthPattern = regexp.MustCompile(`(\d{4})[-/.](\d{1,2})\s*上市`)
	bareYearPattern    = regexp.MustCompile(`^\d{4}$`)
	pureDigitsPattern  = regexp.MustCompile(`^\d+$`)
	tokenSplitPattern  = regexp.MustCompile(`[\s，。、]+`)
)

// KnowledgeAnswer is what the AI delegate returns: a narrative plus the
// ids of matching products.
type KnowledgeAnswer struct {
	Analysis   string   `json:"analysis"`
	ProductIDs []string `json:"product_ids"`
}

// KnowledgeDelegate is the semantic fallback for queries the structured
// filter cannot resolve
type KnowledgeDelegate interface {
	QueryKnowledgeBase(ctx context.Context, query string, entries []models.CatalogEntry) (*KnowledgeAnswer, error)
}

// KnowledgeBaseService answers free-text queries over the product catalog.
// The catalog is passed in per call as an immutable snapshot; the service
// holds no product state.
type KnowledgeBaseService struct {
	delegate KnowledgeDelegate

	// searchSeq tokens in-flight delegated searches so a slow response
	// from a superseded search is discarded (last-write-wins).
	searchSeq atomic.Uint64
}

// NewKnowledgeBaseService creates a knowledge base service. The delegate
// may be nil, in which case every delegation degrades to structured
// results.
func NewKnowledgeBaseService(delegate KnowledgeDelegate) *KnowledgeBaseService {
	return &KnowledgeBaseService{delegate: delegate}
}

// ParseQueryConditions extracts structured conditions from a free-text
// query. Matching is case-insensitive; only the first price condition is
// taken. Relative "recent years" launch queries deliberately set no date
// condition - they are handled by the AI delegate.
func (s *KnowledgeBaseService) ParseQueryConditions(query string) models.QueryConditions {
	lower := strings.ToLower(query)
	conditions := models.QueryConditions{}

	for _, cat := range categoryVocabulary {
		if strings.Contains(lower, cat) {
			conditions.Categories = append(conditions.Categories, cat)
		}
	}

	for _, feat := range featureVocabulary {
		if strings.Contains(lower, feat) {
			conditions.Features = append(conditions.Features, feat)
		}
	}

	if m := pricePattern.FindStringSubmatch(lower); m != nil {
		if value, err := strconv.ParseFloat(m[2], 64); err == nil {
			conditions.PriceRange = &models.RangeCondition{Operator: m[1], Value: value}
		}
	}

	salesMatch := salesAfterPattern.FindStringSubmatch(lower)
	if salesMatch == nil {
		// Qualifier-before-number form: "低于50000销量的产品"
		salesMatch = salesBeforePattern.FindStringSubmatch(lower)
	}
	if salesMatch != nil {
		if value, err := strconv.ParseFloat(salesMatch[2], 64); err == nil {
			if salesMatch[3] == "w" || salesMatch[3] == "万" {
				value *= 10000
			}
			conditions.SalesRange = &models.RangeCondition{Operator: salesMatch[1], Value: value}
		}
	}

	if !recentYearsPattern.MatchString(lower) {
		if m := launchYearPattern.FindStringSubmatch(lower); m != nil {
			operator := "等于"
			switch {
			case strings.Contains(m[2], "前"):
				operator = "之前"
			case strings.Contains(m[2], "后"):
				operator = "之后"
			}
			conditions.LaunchDateRange = &models.DateCondition{Operator: operator, Value: m[1]}
		} else if m := launchMonthPattern.FindStringSubmatch(lower); m != nil {
			month := m[2]
			if len(month) == 1 {
				month = "0" + month
			}
			conditions.LaunchDateRange = &models.DateCondition{Operator: "等于", Value: m[1] + "-" + month}
		}
	}

	for _, word := range tokenSplitPattern.Split(lower, -1) {
		if utf8.RuneCountInString(word) <= 1 {
			continue
		}
		if isDateRelatedToken(word) || pureDigitsPattern.MatchString(word) || queryStopwords[word] {
			continue
		}
		if containsAny(word, categoryVocabulary) || containsAny(word, featureVocabulary) {
			continue
		}
		conditions.Keywords = append(conditions.Keywords, word)
	}

	return conditions
}

func isDateRelatedToken(word string) bool {
	return strings.Contains(word, "年") || strings.Contains(word, "月") ||
		strings.Contains(word, "上市") || strings.Contains(word, "前") ||
		strings.Contains(word, "后") || bareYearPattern.MatchString(word)
}

func containsAny(word string, vocab []string) bool {
	for _, v := range vocab {
		if strings.Contains(word, v) {
			return true
		}
	}
	return false
}

// MatchProduct tests a product against all populated condition types.
// Every populated type must be satisfied; residual keywords only add
// score. Returns whether the product matched, the human-readable match
// explanations, and the relevance score.
func (s *KnowledgeBaseService) MatchProduct(product models.Product, conditions models.QueryConditions) (bool, []string, int) {
	var matchedFields []string
	score := 0
	allMatched := true

	if len(conditions.Categories) > 0 {
		categoryMatched := false
		for _, cat := range conditions.Categories {
			if strings.Contains(strings.ToLower(product.Category), cat) {
				categoryMatched = true
				break
			}
		}
		if categoryMatched {
			matchedFields = append(matchedFields, "类别: "+product.Category)
			score += scoreCategory
		} else {
			allMatched = false
		}
	}

	if len(conditions.Features) > 0 {
		var matchedFeatures []string
		for _, feat := range conditions.Features {
			if productHasText(product, feat) {
				matchedFeatures = append(matchedFeatures, feat)
				score += scoreFeature
			} else {
				allMatched = false
			}
		}
		if len(matchedFeatures) > 0 {
			matchedFields = append(matchedFields, "功能: "+strings.Join(matchedFeatures, ", "))
		}
	}

	// Keywords never veto; they only add score
	for _, keyword := range conditions.Keywords {
		if productHasText(product, keyword) || strings.Contains(strings.ToLower(product.Category), keyword) {
			score += scoreKeyword
		}
	}

	if conditions.PriceRange != nil {
		if field, ok := matchPriceCondition(product.Price, *conditions.PriceRange); ok {
			matchedFields = append(matchedFields, field)
			score += scoreRange
		} else {
			allMatched = false
		}
	}

	if conditions.SalesRange != nil && product.Sales != nil {
		if field, ok := matchSalesCondition(*product.Sales, *conditions.SalesRange); ok {
			matchedFields = append(matchedFields, field)
			score += scoreRange
		} else {
			allMatched = false
		}
	}

	if conditions.LaunchDateRange != nil && product.LaunchDate != "" {
		if field, ok := matchLaunchDateCondition(product.LaunchDate, *conditions.LaunchDateRange); ok {
			matchedFields = append(matchedFields, field)
			score += scoreRange
		} else {
			allMatched = false
		}
	}

	return allMatched, matchedFields, score
}

func productHasText(product models.Product, text string) bool {
	if strings.Contains(strings.ToLower(product.Name), text) {
		return true
	}
	for _, tag := range product.Tags {
		if strings.Contains(strings.ToLower(tag), text) {
			return true
		}
	}
	return false
}

func matchPriceCondition(price float64, cond models.RangeCondition) (string, bool) {
	switch {
	case strings.Contains(cond.Operator, "低") || strings.Contains(cond.Operator, "小") || strings.Contains(cond.Operator, "不超过"):
		if price < cond.Value {
			return fmt.Sprintf("价格: ¥%.2f (低于%.0f)", price, cond.Value), true
		}
	case strings.Contains(cond.Operator, "高") || strings.Contains(cond.Operator, "大") || strings.Contains(cond.Operator, "超过"):
		if price > cond.Value {
			return fmt.Sprintf("价格: ¥%.2f (高于%.0f)", price, cond.Value), true
		}
	default:
		// Queries rarely mean exact equality; accept an approximate band
		if price >= cond.Value*(1-approxPriceBand) && price <= cond.Value*(1+approxPriceBand) {
			return fmt.Sprintf("价格: ¥%.2f (接近%.0f)", price, cond.Value), true
		}
	}
	return "", false
}

func matchSalesCondition(sales int64, cond models.RangeCondition) (string, bool) {
	value := cond.Value
	switch {
	// 不超过 checked before 超过 so the substring does not mismatch
	case strings.Contains(cond.Operator, "不超过") || strings.Contains(cond.Operator, "小") || strings.Contains(cond.Operator, "低于"):
		if float64(sales) < value {
			return fmt.Sprintf("销量: %s (%s%s)", formatSales(sales), cond.Operator, formatSalesValue(value)), true
		}
	case strings.Contains(cond.Operator, "大") || strings.Contains(cond.Operator, "超过"):
		if float64(sales) > value {
			return fmt.Sprintf("销量: %s (%s%s)", formatSales(sales), cond.Operator, formatSalesValue(value)), true
		}
	default:
		// No qualifier reads as an upper bound: "50000销量的产品"
		if float64(sales) <= value {
			return fmt.Sprintf("销量: %s (≤%s)", formatSales(sales), formatSalesValue(value)), true
		}
	}
	return "", false
}

func formatSales(sales int64) string {
	if sales >= 10000 {
		return fmt.Sprintf("%.1fw+", float64(sales)/10000)
	}
	return fmt.Sprintf("%d+", sales)
}

func formatSalesValue(value float64) string {
	if value >= 10000 {
		return fmt.Sprintf("%.1fw", value/10000)
	}
	return fmt.Sprintf("%.0f", value)
}

func matchLaunchDateCondition(launchDate string, cond models.DateCondition) (string, bool) {
	condYear, condMonth := splitYearMonth(cond.Value)
	prodYear, prodMonth := splitYearMonth(launchDate)
	if condYear == 0 || prodYear == 0 {
		return "", false
	}

	switch cond.Operator {
	case "等于":
		if condMonth == 0 {
			if prodYear == condYear {
				return fmt.Sprintf("上市日期: %s (%d年)", launchDate, condYear), true
			}
		} else if prodYear == condYear && prodMonth == condMonth {
			return "上市日期: " + launchDate, true
		}
	case "之前":
		if condMonth == 0 {
			if prodYear < condYear {
				return fmt.Sprintf("上市日期: %s (%d年前)", launchDate, condYear), true
			}
		} else if yearMonthOrdinal(prodYear, prodMonth) < yearMonthOrdinal(condYear, condMonth) {
			return fmt.Sprintf("上市日期: %s (%s之前)", launchDate, cond.Value), true
		}
	case "之后":
		if condMonth == 0 {
			if prodYear > condYear {
				return fmt.Sprintf("上市日期: %s (%d年后)", launchDate, condYear), true
			}
		} else if yearMonthOrdinal(prodYear, prodMonth) > yearMonthOrdinal(condYear, condMonth) {
			return fmt.Sprintf("上市日期: %s (%s之后)", launchDate, cond.Value), true
		}
	}
	return "", false
}

// splitYearMonth parses YYYY or YYYY-MM; month is zero when absent
func splitYearMonth(value string) (int, int) {
	parts := strings.SplitN(value, "-", 2)
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0
	}
	month := 0
	if len(parts) == 2 {
		month, _ = strconv.Atoi(parts[1])
	}
	return year, month
}

// yearMonthOrdinal makes YYYY-MM values comparable; a missing month
// counts as January
func yearMonthOrdinal(year, month int) int {
	if month == 0 {
		month = 1
	}
	return year*12 + month - 1
}

// SimpleFilter runs the structured filter over the catalog. With strict
// conditions present each product must satisfy all of them; otherwise the
// whole query is matched fuzzily against name, category, tags and
// competitor name. Results are sorted by relevance descending.
func (s *KnowledgeBaseService) SimpleFilter(query string, competitors []models.Competitor) []models.SearchResult {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	conditions := s.ParseQueryConditions(query)
	strict := conditions.HasStrictConditions()
	lower := strings.ToLower(query)

	var results []models.SearchResult
	for _, competitor := range competitors {
		for _, product := range competitor.Products {
			if strict {
				matched, fields, score := s.MatchProduct(product, conditions)
				if matched {
					results = append(results, models.SearchResult{
						Product:        product,
						Competitor:     competitor,
						RelevanceScore: score,
						MatchedFields:  fields,
					})
				}
				continue
			}

			var fields []string
			score := 0
			if strings.Contains(strings.ToLower(product.Name), lower) {
				fields = append(fields, "产品名称")
				score += scoreFuzzyName
			}
			if product.Category != "" && strings.Contains(strings.ToLower(product.Category), lower) {
				fields = append(fields, "产品类别")
				score += scoreFuzzyCat
			}
			var matchedTags []string
			for _, tag := range product.Tags {
				if strings.Contains(strings.ToLower(tag), lower) {
					matchedTags = append(matchedTags, tag)
				}
			}
			if len(matchedTags) > 0 {
				fields = append(fields, "标签: "+strings.Join(matchedTags, ", "))
				score += len(matchedTags) * scoreFuzzyTag
			}
			if strings.Contains(strings.ToLower(competitor.Name), lower) {
				fields = append(fields, "竞品: "+competitor.Name)
				score += scoreFuzzyComp
			}
			if score > 0 {
				results = append(results, models.SearchResult{
					Product:        product,
					Competitor:     competitor,
					RelevanceScore: score,
					MatchedFields:  fields,
				})
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	return results
}

// Search resolves a free-text query against a catalog snapshot. The
// structured filter runs first; the AI delegate handles relative-date
// queries and queries the structured pass resolved poorly. Delegate
// failures degrade to the structured results rather than failing the
// search.
func (s *KnowledgeBaseService) Search(ctx context.Context, query string, competitors []models.Competitor) models.SearchOutcome {
	query = strings.TrimSpace(query)
	if query == "" {
		return models.SearchOutcome{Status: models.SearchEmpty}
	}

	token := s.searchSeq.Add(1)
	lower := strings.ToLower(query)

	// Always computed so every delegation path has a structured safety net
	simpleResults := s.SimpleFilter(query, competitors)

	// Relative-date reasoning is unreliable with regexes alone; always
	// delegate those.
	if recentYearsPattern.MatchString(lower) {
		return s.delegateSearch(ctx, token, query, competitors, simpleResults)
	}

	shouldDelegate := len(simpleResults) == 0 ||
		(len(simpleResults) < minStructuredResults && utf8.RuneCountInString(query) > longQueryRunes)
	if shouldDelegate {
		return s.delegateSearch(ctx, token, query, competitors, simpleResults)
	}

	metrics.SearchRequestsTotal.WithLabelValues("structured").Inc()
	metrics.SearchResultsCount.Observe(float64(len(simpleResults)))
	return models.SearchOutcome{Status: models.SearchOK, Results: simpleResults}
}

// delegateSearch asks the AI delegate and builds results from the product
// ids it returns. The structured results serve as the safety net when the
// delegate errors, returns nothing, or the response arrives stale.
func (s *KnowledgeBaseService) delegateSearch(ctx context.Context, token uint64, query string, competitors []models.Competitor, simpleResults []models.SearchResult) models.SearchOutcome {
	entries := models.FlattenCatalog(competitors)
	if len(entries) == 0 {
		return models.SearchOutcome{Status: models.SearchEmpty}
	}

	if s.delegate == nil {
		return structuredFallback(simpleResults, models.SearchAIUnavailable)
	}

	answer, err := s.delegate.QueryKnowledgeBase(ctx, query, entries)
	if err != nil {
		log.Printf("Knowledge base delegation failed: %v", err)
		metrics.SearchRequestsTotal.WithLabelValues("ai_fallback").Inc()
		return structuredFallback(simpleResults, models.SearchAIUnavailable)
	}

	// A newer search superseded this one; drop the response
	if s.searchSeq.Load() != token {
		log.Printf("Discarding stale AI response for query %q", query)
		return structuredFallback(simpleResults, models.SearchOK)
	}

	byID := make(map[string]models.CatalogEntry, len(entries))
	for _, entry := range entries {
		byID[entry.Product.ID] = entry
	}

	var results []models.SearchResult
	for _, id := range answer.ProductIDs {
		if entry, ok := byID[id]; ok {
			results = append(results, models.SearchResult{
				Product:    entry.Product,
				Competitor: entry.Competitor,
				AIAnalysis: answer.Analysis,
			})
		}
	}

	if len(results) == 0 && len(simpleResults) > 0 {
		results = simpleResults
	}

	metrics.SearchRequestsTotal.WithLabelValues("ai").Inc()
	metrics.SearchResultsCount.Observe(float64(len(results)))

	status := models.SearchOK
	if len(results) == 0 {
		status = models.SearchEmpty
	}
	return models.SearchOutcome{
		Status:     status,
		Results:    results,
		AIUsed:     true,
		AIAnalysis: answer.Analysis,
	}
}

func structuredFallback(simpleResults []models.SearchResult, status models.SearchStatus) models.SearchOutcome {
	if len(simpleResults) == 0 && status == models.SearchOK {
		status = models.SearchEmpty
	}
	return models.SearchOutcome{Status: status, Results: simpleResults}
}

// Stats summarizes the knowledge base for the dashboard header
type Stats struct {
	TotalProducts    int `json:"total_products"`
	TotalCompetitors int `json:"total_competitors"`
	TotalCategories  int `json:"total_categories"`
	TotalTags        int `json:"total_tags"`
}

// ComputeStats counts products, competitors, distinct categories and tags
// and refreshes the catalog gauges.
func ComputeStats(competitors []models.Competitor) Stats {
	categories := make(map[string]bool)
	tags := make(map[string]bool)
	totalProducts := 0

	for _, comp := range competitors {
		totalProducts += len(comp.Products)
		for _, prod := range comp.Products {
			if prod.Category != "" {
				categories[prod.Category] = true
			}
			for _, tag := range prod.Tags {
				tags[tag] = true
			}
		}
	}

	metrics.CatalogProductsTotal.Set(float64(totalProducts))
	metrics.CatalogCompetitorsTotal.Set(float64(len(competitors)))

	return Stats{
		TotalProducts:    totalProducts,
		TotalCompetitors: len(competitors),
		TotalCategories:  len(categories),
		TotalTags:        len(tags),
	}
}
