package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/haozhang92/comp-intel/internal/metrics"
	"github.com/haozhang92/comp-intel/internal/models"
)

const (
	geminiModel     = "gemini-2.0-flash"
	geminiAPIURL    = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"
	geminiTimeout   = 30 * time.Second
	answerCacheSize = 128
	// Free-tier request budget; a burst of dashboard searches should not
	// burn the whole day's quota at once.
	defaultDailyLimit = 200
	requestsPerSecond = 1
)

// AIService implements the knowledge delegate and review analysis against
// the Gemini API
type AIService struct {
	apiKey     string
	httpClient *http.Client
	enabled    bool
	limiter    *rate.Limiter

	answerCache *lru.Cache[string, *KnowledgeAnswer]

	// Daily quota bookkeeping
	mu             sync.Mutex
	dailyLimit     int
	requestsToday  int
	lastRequestDay time.Time
}

// NewAIService creates the Gemini-backed AI service. An empty API key
// disables it; callers fall back to structured search results.
func NewAIService(apiKey string, dailyLimit int) *AIService {
	if dailyLimit <= 0 {
		dailyLimit = defaultDailyLimit
	}

	answerCache, err := lru.New[string, *KnowledgeAnswer](answerCacheSize)
	if err != nil {
		log.Printf("Failed to create answer cache: %v", err)
	}

	svc := &AIService{
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: geminiTimeout},
		enabled:     apiKey != "",
		limiter:     rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		answerCache: answerCache,
		dailyLimit:  dailyLimit,
	}

	if svc.enabled {
		log.Printf("AI service: enabled (model=%s, daily_limit=%d)", geminiModel, dailyLimit)
	} else {
		log.Printf("AI service: disabled (no GOOGLE_API_KEY)")
	}

	return svc
}

// IsEnabled returns whether the AI delegate is available
func (s *AIService) IsEnabled() bool {
	return s.enabled
}

// checkQuota returns true if a request may proceed today
func (s *AIService) checkQuota() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if s.lastRequestDay.Before(today) {
		s.requestsToday = 0
		s.lastRequestDay = today
	}

	if s.requestsToday >= s.dailyLimit {
		return false
	}
	s.requestsToday++
	metrics.AIQuotaRemaining.Set(float64(s.dailyLimit - s.requestsToday))
	return true
}

// RequestsRemaining returns the number of delegate requests left today
func (s *AIService) RequestsRemaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if s.lastRequestDay.Before(today) {
		return s.dailyLimit
	}
	remaining := s.dailyLimit - s.requestsToday
	if remaining < 0 {
		return 0
	}
	return remaining
}

// catalogProduct is the trimmed product view sent to the model
type catalogProduct struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Competitor string   `json:"competitor"`
	Price      float64  `json:"price"`
	Category   string   `json:"category,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Sales      *int64   `json:"sales,omitempty"`
	LaunchDate string   `json:"launch_date,omitempty"`
}

// QueryKnowledgeBase asks Gemini to select matching products for a query
// the structured filter could not resolve. Answers are cached per
// (query, catalog) since the dashboard re-issues identical searches.
func (s *AIService) QueryKnowledgeBase(ctx context.Context, query string, entries []models.CatalogEntry) (*KnowledgeAnswer, error) {
	if !s.enabled {
		return nil, fmt.Errorf("AI service not enabled (no GOOGLE_API_KEY)")
	}

	cacheKey := answerCacheKey(query, entries)
	if s.answerCache != nil {
		if cached, ok := s.answerCache.Get(cacheKey); ok {
			metrics.AICacheHits.Inc()
			return cached, nil
		}
	}

	if !s.checkQuota() {
		metrics.AIErrorsTotal.WithLabelValues("quota").Inc()
		return nil, fmt.Errorf("AI daily quota exceeded")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	products := make([]catalogProduct, 0, len(entries))
	for _, entry := range entries {
		products = append(products, catalogProduct{
			ID:         entry.Product.ID,
			Name:       entry.Product.Name,
			Competitor: entry.Competitor.Name,
			Price:      entry.Product.Price,
			Category:   entry.Product.Category,
			Tags:       entry.Product.Tags,
			Sales:      entry.Product.Sales,
			LaunchDate: entry.Product.LaunchDate,
		})
	}
	productsJSON, err := json.Marshal(products)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal catalog: %w", err)
	}

	prompt := fmt.Sprintf(knowledgeBasePrompt, time.Now().Format("2006-01-02"), query, productsJSON)

	text, err := s.callGemini(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var answer KnowledgeAnswer
	if err := json.Unmarshal([]byte(stripJSONFences(text)), &answer); err != nil {
		metrics.AIErrorsTotal.WithLabelValues("parse").Inc()
		return nil, fmt.Errorf("failed to parse answer: %w", err)
	}

	if s.answerCache != nil {
		s.answerCache.Add(cacheKey, &answer)
	}
	return &answer, nil
}

// AnalyzeReviews summarizes customer reviews into pros, cons, and a short
// overall summary
func (s *AIService) AnalyzeReviews(ctx context.Context, productName string, reviews []models.Review) (*models.ReviewAnalysis, error) {
	if !s.enabled {
		return nil, fmt.Errorf("AI service not enabled (no GOOGLE_API_KEY)")
	}
	if len(reviews) == 0 {
		return nil, fmt.Errorf("no reviews to analyze")
	}

	if !s.checkQuota() {
		metrics.AIErrorsTotal.WithLabelValues("quota").Inc()
		return nil, fmt.Errorf("AI daily quota exceeded")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reviewsJSON, err := json.Marshal(reviews)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reviews: %w", err)
	}

	prompt := fmt.Sprintf(reviewAnalysisPrompt, productName, reviewsJSON)

	text, err := s.callGemini(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var analysis models.ReviewAnalysis
	if err := json.Unmarshal([]byte(stripJSONFences(text)), &analysis); err != nil {
		metrics.AIErrorsTotal.WithLabelValues("parse").Inc()
		return nil, fmt.Errorf("failed to parse analysis: %w", err)
	}
	return &analysis, nil
}

// callGemini makes a single text-only generateContent request and returns
// the first candidate's text
func (s *AIService) callGemini(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	metrics.AIRequestsTotal.Inc()

	req := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt}}},
		},
		GenerationConfig: geminiGenConfig{
			ResponseMimeType: "application/json",
			Temperature:      0.1,
			MaxOutputTokens:  2048,
		},
	}

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf(geminiAPIURL, geminiModel) + "?key=" + s.apiKey
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqJSON))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		metrics.AIErrorsTotal.WithLabelValues("network").Inc()
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.AIErrorsTotal.WithLabelValues("read").Inc()
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.AIErrorsTotal.WithLabelValues("api").Inc()
		return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var apiResp geminiAPIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		metrics.AIErrorsTotal.WithLabelValues("parse").Inc()
		return "", fmt.Errorf("failed to parse API response: %w", err)
	}
	if apiResp.Error != nil {
		metrics.AIErrorsTotal.WithLabelValues("api").Inc()
		return "", fmt.Errorf("API error %d: %s", apiResp.Error.Code, apiResp.Error.Message)
	}
	if len(apiResp.Candidates) == 0 {
		metrics.AIErrorsTotal.WithLabelValues("empty").Inc()
		return "", fmt.Errorf("no response from Gemini")
	}

	metrics.AILatency.Observe(time.Since(start).Seconds())

	for _, part := range apiResp.Candidates[0].Content.Parts {
		if part.Text != "" {
			return part.Text, nil
		}
	}
	metrics.AIErrorsTotal.WithLabelValues("empty").Inc()
	return "", fmt.Errorf("empty response from Gemini")
}

// stripJSONFences removes markdown code fences the model sometimes wraps
// JSON responses in
func stripJSONFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	}
	return text
}

func answerCacheKey(query string, entries []models.CatalogEntry) string {
	h := sha256.New()
	io.WriteString(h, query)
	for _, entry := range entries {
		io.WriteString(h, "|")
		io.WriteString(h, entry.Product.ID)
		io.WriteString(h, entry.Product.UpdatedAt.Format(time.RFC3339Nano))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Gemini API types

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenConfig struct {
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
}

type geminiAPIResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
			Role  string       `json:"role"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

const knowledgeBasePrompt = `You are a product analyst for a competitor intelligence dashboard. Today is %s.

The user asked the following question about the product knowledge base (the question may be in Chinese):

%s

Here is the full product catalog as JSON:

%s

Select the products that answer the question. Pay attention to relative date expressions ("近几年上市" means launched within roughly the last 3 years unless a number is given), price and sales constraints, categories and feature keywords.

Respond with ONLY valid JSON matching this schema:
{
  "analysis": "A short analysis of the matching products, written in the language of the question",
  "product_ids": ["id-1", "id-2"]
}

If no products match, return an empty product_ids array and explain why in the analysis.`

const reviewAnalysisPrompt = `You are analyzing customer reviews for the product "%s".

Reviews as JSON (like_count indicates how many shoppers found a review helpful; weigh those higher):

%s

Summarize the feedback. Respond with ONLY valid JSON matching this schema:
{
  "pros": ["strength mentioned by reviewers"],
  "cons": ["weakness mentioned by reviewers"],
  "summary": "2-3 sentence overall summary in the language of the reviews"
}`
