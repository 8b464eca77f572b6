package services

import (
	"context"
	"errors"
	"testing"

	"github.com/haozhang92/comp-intel/internal/models"
)

type delegateFunc func(ctx context.Context, query string, entries []models.CatalogEntry) (*KnowledgeAnswer, error)

func (f delegateFunc) QueryKnowledgeBase(ctx context.Context, query string, entries []models.CatalogEntry) (*KnowledgeAnswer, error) {
	return f(ctx, query, entries)
}

func intPtr(v int64) *int64 { return &v }

// testCatalog is a small two-competitor catalog shared by the filter and
// search tests
func testCatalog() []models.Competitor {
	return []models.Competitor{
		{
			ID:   "c1",
			Name: "大人糖",
			Products: []models.Product{
				{ID: "p1", CompetitorID: "c1", Name: "逗豆鸟", Price: 89, Category: "跳蛋", Sales: intPtr(50000), LaunchDate: "2023-06", Tags: models.StringSlice{"静音", "防水"}},
				{ID: "p2", CompetitorID: "c1", Name: "小怪兽", Price: 199, Category: "震动棒", Sales: intPtr(8000), LaunchDate: "2021", Tags: models.StringSlice{"加热"}},
				{ID: "p3", CompetitorID: "c1", Name: "元气弹", Price: 120, Category: "跳蛋", LaunchDate: "2024-01"},
			},
		},
		{
			ID:   "c2",
			Name: "对子哈特",
			Products: []models.Product{
				{ID: "p4", CompetitorID: "c2", Name: "秒飞", Price: 99, Category: "飞机杯", Sales: intPtr(120000), LaunchDate: "2022"},
			},
		},
	}
}

func TestParseQueryConditions(t *testing.T) {
	kb := NewKnowledgeBaseService(nil)

	t.Run("category and price", func(t *testing.T) {
		c := kb.ParseQueryConditions("价格低于100的跳蛋")
		if len(c.Categories) != 1 || c.Categories[0] != "跳蛋" {
			t.Errorf("categories = %v, want [跳蛋]", c.Categories)
		}
		if c.PriceRange == nil || c.PriceRange.Operator != "低于" || c.PriceRange.Value != 100 {
			t.Errorf("price range = %+v, want 低于100", c.PriceRange)
		}
		if len(c.Keywords) != 0 {
			t.Errorf("keywords = %v, want none", c.Keywords)
		}
	})

	t.Run("sales with wan unit", func(t *testing.T) {
		c := kb.ParseQueryConditions("销量大于1万的飞机杯")
		if c.SalesRange == nil || c.SalesRange.Operator != "大于" || c.SalesRange.Value != 10000 {
			t.Errorf("sales range = %+v, want 大于10000", c.SalesRange)
		}
		// The bare digit also trips the price extractor; 大于1 matches any
		// real price so it never vetoes anything
		if c.PriceRange == nil || c.PriceRange.Value != 1 {
			t.Errorf("price range = %+v, want 大于1", c.PriceRange)
		}
	})

	t.Run("sales qualifier before number", func(t *testing.T) {
		c := kb.ParseQueryConditions("不超过5000销量")
		if c.SalesRange == nil || c.SalesRange.Operator != "不超过" || c.SalesRange.Value != 5000 {
			t.Errorf("sales range = %+v, want 不超过5000", c.SalesRange)
		}
	})

	t.Run("launch year with qualifier", func(t *testing.T) {
		c := kb.ParseQueryConditions("2023年后上市的震动棒")
		if c.LaunchDateRange == nil || c.LaunchDateRange.Operator != "之后" || c.LaunchDateRange.Value != "2023" {
			t.Errorf("launch range = %+v, want 之后2023", c.LaunchDateRange)
		}
	})

	t.Run("launch year month", func(t *testing.T) {
		c := kb.ParseQueryConditions("2023-5上市")
		if c.LaunchDateRange == nil || c.LaunchDateRange.Operator != "等于" || c.LaunchDateRange.Value != "2023-05" {
			t.Errorf("launch range = %+v, want 等于2023-05", c.LaunchDateRange)
		}
	})

	t.Run("relative years sets no launch condition", func(t *testing.T) {
		c := kb.ParseQueryConditions("近3年上市")
		if c.LaunchDateRange != nil {
			t.Errorf("launch range = %+v, want nil (delegated)", c.LaunchDateRange)
		}
	})

	t.Run("features and residual keywords", func(t *testing.T) {
		c := kb.ParseQueryConditions("静音 高品质")
		if len(c.Features) != 1 || c.Features[0] != "静音" {
			t.Errorf("features = %v, want [静音]", c.Features)
		}
		if len(c.Keywords) != 1 || c.Keywords[0] != "高品质" {
			t.Errorf("keywords = %v, want [高品质]", c.Keywords)
		}
	})

	t.Run("multiple features", func(t *testing.T) {
		c := kb.ParseQueryConditions("加热防水的按摩器")
		if len(c.Features) != 2 {
			t.Errorf("features = %v, want [加热 防水]", c.Features)
		}
		if len(c.Categories) != 1 || c.Categories[0] != "按摩器" {
			t.Errorf("categories = %v, want [按摩器]", c.Categories)
		}
	})
}

func TestMatchProduct(t *testing.T) {
	kb := NewKnowledgeBaseService(nil)
	catalog := testCatalog()
	p1 := catalog[0].Products[0] // 逗豆鸟, 跳蛋, ¥89
	p3 := catalog[0].Products[2] // 元气弹, 跳蛋, ¥120, no sales

	t.Run("category and price both required", func(t *testing.T) {
		conditions := kb.ParseQueryConditions("价格低于100的跳蛋")

		matched, fields, score := kb.MatchProduct(p1, conditions)
		if !matched {
			t.Fatal("p1 should match 价格低于100的跳蛋")
		}
		if score != scoreCategory+scoreRange {
			t.Errorf("score = %d, want %d", score, scoreCategory+scoreRange)
		}
		if len(fields) != 2 {
			t.Errorf("matched fields = %v, want category and price", fields)
		}

		if matched, _, _ := kb.MatchProduct(p3, conditions); matched {
			t.Error("p3 at ¥120 should fail 低于100")
		}
	})

	t.Run("price comparison is strict", func(t *testing.T) {
		conditions := models.QueryConditions{
			PriceRange: &models.RangeCondition{Operator: "低于", Value: 89},
		}
		if matched, _, _ := kb.MatchProduct(p1, conditions); matched {
			t.Error("price equal to the threshold should not satisfy 低于")
		}
	})

	t.Run("approximate price band", func(t *testing.T) {
		conditions := models.QueryConditions{
			PriceRange: &models.RangeCondition{Operator: "", Value: 100},
		}
		if matched, _, _ := kb.MatchProduct(p1, conditions); !matched {
			t.Error("¥89 should fall within ±20% of 100")
		}
		conditions.PriceRange.Value = 90
		if matched, _, _ := kb.MatchProduct(p3, conditions); matched {
			t.Error("¥120 is outside ±20% of 90")
		}
	})

	t.Run("sales condition skipped without sales data", func(t *testing.T) {
		conditions := models.QueryConditions{
			Categories: []string{"跳蛋"},
			SalesRange: &models.RangeCondition{Operator: "大于", Value: 10000},
		}
		// p3 has no sales figure; the condition cannot veto it
		if matched, _, _ := kb.MatchProduct(p3, conditions); !matched {
			t.Error("missing sales data should not veto the match")
		}
		if matched, _, _ := kb.MatchProduct(p1, conditions); !matched {
			t.Error("p1 with 50000 sales should match 大于10000")
		}
	})

	t.Run("launch date qualifiers", func(t *testing.T) {
		after := models.QueryConditions{
			LaunchDateRange: &models.DateCondition{Operator: "之后", Value: "2022"},
		}
		if matched, _, _ := kb.MatchProduct(p1, after); !matched {
			t.Error("2023-06 launch should match 2022之后")
		}
		before := models.QueryConditions{
			LaunchDateRange: &models.DateCondition{Operator: "之前", Value: "2023"},
		}
		if matched, _, _ := kb.MatchProduct(p1, before); matched {
			t.Error("2023-06 launch should not match 2023之前")
		}
	})

	t.Run("keywords only add score", func(t *testing.T) {
		conditions := models.QueryConditions{
			Categories: []string{"跳蛋"},
			Keywords:   []string{"不存在的词"},
		}
		matched, _, score := kb.MatchProduct(p1, conditions)
		if !matched {
			t.Error("an unmatched keyword must not veto the product")
		}
		if score != scoreCategory {
			t.Errorf("score = %d, want %d", score, scoreCategory)
		}
	})
}

func TestSimpleFilter(t *testing.T) {
	kb := NewKnowledgeBaseService(nil)
	catalog := testCatalog()

	t.Run("strict conditions", func(t *testing.T) {
		results := kb.SimpleFilter("跳蛋", catalog)
		if len(results) != 2 {
			t.Fatalf("got %d results, want 2: %v", len(results), results)
		}
		for _, r := range results {
			if r.Product.Category != "跳蛋" {
				t.Errorf("unexpected product %s in results", r.Product.Name)
			}
		}
	})

	t.Run("fuzzy fallback on plain text", func(t *testing.T) {
		results := kb.SimpleFilter("小怪兽", catalog)
		if len(results) != 1 || results[0].Product.ID != "p2" {
			t.Fatalf("got %v, want p2 by name", results)
		}
		if results[0].RelevanceScore != scoreFuzzyName {
			t.Errorf("score = %d, want %d", results[0].RelevanceScore, scoreFuzzyName)
		}
	})

	t.Run("fuzzy competitor name", func(t *testing.T) {
		results := kb.SimpleFilter("对子哈特", catalog)
		if len(results) != 1 || results[0].Product.ID != "p4" {
			t.Fatalf("got %v, want p4 via competitor name", results)
		}
	})

	t.Run("results sorted by relevance", func(t *testing.T) {
		results := kb.SimpleFilter("静音的跳蛋", catalog)
		if len(results) == 0 {
			t.Fatal("expected at least one result")
		}
		for i := 1; i < len(results); i++ {
			if results[i].RelevanceScore > results[i-1].RelevanceScore {
				t.Errorf("results not sorted descending at %d: %v", i, results)
			}
		}
	})

	t.Run("blank query", func(t *testing.T) {
		if results := kb.SimpleFilter("   ", catalog); results != nil {
			t.Errorf("got %v, want nil", results)
		}
	})
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	catalog := testCatalog()

	t.Run("empty query", func(t *testing.T) {
		kb := NewKnowledgeBaseService(nil)
		outcome := kb.Search(ctx, "  ", catalog)
		if outcome.Status != models.SearchEmpty {
			t.Errorf("status = %s, want empty", outcome.Status)
		}
	})

	t.Run("short query stays structured", func(t *testing.T) {
		delegateCalled := false
		kb := NewKnowledgeBaseService(delegateFunc(func(ctx context.Context, query string, entries []models.CatalogEntry) (*KnowledgeAnswer, error) {
			delegateCalled = true
			return &KnowledgeAnswer{}, nil
		}))

		outcome := kb.Search(ctx, "跳蛋", catalog)
		if delegateCalled {
			t.Error("a short query with results should not reach the delegate")
		}
		if outcome.Status != models.SearchOK || outcome.AIUsed {
			t.Errorf("outcome = %+v, want structured ok", outcome)
		}
		if len(outcome.Results) != 2 {
			t.Errorf("got %d results, want 2", len(outcome.Results))
		}
	})

	t.Run("zero results delegates", func(t *testing.T) {
		kb := NewKnowledgeBaseService(delegateFunc(func(ctx context.Context, query string, entries []models.CatalogEntry) (*KnowledgeAnswer, error) {
			return &KnowledgeAnswer{
				Analysis:   "两款入门产品",
				ProductIDs: []string{"p4", "p1", "no-such-id"},
			}, nil
		}))

		outcome := kb.Search(ctx, "适合新手的入门推荐", catalog)
		if !outcome.AIUsed || outcome.Status != models.SearchOK {
			t.Fatalf("outcome = %+v, want AI-backed ok", outcome)
		}
		// Delegate order preserved, unknown ids dropped
		if len(outcome.Results) != 2 || outcome.Results[0].Product.ID != "p4" || outcome.Results[1].Product.ID != "p1" {
			t.Errorf("results = %v, want [p4 p1]", outcome.Results)
		}
		if outcome.AIAnalysis != "两款入门产品" {
			t.Errorf("analysis = %q", outcome.AIAnalysis)
		}
	})

	t.Run("relative launch dates always delegate", func(t *testing.T) {
		delegateCalled := false
		kb := NewKnowledgeBaseService(delegateFunc(func(ctx context.Context, query string, entries []models.CatalogEntry) (*KnowledgeAnswer, error) {
			delegateCalled = true
			return &KnowledgeAnswer{Analysis: "近两年", ProductIDs: []string{"p3"}}, nil
		}))

		outcome := kb.Search(ctx, "近2年上市的跳蛋", catalog)
		if !delegateCalled {
			t.Fatal("relative date query must reach the delegate")
		}
		if len(outcome.Results) != 1 || outcome.Results[0].Product.ID != "p3" {
			t.Errorf("results = %v, want [p3]", outcome.Results)
		}
	})

	t.Run("relative date query keeps structured fallback on failure", func(t *testing.T) {
		kb := NewKnowledgeBaseService(delegateFunc(func(ctx context.Context, query string, entries []models.CatalogEntry) (*KnowledgeAnswer, error) {
			return nil, errors.New("timeout")
		}))

		outcome := kb.Search(ctx, "近年上市的跳蛋", catalog)
		if outcome.Status != models.SearchAIUnavailable {
			t.Fatalf("status = %s, want ai_unavailable", outcome.Status)
		}
		if outcome.AIUsed {
			t.Error("a failed delegation must not be reported as AI-backed")
		}
		// The category still matches structurally even though the date
		// condition needed the delegate
		if len(outcome.Results) != 2 {
			t.Fatalf("got %d results, want the 2 category matches", len(outcome.Results))
		}
		for _, r := range outcome.Results {
			if r.Product.Category != "跳蛋" {
				t.Errorf("unexpected product %s in fallback results", r.Product.Name)
			}
		}
	})

	t.Run("delegate failure falls back to structured results", func(t *testing.T) {
		kb := NewKnowledgeBaseService(delegateFunc(func(ctx context.Context, query string, entries []models.CatalogEntry) (*KnowledgeAnswer, error) {
			return nil, errors.New("quota exceeded")
		}))

		// Long query with a single structured hit triggers delegation
		outcome := kb.Search(ctx, "价格低于100的跳蛋产品推荐一下", catalog)
		if outcome.Status != models.SearchAIUnavailable {
			t.Fatalf("status = %s, want ai_unavailable", outcome.Status)
		}
		if outcome.AIUsed {
			t.Error("a failed delegation must not be reported as AI-backed")
		}
		if len(outcome.Results) != 1 || outcome.Results[0].Product.ID != "p1" {
			t.Errorf("results = %v, want structured fallback [p1]", outcome.Results)
		}
	})

	t.Run("nil delegate degrades gracefully", func(t *testing.T) {
		kb := NewKnowledgeBaseService(nil)
		outcome := kb.Search(ctx, "价格低于100的跳蛋产品推荐一下", catalog)
		if outcome.Status != models.SearchAIUnavailable {
			t.Fatalf("status = %s, want ai_unavailable", outcome.Status)
		}
		if len(outcome.Results) != 1 {
			t.Errorf("results = %v, want structured fallback", outcome.Results)
		}
	})

	t.Run("stale response is discarded", func(t *testing.T) {
		var kb *KnowledgeBaseService
		nested := false
		kb = NewKnowledgeBaseService(delegateFunc(func(ctx context.Context, query string, entries []models.CatalogEntry) (*KnowledgeAnswer, error) {
			if !nested {
				nested = true
				// A second search lands while this one is in flight
				kb.Search(ctx, "跳蛋", catalog)
			}
			return &KnowledgeAnswer{Analysis: "迟到的回答", ProductIDs: []string{"p1"}}, nil
		}))

		outcome := kb.Search(ctx, "适合新手的入门推荐", catalog)
		if outcome.AIUsed {
			t.Error("a superseded response must not surface as AI-backed")
		}
		if outcome.AIAnalysis != "" {
			t.Errorf("stale analysis leaked: %q", outcome.AIAnalysis)
		}
	})

	t.Run("empty catalog", func(t *testing.T) {
		kb := NewKnowledgeBaseService(nil)
		outcome := kb.Search(ctx, "近2年上市的跳蛋", nil)
		if outcome.Status != models.SearchEmpty {
			t.Errorf("status = %s, want empty", outcome.Status)
		}
	})
}

func TestComputeStats(t *testing.T) {
	stats := ComputeStats(testCatalog())
	if stats.TotalProducts != 4 {
		t.Errorf("products = %d, want 4", stats.TotalProducts)
	}
	if stats.TotalCompetitors != 2 {
		t.Errorf("competitors = %d, want 2", stats.TotalCompetitors)
	}
	if stats.TotalCategories != 3 {
		t.Errorf("categories = %d, want 3", stats.TotalCategories)
	}
	if stats.TotalTags != 3 {
		t.Errorf("tags = %d, want 3", stats.TotalTags)
	}
}
