package usecase

import (
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/lexicon"
)

type ComplexityThresholds struct {
	QueryLength int
	ModelCount  int
	DocCount    int
}

func DefaultComplexityThresholds() ComplexityThresholds {
	return ComplexityThresholds{QueryLength: 100, ModelCount: 2, DocCount: 5}
}

var (
	comparisonKeywords = []string{"比較", "差異", "不同", "哪個", "vs", "對比", "優缺點", "compare", "comparison", "difference", "versus"}
	analysisKeywords   = []string{"計算", "估算", "分析", "統計", "趨勢", "預測", "calculate", "estimate", "analyze", "analysis", "trend", "forecast"}
)

// ComplexityEstimator tags a query simple or complex. It holds no state
// beyond its thresholds and is safe for concurrent use.
type ComplexityEstimator struct {
	thresholds ComplexityThresholds
}

func NewComplexityEstimator(thresholds ComplexityThresholds) *ComplexityEstimator {
	defaults := DefaultComplexityThresholds()
	if thresholds.QueryLength <= 0 {
		thresholds.QueryLength = defaults.QueryLength
	}
	if thresholds.ModelCount <= 0 {
		thresholds.ModelCount = defaults.ModelCount
	}
	if thresholds.DocCount <= 0 {
		thresholds.DocCount = defaults.DocCount
	}
	return &ComplexityEstimator{thresholds: thresholds}
}

func (e *ComplexityEstimator) Estimate(query string, resultCount int) domain.Complexity {
	if utf8.RuneCountInString(query) > e.thresholds.QueryLength {
		return domain.ComplexityComplex
	}
	if len(lexicon.ProductCodes(query)) >= e.thresholds.ModelCount {
		return domain.ComplexityComplex
	}
	lower := strings.ToLower(query)
	if containsAny(lower, comparisonKeywords) || containsAny(lower, analysisKeywords) {
		return domain.ComplexityComplex
	}
	if resultCount > e.thresholds.DocCount {
		return domain.ComplexityComplex
	}
	return domain.ComplexitySimple
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
