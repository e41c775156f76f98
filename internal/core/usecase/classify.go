package usecase

import (
	"strings"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/lexicon"
)

var (
	businessKeywords  = []string{"客戶", "業務", "拜訪", "送貨", "訂單", "營業所", "活動", "日報", "統計", "業績", "業務員"}
	technicalKeywords = []string{"規格", "型號", "產品", "安裝", "維修", "故障", "氣缸", "油壓", "墊片", "電磁閥", "SMC", "YUKEN", "VALQUA", "華爾卡", "No.", "玖基", "協鋼"}
)

// Each detected product code weighs this much toward technical.
const productCodeWeight = 3

// KeywordClassifier assigns a domain from keyword counts.
type KeywordClassifier struct{}

func NewKeywordClassifier() KeywordClassifier {
	return KeywordClassifier{}
}

func (KeywordClassifier) Classify(query string) domain.DomainType {
	business := 0
	for _, kw := range businessKeywords {
		if strings.Contains(query, kw) {
			business++
		}
	}
	technical := 0
	for _, kw := range technicalKeywords {
		if lexicon.ContainsFold(query, kw) {
			technical++
		}
	}
	if len(lexicon.ProductCodes(query)) > 0 {
		technical += productCodeWeight
	}

	switch {
	case business > technical:
		return domain.DomainBusiness
	case technical > 0:
		return domain.DomainTechnical
	default:
		return domain.DomainMixed
	}
}
