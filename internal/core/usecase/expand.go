package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/lexicon"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
)

// Term is one dictionary entry: a Chinese source term and its translations.
// The first translation is Japanese and the second English by convention.
type Term struct {
	Source       string   `yaml:"source"`
	Translations []string `yaml:"translations"`
}

// DefaultTerms is the built-in industrial-product dictionary.
var DefaultTerms = []Term{
	{"墊片", []string{"ガスケット", "gasket", "パッキン", "packing", "シートガスケット"}},
	{"密封墊", []string{"シール", "seal", "ガスケット", "gasket"}},
	{"軟質墊片", []string{"ソフトガスケット", "soft gasket", "ジョイントシート"}},
	{"金屬墊片", []string{"メタルガスケット", "metal gasket", "金属ガスケット"}},
	{"渦卷墊片", []string{"うず巻形ガスケット", "spiral wound gasket", "スパイラルガスケット"}},
	{"油封", []string{"オイルシール", "oil seal", "シール"}},
	{"O環", []string{"Oリング", "O-ring", "オーリング"}},
	{"填料", []string{"パッキン", "packing", "グランドパッキン"}},
	{"氣缸", []string{"シリンダ", "cylinder", "エアシリンダ", "air cylinder"}},
	{"電磁閥", []string{"ソレノイドバルブ", "solenoid valve", "電磁弁"}},
	{"調壓閥", []string{"レギュレータ", "regulator", "減圧弁", "pressure regulator"}},
	{"過濾器", []string{"フィルタ", "filter", "濾過器"}},
	{"接頭", []string{"継手", "fitting", "connector", "カップリング"}},
	{"消音器", []string{"サイレンサ", "silencer", "muffler"}},
	{"真空吸盤", []string{"真空パッド", "vacuum pad", "吸着パッド", "サクションカップ"}},
	{"真空產生器", []string{"真空エジェクタ", "vacuum ejector", "バキュームジェネレータ"}},
	{"壓力開關", []string{"圧力スイッチ", "pressure switch"}},
	{"流量開關", []string{"フロースイッチ", "flow switch"}},
	{"電動致動器", []string{"電動アクチュエータ", "electric actuator"}},

	{"6500", []string{"ジョイントシートガスケット", "joint sheet", "No.6500"}},
	{"7010", []string{"バルフロンシート", "PTFE sheet", "ふっ素樹脂シート"}},
	{"7020", []string{"バルフロンシート", "PTFE gasket", "ふっ素樹脂ガスケット"}},

	{"不鏽鋼", []string{"ステンレス", "stainless steel", "SUS"}},
	{"鋁", []string{"アルミ", "aluminum", "aluminium"}},
	{"黃銅", []string{"真鍮", "brass"}},
	{"氟素樹脂", []string{"ふっ素樹脂", "PTFE", "テフロン", "fluororesin", "フッ素"}},
	{"橡膠", []string{"ゴム", "rubber"}},
	{"NBR", []string{"ニトリルゴム", "nitrile rubber", "丁腈橡膠"}},
	{"EPDM", []string{"エチレンプロピレンゴム", "ethylene propylene"}},
	{"矽膠", []string{"シリコーン", "silicone"}},
	{"石墨", []string{"グラファイト", "graphite", "膨張黒鉛"}},

	{"耐熱", []string{"耐熱性", "高温用", "heat resistant", "high temperature", "高温"}},
	{"耐壓", []string{"耐圧", "pressure resistant", "高圧用", "高圧"}},
	{"耐腐蝕", []string{"耐食", "耐蝕", "corrosion resistant", "防蝕", "耐薬品"}},
	{"耐油", []string{"耐油性", "oil resistant"}},
	{"真空", []string{"バキューム", "vacuum", "真空用"}},
	{"防爆", []string{"防爆形", "explosion proof", "耐圧防爆"}},
	{"食品級", []string{"食品用", "food grade", "食品衛生法適合"}},
	{"無塵", []string{"クリーン", "clean", "クリーンルーム用", "低発塵"}},

	{"安裝", []string{"取付", "取り付け", "installation", "mounting", "設置", "組付"}},
	{"拆卸", []string{"取り外し", "removal", "分解"}},
	{"調整", []string{"調節", "adjustment", "セッティング"}},
	{"維修", []string{"修理", "メンテナンス", "maintenance", "保守"}},
	{"故障", []string{"トラブル", "trouble", "故障", "異常"}},
	{"漏氣", []string{"エアリーク", "air leak", "漏れ"}},
	{"漏油", []string{"オイルリーク", "oil leak", "油漏れ"}},
	{"選型", []string{"選定", "selection", "型式選定"}},

	{"規格", []string{"仕様", "specification", "spec", "スペック"}},
	{"尺寸", []string{"寸法", "dimension", "サイズ", "size"}},
	{"口徑", []string{"口径", "bore size", "呼び径"}},
	{"行程", []string{"ストローク", "stroke"}},
	{"壓力", []string{"圧力", "pressure"}},
	{"溫度", []string{"温度", "temperature"}},
	{"流量", []string{"流量", "flow rate"}},
}

// MergeTerms appends extra terms; an extra entry with an existing source
// replaces that entry's translations in place.
func MergeTerms(base, extra []Term) []Term {
	out := make([]Term, len(base))
	copy(out, base)
	index := make(map[string]int, len(out))
	for i, t := range out {
		index[t.Source] = i
	}
	for _, t := range extra {
		if strings.TrimSpace(t.Source) == "" {
			continue
		}
		if i, ok := index[t.Source]; ok {
			out[i] = t
			continue
		}
		index[t.Source] = len(out)
		out = append(out, t)
	}
	return out
}

// MergeBrands works like MergeTerms for brand alias tables.
func MergeBrands(base, extra []lexicon.Brand) []lexicon.Brand {
	out := make([]lexicon.Brand, len(base))
	copy(out, base)
	index := make(map[string]int, len(out))
	for i, b := range out {
		index[b.Name] = i
	}
	for _, b := range extra {
		if strings.TrimSpace(b.Name) == "" {
			continue
		}
		if i, ok := index[b.Name]; ok {
			out[i] = b
			continue
		}
		index[b.Name] = len(out)
		out = append(out, b)
	}
	return out
}

// RuleExpander builds query variants from the term dictionary, brand
// aliases and detected product codes. It never calls out.
type RuleExpander struct {
	terms  []Term
	brands []lexicon.Brand
}

func NewRuleExpander(terms []Term, brands []lexicon.Brand) *RuleExpander {
	if terms == nil {
		terms = DefaultTerms
	}
	if brands == nil {
		brands = lexicon.DefaultBrands
	}
	return &RuleExpander{terms: terms, brands: brands}
}

// Expand returns the primary query first, then term expansions, brand
// alias variants, the Japanese-only variant and the detected codes.
func (e *RuleExpander) Expand(_ context.Context, query string) (ports.Expansion, error) {
	codes := lexicon.ProductCodes(query)
	brand := lexicon.DetectBrand(query, e.brands)

	var matched []Term
	var japanese, english []string
	for _, term := range e.terms {
		if term.Source == "" || !strings.Contains(query, term.Source) {
			continue
		}
		matched = append(matched, term)
		if len(term.Translations) > 0 {
			japanese = append(japanese, term.Translations[0])
		}
		if len(term.Translations) > 1 {
			english = append(english, term.Translations[1])
		}
	}

	parts := []string{query}
	if brand != "" {
		parts = append(parts, brand)
	}
	if len(japanese) > 0 {
		parts = append(parts, strings.Join(japanese, " "))
	}
	if len(english) > 0 {
		parts = append(parts, strings.Join(english, " "))
	}
	variants := []string{strings.Join(parts, " ")}

	for _, term := range matched {
		for _, trans := range head(term.Translations, 2) {
			expanded := strings.ReplaceAll(query, term.Source, term.Source+" "+trans)
			if expanded != query {
				variants = append(variants, expanded)
			}
		}
	}
	for _, alias := range head(e.aliases(brand), 2) {
		variants = append(variants, query+" "+alias)
	}
	if len(japanese) > 0 {
		variants = append(variants, strings.Join(japanese, " "))
	}
	variants = append(variants, codes...)

	return ports.Expansion{Variants: dedupeStrings(variants), Codes: codes}, nil
}

func (e *RuleExpander) aliases(brand string) []string {
	if brand == "" {
		return nil
	}
	for _, b := range e.brands {
		if b.Name == brand {
			return b.Aliases
		}
	}
	return nil
}

// Completer runs one routed completion.
type Completer interface {
	Complete(ctx context.Context, req RouteRequest) (Completion, error)
}

const expansionSystemPrompt = "你是一個工業產品搜索助手，專門幫助擴展搜索查詢以提高召回率。"

const expansionPrompt = `分析以下工業產品查詢，理解用戶意圖並生成搜索查詢變體。

用戶查詢：%s

請回答 JSON 格式：
{
    "intent": "用戶想要找什麼（簡短描述）",
    "queries": [
        "搜索查詢1（加入日文術語）",
        "搜索查詢2（加入英文術語）",
        "搜索查詢3（同義詞變體）"
    ]
}

注意：
- 這是工業設備產品目錄搜索
- 常見品牌：SMC（氣壓設備）、VALQUA/華爾卡（墊片）、玖基（油封）
- 要考慮中日英三語術語
- 只回答 JSON，不要有其他文字`

var codeFence = regexp.MustCompile("^```\\w*\\n?|\\n?```$")

// LLMExpander asks the default-slot model for extra variants and merges them
// after the primary rule variant. Any failure yields the rule variants.
type LLMExpander struct {
	base      ports.QueryExpander
	completer Completer
	tier      domain.ModelTier
	logger    *slog.Logger
}

func NewLLMExpander(base ports.QueryExpander, completer Completer, tier domain.ModelTier, logger *slog.Logger) *LLMExpander {
	if logger == nil {
		logger = slog.Default()
	}
	tier.Temperature = 0.1
	tier.MaxTokens = 1000
	return &LLMExpander{base: base, completer: completer, tier: tier, logger: logger}
}

func (e *LLMExpander) Expand(ctx context.Context, query string) (ports.Expansion, error) {
	expansion, err := e.base.Expand(ctx, query)
	if err != nil {
		return ports.Expansion{}, err
	}

	completion, err := e.completer.Complete(ctx, RouteRequest{
		Slot:         e.tier.Slot,
		Tier:         e.tier,
		Prompt:       fmt.Sprintf(expansionPrompt, query),
		SystemPrompt: expansionSystemPrompt,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ports.Expansion{}, ctx.Err()
		}
		e.logger.Warn("query_expansion_llm_failed", "error", err)
		return expansion, nil
	}

	queries, err := parseExpansionResponse(completion.Text)
	if err != nil {
		e.logger.Warn("query_expansion_llm_unparsable", "error", err)
		return expansion, nil
	}
	if len(queries) == 0 || len(expansion.Variants) == 0 {
		return expansion, nil
	}

	merged := make([]string, 0, len(expansion.Variants)+len(queries))
	merged = append(merged, expansion.Variants[0])
	merged = append(merged, queries...)
	merged = append(merged, expansion.Variants[1:]...)
	expansion.Variants = dedupeStrings(merged)
	return expansion, nil
}

func parseExpansionResponse(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = codeFence.ReplaceAllString(text, "")
	}
	var decoded struct {
		Intent  string   `json:"intent"`
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return nil, fmt.Errorf("decode expansion response: %w", err)
	}
	out := make([]string, 0, len(decoded.Queries))
	for _, q := range decoded.Queries {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out, nil
}

func head(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func dedupeStrings(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item) == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
