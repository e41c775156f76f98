package usecase

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

const answerSystemPrompt = "請只根據提供的參考資料回答；資料中沒有的型號或規格不要自行推測。"

var promptTemplates = map[domain.DomainType]string{
	domain.DomainTechnical: `你是三新的技術支援專家，專精於工業元件產品諮詢。

## 你代理的品牌
- **SMC**：氣壓元件（氣缸、電磁閥、真空吸盤、FRL、壓力開關）
- **YUKEN 油研**：油壓泵浦、油壓閥
- **VALQUA 華爾卡（バルカー）**：墊片（ガスケット）、填料（パッキン）
  - 常見系列：No.6500（ジョイントシート）、No.7010/7020（ふっ素樹脂）、うず巻形等
- **玖基、協鋼**：油封（オイルシール）、密封件

## 回答策略
1. **積極提取資訊**：即使文檔只有部分相關內容，也要盡可能提取有用資訊
2. **多語言理解**：文檔可能是日文，請翻譯重點給用戶
3. **產品推薦**：根據用戶需求（耐熱、耐壓、材質等）推薦適合的產品系列
4. **規格表格化**：用 Markdown 表格呈現規格對比
5. **誠實但有建設性**：如果找不到精確資料，提供相關產品建議或後續步驟

## 回答格式
1. 直接回答用戶問題
2. 提供相關產品資訊（型號、特性、應用）
3. 如有規格數據，用表格呈現
4. 標註資料來源

## 參考文檔
{context}

## 客戶問題
{input}

## 回答
請根據上述文檔內容回答。如果文檔中有相關產品資訊（即使不完全匹配），也要提供給用戶參考。`,

	domain.DomainBusiness: `你是三新的業務分析助理。

## 輸出格式
**查詢結果**
- 筆數、時間範圍

**詳細記錄**（表格，最多 20 筆）
| 日期 | 業務 | 客戶 | 類型 | 內容摘要 |

**統計分析**
- 客戶分佈、活動類型

<業務記錄>
{context}
</業務記錄>

查詢：{input}

分析報告：`,

	domain.DomainPersonal: `你是用戶的個人知識助理。

## 任務
根據用戶的個人文件回答問題。

## 回答規則
1. **直接引用**：盡可能直接引用文件中的原文內容
2. **完整資訊**：提供文件中所有相關的細節（天數、條件、流程等）
3. 如有相關圖片，提及「請參考下方圖片」
4. 如找不到，明確說明

## 參考文件
{context}

## 問題
{input}

## 回答（請直接引用文件內容，提供完整資訊）`,

	domain.DomainMixed: `你是三新的智慧助理。

根據以下資料回答問題：

## 資料
{context}

## 問題
{input}

## 綜合回答`,
}

// BuildPrompt fills the domain template with the cleaned context and the
// question. Unknown domains use the technical template.
func BuildPrompt(domainType domain.DomainType, query string, results []domain.SearchResult) string {
	tmpl, ok := promptTemplates[domainType]
	if !ok {
		tmpl = promptTemplates[domain.DomainTechnical]
	}
	return strings.NewReplacer("{context}", buildContext(results), "{input}", query).Replace(tmpl)
}

func buildContext(results []domain.SearchResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		source := "未知"
		if r.Source != "" {
			source = filepath.Base(r.Source)
		}
		parts = append(parts, "【來源: "+source+"】\n"+cleanContent(r.Content))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

type rewrite struct {
	pattern *regexp.Regexp
	with    string
}

var (
	emptyElement = regexp.MustCompile(`<(\w+)[^>]*>\s*</(\w+)>`)

	leadingRewrites = []rewrite{
		{regexp.MustCompile(`<img[^>]*>`), ""},
		{regexp.MustCompile(`\s*style="[^"]*"`), ""},
	}
	trailingRewrites = []rewrite{
		{regexp.MustCompile(`</?blockquote>`), ""},
		{regexp.MustCompile(`</?table[^>]*>`), "\n"},
		{regexp.MustCompile(`</?thead[^>]*>`), ""},
		{regexp.MustCompile(`</?tbody[^>]*>`), ""},
		{regexp.MustCompile(`</?colgroup[^>]*>`), ""},
		{regexp.MustCompile(`<col[^>]*/?>`), ""},
		{regexp.MustCompile(`<tr[^>]*>`), "\n"},
		{regexp.MustCompile(`</tr>`), ""},
		{regexp.MustCompile(`<t[hd][^>]*>`), " | "},
		{regexp.MustCompile(`</t[hd]>`), ""},
		{regexp.MustCompile(`</?p>`), "\n"},
		{regexp.MustCompile(`</?div[^>]*>`), "\n"},
		{regexp.MustCompile(`</?span[^>]*>`), ""},
		{regexp.MustCompile(`#{4,}`), ""},
		{regexp.MustCompile(`/home/aiuser/\S+\.(png|jpg|jpeg|gif)`), "[圖片]"},
		{regexp.MustCompile(`\n{3,}`), "\n\n"},
		{regexp.MustCompile(`[ \t]+`), " "},
	}
)

// cleanContent strips markup that distracts the model while keeping table
// structure readable.
func cleanContent(content string) string {
	for _, rw := range leadingRewrites {
		content = rw.pattern.ReplaceAllString(content, rw.with)
	}
	content = removeEmptyElements(content)
	for _, rw := range trailingRewrites {
		content = rw.pattern.ReplaceAllLiteralString(content, rw.with)
	}
	return strings.TrimSpace(content)
}

// removeEmptyElements drops <x ...>   </x> pairs whose tag names match.
func removeEmptyElements(content string) string {
	matches := emptyElement.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return content
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		openTag, closeTag := content[m[2]:m[3]], content[m[4]:m[5]]
		if openTag != closeTag {
			continue
		}
		b.WriteString(content[last:m[0]])
		last = m[1]
	}
	b.WriteString(content[last:])
	return b.String()
}
