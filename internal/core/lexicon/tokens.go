package lexicon

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var keywordPatterns = compileAll(
	`(?i)[A-Z]{2,}\d*[A-Za-z]*`,
	`(?i)[A-Za-z]+[-_][A-Za-z0-9]+`,
	`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`,
	`(?i)[A-Za-z]+\.[A-Za-z]{2,4}`,
	`(?i)No\.\s*\d+`,
	`(?i)[A-Z]{1,3}\d{3,}[A-Z]*`,
)

var hanRun = regexp.MustCompile(`[\x{4e00}-\x{9fa5}]+`)

// Single-character CJK stop words; they split runs before n-gram extraction.
var cjkStopwords = map[rune]struct{}{}

func init() {
	for _, r := range "的是在和了有這個不為上下中請到把被讓給跟與及或但而因所以就都" {
		cjkStopwords[r] = struct{}{}
	}
}

const (
	maxUpperLen = 10
	minCJKRun   = 2
	maxCJKRun   = 6
)

// KeywordTokens extracts keyword-like tokens: regex-defined codes (upper-cased
// when short), CJK n-grams with stop words removed, and product codes.
// Order follows extraction order; duplicates are dropped.
func KeywordTokens(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	seen := make(map[string]struct{})
	out := make([]string, 0, 16)
	add := func(token string) {
		token = strings.TrimSpace(token)
		if token == "" {
			return
		}
		if _, ok := seen[token]; ok {
			return
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}

	for _, re := range keywordPatterns {
		for _, m := range re.FindAllString(text, -1) {
			if utf8.RuneCountInString(m) <= maxUpperLen {
				m = strings.ToUpper(m)
			}
			add(m)
		}
	}
	for _, gram := range CJKGrams(text) {
		add(gram)
	}
	for _, code := range ProductCodes(text) {
		add(code)
	}
	return out
}

// CJKGrams splits Han runs on stop words and cuts each remaining segment into
// consecutive pieces of at most six runes, dropping pieces shorter than two.
func CJKGrams(text string) []string {
	var out []string
	for _, run := range hanRun.FindAllString(text, -1) {
		for _, segment := range splitOnStopwords(run) {
			runes := []rune(segment)
			for start := 0; start < len(runes); start += maxCJKRun {
				end := start + maxCJKRun
				if end > len(runes) {
					end = len(runes)
				}
				if end-start >= minCJKRun {
					out = append(out, string(runes[start:end]))
				}
			}
		}
	}
	return out
}

func splitOnStopwords(run string) []string {
	var segments []string
	var b strings.Builder
	for _, r := range run {
		if _, stop := cjkStopwords[r]; stop {
			if b.Len() > 0 {
				segments = append(segments, b.String())
				b.Reset()
			}
			continue
		}
		b.WriteRune(r)
	}
	if b.Len() > 0 {
		segments = append(segments, b.String())
	}
	return segments
}

// ContainsFold reports whether s contains substr ignoring case.
func ContainsFold(s, substr string) bool {
	return strings.Contains(strings.ToUpper(s), strings.ToUpper(substr))
}
