// Package lexicon extracts product codes and keyword tokens from free text.
// Everything here is pure and safe for concurrent use.
package lexicon

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

type codeFamily struct {
	brand    string
	patterns []*regexp.Regexp
}

var codeFamilies = []codeFamily{
	{
		brand: "SMC",
		patterns: compileAll(
			`(?i)\b(?:MXJ|MXH|MXP|MXQ|MXS|MXW|MXF)\d+[A-Z]?[-\w]*\b`,
			`(?i)\b(?:LES|LEH|LEHZ|LEHF|LEJ|LEY|LEF|LEL)[A-Z]?\d[-\w]*\b`,
			`(?i)\b(?:SY|SV|SQ|VQ|VQZ|VF|VFS)\d+[-\w]*\b`,
			`(?i)\b(?:ACG|ARG|AWG|AFM|AFF|AF)\d+[-\w]*\b`,
			`(?i)\b(?:ZSE|ZSP|ZSM|ISE|ISA)\d+[A-Z]*[-\w]*\b`,
			`(?i)\b(?:KQ|KQG|KQB|KQH|KJ|KJH)\d+[-\w]*\b`,
			`(?i)\b(?:CDQ|CQ|CDJ|CJ|C[A-Z]{1,2})\d+[-\w]*\b`,
		),
	},
	{
		brand: "VALQUA",
		patterns: compileAll(
			`(?i)\bNo\.?\s*\d{4}[-\w]*`,
			`\b[67]\d{3}[A-Z]?\b`,
			`(?i)\b(?:HRS|VG|VS)-?\d[-\w]*\b`,
		),
	},
	{
		brand: "SEAL",
		patterns: compileAll(
			`(?i)\bGF[-\s]?\d+[-\w]*\b`,
			`(?i)\b(?:TC|TB|SC|SA|TA)\s*\d+[xX×]\d+[xX×]\d+\b`,
		),
	},
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		out = append(out, regexp.MustCompile(expr))
	}
	return out
}

type codeMatch struct {
	pos  int
	code string
}

// ProductCodes returns the normalized product/model codes found in text in
// order of first appearance. Codes are upper-cased with whitespace removed,
// so "No. 6500" becomes "NO.6500".
func ProductCodes(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	matches := make([]codeMatch, 0, 4)
	for _, family := range codeFamilies {
		for _, re := range family.patterns {
			for _, loc := range re.FindAllStringIndex(text, -1) {
				code := normalizeCode(text[loc[0]:loc[1]])
				if len([]rune(code)) < 2 {
					continue
				}
				matches = append(matches, codeMatch{pos: loc[0], code: code})
			}
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].pos < matches[j].pos })

	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m.code]; ok {
			continue
		}
		seen[m.code] = struct{}{}
		out = append(out, m.code)
	}
	return out
}

// CodeBrand reports which brand family a code pattern belongs to, or "".
func CodeBrand(text string) string {
	for _, family := range codeFamilies {
		for _, re := range family.patterns {
			if re.MatchString(text) {
				return family.brand
			}
		}
	}
	return ""
}

func normalizeCode(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// Brand maps a canonical brand name to the aliases users type for it.
type Brand struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

var DefaultBrands = []Brand{
	{Name: "SMC", Aliases: []string{"smc", "エスエムシー"}},
	{Name: "VALQUA", Aliases: []string{"valqua", "バルカー", "華爾卡", "valker"}},
	{Name: "玖基", Aliases: []string{"jiuji", "久基", "GF"}},
	{Name: "協鋼", Aliases: []string{"xiegang", "協鋼油封"}},
	{Name: "油研", Aliases: []string{"YUKEN", "yuken", "ユケン"}},
	{Name: "CKD", Aliases: []string{"ckd", "シーケーディ"}},
	{Name: "FESTO", Aliases: []string{"festo", "フェスト"}},
	{Name: "NOK", Aliases: []string{"nok", "エヌオーケー"}},
}

// DetectBrand finds the first brand named (or aliased) in text, falling back
// to the brand family of any product code present.
func DetectBrand(text string, brands []Brand) string {
	upper := strings.ToUpper(text)
	for _, brand := range brands {
		if strings.Contains(upper, strings.ToUpper(brand.Name)) {
			return brand.Name
		}
		for _, alias := range brand.Aliases {
			if alias != "" && strings.Contains(upper, strings.ToUpper(alias)) {
				return brand.Name
			}
		}
	}
	return CodeBrand(text)
}
