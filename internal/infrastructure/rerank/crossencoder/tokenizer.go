package crossencoder

import (
	"strings"
	"unicode"
)

const (
	clsToken   = 101
	sepToken   = 102
	vocabSpace = 30000
)

// PairTokenizer encodes a (query, passage) pair as BERT-style model inputs.
type PairTokenizer interface {
	TokenizePair(query, passage string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// HashTokenizer maps words and CJK runes onto a fixed id space by hash. It
// needs no vocabulary file, which keeps the scorer usable with exported
// models that were fine-tuned on the same scheme.
type HashTokenizer struct{}

// TokenizePair lays out [CLS] query [SEP] passage [SEP], padded to maxTokens.
// Query tokens get type 0 and passage tokens type 1.
func (HashTokenizer) TokenizePair(query, passage string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens < 4 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	pos := 0
	put := func(id int64, typ int64) bool {
		if pos >= maxTokens {
			return false
		}
		inputIDs[pos] = id
		attentionMask[pos] = 1
		tokenTypeIDs[pos] = typ
		pos++
		return true
	}

	put(clsToken, 0)
	// Reserve room for both separators.
	queryBudget := (maxTokens - 3) / 2
	for i, word := range splitTokens(query) {
		if i >= queryBudget {
			break
		}
		put(hashID(word), 0)
	}
	put(sepToken, 0)
	for _, word := range splitTokens(passage) {
		if pos >= maxTokens-1 {
			break
		}
		put(hashID(word), 1)
	}
	put(sepToken, 1)
	return inputIDs, attentionMask, tokenTypeIDs
}

// splitTokens splits on whitespace and punctuation; every Han rune is its
// own token.
func splitTokens(text string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			out = append(out, strings.ToLower(b.String()))
			b.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			out = append(out, string(r))
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return out
}

func hashID(s string) int64 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	// Keep clear of the special ids at the bottom of the space.
	return int64(h%(vocabSpace-1000)) + 1000
}
