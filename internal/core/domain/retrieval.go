package domain

import "strings"

type DomainType string

const (
	DomainTechnical DomainType = "technical"
	DomainBusiness  DomainType = "business"
	DomainPersonal  DomainType = "personal"
	DomainMixed     DomainType = "mixed"
)

// ParseDomainType returns the domain for an explicit mode, ignoring case and
// surrounding space; ok is false for "smart", empty or unknown modes.
func ParseDomainType(mode string) (DomainType, bool) {
	d := DomainType(strings.ToLower(strings.TrimSpace(mode)))
	switch d {
	case DomainTechnical, DomainBusiness, DomainPersonal, DomainMixed:
		return d, true
	default:
		return "", false
	}
}

type MatchType string

const (
	MatchKeyword     MatchType = "keyword"
	MatchLexicalRank MatchType = "lexical_rank"
	MatchVector      MatchType = "vector"
)

// Metadata keys attached to every SearchResult.
const (
	MetaMatchType    = "match_type"
	MetaDocumentID   = "doc_id"
	MetaQueryVariant = "query_variant"
)

// SearchResult is the single shape produced by every retrieval backend adapter.
type SearchResult struct {
	Content    string            `json:"content"`
	Source     string            `json:"source"`
	DomainType DomainType        `json:"domain_type"`
	Score      float64           `json:"score"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (r SearchResult) MatchType() MatchType {
	return MatchType(r.Metadata[MetaMatchType])
}

// Chunk is a stored piece of a source document addressable by id.
type Chunk struct {
	ID         string     `json:"id"`
	Content    string     `json:"content"`
	Source     string     `json:"source"`
	DomainType DomainType `json:"domain_type,omitempty"`
}

type KeywordHit struct {
	DocumentID string
	Score      float64
}

type LexicalHit struct {
	Content string
	Source  string
}

type VectorHit struct {
	Content  string
	Source   string
	Distance float64
}
