// Package lexical provides the statistical ranking index backed by Bleve.
package lexical

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

const (
	fieldContent = "content"
	fieldSource  = "source"
)

// Index ranks stored chunks by BM25-style relevance.
type Index struct {
	index bleve.Index
}

// Open opens the index at path, creating it when absent. The mapping is only
// applied on creation; remove the directory after changing it.
func Open(path string) (*Index, error) {
	if _, err := os.Stat(path); err == nil {
		idx, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("open bleve index: %w", openErr)
		}
		return &Index{index: idx}, nil
	}

	idx, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("create bleve index: %w", err)
	}
	return &Index{index: idx}, nil
}

// NewInMemory builds a memory-only index.
func NewInMemory() (*Index, error) {
	idx, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, fmt.Errorf("create in-memory bleve index: %w", err)
	}
	return &Index{index: idx}, nil
}

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	doc := bleve.NewDocumentMapping()
	content := bleve.NewTextFieldMapping()
	content.Analyzer = cjk.AnalyzerName
	content.Store = true
	doc.AddFieldMappingsAt(fieldContent, content)

	source := bleve.NewKeywordFieldMapping()
	source.Store = true
	doc.AddFieldMappingsAt(fieldSource, source)

	im.DefaultMapping = doc
	im.DefaultAnalyzer = cjk.AnalyzerName
	return im
}

// Put indexes or replaces a chunk.
func (ix *Index) Put(_ context.Context, chunk domain.Chunk) error {
	if err := ix.index.Index(chunk.ID, map[string]any{
		fieldContent: chunk.Content,
		fieldSource:  chunk.Source,
	}); err != nil {
		return fmt.Errorf("bleve index %s: %w", chunk.ID, err)
	}
	return nil
}

func (ix *Index) Delete(_ context.Context, id string) error {
	if err := ix.index.Delete(id); err != nil {
		return fmt.Errorf("bleve delete %s: %w", id, err)
	}
	return nil
}

// TopK returns the k best matches for text over chunk content.
func (ix *Index) TopK(ctx context.Context, text string, k int) ([]domain.LexicalHit, error) {
	if k <= 0 {
		return nil, nil
	}
	q := bleve.NewMatchQuery(text)
	q.SetField(fieldContent)
	req := bleve.NewSearchRequestOptions(q, k, 0, false)
	req.Fields = []string{fieldContent, fieldSource}

	res, err := ix.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	out := make([]domain.LexicalHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		content, _ := hit.Fields[fieldContent].(string)
		if content == "" {
			continue
		}
		source, _ := hit.Fields[fieldSource].(string)
		out = append(out, domain.LexicalHit{Content: content, Source: source})
	}
	return out, nil
}

func (ix *Index) DocCount() (uint64, error) {
	return ix.index.DocCount()
}

func (ix *Index) Close() error {
	return ix.index.Close()
}
