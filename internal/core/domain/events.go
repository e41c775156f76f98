package domain

import "strings"

type IndexOp string

const (
	IndexOpUpsert IndexOp = "upsert"
	IndexOpDelete IndexOp = "delete"
	IndexOpReload IndexOp = "reload"
)

// IndexEvent asks the query service to refresh its in-process indexes after
// the document store changed.
type IndexEvent struct {
	Op    IndexOp `json:"op"`
	DocID string  `json:"doc_id,omitempty"`
}

func (e IndexEvent) Validate() error {
	switch e.Op {
	case IndexOpUpsert, IndexOpDelete:
		if strings.TrimSpace(e.DocID) == "" {
			return ErrInvalidInput
		}
		return nil
	case IndexOpReload:
		return nil
	default:
		return ErrInvalidInput
	}
}
