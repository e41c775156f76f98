package domain

type CostInfo struct {
	Model        string  `json:"model"`
	Provider     string  `json:"provider"`
	Complexity   string  `json:"complexity"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// QueryResult is the answer returned by Ask and stored in the query cache.
type QueryResult struct {
	Answer       string   `json:"answer"`
	Sources      []string `json:"sources"`
	DomainType   string   `json:"domain_type"`
	CostEstimate CostInfo `json:"cost_estimate"`
	FromCache    bool     `json:"from_cache"`
}

// Clone returns a deep copy so cached values are never aliased by callers.
func (r QueryResult) Clone() QueryResult {
	out := r
	if r.Sources != nil {
		out.Sources = make([]string, len(r.Sources))
		copy(out.Sources, r.Sources)
	}
	return out
}

// Domain type reported for answers that carry an error message.
const AnswerTypeError = "error"
