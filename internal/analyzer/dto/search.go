package dto

// SearchResult is one hit returned by the generic web-search service.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Site    string `json:"site,omitempty"`
}

// SearchResponse is the outcome of one search dimension.
type SearchResponse struct {
	Success bool           `json:"success"`
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Error   string         `json:"error,omitempty"`
}

// FinanceDataset is one structured financial-disclosure dataset for a quarter.
// Columns preserves the upstream column order; Rows hold cell values by column.
type FinanceDataset struct {
	Columns []string
	Rows    []map[string]any
}

// Empty reports whether the dataset holds no rows.
func (d *FinanceDataset) Empty() bool {
	return d == nil || len(d.Rows) == 0
}
