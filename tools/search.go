package tools

import (
	"context"
	"fmt"
)

// SearchResult is one hit returned by a Searcher
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher runs a web search query
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// SearchTool exposes a Searcher as the google_search handler
type SearchTool struct {
	searcher Searcher
}

// NewSearchTool creates the google_search handler
func NewSearchTool(searcher Searcher) *SearchTool {
	return &SearchTool{searcher: searcher}
}

// Search runs the query and returns results as JSON-shaped records
func (t *SearchTool) Search(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	query := stringParam(params, "query")
	if query == "" {
		return nil, fmt.Errorf("google_search requires a query parameter")
	}

	results, err := t.searcher.Search(ctx, query)
	if err != nil {
		return map[string]interface{}{
			"error":          true,
			"error_type":     "search_failed",
			"error_message":  err.Error(),
			"retry_possible": true,
		}, nil
	}

	records := make([]interface{}, 0, len(results))
	for _, r := range results {
		records = append(records, map[string]interface{}{
			"title":   r.Title,
			"url":     r.URL,
			"snippet": r.Snippet,
		})
	}
	return map[string]interface{}{
		"query":   query,
		"count":   float64(len(records)),
		"results": records,
	}, nil
}
