package meili

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Search runs one query against one index.
func (c *Client) Search(ctx context.Context, uid string, req *SearchRequest) (*SearchResponse, error) {
	var resp SearchResponse
	path := fmt.Sprintf("/indexes/%s/search", url.PathEscape(uid))
	if err := c.do(ctx, http.MethodPost, path, req, &resp, c.read); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MultiSearch runs several sub-queries in one call. With a Federation
// envelope the backend merges all hits into a single ranked list sharing
// the federation's limit/offset.
func (c *Client) MultiSearch(ctx context.Context, req *MultiSearchRequest) (*SearchResponse, error) {
	var resp SearchResponse
	if err := c.do(ctx, http.MethodPost, "/multi-search", req, &resp, c.read); err != nil {
		return nil, err
	}
	return &resp, nil
}

// IsFederationSortError recognises the backend rejecting a sort inside a
// federated multi-search. The lexical executor falls back to manual
// per-phrase search-and-merge on this signature.
func IsFederationSortError(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == "invalid_multi_search_query_sort" {
		return true
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "federation") && strings.Contains(msg, "sort")
}
