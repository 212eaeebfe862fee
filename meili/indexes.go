package meili

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// GetIndex fetches index metadata. IsNotFound distinguishes a missing
// index from a transport failure.
func (c *Client) GetIndex(ctx context.Context, uid string) (*Index, error) {
	var idx Index
	if err := c.do(ctx, http.MethodGet, "/indexes/"+url.PathEscape(uid), nil, &idx, c.read); err != nil {
		return nil, err
	}
	return &idx, nil
}

// CreateIndex creates an index with the given primary key.
func (c *Client) CreateIndex(ctx context.Context, uid, primaryKey string) (*TaskInfo, error) {
	body := map[string]string{"uid": uid, "primaryKey": primaryKey}
	var task TaskInfo
	if err := c.do(ctx, http.MethodPost, "/indexes", body, &task, c.write); err != nil {
		return nil, err
	}
	return &task, nil
}

// IndexStats returns document counts for an index.
func (c *Client) IndexStats(ctx context.Context, uid string) (*IndexStats, error) {
	var stats IndexStats
	path := fmt.Sprintf("/indexes/%s/stats", url.PathEscape(uid))
	if err := c.do(ctx, http.MethodGet, path, nil, &stats, c.read); err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetSettings fetches the full settings document of an index.
func (c *Client) GetSettings(ctx context.Context, uid string) (*Settings, error) {
	var settings Settings
	path := fmt.Sprintf("/indexes/%s/settings", url.PathEscape(uid))
	if err := c.do(ctx, http.MethodGet, path, nil, &settings, c.read); err != nil {
		return nil, err
	}
	return &settings, nil
}

// UpdateSettings patches index settings. Only non-nil fields of s are
// sent, so existing settings outside the patch survive.
func (c *Client) UpdateSettings(ctx context.Context, uid string, s *Settings) (*TaskInfo, error) {
	var task TaskInfo
	path := fmt.Sprintf("/indexes/%s/settings", url.PathEscape(uid))
	if err := c.do(ctx, http.MethodPatch, path, s, &task, c.write); err != nil {
		return nil, err
	}
	return &task, nil
}
