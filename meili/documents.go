package meili

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// AddDocuments upserts a batch of documents. primaryKey may be empty
// when the index already knows its key.
func (c *Client) AddDocuments(ctx context.Context, uid string, docs any, primaryKey string) (*TaskInfo, error) {
	path := fmt.Sprintf("/indexes/%s/documents", url.PathEscape(uid))
	if primaryKey != "" {
		path += "?primaryKey=" + url.QueryEscape(primaryKey)
	}
	var task TaskInfo
	if err := c.do(ctx, http.MethodPost, path, docs, &task, c.write); err != nil {
		return nil, err
	}
	return &task, nil
}

// DeleteDocuments removes a batch of documents by id.
func (c *Client) DeleteDocuments(ctx context.Context, uid string, ids []string) (*TaskInfo, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("meili: delete batch is empty")
	}
	path := fmt.Sprintf("/indexes/%s/documents/delete-batch", url.PathEscape(uid))
	var task TaskInfo
	if err := c.do(ctx, http.MethodPost, path, ids, &task, c.write); err != nil {
		return nil, err
	}
	return &task, nil
}

// DeleteAllDocuments clears an index without touching its settings.
func (c *Client) DeleteAllDocuments(ctx context.Context, uid string) (*TaskInfo, error) {
	path := fmt.Sprintf("/indexes/%s/documents", url.PathEscape(uid))
	var task TaskInfo
	if err := c.do(ctx, http.MethodDelete, path, nil, &task, c.write); err != nil {
		return nil, err
	}
	return &task, nil
}

// WaitForTask polls a task until it reaches a terminal state or timeout
// elapses. A failed task surfaces the backend's task error; a timeout
// returns context.DeadlineExceeded wrapped with the task uid — callers
// on the write path treat that as eventual consistency, not failure.
func (c *Client) WaitForTask(ctx context.Context, taskUID int64, timeout time.Duration) (*Task, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	interval := 50 * time.Millisecond
	for {
		var task Task
		path := fmt.Sprintf("/tasks/%d", taskUID)
		if err := c.do(ctx, http.MethodGet, path, nil, &task, c.write); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("meili: task %d wait: %w", taskUID, ctx.Err())
			}
			return nil, err
		}
		if task.Done() {
			if task.Status == "failed" && task.Error != nil {
				return &task, fmt.Errorf("meili: task %d failed: %w", taskUID, task.Error)
			}
			return &task, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("meili: task %d wait: %w", taskUID, ctx.Err())
		case <-time.After(interval):
		}
		// Back off up to 1s between polls.
		if interval < time.Second {
			interval *= 2
		}
	}
}
