package meili

// TaskInfo is the acknowledgement returned by every mutating call.
type TaskInfo struct {
	TaskUID  int64  `json:"taskUid"`
	IndexUID string `json:"indexUid"`
	Status   string `json:"status"`
	Type     string `json:"type"`
}

// Task is the resolved state of an asynchronous backend task.
type Task struct {
	UID      int64  `json:"uid"`
	IndexUID string `json:"indexUid"`
	Status   string `json:"status"` // enqueued | processing | succeeded | failed
	Type     string `json:"type"`
	Error    *Error `json:"error,omitempty"`
}

// Succeeded reports whether the task finished successfully.
func (t *Task) Succeeded() bool { return t.Status == "succeeded" }

// Done reports whether the task reached a terminal state.
func (t *Task) Done() bool { return t.Status == "succeeded" || t.Status == "failed" }

// Index describes one backend index.
type Index struct {
	UID        string `json:"uid"`
	PrimaryKey string `json:"primaryKey"`
}

// IndexStats is the subset of index statistics the archive reads.
type IndexStats struct {
	NumberOfDocuments int64 `json:"numberOfDocuments"`
	IsIndexing        bool  `json:"isIndexing"`
}

// EmbedderSettings registers a named embedder on an index. The archive
// always uses user-provided vectors with a fixed dimension count.
type EmbedderSettings struct {
	Source     string `json:"source"`
	Dimensions int    `json:"dimensions"`
}

// TypoTolerance is the slice of typo settings the archive manages.
type TypoTolerance struct {
	Enabled             *bool `json:"enabled,omitempty"`
	MinWordSizeForTypos *struct {
		OneTypo  int `json:"oneTypo,omitempty"`
		TwoTypos int `json:"twoTypos,omitempty"`
	} `json:"minWordSizeForTypos,omitempty"`
}

// Settings is a partial settings document: nil fields are not sent, so
// updates merge with whatever the backend already holds.
type Settings struct {
	SearchableAttributes []string                    `json:"searchableAttributes,omitempty"`
	FilterableAttributes []string                    `json:"filterableAttributes,omitempty"`
	SortableAttributes   []string                    `json:"sortableAttributes,omitempty"`
	DistinctAttribute    *string                     `json:"distinctAttribute,omitempty"`
	TypoTolerance        *TypoTolerance              `json:"typoTolerance,omitempty"`
	Embedders            map[string]EmbedderSettings `json:"embedders,omitempty"`
}

// HybridOptions blends lexical and semantic scoring in one query.
type HybridOptions struct {
	Embedder      string  `json:"embedder"`
	SemanticRatio float64 `json:"semanticRatio"`
}

// SearchRequest is one query against one index.
type SearchRequest struct {
	Query                string         `json:"q"`
	Filter               string         `json:"filter,omitempty"`
	Sort                 []string       `json:"sort,omitempty"`
	Limit                int            `json:"limit,omitempty"`
	Offset               int            `json:"offset,omitempty"`
	Vector               []float32      `json:"vector,omitempty"`
	Hybrid               *HybridOptions `json:"hybrid,omitempty"`
	Distinct             string         `json:"distinct,omitempty"`
	ShowRankingScore     bool           `json:"showRankingScore,omitempty"`
	AttributesToRetrieve []string       `json:"attributesToRetrieve,omitempty"`
}

// Hit is one search hit. Documents are heterogeneous across the card and
// chunk indexes, so hits stay dynamic with typed accessors.
type Hit map[string]any

// ID returns the hit's "id" attribute as a string.
func (h Hit) ID() string {
	if v, ok := h["id"].(string); ok {
		return v
	}
	return ""
}

// Str returns a string attribute, or "" when absent.
func (h Hit) Str(key string) string {
	v, _ := h[key].(string)
	return v
}

// Num returns a numeric attribute, or 0 when absent.
func (h Hit) Num(key string) float64 {
	v, _ := h[key].(float64)
	return v
}

// RankingScore returns the backend's _rankingScore when requested.
func (h Hit) RankingScore() float64 {
	return h.Num("_rankingScore")
}

// SearchResponse is the result of Search or MultiSearch (federated
// multi-search merges all sub-query hits into one list).
type SearchResponse struct {
	Hits               []Hit  `json:"hits"`
	EstimatedTotalHits int64  `json:"estimatedTotalHits"`
	TotalHits          int64  `json:"totalHits"`
	Limit              int    `json:"limit"`
	Offset             int    `json:"offset"`
	ProcessingTimeMs   int64  `json:"processingTimeMs"`
	Query              string `json:"query"`
}

// Total prefers the exact hit count and falls back to the estimate.
func (r *SearchResponse) Total() int64 {
	if r.TotalHits > 0 {
		return r.TotalHits
	}
	return r.EstimatedTotalHits
}

// Federation shares pagination across the sub-queries of a multi-search.
type Federation struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// FederatedQuery is one sub-query inside a multi-search envelope.
type FederatedQuery struct {
	IndexUID string `json:"indexUid"`
	SearchRequest
}

// MultiSearchRequest is the multi-search envelope.
type MultiSearchRequest struct {
	Federation *Federation      `json:"federation,omitempty"`
	Queries    []FederatedQuery `json:"queries"`
}
