package cardsearch

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/carchive/kit"
)

// RegisterMCP registers the search tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerSearchTool(srv)
	s.registerVectorSearchTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	sc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sc["required"] = required
	}
	return sc
}

type searchReq struct {
	Query         string   `json:"query"`
	Filter        string   `json:"filter,omitempty"`
	Page          int      `json:"page,omitempty"`
	Limit         int      `json:"limit,omitempty"`
	Sort          []string `json:"sort,omitempty"`
	SemanticRatio float64  `json:"semantic_ratio,omitempty"`
}

func (r *searchReq) params() Params {
	return Params{
		Text:          r.Query,
		Filter:        r.Filter,
		Page:          r.Page,
		Limit:         r.Limit,
		Sort:          r.Sort,
		SemanticRatio: r.SemanticRatio,
	}
}

var searchProperties = map[string]any{
	"query": map[string]any{"type": "string", "description": "Search text; supports AND/OR/NOT and quoted phrases"},
	"filter": map[string]any{
		"type":        "string",
		"description": `Filter expression, e.g. 'hasGallery:true AND (topics:elf OR topics:dragon)'`,
	},
	"page":  map[string]any{"type": "integer", "description": "1-based page (default: 1)"},
	"limit": map[string]any{"type": "integer", "description": "Page size (default: 20)"},
	"sort": map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": `Sort clauses like "starCount:desc"`,
	},
}

func (s *Service) registerSearchTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "carchive_search",
		Description: "Lexical search over the card catalog. Returns card IDs in rank order.",
		InputSchema: inputSchema(searchProperties, []string{"query"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*searchReq)
		return s.SearchLexical(ctx, r.params())
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r searchReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (s *Service) registerVectorSearchTool(srv *mcp.Server) {
	properties := map[string]any{}
	for k, v := range searchProperties {
		properties[k] = v
	}
	properties["semantic_ratio"] = map[string]any{
		"type":        "number",
		"description": "Semantic vs lexical blend, 0..1 (default: from config)",
	}

	tool := &mcp.Tool{
		Name:        "carchive_vector_search",
		Description: "Hybrid semantic+lexical search with chunk-level highlights. Requires the embedding backfill to have run.",
		InputSchema: inputSchema(properties, []string{"query"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*searchReq)
		return s.SearchHybrid(ctx, r.params())
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r searchReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
