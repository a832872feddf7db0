// Package tools exposes the Tavily operations and the pool statistics as MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"github.com/abdhe/tavily-mcp-gateway/pkg/dispatch"
	"github.com/abdhe/tavily-mcp-gateway/pkg/metrics"
	"github.com/abdhe/tavily-mcp-gateway/pkg/provider"
	"github.com/abdhe/tavily-mcp-gateway/pkg/resilience"
)

const (
	ToolSearch      = "tavily-search"
	ToolSearchAlias = "search"
	ToolExtract     = "tavily-extract"
	ToolCrawl       = "tavily-crawl"
	ToolMap         = "tavily-map"
	ToolStats       = "tavily_get_stats"

	serverName = "tavily-mcp-gateway"
)

const (
	searchDescription  = "A powerful web search tool that provides comprehensive, real-time results using Tavily's AI search engine. Returns relevant web content with customizable parameters for result count, content type, and domain filtering. Ideal for gathering current information, news, and detailed web content analysis."
	extractDescription = "A powerful web content extraction tool that retrieves and processes raw content from specified URLs, ideal for data collection, content analysis, and research tasks."
	crawlDescription   = "A powerful web crawler that initiates a structured web crawl starting from a specified base URL. The crawler expands from that point like a tree, following internal links across pages. You can control how deep and wide it goes, and guide it to focus on specific sections of the site."
	mapDescription     = "A powerful web mapping tool that creates a structured map of website URLs, allowing you to discover and analyze site structure, content organization, and navigation paths. Perfect for site audits, content discovery, and understanding website architecture."
	statsDescription   = "Get statistics about the API key pool"
)

// Dispatcher runs provider calls.
type Dispatcher interface {
	Call(ctx context.Context, endpoint provider.Endpoint, params any) (dispatch.Result, error)
	Stats() dispatch.Stats
}

// PoolStats reports the credential pool.
type PoolStats interface {
	Stats() resilience.PoolStats
}

// Config holds tool-layer settings.
type Config struct {
	ResubmitAttempts int // extra attempts after a failure charged to a key
	MaxResponseChars int // 0 disables truncation
}

// Service implements the tool handlers.
type Service struct {
	dispatcher Dispatcher
	pool       PoolStats
	retry      resilience.RetryConfig
	maxChars   int
}

// NewService creates the tool handlers.
func NewService(d Dispatcher, pool PoolStats, cfg Config) *Service {
	retry := resilience.DefaultRetryConfig()
	retry.MaxRetries = cfg.ResubmitAttempts
	retry.Retryable = dispatch.IsCharged
	return &Service{
		dispatcher: d,
		pool:       pool,
		retry:      retry,
		maxChars:   cfg.MaxResponseChars,
	}
}

// NewServer builds an MCP server with every tool registered.
func NewServer(svc *Service, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version}, nil)
	svc.Register(server)
	return server
}

// Register adds the tools to server.
func (s *Service) Register(server *mcp.Server) {
	for _, name := range []string{ToolSearch, ToolSearchAlias} {
		mcp.AddTool(server, &mcp.Tool{Name: name, Description: searchDescription}, s.handleSearch(name))
	}
	mcp.AddTool(server, &mcp.Tool{Name: ToolExtract, Description: extractDescription}, s.handleExtract)
	mcp.AddTool(server, &mcp.Tool{Name: ToolCrawl, Description: crawlDescription}, s.handleCrawl)
	mcp.AddTool(server, &mcp.Tool{Name: ToolMap, Description: mapDescription}, s.handleMap)
	mcp.AddTool(server, &mcp.Tool{Name: ToolStats, Description: statsDescription}, s.handleStats)
}

func (s *Service) handleSearch(name string) mcp.ToolHandlerFor[SearchArgs, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SearchArgs) (*mcp.CallToolResult, any, error) {
		req, err := input.request()
		if err != nil {
			return s.fail(name, err), nil, nil
		}
		return s.invoke(ctx, name, provider.EndpointSearch, req, formatSearch), nil, nil
	}
}

func (s *Service) handleExtract(ctx context.Context, _ *mcp.CallToolRequest, input ExtractArgs) (*mcp.CallToolResult, any, error) {
	req, err := input.request()
	if err != nil {
		return s.fail(ToolExtract, err), nil, nil
	}
	return s.invoke(ctx, ToolExtract, provider.EndpointExtract, req, formatExtract), nil, nil
}

func (s *Service) handleCrawl(ctx context.Context, _ *mcp.CallToolRequest, input CrawlArgs) (*mcp.CallToolResult, any, error) {
	req, err := input.request()
	if err != nil {
		return s.fail(ToolCrawl, err), nil, nil
	}
	return s.invoke(ctx, ToolCrawl, provider.EndpointCrawl, req, formatCrawl), nil, nil
}

func (s *Service) handleMap(ctx context.Context, _ *mcp.CallToolRequest, input MapArgs) (*mcp.CallToolResult, any, error) {
	req, err := input.request()
	if err != nil {
		return s.fail(ToolMap, err), nil, nil
	}
	return s.invoke(ctx, ToolMap, provider.EndpointMap, req, formatMap), nil, nil
}

type statsPayload struct {
	resilience.PoolStats
	Dispatch dispatch.Stats `json:"dispatch"`
}

func (s *Service) handleStats(_ context.Context, _ *mcp.CallToolRequest, _ StatsArgs) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(statsPayload{
		PoolStats: s.pool.Stats(),
		Dispatch:  s.dispatcher.Stats(),
	}, "", "  ")
	if err != nil {
		return s.fail(ToolStats, err), nil, nil
	}
	metrics.RecordToolCall(ToolStats, nil)
	return textResult(string(data)), nil, nil
}

// invoke dispatches one provider call, resubmitting failures that were charged
// to a key so the next attempt draws another one.
func (s *Service) invoke(ctx context.Context, tool string, endpoint provider.Endpoint, params any, format func([]byte) (string, error)) *mcp.CallToolResult {
	callID := uuid.NewString()
	start := time.Now()
	logger := log.With().Str("call_id", callID).Str("tool", tool).Logger()
	logger.Debug().Msg("tool call started")

	var res dispatch.Result
	err := resilience.Retry(ctx, s.retry, func(ctx context.Context) error {
		var callErr error
		res, callErr = s.dispatcher.Call(ctx, endpoint, params)
		return callErr
	})
	if err != nil {
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("tool call failed")
		return s.fail(tool, err)
	}

	text, err := format(res.Payload)
	if err != nil {
		logger.Error().Err(err).Msg("format response")
		return s.fail(tool, err)
	}

	metrics.RecordToolCall(tool, nil)
	logger.Info().
		Bool("cached", res.Cached).
		Bool("shared", res.Shared).
		Dur("duration", time.Since(start)).
		Msg("tool call completed")
	return textResult(Sanitize(text, s.maxChars))
}

func (s *Service) fail(tool string, err error) *mcp.CallToolResult {
	metrics.RecordToolCall(tool, err)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: errorText(err)}},
		IsError: true,
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// errorText renders the caller-facing message for a failed call.
func errorText(err error) string {
	switch {
	case errors.Is(err, resilience.ErrNoCredentials):
		return "Tavily API error: no credentials available"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "Tavily API error: provider temporarily unavailable (circuit open)"
	case errors.Is(err, ErrInvalidArguments), errors.Is(err, dispatch.ErrUnknownOperation):
		return err.Error()
	default:
		return fmt.Sprintf("Tavily API error: %v", err)
	}
}
