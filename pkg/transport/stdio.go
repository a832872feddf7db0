// Package transport binds the MCP server to its two wire transports: line
// delimited JSON-RPC on stdin/stdout, and SSE plus HTTP POST.
package transport

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
)

// RunStdio serves server over stdin/stdout until the client disconnects or
// ctx is cancelled.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	log.Info().Msg("serving MCP over stdio")
	err := server.Run(ctx, &mcp.StdioTransport{})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
