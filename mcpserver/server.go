// Package mcpserver exposes the agent as a Model Context Protocol tool so that
// editors and other agents can ask it questions over stdio.
//
// There is no operator on the other end to approve commands, so the agent is
// expected to run behind a gate.Policy allow-list.
package mcpserver

import (
	"context"
	"strings"

	"github.com/m4xw311/aida/errors"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// ToolName is the single tool the server offers.
const ToolName = "process_query"

const toolDescription = "Ask AIDA, a server administration assistant, a question about this server. " +
	"It runs allow-listed shell commands to find the answer."

// Querier answers one query. *agent.Agent implements it.
type Querier interface {
	ProcessQuery(ctx context.Context, query string) string
}

// QueryArgs are the arguments of process_query.
type QueryArgs struct {
	Query string `json:"query"`
}

type Server struct {
	agent  Querier
	server *mcp.Server
	logger *zap.Logger
}

func New(a Querier, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		agent:  a,
		server: mcp.NewServer(&mcp.Implementation{Name: "aida", Version: version}, nil),
		logger: logger,
	}
	mcp.AddTool(s.server, &mcp.Tool{Name: ToolName, Description: toolDescription}, s.processQuery)
	return s
}

// Run serves over stdin and stdout until the client disconnects or ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server starting on stdio")
	if err := s.server.Run(ctx, mcp.NewStdioTransport()); err != nil && ctx.Err() == nil {
		return errors.Wrapf(err, "mcp server stopped")
	}
	return nil
}

// Connect serves a single session over t.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	ss, err := s.server.Connect(ctx, t)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to start mcp session")
	}
	return ss, nil
}

func (s *Server) processQuery(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[QueryArgs]) (*mcp.CallToolResultFor[any], error) {
	query := params.Arguments.Query
	s.logger.Info("mcp query", zap.String("query", query))

	answer := s.agent.ProcessQuery(ctx, query)
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: answer}},
		IsError: strings.HasPrefix(answer, "Error processing query:"),
	}, nil
}
