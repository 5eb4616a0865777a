// Package tool exposes ranking and question answering as MCP tools so a
// conversational agent can call them with its own session ids.
package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/spigell/resume-ranker/internal/ranking"
)

// Orchestrator is the ranking surface the tools call into.
type Orchestrator interface {
	Rank(ctx context.Context, req ranking.RankingRequest) (*ranking.RankingResult, error)
	Answer(ctx context.Context, q ranking.QnAQuery) (*ranking.QnAAnswer, error)
}

// SessionCloser drops sessions on request.
type SessionCloser interface {
	Close(id string) bool
}

// Tools binds the MCP handlers to an orchestrator.
type Tools struct {
	orch          Orchestrator
	sessions      SessionCloser
	defaultFolder string
	logger        *zap.Logger
}

// New creates the tool set. defaultFolder is used when a call names no folder.
func New(orch Orchestrator, sessions SessionCloser, defaultFolder string, logger *zap.Logger) *Tools {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tools{orch: orch, sessions: sessions, defaultFolder: strings.TrimSpace(defaultFolder), logger: logger}
}

// Register adds every tool to server.
func (t *Tools) Register(server *mcp.Server) {
	mcp.AddTool(server, MetadataRankCandidates, t.RankCandidates)
	mcp.AddTool(server, MetadataAskCandidates, t.AskCandidates)
	mcp.AddTool(server, MetadataCloseSession, t.CloseSession)
}

// NewServer builds an MCP server with every tool registered.
func (t *Tools) NewServer(version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "resume-ranker", Version: version}, nil)
	t.Register(server)
	return server
}

func (t *Tools) folder(folder string) (string, error) {
	if folder = strings.TrimSpace(folder); folder != "" {
		return folder, nil
	}
	if t.defaultFolder != "" {
		return t.defaultFolder, nil
	}
	return "", fmt.Errorf("folder is required: no default source root is configured")
}

func sessionID(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return uuid.NewString()
}
