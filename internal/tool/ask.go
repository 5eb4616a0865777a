package tool

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/spigell/resume-ranker/internal/ranking"
)

// MetadataAskCandidates describes the ask_candidates tool.
var MetadataAskCandidates = &mcp.Tool{
	Name: "ask_candidates",
	Description: "Answer a question about the resumes in a folder, for example who has a given skill. " +
		"Uses the documents already parsed for the session when available. " +
		"Returns the answer with the documents it cites.",
	InputSchema: map[string]interface{}{
		"type":     "object",
		"required": []string{"question"},
		"properties": map[string]interface{}{
			"question": map[string]interface{}{
				"type":        "string",
				"description": "The question to answer from the resumes",
			},
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Conversation session id, usually the one returned by rank_candidates",
			},
			"folder": map[string]interface{}{
				"type":        "string",
				"description": "Folder to read resumes from. Defaults to the configured root.",
			},
			"force_rescan": map[string]interface{}{
				"type":        "boolean",
				"description": "Discover and parse the folder again before answering.",
			},
		},
	},
}

// InputAskCandidates is the input for the AskCandidates tool.
type InputAskCandidates struct {
	Question    string `json:"question"`
	SessionID   string `json:"session_id"`
	Folder      string `json:"folder"`
	ForceRescan bool   `json:"force_rescan"`
}

// AskCandidates answers a question about the candidates of a folder.
func (t *Tools) AskCandidates(ctx context.Context, _ *mcp.CallToolRequest, input InputAskCandidates) (*mcp.CallToolResult, ranking.QnAAnswer, error) {
	folder, err := t.folder(input.Folder)
	if err != nil {
		return nil, ranking.QnAAnswer{}, err
	}

	q := ranking.QnAQuery{
		SessionID: sessionID(input.SessionID),
		Folder:    folder,
		Question:  input.Question,
		Force:     input.ForceRescan,
	}
	t.logger.Info("ask_candidates called", zap.String("session", q.SessionID), zap.String("folder", folder))

	ans, err := t.orch.Answer(ctx, q)
	if err != nil {
		return nil, ranking.QnAAnswer{}, err
	}
	return nil, *ans, nil
}

// MetadataCloseSession describes the close_session tool.
var MetadataCloseSession = &mcp.Tool{
	Name:        "close_session",
	Description: "Forget the documents parsed for a session. The next call with that session id scans the folder again.",
	InputSchema: map[string]interface{}{
		"type":     "object",
		"required": []string{"session_id"},
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Session id to close",
			},
		},
	},
}

// InputCloseSession is the input for the CloseSession tool.
type InputCloseSession struct {
	SessionID string `json:"session_id"`
}

// OutputCloseSession is the output for the CloseSession tool.
type OutputCloseSession struct {
	SessionID string `json:"session_id"`
	// Closed is false when the session was unknown or already expired.
	Closed bool `json:"closed"`
}

// CloseSession drops a session.
func (t *Tools) CloseSession(_ context.Context, _ *mcp.CallToolRequest, input InputCloseSession) (*mcp.CallToolResult, OutputCloseSession, error) {
	closed := t.sessions.Close(input.SessionID)
	return nil, OutputCloseSession{SessionID: input.SessionID, Closed: closed}, nil
}
