package tool

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/spigell/resume-ranker/internal/ranking"
)

// MetadataRankCandidates describes the rank_candidates tool.
var MetadataRankCandidates = &mcp.Tool{
	Name: "rank_candidates",
	Description: "Rank the resumes in a folder against a job description. " +
		"Documents are discovered and parsed once per session and reused by later calls with the same session_id. " +
		"Returns candidates sorted by score (0-100) with a short rationale, plus the documents that could not be read " +
		"or scored and why.",
	InputSchema: map[string]interface{}{
		"type":     "object",
		"required": []string{"job_description"},
		"properties": map[string]interface{}{
			"job_description": map[string]interface{}{
				"type":        "string",
				"description": "Full text of the job description to rank against",
			},
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Conversation session id. Reuse it for follow-up calls; a new one is generated when omitted.",
			},
			"folder": map[string]interface{}{
				"type":        "string",
				"description": "Folder to read resumes from: a Drive folder id or URL, a gs:// URL or a local path. Defaults to the configured root.",
			},
			"top_k": map[string]interface{}{
				"type":        "integer",
				"minimum":     0,
				"description": "Return only the best k candidates. 0 returns all.",
			},
			"force_rescan": map[string]interface{}{
				"type":        "boolean",
				"description": "Discover and parse the folder again even if the session already holds it.",
			},
		},
	},
}

// InputRankCandidates is the input for the RankCandidates tool.
type InputRankCandidates struct {
	JobDescription string `json:"job_description"`
	SessionID      string `json:"session_id"`
	Folder         string `json:"folder"`
	TopK           int    `json:"top_k"`
	ForceRescan    bool   `json:"force_rescan"`
}

// RankCandidates ranks the candidates of a folder within a session.
func (t *Tools) RankCandidates(ctx context.Context, _ *mcp.CallToolRequest, input InputRankCandidates) (*mcp.CallToolResult, ranking.RankingResult, error) {
	folder, err := t.folder(input.Folder)
	if err != nil {
		return nil, ranking.RankingResult{}, err
	}

	req := ranking.RankingRequest{
		SessionID:      sessionID(input.SessionID),
		Folder:         folder,
		JobDescription: input.JobDescription,
		TopK:           input.TopK,
		Force:          input.ForceRescan,
	}
	t.logger.Info("rank_candidates called", zap.String("session", req.SessionID), zap.String("folder", folder))

	res, err := t.orch.Rank(ctx, req)
	if err != nil {
		return nil, ranking.RankingResult{}, err
	}
	return nil, *res, nil
}
