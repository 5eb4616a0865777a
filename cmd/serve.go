package cmd

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/resume-ranker/internal/tool"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve rank_candidates, ask_candidates and close_session as MCP tools over stdio",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve() {
	ctx, stop, a := start(startOptions{ai: true, stderr: true})
	defer stop()

	tools := tool.New(folderOrchestrator{Orchestrator: a.orchestrator, source: a.source}, a.sessions, a.source.root, a.logger)
	server := tools.NewServer(version)

	a.logger.Info("serving mcp tools over stdio", zap.String("root", a.source.root))
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		a.logger.Fatal("mcp server stopped", zap.Error(err))
	}
}
