package cmd

import (
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/resume-ranker/internal/ranking"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question about the resumes of a folder",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ask(cmd, strings.Join(args, " "))
	},
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().String("folder", "", "folder to search instead of the configured root")
}

func ask(cmd *cobra.Command, question string) {
	ctx, stop, a := start(startOptions{ai: true})
	defer stop()

	flag, _ := cmd.Flags().GetString("folder")
	folder, err := a.source.Folder(flag)
	if err != nil {
		a.logger.Fatal("resolving the folder", zap.Error(err))
	}

	answer, err := a.orchestrator.Answer(ctx, ranking.QnAQuery{
		SessionID: uuid.NewString(),
		Folder:    folder,
		Question:  question,
	})
	if err != nil {
		a.logger.Fatal("answering the question", zap.Error(err))
	}

	if err := printJSON(answer); err != nil {
		a.logger.Fatal("printing the answer", zap.Error(err))
	}
}
