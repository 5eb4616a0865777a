package cmd

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/resume-ranker/internal/ranking"
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Rank the resumes of a folder against a job description",
	Run: func(cmd *cobra.Command, _ []string) {
		rank(cmd)
	},
}

func init() {
	rootCmd.AddCommand(rankCmd)

	rankCmd.Flags().StringP("job-file", "f", "", "file with the job description")
	rankCmd.Flags().String("job", "", "job description text")
	rankCmd.Flags().String("folder", "", "folder to rank instead of the configured root")
	rankCmd.Flags().IntP("top-k", "k", 0, "print only the best k candidates, 0 prints all")
}

func rank(cmd *cobra.Command) {
	ctx, stop, a := start(startOptions{ai: true})
	defer stop()

	jobFile, _ := cmd.Flags().GetString("job-file")
	inline, _ := cmd.Flags().GetString("job")
	jd, err := jobDescription(jobFile, inline)
	if err != nil {
		a.logger.Fatal("reading the job description", zap.Error(err))
	}

	flag, _ := cmd.Flags().GetString("folder")
	folder, err := a.source.Folder(flag)
	if err != nil {
		a.logger.Fatal("resolving the folder", zap.Error(err))
	}
	topK, _ := cmd.Flags().GetInt("top-k")

	result, err := a.orchestrator.Rank(ctx, ranking.RankingRequest{
		SessionID:      uuid.NewString(),
		Folder:         folder,
		JobDescription: jd,
		TopK:           topK,
	})
	if err != nil {
		a.logger.Fatal("ranking candidates", zap.Error(err))
	}

	a.logger.Info("ranked candidates",
		zap.Int("ranked", len(result.Ranked)),
		zap.Int("failures", len(result.Failures)),
		zap.Int("unscored", len(result.Unscored)),
	)
	if err := printJSON(result); err != nil {
		a.logger.Fatal("printing the result", zap.Error(err))
	}
}
