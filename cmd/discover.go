package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/resume-ranker/internal/document"
	"github.com/spigell/resume-ranker/internal/pipeline"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover and parse the documents of a folder and report what could be read",
	Run: func(cmd *cobra.Command, _ []string) {
		discover(cmd)
	},
}

func init() {
	rootCmd.AddCommand(discoverCmd)

	discoverCmd.Flags().String("folder", "", "folder to scan instead of the configured root")
	discoverCmd.Flags().Bool("failed-only", false, "list only documents that could not be read")
}

// discoveredDocument is one line of the discover report.
type discoveredDocument struct {
	Path   string          `json:"path"`
	Format document.Format `json:"format,omitempty"`
	Status document.Status `json:"status"`
	Detail string          `json:"detail,omitempty"`
	Chars  int             `json:"chars"`
}

type discoverReport struct {
	Root      string               `json:"root"`
	Summary   pipeline.Summary     `json:"summary"`
	Documents []discoveredDocument `json:"documents"`
}

func discover(cmd *cobra.Command) {
	ctx, stop, a := start(startOptions{})
	defer stop()

	flag, _ := cmd.Flags().GetString("folder")
	folder, err := a.source.Folder(flag)
	if err != nil {
		a.logger.Fatal("resolving the folder", zap.Error(err))
	}
	failedOnly, _ := cmd.Flags().GetBool("failed-only")

	records, err := a.scanner.Scan(ctx, folder, pipeline.NewMapMemo())
	if err != nil {
		a.logger.Fatal("scanning the folder", zap.Error(err))
	}

	report := discoverReport{Root: folder, Summary: pipeline.Summarize(records), Documents: []discoveredDocument{}}
	for _, rec := range records {
		if failedOnly && rec.Status == document.StatusOK {
			continue
		}
		report.Documents = append(report.Documents, discoveredDocument{
			Path:   rec.Ref.Path,
			Format: rec.Ref.Format,
			Status: rec.Status,
			Detail: rec.Detail,
			Chars:  len([]rune(rec.Text)),
		})
	}

	if err := printJSON(report); err != nil {
		a.logger.Fatal("printing the report", zap.Error(err))
	}
}
