package cmd

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/resume-ranker/internal/ranking"
)

const (
	PromptAsk    = "Ask a question"
	PromptRank   = "Rank against a job description file"
	PromptRescan = "Rescan the folder"
	PromptClose  = "Forget the session"
	PromptExit   = "Exit"
)

var errExit = errors.New("exit requested")

var chatPrompt = promptui.Select{
	Label: "What next?",
	Items: []string{PromptAsk, PromptRank, PromptRescan, PromptClose, PromptExit},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask follow-up questions about one folder within a single session",
	Run: func(cmd *cobra.Command, _ []string) {
		chat(cmd)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().String("folder", "", "folder to work with instead of the configured root")
}

// chatState is one interactive session.
type chatState struct {
	app    *application
	id     string
	folder string
	rescan bool
}

func chat(cmd *cobra.Command) {
	ctx, stop, a := start(startOptions{ai: true})
	defer stop()

	flag, _ := cmd.Flags().GetString("folder")
	folder, err := a.source.Folder(flag)
	if err != nil {
		a.logger.Fatal("resolving the folder", zap.Error(err))
	}

	state := &chatState{app: a, id: uuid.NewString(), folder: folder}
	a.logger.Info("chat session started", zap.String("session", state.id), zap.String("folder", folder))

	for {
		_, action, err := chatPrompt.Run()
		if err != nil {
			a.logger.Fatal("exiting", zap.Error(err))
		}

		if err := state.handle(ctx, action); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			// A failed turn does not end the chat.
			a.logger.Error("chat turn failed", zap.Error(err))
		}
	}
}

func (s *chatState) handle(ctx context.Context, action string) error {
	switch action {
	case PromptAsk:
		question, err := (&promptui.Prompt{Label: "Question", Validate: notBlank}).Run()
		if err != nil {
			return err
		}
		answer, err := s.app.orchestrator.Answer(ctx, ranking.QnAQuery{
			SessionID: s.id,
			Folder:    s.folder,
			Question:  question,
			Force:     s.takeRescan(),
		})
		if err != nil {
			return err
		}
		return printJSON(answer)
	case PromptRank:
		file, err := (&promptui.Prompt{Label: "Job description file", Validate: notBlank}).Run()
		if err != nil {
			return err
		}
		jd, err := jobDescription(file, "")
		if err != nil {
			return err
		}
		result, err := s.app.orchestrator.Rank(ctx, ranking.RankingRequest{
			SessionID:      s.id,
			Folder:         s.folder,
			JobDescription: jd,
			Force:          s.takeRescan(),
		})
		if err != nil {
			return err
		}
		return printJSON(result)
	case PromptRescan:
		s.rescan = true
		s.app.logger.Info("the folder will be scanned again on the next request")
		return nil
	case PromptClose:
		closed := s.app.sessions.Close(s.id)
		s.app.logger.Info("session closed", zap.String("session", s.id), zap.Bool("existed", closed))
		s.id = uuid.NewString()
		return nil
	case PromptExit:
		s.app.logger.Info("exiting", zap.String("reason", "got exit from prompt"))
		return errExit
	default:
		return errors.New("invalid action: " + action)
	}
}

func (s *chatState) takeRescan() bool {
	force := s.rescan
	s.rescan = false
	return force
}

func notBlank(input string) error {
	if strings.TrimSpace(input) == "" {
		return errors.New("must not be empty")
	}
	return nil
}
