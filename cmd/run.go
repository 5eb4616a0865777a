package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/resume-ranker/internal/logger"
)

// startOptions select what a command needs from the application.
type startOptions struct {
	// ai builds the reasoning service; discovery-only commands skip it.
	ai bool
	// stderr keeps stdout free for a protocol.
	stderr bool
}

// start builds the logger, config and application for a command. It exits on
// any error since nothing can run without them.
func start(opts startOptions) (context.Context, context.CancelFunc, *application) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	logger, err := logger.New(logger.Options{
		JSON:   viper.GetBool("json"),
		Debug:  viper.GetBool("debug"),
		Stderr: opts.stderr,
		File:   viper.GetString("log.file"),
	})
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the resume-ranker", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(redacted(config), "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	a, err := newApplication(ctx, config, logger, opts.ai)
	if err != nil {
		logger.Fatal("preparing the application", zap.Error(err))
	}

	return ctx, func() {
		a.Close()
		cancel()
		_ = logger.Sync()
	}, a
}

// redacted returns a copy of config safe to log.
func redacted(config *Config) Config {
	c := *config
	if c.AI != nil && c.AI.Gemini != nil && c.AI.Gemini.APIKey != "" {
		ai := *c.AI
		gem := *ai.Gemini
		gem.APIKey = "***"
		ai.Gemini = &gem
		c.AI = &ai
	}
	return c
}

func printJSON(v any) error {
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = fmt.Fprintln(os.Stdout, string(pretty))
	return err
}

// jobDescription reads the job description from a file or takes it inline.
func jobDescription(file, inline string) (string, error) {
	if file = strings.TrimSpace(file); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read job description: %w", err)
		}
		inline = string(data)
	}
	if strings.TrimSpace(inline) == "" {
		return "", errors.New("a job description is required (--job-file or --job)")
	}
	return inline, nil
}
