package cmd

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/spigell/resume-ranker/internal/ai"
	"github.com/spigell/resume-ranker/internal/ai/gemini"
	"github.com/spigell/resume-ranker/internal/discovery"
	"github.com/spigell/resume-ranker/internal/logger"
	"github.com/spigell/resume-ranker/internal/pipeline"
	"github.com/spigell/resume-ranker/internal/ranking"
	"github.com/spigell/resume-ranker/internal/secrets"
	"github.com/spigell/resume-ranker/internal/session"
	"github.com/spigell/resume-ranker/internal/store"
	"github.com/spigell/resume-ranker/internal/store/gcs"
	"github.com/spigell/resume-ranker/internal/store/gdrive"
	"github.com/spigell/resume-ranker/internal/store/localfs"
)

// application holds the wired components shared by every command.
type application struct {
	config   *Config
	logger   *zap.Logger
	source   *source
	scanner  *pipeline.Scanner
	sessions *session.Cache
	// orchestrator is nil for commands that never reach the reasoning service.
	orchestrator *ranking.Orchestrator
}

// source is a configured document store and the way folder arguments map
// onto its container ids.
type source struct {
	store   store.Store
	root    string
	resolve func(folder string) (string, error)
	close   func() error
}

// Folder maps a user supplied folder onto a container id. An empty folder
// selects the configured root.
func (s *source) Folder(folder string) (string, error) {
	if strings.TrimSpace(folder) == "" {
		return s.root, nil
	}
	return s.resolve(folder)
}

func newApplication(ctx context.Context, config *Config, log *zap.Logger, withAI bool) (*application, error) {
	src, err := newSource(ctx, config.Source, log)
	if err != nil {
		return nil, fmt.Errorf("building %s source: %w", config.Source.Type, err)
	}

	var extensions []string
	if config.Discovery != nil {
		extensions = config.Discovery.Extensions
	}

	resilient := store.Resilient(src.store, config.Store, logger.WithFields(log, zap.String(logger.FieldSource, config.Source.Type)))
	walker := discovery.New(resilient, extensions, log)
	scanner := pipeline.NewScanner(walker, pipeline.New(resilient, config.Extraction, log), log)
	sessions := session.New(scanner, config.Session, log)

	a := &application{
		config:   config,
		logger:   log,
		source:   src,
		scanner:  scanner,
		sessions: sessions,
	}
	if !withAI {
		return a, nil
	}

	reasoner, err := newReasoner(ctx, config.AI, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("building reasoner: %w", err)
	}
	a.orchestrator = ranking.New(sessions, reasoner, config.Ranking, log)
	return a, nil
}

// Close releases the store client.
func (a *application) Close() {
	if a.source.close == nil {
		return
	}
	if err := a.source.close(); err != nil {
		a.logger.Warn("closing source", zap.Error(err))
	}
}

func newSource(ctx context.Context, cfg *SourceConfig, log *zap.Logger) (*source, error) {
	switch cfg.Type {
	case "", "local":
		root := cfg.Root
		if cfg.Local != nil && cfg.Local.Path != "" {
			root = cfg.Local.Path
		}
		return &source{
			store:   localfs.NewOS(),
			root:    localfs.Root(root),
			resolve: func(folder string) (string, error) { return localfs.Root(folder), nil },
		}, nil

	case "drive":
		var opts []option.ClientOption
		if cfg.Drive != nil && cfg.Drive.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.Drive.CredentialsFile))
		}
		s, err := gdrive.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		root := gdrive.FolderID(cfg.Root)
		if root == "" || root == "." {
			return nil, fmt.Errorf("source.root must name a drive folder id or url")
		}
		log.Info("using google drive source", zap.String("folder", root))
		return &source{
			store:   s,
			root:    root,
			resolve: func(folder string) (string, error) { return gdrive.FolderID(folder), nil },
		}, nil

	case "gcs":
		bucket, prefix, err := gcs.ParseURL(cfg.Root)
		if err != nil {
			return nil, err
		}
		if cfg.GCS != nil && cfg.GCS.Bucket != "" {
			if bucket != "" && bucket != cfg.GCS.Bucket {
				return nil, fmt.Errorf("source.root bucket %q differs from source.gcs.bucket %q", bucket, cfg.GCS.Bucket)
			}
			bucket = cfg.GCS.Bucket
		}

		var opts []option.ClientOption
		if cfg.GCS != nil && cfg.GCS.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.GCS.CredentialsFile))
		}
		s, err := gcs.New(ctx, bucket, opts...)
		if err != nil {
			return nil, err
		}
		log.Info("using google cloud storage source", zap.String("bucket", bucket), zap.String("prefix", prefix))
		return &source{
			store: s,
			root:  bucketContainer(prefix),
			resolve: func(folder string) (string, error) {
				b, p, err := gcs.ParseURL(folder)
				if err != nil {
					return "", err
				}
				if b != "" && b != bucket {
					return "", fmt.Errorf("folder %q is outside bucket %q", folder, bucket)
				}
				return bucketContainer(p), nil
			},
			close: s.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported source type: %s", cfg.Type)
	}
}

// bucketContainer names the bucket root "/" so that it survives the
// required-folder checks; gcs lists it as the empty prefix.
func bucketContainer(prefix string) string {
	if prefix == "" {
		return "/"
	}
	return prefix
}

func newReasoner(ctx context.Context, cfg *AIConfig, log *zap.Logger) (ai.Reasoner, error) {
	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
	if cfg.Gemini == nil {
		return nil, fmt.Errorf("gemini configuration is required")
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		File:  cfg.Gemini.APIKeyFile,
		Value: cfg.Gemini.APIKey,
		Env:   "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY)", err)
	}

	genLogger := logger.WithProvider(log, "gemini", cfg.Gemini.Model).With(
		zap.Int("ai_retry_attempts", cfg.Gemini.MaxRetries),
	)

	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model, cfg.Gemini.MaxRetries, genLogger)
	if err != nil {
		return nil, err
	}

	return gemini.NewReasoner(generator, cfg.Gemini.MaxLogLength, logger.WithProvider(log, "gemini", generator.Model())), nil
}

// folderOrchestrator maps tool folders onto container ids of the source
// before they reach the orchestrator.
type folderOrchestrator struct {
	*ranking.Orchestrator
	source *source
}

func (f folderOrchestrator) Rank(ctx context.Context, req ranking.RankingRequest) (*ranking.RankingResult, error) {
	folder, err := f.source.Folder(req.Folder)
	if err != nil {
		return nil, err
	}
	req.Folder = folder
	return f.Orchestrator.Rank(ctx, req)
}

func (f folderOrchestrator) Answer(ctx context.Context, q ranking.QnAQuery) (*ranking.QnAAnswer, error) {
	folder, err := f.source.Folder(q.Folder)
	if err != nil {
		return nil, err
	}
	q.Folder = folder
	return f.Orchestrator.Answer(ctx, q)
}
