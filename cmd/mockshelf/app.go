package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mockshelf/mockshelf/internal/assets"
	"github.com/mockshelf/mockshelf/internal/config"
	"github.com/mockshelf/mockshelf/internal/db"
	"github.com/mockshelf/mockshelf/internal/encoder"
	"github.com/mockshelf/mockshelf/internal/figma"
	"github.com/mockshelf/mockshelf/internal/filecache"
	"github.com/mockshelf/mockshelf/internal/logging"
	"github.com/mockshelf/mockshelf/internal/materialize"
	"github.com/mockshelf/mockshelf/internal/media"
	"github.com/mockshelf/mockshelf/internal/pipeline"
	"github.com/mockshelf/mockshelf/internal/planner"
	"github.com/mockshelf/mockshelf/internal/retry"
)

// app holds the wired services shared by serve, plan and render.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	database *db.DB
	store    *media.Store
	assets   *assets.Service
	doctor   *encoder.CachedDoctor
	files    *filecache.Cache
	pipeline *pipeline.Service
}

func newApp(cfg config.Config) (*app, error) {
	logger := logging.NewLogger(cfg.LogLevel(), cfg.LogFormat())

	for _, dir := range []string{cfg.DataDir(), cfg.MediaDir(), cfg.ScratchDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	store, err := media.NewStore(cfg.MediaDir(), logger)
	if err != nil {
		database.Close()
		return nil, err
	}
	assetSvc := assets.NewService(assets.NewRepository(database.Conn()), store, logging.WithComponent(logger, "assets"))

	figmaClient := figma.NewClient(cfg.FigmaBaseURL(), logger)
	files := filecache.New(figmaClient, cfg.FileCacheTTL(), logger)
	exportOpts := figma.ExportOptions{Format: cfg.ExportFormat(), Scale: cfg.ExportScale()}

	doctor := encoder.NewCachedDoctor(
		encoder.FFmpegProber{Binary: cfg.FFmpegPath()},
		logging.WithComponent(logger, "encoder"),
	)
	assembler := encoder.NewAssembler(
		encoder.NewSubprocessExecutor(logging.WithComponent(logger, "ffmpeg")),
		encoder.Options{
			Binary:    cfg.FFmpegPath(),
			Width:     cfg.CanvasWidth(),
			FrameRate: cfg.FrameRate(),
			Timeout:   cfg.EncoderTimeout(),
		},
		logging.WithComponent(logger, "encoder"),
	)
	materializer := materialize.New(materialize.Options{
		BatchSize:  cfg.ExportBatchSize(),
		BatchPause: cfg.ExportBatchPause(),
		Retry: retry.Policy{
			MaxAttempts:  cfg.RetryAttempts(),
			InitialDelay: cfg.RetryInitialBackoff(),
			MaxDelay:     cfg.RetryMaxBackoff(),
		},
		Extension: cfg.ExportFormat(),
	}, logger)

	llm := planner.NewClient(planner.Config{
		APIKey:  cfg.LLMAPIKey(),
		BaseURL: cfg.LLMBaseURL(),
		Model:   cfg.LLMModel(),
		Timeout: cfg.LLMTimeout(),
	})

	pipe := pipeline.New(pipeline.Deps{
		Files: files,
		Exporters: func(token, fileKey string) materialize.Exporter {
			return &figma.FileExporter{Client: figmaClient, Token: token, FileKey: fileKey, Options: exportOpts}
		},
		Materializer: materializer,
		Assembler:    assembler,
		Doctor:       doctor,
		Assets:       assetSvc,
		AIPlanner:    planner.NewAIPlanner(llm, logger),
		DefaultToken: cfg.FigmaToken(),
		ScratchDir:   cfg.ScratchDir(),
		Logger:       logger,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		database: database,
		store:    store,
		assets:   assetSvc,
		doctor:   doctor,
		files:    files,
		pipeline: pipe,
	}, nil
}

// probeEncoder logs the encoder capabilities once at startup.
func (a *app) probeEncoder(ctx context.Context) {
	caps, err := a.doctor.Refresh(ctx)
	if err != nil {
		a.logger.Warn("ffmpeg unavailable, video rendering disabled", "error", err)
		return
	}
	a.logger.Info("ffmpeg detected", "path", logging.SanitizePath(caps.Path), "version", caps.Version, "xfade", caps.HasXfade)
}

func (a *app) Close() error {
	return a.database.Close()
}
