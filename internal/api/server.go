package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/mockshelf/mockshelf/internal/assets"
	"github.com/mockshelf/mockshelf/internal/encoder"
	"github.com/mockshelf/mockshelf/internal/figma"
	"github.com/mockshelf/mockshelf/internal/flow"
	"github.com/mockshelf/mockshelf/internal/media"
	"github.com/mockshelf/mockshelf/internal/pipeline"
)

const defaultMaxUploadBytes = 200 << 20

// Pipeline is the render and import surface the handlers drive.
type Pipeline interface {
	BuildVideo(ctx context.Context, req pipeline.VideoRequest) (*pipeline.VideoResult, error)
	PreviewPlan(ctx context.Context, req pipeline.VideoRequest) (flow.Plan, error)
	DesignFrames(ctx context.Context, sourceURL string) (*figma.FileData, error)
	ImportFrames(ctx context.Context, req pipeline.ImportRequest) ([]*assets.Asset, error)
	BuildFlowVideo(ctx context.Context, flowID string, req pipeline.FlowVideoRequest) (*pipeline.VideoResult, error)
	EncoderStatus(ctx context.Context) (*encoder.Capabilities, error)
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Host           string
	Port           int
	Assets         *assets.Service
	Store          *media.Store
	Media          *media.Server
	Pipeline       Pipeline
	MaxUploadBytes int64
	Logger         *slog.Logger
	StartTime      time.Time
	Version        string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:     router,
			ReadTimeout: 30 * time.Second,
			// Renders hold the request open until the video is stored.
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
