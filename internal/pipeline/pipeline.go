// Package pipeline runs design-file imports and walkthrough renders end to
// end: resolve the source, plan, materialize frames, encode and persist.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mockshelf/mockshelf/internal/apperr"
	"github.com/mockshelf/mockshelf/internal/assets"
	"github.com/mockshelf/mockshelf/internal/encoder"
	"github.com/mockshelf/mockshelf/internal/figma"
	"github.com/mockshelf/mockshelf/internal/flow"
	"github.com/mockshelf/mockshelf/internal/logging"
	"github.com/mockshelf/mockshelf/internal/materialize"
)

// FileSource returns design-file data, normally through filecache.Cache.
type FileSource interface {
	Get(ctx context.Context, token, fileKey string) (*figma.FileData, error)
}

// Assembler renders clips into a video file.
type Assembler interface {
	Assemble(ctx context.Context, clips []encoder.Clip, out string) (*encoder.Result, error)
}

// Doctor reports whether the encoder is installed.
type Doctor interface {
	Get(ctx context.Context) (*encoder.Capabilities, error)
}

// ExporterFunc binds a frame exporter to a token and file.
type ExporterFunc func(token, fileKey string) materialize.Exporter

// Deps are the collaborators of a Service.
type Deps struct {
	Files        FileSource
	Exporters    ExporterFunc
	Materializer *materialize.Materializer
	Assembler    Assembler
	Doctor       Doctor
	Assets       *assets.Service
	// AIPlanner serves flow.ModeAI. Nil disables that mode.
	AIPlanner flow.Planner
	// DefaultToken is used when no token has been stored in settings.
	DefaultToken string
	ScratchDir   string
	Logger       *slog.Logger
}

type Service struct {
	deps     Deps
	planners map[flow.Mode]flow.Planner
	logger   *slog.Logger
}

func New(deps Deps) *Service {
	planners := map[flow.Mode]flow.Planner{
		flow.ModePrototype: flow.PrototypePlanner{},
		flow.ModeSequence:  flow.SequencePlanner{},
	}
	if deps.AIPlanner != nil {
		planners[flow.ModeAI] = deps.AIPlanner
	}
	return &Service{
		deps:     deps,
		planners: planners,
		logger:   logging.WithComponent(deps.Logger, "pipeline"),
	}
}

// VideoRequest asks for a walkthrough video of a design file.
type VideoRequest struct {
	SourceURL   string
	Mode        flow.Mode
	Sequence    []flow.PlanFrame
	Settings    flow.Settings
	Description string
	Name        string
	Metadata    assets.Metadata
}

// VideoResult summarizes a finished render. FramesCount and TotalDuration
// describe the frames that were actually rendered.
type VideoResult struct {
	Asset         *assets.Asset    `json:"asset"`
	JobID         string           `json:"job_id"`
	FramesCount   int              `json:"frames_count"`
	TotalDuration float64          `json:"total_duration"`
	Plan          flow.Plan        `json:"plan"`
	Strategy      encoder.Strategy `json:"strategy"`
	FellBack      bool             `json:"fell_back,omitempty"`
}

// source is a resolved design file.
type source struct {
	token string
	key   string
	data  *figma.FileData
}

// BuildVideo renders a design file's flow into a new video asset. Scratch
// files are removed on every return path.
func (s *Service) BuildVideo(ctx context.Context, req VideoRequest) (res *VideoResult, err error) {
	if err := s.checkEncoder(ctx); err != nil {
		return nil, err
	}
	if err := validateVideoRequest(&req); err != nil {
		return nil, err
	}
	src, err := s.resolve(ctx, req.SourceURL)
	if err != nil {
		return nil, err
	}

	job, err := s.deps.Assets.StartJob(ctx, assets.JobTypeVideo)
	if err != nil {
		return nil, err
	}
	defer func() {
		assetID := ""
		if res != nil {
			assetID = res.Asset.ID
		}
		s.deps.Assets.FinishJob(job, assetID, err)
	}()

	plan, err := s.plan(ctx, src, req)
	if err != nil {
		return nil, err
	}
	s.deps.Assets.Progress(ctx, job, 10)

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = src.data.Name + " walkthrough"
	}
	out, err := s.render(ctx, job, s.deps.Exporters(src.token, src.key), plan, name, assets.SourceFigmaVideo, req.Metadata)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(out.frames))
	for i, f := range out.frames {
		ids[i] = f.ID
	}
	if err := s.deps.Assets.RecordImport(ctx, &assets.ImportRecord{
		AssetID:    out.asset.ID,
		SourceURL:  req.SourceURL,
		FileKey:    src.key,
		NodeIDs:    ids,
		Mode:       string(req.Mode),
		FrameCount: len(out.frames),
	}); err != nil {
		if delErr := s.deps.Assets.Delete(context.WithoutCancel(ctx), out.asset.ID); delErr != nil {
			s.logger.Warn("failed to remove unrecorded video", "asset_id", out.asset.ID, "error", delErr)
		}
		return nil, err
	}

	return out.result(job, plan), nil
}

// PreviewPlan resolves and plans without exporting or rendering.
func (s *Service) PreviewPlan(ctx context.Context, req VideoRequest) (flow.Plan, error) {
	if err := validateVideoRequest(&req); err != nil {
		return flow.Plan{}, err
	}
	src, err := s.resolve(ctx, req.SourceURL)
	if err != nil {
		return flow.Plan{}, err
	}
	return s.plan(ctx, src, req)
}

// DesignFrames returns the frames and prototype connections of a file.
func (s *Service) DesignFrames(ctx context.Context, sourceURL string) (*figma.FileData, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return nil, apperr.New(apperr.Validation, "source url is required")
	}
	src, err := s.resolve(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	return src.data, nil
}

// EncoderStatus reports the encoder probe, or the probe error.
func (s *Service) EncoderStatus(ctx context.Context) (*encoder.Capabilities, error) {
	return s.deps.Doctor.Get(ctx)
}

func validateVideoRequest(req *VideoRequest) error {
	req.SourceURL = strings.TrimSpace(req.SourceURL)
	if req.SourceURL == "" {
		return apperr.New(apperr.Validation, "source url is required")
	}
	if req.Mode == "" {
		req.Mode = flow.ModePrototype
	}
	if req.Mode == flow.ModeSequence && len(req.Sequence) < 2 {
		return apperr.New(apperr.Validation, "an explicit sequence needs at least 2 frames")
	}
	if req.Settings.Duration == 0 {
		req.Settings.Duration = flow.DefaultDuration
	}
	if req.Settings.Transition == "" {
		req.Settings.Transition = flow.Cut
	}
	req.Settings = req.Settings.Normalize()
	return nil
}

func (s *Service) checkEncoder(ctx context.Context) error {
	if _, err := s.deps.Doctor.Get(ctx); err != nil {
		return apperr.Wrap(apperr.EnvironmentUnsupported, err, "video encoding is unavailable")
	}
	return nil
}

// resolve finds the token, parses the file key and loads the file data.
func (s *Service) resolve(ctx context.Context, sourceURL string) (*source, error) {
	token, err := s.token(ctx)
	if err != nil {
		return nil, err
	}
	key, err := figma.ParseFileKey(sourceURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "cannot read a file key from the url").
			WithSuggestion("paste a link like https://www.figma.com/design/<key>/<name>")
	}
	data, err := s.deps.Files.Get(ctx, token, key)
	if err != nil {
		return nil, sourceError(err, "load design file")
	}
	return &source{token: token, key: key, data: data}, nil
}

func (s *Service) token(ctx context.Context) (string, error) {
	token, err := s.deps.Assets.FigmaToken(ctx)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, err, "read stored token")
	}
	if token == "" {
		token = strings.TrimSpace(s.deps.DefaultToken)
	}
	if token == "" {
		return "", apperr.New(apperr.CredentialMissing, "no design tool token configured")
	}
	return token, nil
}

func (s *Service) plan(ctx context.Context, src *source, req VideoRequest) (flow.Plan, error) {
	planner, ok := s.planners[req.Mode]
	if !ok {
		return flow.Plan{}, apperr.Newf(apperr.Validation, "plan mode %q is not available", req.Mode)
	}
	plan, err := planner.Plan(ctx, flow.Request{
		Frames:      src.data.Frames,
		Connections: src.data.Connections,
		Settings:    req.Settings,
		Sequence:    req.Sequence,
		Description: req.Description,
	})
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return flow.Plan{}, err
		}
		return flow.Plan{}, apperr.Wrap(apperr.Internal, err, "plan flow")
	}
	if err := plan.Validate(); err != nil {
		if errors.Is(err, flow.ErrEmptyPlan) {
			return flow.Plan{}, apperr.Wrap(apperr.NoFramesResolved, err, "plan flow")
		}
		return flow.Plan{}, apperr.Wrap(apperr.Internal, err, "plan flow")
	}
	if plan.Len() < 2 {
		return flow.Plan{}, apperr.Newf(apperr.NoFramesResolved, "the flow resolved to %d frame(s), need at least 2", plan.Len())
	}
	s.logger.Info("flow planned", "file_key", src.key, "mode", req.Mode, "frames", plan.Len(), "total", plan.TotalDuration)
	return plan, nil
}

type rendered struct {
	asset  *assets.Asset
	frames []materialize.Frame
	video  *encoder.Result
}

func (r *rendered) result(job *assets.Job, plan flow.Plan) *VideoResult {
	return &VideoResult{
		Asset:         r.asset,
		JobID:         job.ID,
		FramesCount:   len(r.frames),
		TotalDuration: flow.NewPlan(framesToPlan(r.frames)).TotalDuration,
		Plan:          plan,
		Strategy:      r.video.Strategy,
		FellBack:      r.video.FellBack,
	}
}

// render materializes plan, assembles the frames and stores the video as
// an asset. It owns the run's scratch directory.
func (s *Service) render(ctx context.Context, job *assets.Job, exp materialize.Exporter, plan flow.Plan, name, assetSource string, md assets.Metadata) (*rendered, error) {
	scratch, err := s.newScratch()
	if err != nil {
		return nil, err
	}
	defer scratch.Cleanup()
	logger := logging.WithRunID(s.logger, scratch.ID())

	frames, err := s.deps.Materializer.Materialize(ctx, exp, plan, scratch)
	if err != nil {
		return nil, sourceError(err, "export frames")
	}
	if len(frames) == 0 {
		return nil, apperr.New(apperr.NoFramesMaterialized, "no frames could be exported")
	}
	s.deps.Assets.Progress(ctx, job, 40)

	clips := make([]encoder.Clip, len(frames))
	for i, f := range frames {
		clips[i] = encoder.Clip{Path: f.Path, Duration: f.Duration, Transition: f.Transition}
	}
	video, err := s.deps.Assembler.Assemble(ctx, clips, scratch.Path("video.mp4"))
	if err != nil {
		return nil, err
	}
	s.deps.Assets.Progress(ctx, job, 80)

	asset, err := s.deps.Assets.AddFile(ctx, assets.NewFile{Path: video.Path, Name: name, Source: assetSource, Metadata: md})
	if err != nil {
		return nil, err
	}
	logger.Info("video rendered",
		"asset_id", asset.ID,
		"frames", len(frames),
		"strategy", video.Strategy,
		"fell_back", video.FellBack,
		"elapsed_ms", video.Elapsed.Milliseconds(),
	)
	return &rendered{asset: asset, frames: frames, video: video}, nil
}

func (s *Service) newScratch() (*materialize.Scratch, error) {
	scratch, err := materialize.NewScratch(s.deps.ScratchDir, s.deps.Logger)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "create scratch dir")
	}
	return scratch, nil
}

func framesToPlan(frames []materialize.Frame) []flow.PlanFrame {
	out := make([]flow.PlanFrame, len(frames))
	for i, f := range frames {
		out[i] = f.PlanFrame
	}
	return out
}

// sourceError classifies failures from the design tool.
func sourceError(err error, op string) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, figma.ErrMissingToken) {
		return apperr.Wrap(apperr.CredentialMissing, err, op)
	}
	var apiErr *figma.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.RateLimited():
			return apperr.Wrap(apperr.RateLimited, err, op)
		case apiErr.Unauthorized():
			return apperr.Wrap(apperr.CredentialMissing, err, fmt.Sprintf("%s: token rejected", op)).
				WithSuggestion("use a token from a different account, or one with access to this file")
		case apiErr.NotFound():
			return apperr.Wrap(apperr.NotFound, err, fmt.Sprintf("%s: file not found", op))
		}
	}
	return apperr.Wrap(apperr.Internal, err, op)
}
