package assets

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/mockshelf/mockshelf/internal/apperr"
	"github.com/mockshelf/mockshelf/internal/flow"
	"github.com/mockshelf/mockshelf/internal/media"
)

// ConfigKeyFigmaToken is the settings key for the stored design-tool token.
const ConfigKeyFigmaToken = "figma_token"

// Upload is a new asset arriving as a stream.
type Upload struct {
	Name     string
	Filename string
	Body     io.Reader
	Metadata
}

// NewFile describes a finished local file to adopt as an asset.
type NewFile struct {
	Path   string
	Name   string
	Source string
	Metadata
}

// NewFlowItem is a requested flow entry before validation.
type NewFlowItem struct {
	AssetID    string
	Duration   float64
	Transition string
}

type Service struct {
	repo   Repository
	store  *media.Store
	logger *slog.Logger
}

func NewService(repo Repository, store *media.Store, logger *slog.Logger) *Service {
	return &Service{repo: repo, store: store, logger: logger}
}

func (s *Service) Repo() Repository {
	return s.repo
}

// Upload stores the body in the media store and records the asset.
func (s *Service) Upload(ctx context.Context, u Upload) (*Asset, error) {
	format := FormatOf(u.Filename)
	if format == "" {
		return nil, apperr.Newf(apperr.Validation, "unsupported file type %q", filepath.Ext(u.Filename)).
			WithSuggestion("upload a png, jpg, gif, webp, mp4, mov or webm file")
	}
	name := strings.TrimSpace(u.Name)
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(u.Filename), filepath.Ext(u.Filename))
	}

	storageName, size, err := s.store.Save(name, format, u.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "store upload")
	}
	a := s.newAsset(name, storageName, format, size, SourceUpload, u.Metadata)
	if err := s.repo.CreateAsset(ctx, a); err != nil {
		s.store.Remove(storageName)
		return nil, apperr.Wrap(apperr.Internal, err, "record asset")
	}
	s.logger.Info("asset uploaded", "asset_id", a.ID, "format", format, "bytes", size)
	return a, nil
}

// AddFile moves a local file into the media store and records it.
func (s *Service) AddFile(ctx context.Context, f NewFile) (*Asset, error) {
	format := FormatOf(f.Path)
	if format == "" {
		return nil, apperr.Newf(apperr.Internal, "unsupported file type %q", filepath.Ext(f.Path))
	}
	storageName, size, err := s.store.Import(f.Path, f.Name)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "store file")
	}
	source := f.Source
	if source == "" {
		source = SourceUpload
	}
	a := s.newAsset(f.Name, storageName, format, size, source, f.Metadata)
	if err := s.repo.CreateAsset(ctx, a); err != nil {
		s.store.Remove(storageName)
		return nil, apperr.Wrap(apperr.Internal, err, "record asset")
	}
	return a, nil
}

func (s *Service) newAsset(name, storageName, format string, size int64, source string, md Metadata) *Asset {
	return &Asset{
		ID:          NewID(),
		Name:        name,
		URL:         media.URL(storageName),
		StorageName: storageName,
		Format:      format,
		SizeBytes:   size,
		Source:      source,
		CreatedAt:   time.Now(),
		Metadata:    md,
	}
}

func (s *Service) Get(ctx context.Context, id string) (*Asset, error) {
	a, err := s.repo.GetAsset(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "load asset")
	}
	if a == nil {
		return nil, apperr.Newf(apperr.NotFound, "asset %s not found", id)
	}
	return a, nil
}

func (s *Service) List(ctx context.Context, f Filter) ([]*Asset, error) {
	list, err := s.repo.ListAssets(ctx, f)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "list assets")
	}
	return list, nil
}

// Path returns the local file backing an asset.
func (s *Service) Path(a *Asset) (string, error) {
	return s.store.Path(a.StorageName)
}

// Delete removes the record, then its file. A missing file is ignored.
func (s *Service) Delete(ctx context.Context, id string) error {
	a, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteAsset(ctx, id); err != nil {
		return apperr.Wrap(apperr.Internal, err, "delete asset")
	}
	if err := s.store.Remove(a.StorageName); err != nil {
		s.logger.Warn("failed to remove asset file", "asset_id", id, "error", err)
	}
	return nil
}

// CreateFlow validates the items and stores them in the given order.
// Every item must reference an existing image asset.
func (s *Service) CreateFlow(ctx context.Context, name string, items []NewFlowItem) (*Flow, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.New(apperr.Validation, "flow name is required")
	}
	if len(items) == 0 {
		return nil, apperr.New(apperr.Validation, "flow needs at least one asset")
	}

	f := &Flow{ID: NewID(), Name: name, CreatedAt: time.Now()}
	for i, it := range items {
		a, err := s.repo.GetAsset(ctx, it.AssetID)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, err, "load flow asset")
		}
		if a == nil {
			return nil, apperr.Newf(apperr.Validation, "item %d: asset %s not found", i, it.AssetID)
		}
		if !a.IsImage() {
			return nil, apperr.Newf(apperr.Validation, "item %d: asset %s is not an image", i, it.AssetID)
		}
		t, err := flow.ParseTransition(it.Transition)
		if err != nil {
			return nil, apperr.Wrap(apperr.Validation, err, fmt.Sprintf("item %d", i))
		}
		d := it.Duration
		if d == 0 {
			d = flow.DefaultDuration
		}
		f.Items = append(f.Items, FlowItem{
			Position:   i,
			AssetID:    a.ID,
			Duration:   flow.ClampDuration(d),
			Transition: t,
		})
	}

	if err := s.repo.CreateFlow(ctx, f); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "create flow")
	}
	s.logger.Info("flow created", "flow_id", f.ID, "items", len(f.Items))
	return f, nil
}

func (s *Service) GetFlow(ctx context.Context, id string) (*Flow, error) {
	f, err := s.repo.GetFlow(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "load flow")
	}
	if f == nil {
		return nil, apperr.Newf(apperr.NotFound, "flow %s not found", id)
	}
	return f, nil
}

func (s *Service) ListFlows(ctx context.Context) ([]*Flow, error) {
	flows, err := s.repo.ListFlows(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "list flows")
	}
	return flows, nil
}

func (s *Service) RecordImport(ctx context.Context, rec *ImportRecord) error {
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if err := s.repo.CreateImport(ctx, rec); err != nil {
		return apperr.Wrap(apperr.Internal, err, "record import")
	}
	return nil
}

// StartJob records a running job of the given type.
func (s *Service) StartJob(ctx context.Context, jobType string) (*Job, error) {
	now := time.Now()
	j := &Job{
		ID:        NewID(),
		Type:      jobType,
		Status:    JobStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateJob(ctx, j); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "create job")
	}
	return j, nil
}

// Progress updates a job's percentage. Failures are logged only.
func (s *Service) Progress(ctx context.Context, j *Job, pct int) {
	j.Progress = pct
	if err := s.repo.UpdateJobProgress(ctx, j.ID, pct); err != nil {
		s.logger.Warn("failed to update job progress", "job_id", j.ID, "error", err)
	}
}

// FinishJob marks the job completed, or failed with runErr's message.
// It uses a fresh context so a cancelled run is still recorded.
func (s *Service) FinishJob(j *Job, assetID string, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if assetID != "" {
		if err := s.repo.SetJobAsset(ctx, j.ID, assetID); err != nil {
			s.logger.Warn("failed to link job asset", "job_id", j.ID, "error", err)
		}
	}
	status, msg := JobStatusCompleted, ""
	if runErr != nil {
		status, msg = JobStatusFailed, runErr.Error()
	} else {
		s.Progress(ctx, j, 100)
	}
	j.Status, j.Error = status, msg
	if err := s.repo.UpdateJobStatus(ctx, j.ID, status, msg); err != nil {
		s.logger.Warn("failed to update job status", "job_id", j.ID, "error", err)
	}
}

func (s *Service) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	jobs, err := s.repo.ListJobs(ctx, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "list jobs")
	}
	return jobs, nil
}

// FigmaToken returns the stored design-tool token, or "".
func (s *Service) FigmaToken(ctx context.Context) (string, error) {
	return s.repo.GetConfig(ctx, ConfigKeyFigmaToken)
}

func (s *Service) SetFigmaToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperr.New(apperr.Validation, "token is required")
	}
	if err := s.repo.SetConfig(ctx, ConfigKeyFigmaToken, token); err != nil {
		return apperr.Wrap(apperr.Internal, err, "store token")
	}
	return nil
}

func parseStoredTransition(s string) flow.Transition {
	t, err := flow.ParseTransition(s)
	if err != nil {
		return flow.Cut
	}
	return t
}
