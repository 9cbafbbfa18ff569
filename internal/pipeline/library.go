package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/mockshelf/mockshelf/internal/apperr"
	"github.com/mockshelf/mockshelf/internal/assets"
	"github.com/mockshelf/mockshelf/internal/figma"
	"github.com/mockshelf/mockshelf/internal/flow"
)

// ImportRequest asks for design frames to be stored as image assets.
type ImportRequest struct {
	SourceURL string
	// NodeIDs to import. When empty the url's node-id is used, and when the
	// url has none every top-level frame is imported.
	NodeIDs  []string
	Metadata assets.Metadata
}

// ImportFrames exports the requested frames and adds each one to the
// library with an import record.
func (s *Service) ImportFrames(ctx context.Context, req ImportRequest) (imported []*assets.Asset, err error) {
	req.SourceURL = strings.TrimSpace(req.SourceURL)
	if req.SourceURL == "" {
		return nil, apperr.New(apperr.Validation, "source url is required")
	}
	src, err := s.resolve(ctx, req.SourceURL)
	if err != nil {
		return nil, err
	}
	ids := importIDs(req, src.data)
	if len(ids) == 0 {
		return nil, apperr.New(apperr.NoFramesResolved, "the file has no frames to import")
	}

	job, err := s.deps.Assets.StartJob(ctx, assets.JobTypeImport)
	if err != nil {
		return nil, err
	}
	defer func() {
		assetID := ""
		if len(imported) == 1 {
			assetID = imported[0].ID
		}
		s.deps.Assets.FinishJob(job, assetID, err)
	}()

	names := make(map[string]string, len(src.data.Frames))
	for _, f := range src.data.Frames {
		names[f.ID] = f.Name
	}
	entries := make([]flow.PlanFrame, len(ids))
	for i, id := range ids {
		name := names[id]
		if name == "" {
			name = "Frame " + id
		}
		entries[i] = flow.PlanFrame{ID: id, Name: name}
	}

	scratch, err := s.newScratch()
	if err != nil {
		return nil, err
	}
	defer scratch.Cleanup()

	frames, err := s.deps.Materializer.Materialize(ctx, s.deps.Exporters(src.token, src.key), flow.NewPlan(entries), scratch)
	if err != nil {
		return nil, sourceError(err, "export frames")
	}
	if len(frames) == 0 {
		return nil, apperr.New(apperr.NoFramesMaterialized, "no frames could be exported")
	}

	for i, f := range frames {
		a, err := s.deps.Assets.AddFile(ctx, assets.NewFile{
			Path:     f.Path,
			Name:     f.Name,
			Source:   assets.SourceFigmaImport,
			Metadata: req.Metadata,
		})
		if err != nil {
			return imported, err
		}
		if err := s.deps.Assets.RecordImport(ctx, &assets.ImportRecord{
			AssetID:    a.ID,
			SourceURL:  req.SourceURL,
			FileKey:    src.key,
			NodeIDs:    []string{f.ID},
			Mode:       "import",
			FrameCount: 1,
		}); err != nil {
			return imported, err
		}
		imported = append(imported, a)
		s.deps.Assets.Progress(ctx, job, (i+1)*100/len(frames))
	}
	s.logger.Info("frames imported", "file_key", src.key, "requested", len(ids), "imported", len(imported))
	return imported, nil
}

func importIDs(req ImportRequest, data *figma.FileData) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, id := range req.NodeIDs {
		id = strings.TrimSpace(id)
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		return ids
	}
	if id := figma.NodeIDFromURL(req.SourceURL); id != "" {
		return []string{id}
	}
	return data.FrameIDs()
}

// FlowVideoRequest names the video rendered from a stored flow.
type FlowVideoRequest struct {
	Name     string
	Metadata assets.Metadata
}

// BuildFlowVideo renders a stored flow of library images into a video asset.
func (s *Service) BuildFlowVideo(ctx context.Context, flowID string, req FlowVideoRequest) (res *VideoResult, err error) {
	if err := s.checkEncoder(ctx); err != nil {
		return nil, err
	}
	fl, err := s.deps.Assets.GetFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if len(fl.Items) < 2 {
		return nil, apperr.Newf(apperr.NoFramesResolved, "flow %s has %d item(s), need at least 2", fl.ID, len(fl.Items))
	}

	entries := make([]flow.PlanFrame, len(fl.Items))
	for i, item := range fl.Items {
		entries[i] = flow.PlanFrame{
			ID:         item.AssetID,
			Name:       fmt.Sprintf("%s #%d", fl.Name, item.Position+1),
			Duration:   item.Duration,
			Transition: item.Transition,
		}
	}
	plan := flow.NewPlan(entries)

	job, err := s.deps.Assets.StartJob(ctx, assets.JobTypeFlowVideo)
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

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fl.Name
	}
	out, err := s.render(ctx, job, AssetSource{Assets: s.deps.Assets}, plan, name, assets.SourceFlowVideo, req.Metadata)
	if err != nil {
		return nil, err
	}
	return out.result(job, plan), nil
}
