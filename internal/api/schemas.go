package api

import (
	"strconv"
	"time"

	"github.com/mockshelf/mockshelf/internal/apperr"
	"github.com/mockshelf/mockshelf/internal/assets"
	"github.com/mockshelf/mockshelf/internal/flow"
	"github.com/mockshelf/mockshelf/internal/pipeline"
)

type ErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

type MetadataBody struct {
	DeviceOEM  string `json:"device_oem,omitempty"`
	ScreenType string `json:"screen_type,omitempty"`
	AssetType  string `json:"asset_type,omitempty"`
}

func (m MetadataBody) toModel() assets.Metadata {
	return assets.Metadata{DeviceOEM: m.DeviceOEM, ScreenType: m.ScreenType, AssetType: m.AssetType}
}

type AssetResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	Format     string `json:"format"`
	SizeBytes  int64  `json:"size_bytes"`
	Source     string `json:"source"`
	DeviceOEM  string `json:"device_oem,omitempty"`
	ScreenType string `json:"screen_type,omitempty"`
	AssetType  string `json:"asset_type,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type AssetsResponse struct {
	Assets []AssetResponse `json:"assets"`
}

// SettingsBody is the uniform duration and transition of a render.
type SettingsBody struct {
	Duration   float64 `json:"duration,omitempty"`
	Transition string  `json:"transition,omitempty"`
}

type SequenceItem struct {
	ID         string  `json:"id"`
	Duration   float64 `json:"duration,omitempty"`
	Transition string  `json:"transition,omitempty"`
}

type VideoRequestBody struct {
	SourceURL   string         `json:"source_url"`
	Mode        string         `json:"mode,omitempty"`
	Sequence    []SequenceItem `json:"sequence,omitempty"`
	Settings    SettingsBody   `json:"settings"`
	Description string         `json:"description,omitempty"`
	Name        string         `json:"name,omitempty"`
	Metadata    MetadataBody   `json:"metadata"`
}

// toRequest parses mode and transition names. An explicit sequence without
// a mode selects sequence mode.
func (b VideoRequestBody) toRequest() (pipeline.VideoRequest, error) {
	mode, err := flow.ParseMode(b.Mode)
	if err != nil {
		return pipeline.VideoRequest{}, apperr.Wrap(apperr.Validation, err, "mode")
	}
	if b.Mode == "" && len(b.Sequence) > 0 {
		mode = flow.ModeSequence
	}

	settings := flow.Settings{Duration: b.Settings.Duration}
	if b.Settings.Transition != "" {
		if settings.Transition, err = flow.ParseTransition(b.Settings.Transition); err != nil {
			return pipeline.VideoRequest{}, apperr.Wrap(apperr.Validation, err, "settings")
		}
	}

	var seq []flow.PlanFrame
	for i, item := range b.Sequence {
		pf := flow.PlanFrame{ID: item.ID, Duration: item.Duration}
		if item.Transition != "" {
			if pf.Transition, err = flow.ParseTransition(item.Transition); err != nil {
				return pipeline.VideoRequest{}, apperr.Wrap(apperr.Validation, err, "sequence item "+strconv.Itoa(i))
			}
		}
		seq = append(seq, pf)
	}

	return pipeline.VideoRequest{
		SourceURL:   b.SourceURL,
		Mode:        mode,
		Sequence:    seq,
		Settings:    settings,
		Description: b.Description,
		Name:        b.Name,
		Metadata:    b.Metadata.toModel(),
	}, nil
}

type PlanResponse struct {
	Frames        []flow.PlanFrame `json:"frames"`
	TotalDuration float64          `json:"total_duration"`
}

func PlanToResponse(p flow.Plan) PlanResponse {
	frames := p.Frames
	if frames == nil {
		frames = []flow.PlanFrame{}
	}
	return PlanResponse{Frames: frames, TotalDuration: p.TotalDuration}
}

// FlowSummary describes what was rendered into a video.
type FlowSummary struct {
	FramesCount   int          `json:"frames_count"`
	TotalDuration float64      `json:"total_duration"`
	Strategy      string       `json:"strategy"`
	FellBack      bool         `json:"fell_back,omitempty"`
	Plan          PlanResponse `json:"plan"`
}

type VideoResponse struct {
	Asset AssetResponse `json:"asset"`
	Flow  FlowSummary   `json:"flow"`
	JobID string        `json:"job_id"`
}

func VideoToResponse(res *pipeline.VideoResult) VideoResponse {
	return VideoResponse{
		Asset: AssetToResponse(res.Asset),
		Flow: FlowSummary{
			FramesCount:   res.FramesCount,
			TotalDuration: res.TotalDuration,
			Strategy:      string(res.Strategy),
			FellBack:      res.FellBack,
			Plan:          PlanToResponse(res.Plan),
		},
		JobID: res.JobID,
	}
}

type FlowItemBody struct {
	AssetID    string  `json:"asset_id"`
	Duration   float64 `json:"duration,omitempty"`
	Transition string  `json:"transition,omitempty"`
}

type CreateFlowRequest struct {
	Name  string         `json:"name"`
	Items []FlowItemBody `json:"items"`
}

type FlowResponse struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Items     []assets.FlowItem `json:"items"`
	CreatedAt string            `json:"created_at"`
}

type FlowsResponse struct {
	Flows []FlowResponse `json:"flows"`
}

type FlowVideoRequestBody struct {
	Name     string       `json:"name,omitempty"`
	Metadata MetadataBody `json:"metadata"`
}

type ImportFramesRequest struct {
	SourceURL string       `json:"source_url"`
	NodeIDs   []string     `json:"node_ids,omitempty"`
	Metadata  MetadataBody `json:"metadata"`
}

type DesignFramesResponse struct {
	FileKey     string            `json:"file_key"`
	Name        string            `json:"name"`
	Frames      []flow.Frame      `json:"frames"`
	Connections []flow.Connection `json:"connections"`
}

type TokenRequest struct {
	Token string `json:"token"`
}

type JobResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	AssetID   string `json:"asset_id,omitempty"`
	Progress  int    `json:"progress"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type EncoderStatusResponse struct {
	Available   bool   `json:"available"`
	Version     string `json:"version,omitempty"`
	HasXfade    bool   `json:"has_xfade"`
	LastProbeAt string `json:"last_probe_at,omitempty"`
	Error       string `json:"error,omitempty"`
}

type StatusResponse struct {
	State       string                `json:"state"`
	Version     string                `json:"version"`
	UptimeS     int64                 `json:"uptime_s"`
	LastError   string                `json:"last_error,omitempty"`
	JobsRunning int                   `json:"jobs_running"`
	ActiveJob   *JobResponse          `json:"active_job,omitempty"`
	Encoder     EncoderStatusResponse `json:"encoder"`
}

func AssetToResponse(a *assets.Asset) AssetResponse {
	return AssetResponse{
		ID:         a.ID,
		Name:       a.Name,
		URL:        a.URL,
		Format:     a.Format,
		SizeBytes:  a.SizeBytes,
		Source:     a.Source,
		DeviceOEM:  a.DeviceOEM,
		ScreenType: a.ScreenType,
		AssetType:  a.AssetType,
		CreatedAt:  a.CreatedAt.Format(time.RFC3339),
	}
}

func AssetsToResponse(list []*assets.Asset) AssetsResponse {
	resp := AssetsResponse{Assets: make([]AssetResponse, len(list))}
	for i, a := range list {
		resp.Assets[i] = AssetToResponse(a)
	}
	return resp
}

func FlowToResponse(f *assets.Flow) FlowResponse {
	items := f.Items
	if items == nil {
		items = []assets.FlowItem{}
	}
	return FlowResponse{ID: f.ID, Name: f.Name, Items: items, CreatedAt: f.CreatedAt.Format(time.RFC3339)}
}

func JobToResponse(j *assets.Job) JobResponse {
	return JobResponse{
		ID:        j.ID,
		Type:      j.Type,
		Status:    j.Status,
		AssetID:   j.AssetID,
		Progress:  j.Progress,
		Error:     j.Error,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
	}
}
