package assets

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mockshelf/mockshelf/internal/flow"
)

// Sources an asset can come from.
const (
	SourceUpload      = "upload"
	SourceFigmaImport = "figma_import"
	SourceFigmaVideo  = "figma_video"
	SourceFlowVideo   = "flow_video"
)

const (
	JobTypeVideo     = "video"
	JobTypeFlowVideo = "flow_video"
	JobTypeImport    = "import"

	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Metadata is the user-facing tagging shared by every asset.
type Metadata struct {
	DeviceOEM  string `json:"device_oem,omitempty"`
	ScreenType string `json:"screen_type,omitempty"`
	AssetType  string `json:"asset_type,omitempty"`
}

type Asset struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	StorageName string    `json:"-"`
	Format      string    `json:"format"`
	SizeBytes   int64     `json:"size_bytes"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"created_at"`
	Metadata
}

// IsImage reports whether the asset can be used as a flow frame.
func (a *Asset) IsImage() bool {
	return imageFormats[a.Format]
}

// Filter selects assets by exact match. Empty fields match everything.
type Filter struct {
	DeviceOEM  string
	ScreenType string
	AssetType  string
	Format     string
	Source     string
	Limit      int
}

type Flow struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Items     []FlowItem `json:"items"`
	CreatedAt time.Time  `json:"created_at"`
}

// FlowItem is one asset in a stored flow, in Position order.
type FlowItem struct {
	Position   int             `json:"position"`
	AssetID    string          `json:"asset_id"`
	Duration   float64         `json:"duration"`
	Transition flow.Transition `json:"transition"`
}

// ImportRecord is the provenance of an asset created from a design file.
type ImportRecord struct {
	ID         string    `json:"id"`
	AssetID    string    `json:"asset_id"`
	SourceURL  string    `json:"source_url"`
	FileKey    string    `json:"file_key"`
	NodeIDs    []string  `json:"node_ids"`
	Mode       string    `json:"mode"`
	FrameCount int       `json:"frame_count"`
	CreatedAt  time.Time `json:"created_at"`
}

type Job struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	AssetID   string    `json:"asset_id,omitempty"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var imageFormats = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
	"webp": true,
}

var videoFormats = map[string]bool{
	"mp4":  true,
	"mov":  true,
	"webm": true,
}

func NewID() string {
	return uuid.NewString()
}

// FormatOf returns the lowercase extension of filename without the dot, or
// "" when the type is not accepted.
func FormatOf(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if imageFormats[ext] || videoFormats[ext] {
		return ext
	}
	return ""
}
