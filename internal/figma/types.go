package figma

import (
	"time"

	"github.com/mockshelf/mockshelf/internal/flow"
)

// FileData is the part of a design file the pipeline needs.
type FileData struct {
	Key          string            `json:"key"`
	Name         string            `json:"name"`
	LastModified time.Time         `json:"last_modified"`
	ThumbnailURL string            `json:"thumbnail_url,omitempty"`
	Frames       []flow.Frame      `json:"frames"`
	Connections  []flow.Connection `json:"connections"`
}

// FrameIDs returns the ids of every top-level frame.
func (d *FileData) FrameIDs() []string {
	ids := make([]string, len(d.Frames))
	for i, f := range d.Frames {
		ids[i] = f.ID
	}
	return ids
}

// ExportOptions controls rendered image output.
type ExportOptions struct {
	Format string
	Scale  float64
}

// Wire types for the REST API.

type fileResponse struct {
	Name         string `json:"name"`
	LastModified string `json:"lastModified"`
	ThumbnailURL string `json:"thumbnailUrl"`
	Document     node   `json:"document"`
}

type node struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Type             string     `json:"type"`
	Children         []node     `json:"children"`
	TransitionNodeID *string    `json:"transitionNodeID"`
	Reactions        []reaction `json:"reactions"`
}

type reaction struct {
	Action  *action  `json:"action"`
	Actions []action `json:"actions"`
	Trigger *struct {
		Type string `json:"type"`
	} `json:"trigger"`
}

type action struct {
	Type          string  `json:"type"`
	DestinationID *string `json:"destinationId"`
	Navigation    string  `json:"navigation"`
}

type imagesResponse struct {
	Err    *string            `json:"err"`
	Images map[string]*string `json:"images"`
}
