// Package materialize turns a flow plan into local image files by exporting
// every frame in bulk from the frame source and downloading the results.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mockshelf/mockshelf/internal/apperr"
	"github.com/mockshelf/mockshelf/internal/flow"
	"github.com/mockshelf/mockshelf/internal/logging"
	"github.com/mockshelf/mockshelf/internal/retry"
)

// Exporter is a frame source bound to one file.
type Exporter interface {
	// Export renders ids in a single request and returns id -> reference.
	// Ids that could not be rendered are left out.
	Export(ctx context.Context, ids []string) (map[string]string, error)
	// Fetch returns the bytes behind a reference returned by Export.
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// rateLimited is implemented by source errors that signal throttling.
type rateLimited interface {
	RateLimited() bool
}

// IsRateLimited reports whether err, or anything it wraps, is a throttling
// signal from the frame source.
func IsRateLimited(err error) bool {
	var rl rateLimited
	return errors.As(err, &rl) && rl.RateLimited()
}

// Frame is a plan entry with its local image.
type Frame struct {
	flow.PlanFrame
	Path string `json:"path"`
}

type Options struct {
	// BatchSize splits the ids into requests of at most this many ids.
	// Zero sends every id in one request.
	BatchSize int
	// BatchPause is the wait between batches.
	BatchPause time.Duration
	// Retry governs rate-limit retries of a batch.
	Retry retry.Policy
	// Extension is the file extension for written images.
	Extension string
}

type Materializer struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Materializer {
	if opts.Extension == "" {
		opts.Extension = "png"
	}
	opts.Extension = strings.TrimPrefix(opts.Extension, ".")
	opts.Retry.Retryable = IsRateLimited
	return &Materializer{opts: opts, logger: logging.WithComponent(logger, "materialize")}
}

// Materialize exports and downloads every frame of plan into scratch.
// Frames the source did not render, or whose download failed, are skipped;
// the result keeps plan order. An exhausted rate-limit budget returns an
// apperr.RateLimited error.
func (m *Materializer) Materialize(ctx context.Context, exp Exporter, plan flow.Plan, scratch *Scratch) ([]Frame, error) {
	if plan.Len() == 0 {
		return nil, nil
	}

	refs, err := m.exportAll(ctx, exp, uniqueIDs(plan))
	if err != nil {
		return nil, err
	}

	frames := make([]Frame, 0, plan.Len())
	for i, pf := range plan.Frames {
		ref, ok := refs[pf.ID]
		if !ok {
			m.logger.Warn("frame missing from export, skipping", "frame_id", pf.ID, "name", pf.Name)
			continue
		}

		data, err := exp.Fetch(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.logger.Warn("frame download failed, skipping", "frame_id", pf.ID, "error", err)
			continue
		}

		path, err := scratch.WriteFile(fmt.Sprintf("frame_%03d.%s", i, m.opts.Extension), data)
		if err != nil {
			return nil, err
		}
		frames = append(frames, Frame{PlanFrame: pf, Path: path})
	}

	m.logger.Info("frames materialized", "requested", plan.Len(), "materialized", len(frames))
	return frames, nil
}

func (m *Materializer) exportAll(ctx context.Context, exp Exporter, ids []string) (map[string]string, error) {
	batches := chunk(ids, m.opts.BatchSize)
	refs := make(map[string]string, len(ids))

	for i, batch := range batches {
		if i > 0 && m.opts.BatchPause > 0 {
			if err := retry.Sleep(ctx, m.opts.BatchPause); err != nil {
				return nil, err
			}
		}

		var got map[string]string
		out := retry.Do(ctx, m.opts.Retry, func(ctx context.Context, attempt int) error {
			if attempt > 1 {
				m.logger.Info("retrying frame export", "attempt", attempt, "ids", len(batch))
			}
			res, err := exp.Export(ctx, batch)
			if err != nil {
				return err
			}
			got = res
			return nil
		})

		switch out.Status {
		case retry.Succeeded:
		case retry.Exhausted:
			return nil, apperr.Wrap(apperr.RateLimited, out.Err,
				fmt.Sprintf("frame export rate limited after %d attempts", out.Attempts))
		default:
			return nil, fmt.Errorf("export frames: %w", out.Err)
		}

		for id, ref := range got {
			refs[id] = ref
		}
	}
	return refs, nil
}

func uniqueIDs(plan flow.Plan) []string {
	seen := make(map[string]bool, plan.Len())
	ids := make([]string, 0, plan.Len())
	for _, id := range plan.IDs() {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func chunk(ids []string, size int) [][]string {
	if size <= 0 || size >= len(ids) {
		return [][]string{ids}
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}
