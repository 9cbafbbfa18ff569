package flow

import (
	"context"
	"fmt"
	"strings"
)

// Mode selects how a plan is produced.
type Mode string

const (
	ModePrototype Mode = "prototype"
	ModeSequence  Mode = "sequence"
	ModeAI        Mode = "ai"
)

// ParseMode accepts the canonical names plus a few aliases. Empty means
// ModePrototype.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "prototype", "connections", "auto":
		return ModePrototype, nil
	case "sequence", "explicit", "manual":
		return ModeSequence, nil
	case "ai", "llm", "describe":
		return ModeAI, nil
	}
	return "", fmt.Errorf("unknown plan mode %q", s)
}

// Request carries everything a planner may look at.
type Request struct {
	Frames      []Frame
	Connections []Connection
	Settings    Settings
	// Sequence is the explicit order for ModeSequence. Zero durations and
	// empty transitions take the request settings.
	Sequence []PlanFrame
	// Description is the free-text brief for ModeAI.
	Description string
}

// Planner produces a plan for a request.
type Planner interface {
	Plan(ctx context.Context, req Request) (Plan, error)
}

// PlannerFunc adapts a function to Planner.
type PlannerFunc func(ctx context.Context, req Request) (Plan, error)

func (f PlannerFunc) Plan(ctx context.Context, req Request) (Plan, error) {
	return f(ctx, req)
}

// PrototypePlanner follows prototype connections.
type PrototypePlanner struct{}

func (PrototypePlanner) Plan(_ context.Context, req Request) (Plan, error) {
	return Linearize(req.Frames, req.Connections, req.Settings), nil
}

// SequencePlanner uses the caller's explicit order. Entries that do not name
// a known frame are dropped; names come from the frame list.
type SequencePlanner struct{}

func (SequencePlanner) Plan(_ context.Context, req Request) (Plan, error) {
	settings := req.Settings.Normalize()
	names := make(map[string]string, len(req.Frames))
	for _, f := range req.Frames {
		names[f.ID] = f.Name
	}

	entries := make([]PlanFrame, 0, len(req.Sequence))
	for _, e := range req.Sequence {
		name, known := names[e.ID]
		if !known {
			continue
		}
		if e.Name == "" {
			e.Name = name
		}
		if e.Duration == 0 {
			e.Duration = settings.Duration
		}
		if e.Transition == "" {
			e.Transition = settings.Transition
		}
		entries = append(entries, e)
	}
	return NewPlan(entries), nil
}
