// Package flow turns design frames into an ordered, timed plan that the
// materializer and encoder consume.
package flow

import (
	"errors"
	"fmt"
	"math"
)

const (
	MinDuration     = 0.5
	MaxDuration     = 10.0
	DefaultDuration = 2.0
)

var ErrEmptyPlan = errors.New("flow plan has no frames")

// Frame is a top-level screen in a design file.
type Frame struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Connection is a prototype link from one frame to another. DestID is empty
// when the interaction has no destination.
type Connection struct {
	SourceID   string `json:"source_id"`
	SourceName string `json:"source_name,omitempty"`
	DestID     string `json:"dest_id,omitempty"`
	Trigger    string `json:"trigger,omitempty"`
}

// Settings are applied uniformly when a planner has nothing more specific.
type Settings struct {
	Duration   float64    `json:"duration"`
	Transition Transition `json:"transition"`
}

func DefaultSettings() Settings {
	return Settings{Duration: DefaultDuration, Transition: Cut}
}

// Normalize clamps the duration and replaces an unknown transition with Cut.
func (s Settings) Normalize() Settings {
	s.Duration = ClampDuration(s.Duration)
	if !s.Transition.Valid() {
		s.Transition = Cut
	}
	return s
}

// PlanFrame is one entry of a plan in render order.
type PlanFrame struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Duration   float64    `json:"duration"`
	Transition Transition `json:"transition"`
}

// Plan is an ordered list of frames plus the sum of their durations.
type Plan struct {
	Frames        []PlanFrame `json:"frames"`
	TotalDuration float64     `json:"total_duration"`
}

// NewPlan builds a plan from entries, clamping durations and computing the
// total.
func NewPlan(entries []PlanFrame) Plan {
	frames := make([]PlanFrame, len(entries))
	var total float64
	for i, e := range entries {
		e.Duration = ClampDuration(e.Duration)
		if !e.Transition.Valid() {
			e.Transition = Cut
		}
		frames[i] = e
		total += e.Duration
	}
	return Plan{Frames: frames, TotalDuration: roundMillis(total)}
}

// Uniform applies the same settings to every frame, keeping input order.
func Uniform(frames []Frame, settings Settings) Plan {
	settings = settings.Normalize()
	entries := make([]PlanFrame, len(frames))
	for i, f := range frames {
		entries[i] = PlanFrame{ID: f.ID, Name: f.Name, Duration: settings.Duration, Transition: settings.Transition}
	}
	return NewPlan(entries)
}

func (p Plan) Len() int {
	return len(p.Frames)
}

func (p Plan) IDs() []string {
	ids := make([]string, len(p.Frames))
	for i, f := range p.Frames {
		ids[i] = f.ID
	}
	return ids
}

// Validate rejects empty plans and entries outside the allowed ranges.
func (p Plan) Validate() error {
	if len(p.Frames) == 0 {
		return ErrEmptyPlan
	}
	for i, f := range p.Frames {
		if f.ID == "" {
			return fmt.Errorf("frame %d: missing id", i)
		}
		if f.Duration < MinDuration || f.Duration > MaxDuration {
			return fmt.Errorf("frame %d (%s): duration %.2fs outside [%.1f, %.1f]", i, f.ID, f.Duration, MinDuration, MaxDuration)
		}
		if !f.Transition.Valid() {
			return fmt.Errorf("frame %d (%s): unknown transition %q", i, f.ID, f.Transition)
		}
	}
	return nil
}

// ClampDuration forces d into [MinDuration, MaxDuration]. NaN becomes the
// default duration.
func ClampDuration(d float64) float64 {
	switch {
	case math.IsNaN(d):
		return DefaultDuration
	case d < MinDuration:
		return MinDuration
	case d > MaxDuration:
		return MaxDuration
	}
	return d
}

func roundMillis(v float64) float64 {
	return math.Round(v*1000) / 1000
}
