package encoder

import (
	"math"

	"github.com/mockshelf/mockshelf/internal/flow"
)

// Clip is one still image held on screen for Duration seconds, followed by
// Transition into the next clip.
type Clip struct {
	Path       string
	Duration   float64
	Transition flow.Transition
}

// Strategy is the assembly path chosen for a set of clips.
type Strategy string

const (
	StrategySimple  Strategy = "simple"
	StrategyComplex Strategy = "complex"
)

// SelectStrategy returns StrategySimple when every joining transition is a
// cut. The last clip's transition joins nothing and is ignored.
func SelectStrategy(clips []Clip) Strategy {
	for i := 0; i < len(clips)-1; i++ {
		if !clips[i].Transition.IsCut() {
			return StrategyComplex
		}
	}
	return StrategySimple
}

// Segment is the timing of one clip in the blended timeline.
type Segment struct {
	// Render is how long the input is read: the nominal duration plus the
	// blend into it and the blend out of it.
	Render float64
	// Blend is the overlap with the next clip; 0 means a hard concat.
	Blend float64
	// Offset is where the blend into the next clip starts, measured on the
	// nominal timeline: cumulative duration through this clip minus Blend.
	Offset float64
}

// Timeline computes segment timings. Blends happen inside the nominal
// durations, so the rendered length equals the sum of durations.
func Timeline(clips []Clip) []Segment {
	segs := make([]Segment, len(clips))
	var cumulative, blendIn float64
	for i, c := range clips {
		blendOut := 0.0
		if i < len(clips)-1 {
			blendOut = c.Transition.BlendDuration()
		}
		// A blend can never swallow a whole clip.
		blendOut = math.Min(blendOut, c.Duration/2)
		if i < len(clips)-1 {
			blendOut = math.Min(blendOut, clips[i+1].Duration/2)
		}

		cumulative += c.Duration
		segs[i] = Segment{
			Render: round3(c.Duration + blendIn + blendOut),
			Blend:  round3(blendOut),
		}
		if blendOut > 0 {
			segs[i].Offset = round3(cumulative - blendOut)
		}
		blendIn = blendOut
	}
	return segs
}

// TotalDuration is the sum of nominal clip durations.
func TotalDuration(clips []Clip) float64 {
	var total float64
	for _, c := range clips {
		total += c.Duration
	}
	return round3(total)
}

func xfadeName(t flow.Transition) string {
	if t == flow.Slide {
		return "slideleft"
	}
	return "fade"
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
