package flow

import (
	"fmt"
	"strings"
)

// Transition is how one plan entry hands over to the next.
type Transition string

const (
	Cut      Transition = "cut"
	Fade     Transition = "fade"
	SlowFade Transition = "slow_fade"
	Slide    Transition = "slide"
)

// Transitions lists every supported transition in display order.
var Transitions = []Transition{Cut, Fade, SlowFade, Slide}

// blendSeconds is the overlap each transition occupies between two clips.
var blendSeconds = map[Transition]float64{
	Cut:      0,
	Fade:     0.5,
	SlowFade: 1.0,
	Slide:    1.0,
}

// aliases maps vocabularies used by design tools and older clients onto the
// canonical set.
var aliases = map[string]Transition{
	"":              Cut,
	"none":          Cut,
	"instant":       Cut,
	"cut":           Cut,
	"fade":          Fade,
	"dissolve":      Fade,
	"crossfade":     Fade,
	"smart_animate": Fade,
	"slow_fade":     SlowFade,
	"slowfade":      SlowFade,
	"slow-fade":     SlowFade,
	"slide":         Slide,
	"slide_in":      Slide,
	"slide_left":    Slide,
	"move_in":       Slide,
	"push":          Slide,
}

// ParseTransition normalizes s into a Transition. Empty input means Cut.
func ParseTransition(s string) (Transition, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, " ", "_")
	if t, ok := aliases[key]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown transition %q", s)
}

// Valid reports whether t is one of the canonical transitions.
func (t Transition) Valid() bool {
	_, ok := blendSeconds[t]
	return ok
}

// BlendDuration returns the overlap in seconds; 0 for Cut and unknown values.
func (t Transition) BlendDuration() float64 {
	return blendSeconds[t]
}

// IsCut reports whether t is a hard cut.
func (t Transition) IsCut() bool {
	return t.BlendDuration() == 0
}

func (t Transition) String() string {
	return string(t)
}
