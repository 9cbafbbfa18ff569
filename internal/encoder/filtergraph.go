package encoder

import (
	"fmt"
	"strings"
)

// FilterGraph assembles a -filter_complex value chain by chain.
type FilterGraph struct {
	chains []string
}

func NewFilterGraph() *FilterGraph {
	return &FilterGraph{}
}

// Chain adds "[in...]f1,f2[out]". Empty filters are skipped.
func (g *FilterGraph) Chain(inputs []string, filters []string, output string) *FilterGraph {
	var b strings.Builder
	for _, in := range inputs {
		b.WriteString("[" + in + "]")
	}
	first := true
	for _, f := range filters {
		if f == "" {
			continue
		}
		if !first {
			b.WriteByte(',')
		}
		b.WriteString(f)
		first = false
	}
	if output != "" {
		b.WriteString("[" + output + "]")
	}
	g.chains = append(g.chains, b.String())
	return g
}

func (g *FilterGraph) Len() int {
	return len(g.chains)
}

func (g *FilterGraph) String() string {
	return strings.Join(g.chains, ";")
}

// normalizeFilters letterboxes any image onto the canvas at a fixed rate so
// every clip can be concatenated or blended with every other.
func normalizeFilters(c Canvas, fps int) []string {
	return []string{
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", c.Width, c.Height),
		fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black", c.Width, c.Height),
		"setsar=1",
		fmt.Sprintf("fps=%d", fps),
		"format=yuv420p",
	}
}

func concatFilter(n int) string {
	return fmt.Sprintf("concat=n=%d:v=1:a=0", n)
}

func xfadeFilter(name string, duration, offset float64) string {
	return fmt.Sprintf("xfade=transition=%s:duration=%s:offset=%s", name, seconds(duration), seconds(offset))
}
