package encoder

import (
	"strconv"
	"strings"
)

// Command is an encoder invocation as a list of argument tokens. It is
// passed to exec directly, never through a shell.
type Command struct {
	Binary string
	args   []string
}

// InputOptions apply to the input that follows them.
type InputOptions struct {
	// Loop repeats a still image.
	Loop bool
	// Duration limits how long the input is read, in seconds.
	Duration float64
	// FrameRate is the rate at which a still image is read.
	FrameRate int
}

// OutputOptions describe the encoded file.
type OutputOptions struct {
	Map         string
	VideoFilter string
	Codec       string
	Preset      string
	CRF         int
	PixelFormat string
	FrameRate   int
	FastStart   bool
}

func NewCommand(binary string) *Command {
	return &Command{
		Binary: binary,
		args:   []string{"-y", "-hide_banner", "-loglevel", "error"},
	}
}

// Input appends an input file with its options.
func (c *Command) Input(path string, opts InputOptions) *Command {
	if opts.Loop {
		c.args = append(c.args, "-loop", "1")
	}
	if opts.FrameRate > 0 {
		c.args = append(c.args, "-framerate", strconv.Itoa(opts.FrameRate))
	}
	if opts.Duration > 0 {
		c.args = append(c.args, "-t", seconds(opts.Duration))
	}
	c.args = append(c.args, "-i", path)
	return c
}

// FilterComplex sets the filter graph.
func (c *Command) FilterComplex(graph *FilterGraph) *Command {
	c.args = append(c.args, "-filter_complex", graph.String())
	return c
}

// Output appends encoding options and the output path.
func (c *Command) Output(path string, opts OutputOptions) *Command {
	if opts.Map != "" {
		c.args = append(c.args, "-map", opts.Map)
	}
	if opts.VideoFilter != "" {
		c.args = append(c.args, "-vf", opts.VideoFilter)
	}
	if opts.Codec != "" {
		c.args = append(c.args, "-c:v", opts.Codec)
	}
	if opts.Preset != "" {
		c.args = append(c.args, "-preset", opts.Preset)
	}
	if opts.CRF > 0 {
		c.args = append(c.args, "-crf", strconv.Itoa(opts.CRF))
	}
	if opts.PixelFormat != "" {
		c.args = append(c.args, "-pix_fmt", opts.PixelFormat)
	}
	if opts.FrameRate > 0 {
		c.args = append(c.args, "-r", strconv.Itoa(opts.FrameRate))
	}
	if opts.FastStart {
		c.args = append(c.args, "-movflags", "+faststart")
	}
	c.args = append(c.args, "-an", path)
	return c
}

// Args returns a copy of the argument tokens.
func (c *Command) Args() []string {
	return append([]string(nil), c.args...)
}

// String renders the command for logs only.
func (c *Command) String() string {
	parts := make([]string, 0, len(c.args)+1)
	parts = append(parts, c.Binary)
	for _, a := range c.args {
		if strings.ContainsAny(a, " \t;[]'\"") {
			a = strconv.Quote(a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
