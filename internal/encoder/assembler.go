package encoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mockshelf/mockshelf/internal/apperr"
)

const (
	DefaultWidth     = 1080
	DefaultFrameRate = 30
	DefaultTimeout   = 5 * time.Minute
	DefaultCodec     = "libx264"
	DefaultPreset    = "veryfast"
	DefaultCRF       = 20
)

// Options configure an Assembler. Zero values take the defaults above.
type Options struct {
	Binary    string
	Width     int
	FrameRate int
	Timeout   time.Duration
	Codec     string
	Preset    string
	CRF       int
}

func (o Options) withDefaults() Options {
	if o.Binary == "" {
		o.Binary = "ffmpeg"
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.FrameRate <= 0 {
		o.FrameRate = DefaultFrameRate
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Codec == "" {
		o.Codec = DefaultCodec
	}
	if o.Preset == "" {
		o.Preset = DefaultPreset
	}
	if o.CRF <= 0 {
		o.CRF = DefaultCRF
	}
	return o
}

// Result describes an assembled video.
type Result struct {
	Path     string
	Strategy Strategy
	// FellBack is set when the blended render failed and the clips were
	// concatenated instead.
	FellBack  bool
	Duration  float64
	Canvas    Canvas
	SizeBytes int64
	Elapsed   time.Duration
}

// Assembler turns still images into an H.264 MP4.
type Assembler struct {
	exec   Executor
	opts   Options
	logger *slog.Logger
}

func NewAssembler(exec Executor, opts Options, logger *slog.Logger) *Assembler {
	return &Assembler{exec: exec, opts: opts.withDefaults(), logger: logger}
}

// Assemble renders clips into out. Joining transitions that are all cuts
// take the concat path; anything else is blended with xfade, and a failed
// blend is retried once as a plain concat. On failure the partial output is
// removed and an EncodingFailed error is returned.
func (a *Assembler) Assemble(ctx context.Context, clips []Clip, out string) (*Result, error) {
	if len(clips) == 0 {
		return nil, apperr.New(apperr.EncodingFailed, "no clips to assemble")
	}
	for i, c := range clips {
		if c.Duration <= 0 {
			return nil, apperr.Newf(apperr.EncodingFailed, "clip %d has no duration", i)
		}
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return nil, apperr.Wrap(apperr.EncodingFailed, err, "create output directory")
	}

	start := time.Now()
	canvas := CanvasFor(clips[0].Path, a.opts.Width)
	strategy := SelectStrategy(clips)
	res := &Result{
		Path:     out,
		Strategy: strategy,
		Duration: TotalDuration(clips),
		Canvas:   canvas,
	}
	a.logger.Info("assembling video",
		"clips", len(clips),
		"strategy", strategy,
		"duration", res.Duration,
		"canvas", fmt.Sprintf("%dx%d", canvas.Width, canvas.Height),
	)

	if strategy == StrategyComplex {
		run := a.run(ctx, a.complexCommand(clips, canvas, out))
		if run.IsSuccess() {
			return a.finish(res, start), nil
		}
		a.logger.Warn("blended render failed, falling back to concat",
			"exit_code", run.ExitCode,
			"stderr_tail", truncate(run.StderrTail, 256),
		)
		os.Remove(out)
		if ctx.Err() != nil {
			return nil, apperr.Wrap(apperr.EncodingFailed, ctx.Err(), "assemble video")
		}
		res.FellBack = true
	}

	run := a.run(ctx, a.simpleCommand(clips, canvas, out))
	if !run.IsSuccess() {
		os.Remove(out)
		return nil, apperr.Wrap(apperr.EncodingFailed, runError(run), "assemble video")
	}
	return a.finish(res, start), nil
}

func (a *Assembler) finish(res *Result, start time.Time) *Result {
	if fi, err := os.Stat(res.Path); err == nil {
		res.SizeBytes = fi.Size()
	}
	res.Elapsed = time.Since(start)
	return res
}

func (a *Assembler) run(ctx context.Context, cmd *Command) RunResult {
	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()
	return a.exec.Run(ctx, cmd)
}

func (a *Assembler) output(mapLabel string) OutputOptions {
	return OutputOptions{
		Map:         mapLabel,
		Codec:       a.opts.Codec,
		Preset:      a.opts.Preset,
		CRF:         a.opts.CRF,
		PixelFormat: "yuv420p",
		FrameRate:   a.opts.FrameRate,
		FastStart:   true,
	}
}

// simpleCommand holds every image for its nominal duration and concatenates
// them, ignoring transitions.
func (a *Assembler) simpleCommand(clips []Clip, canvas Canvas, out string) *Command {
	cmd := NewCommand(a.opts.Binary)
	for _, c := range clips {
		cmd.Input(c.Path, InputOptions{Loop: true, FrameRate: a.opts.FrameRate, Duration: c.Duration})
	}

	graph := NewFilterGraph()
	labels := make([]string, len(clips))
	for i := range clips {
		labels[i] = "v" + strconv.Itoa(i)
		graph.Chain([]string{strconv.Itoa(i) + ":v"}, normalizeFilters(canvas, a.opts.FrameRate), labels[i])
	}
	if len(clips) == 1 {
		return cmd.FilterComplex(graph).Output(out, a.output("[v0]"))
	}
	graph.Chain(labels, []string{concatFilter(len(clips))}, "vout")
	return cmd.FilterComplex(graph).Output(out, a.output("[vout]"))
}

// complexCommand reads each image for its extended render length and joins
// neighbours with xfade where a blend is requested and concat where it is not.
func (a *Assembler) complexCommand(clips []Clip, canvas Canvas, out string) *Command {
	segs := Timeline(clips)
	cmd := NewCommand(a.opts.Binary)
	for i, c := range clips {
		cmd.Input(c.Path, InputOptions{Loop: true, FrameRate: a.opts.FrameRate, Duration: segs[i].Render})
	}

	graph := NewFilterGraph()
	for i, seg := range segs {
		filters := append(normalizeFilters(canvas, a.opts.FrameRate),
			fmt.Sprintf("trim=duration=%s", seconds(seg.Render)),
			"setpts=PTS-STARTPTS",
		)
		graph.Chain([]string{strconv.Itoa(i) + ":v"}, filters, "v"+strconv.Itoa(i))
	}

	prev := "v0"
	for i := 0; i < len(clips)-1; i++ {
		next := "v" + strconv.Itoa(i+1)
		joined := "j" + strconv.Itoa(i+1)
		if segs[i].Blend > 0 {
			graph.Chain([]string{prev, next},
				[]string{xfadeFilter(xfadeName(clips[i].Transition), segs[i].Blend, segs[i].Offset)}, joined)
		} else {
			graph.Chain([]string{prev, next}, []string{concatFilter(2)}, joined)
		}
		prev = joined
	}
	return cmd.FilterComplex(graph).Output(out, a.output("["+prev+"]"))
}

// runError summarizes a failed process for callers.
func runError(r RunResult) error {
	if r.TimedOut {
		return errors.New("encoder timed out")
	}
	tail := truncate(r.StderrTail, 512)
	if tail == "" {
		return fmt.Errorf("encoder exited %d", r.ExitCode)
	}
	return fmt.Errorf("encoder exited %d: %s", r.ExitCode, tail)
}
