package encoder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const defaultProbeTTL = 5 * time.Minute

// ErrNotInstalled is returned when the encoder binary cannot be found.
var ErrNotInstalled = errors.New("ffmpeg not found")

// Capabilities describe the installed encoder.
type Capabilities struct {
	Path     string    `json:"path"`
	Version  string    `json:"version"`
	HasXfade bool      `json:"has_xfade"`
	ProbedAt time.Time `json:"probed_at"`
}

// Prober inspects the encoder installation.
type Prober interface {
	Probe(ctx context.Context) (*Capabilities, error)
}

// FFmpegProber runs `ffmpeg -version` and `ffmpeg -filters`.
type FFmpegProber struct {
	Binary  string
	Timeout time.Duration
}

func (p FFmpegProber) Probe(ctx context.Context) (*Capabilities, error) {
	path, err := exec.LookPath(p.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotInstalled, p.Binary)
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "-hide_banner", "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg -version: %w", err)
	}
	caps := &Capabilities{Path: path, Version: parseVersion(out), ProbedAt: time.Now()}

	filters, err := exec.CommandContext(ctx, path, "-hide_banner", "-filters").Output()
	if err == nil {
		caps.HasXfade = hasFilter(filters, "xfade")
	}
	return caps, nil
}

func parseVersion(out []byte) string {
	line, _, _ := bytes.Cut(out, []byte("\n"))
	fields := strings.Fields(string(line))
	if len(fields) >= 3 && fields[0] == "ffmpeg" && fields[1] == "version" {
		return fields[2]
	}
	return strings.TrimSpace(string(line))
}

func hasFilter(listing []byte, name string) bool {
	sc := bufio.NewScanner(bytes.NewReader(listing))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && fields[1] == name {
			return true
		}
	}
	return false
}

// CachedDoctor caches probe results for a TTL.
type CachedDoctor struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewCachedDoctor(prober Prober, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{prober: prober, ttl: defaultProbeTTL, logger: logger}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()
	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh probes regardless of freshness. A failed probe falls back to the
// previous result when there is one.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.prober.Probe(ctx)
	if err != nil {
		d.logger.Warn("encoder probe failed", "error", err)
		if d.cached != nil && !errors.Is(err, ErrNotInstalled) {
			return d.cached, nil
		}
		d.cached = nil
		return nil, err
	}
	d.logger.Info("encoder probe complete", "version", caps.Version, "xfade", caps.HasXfade)
	d.cached = caps
	return caps, nil
}
