package materialize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/mockshelf/mockshelf/internal/apperr"
	"github.com/mockshelf/mockshelf/internal/flow"
	"github.com/mockshelf/mockshelf/internal/logging"
	"github.com/mockshelf/mockshelf/internal/retry"
)

type throttled struct{}

func (throttled) Error() string     { return "HTTP 429" }
func (throttled) RateLimited() bool { return true }

type fakeExporter struct {
	batches   [][]string
	failures  int // calls that return a throttle error before succeeding
	exportErr error
	rendered  map[string]string
	fetchErr  map[string]error
}

func (f *fakeExporter) Export(_ context.Context, ids []string) (map[string]string, error) {
	f.batches = append(f.batches, append([]string(nil), ids...))
	if f.exportErr != nil {
		return nil, f.exportErr
	}
	if f.failures > 0 {
		f.failures--
		return nil, throttled{}
	}
	out := map[string]string{}
	for _, id := range ids {
		if ref, ok := f.rendered[id]; ok {
			out[id] = ref
		}
	}
	return out, nil
}

func (f *fakeExporter) Fetch(_ context.Context, ref string) ([]byte, error) {
	if err := f.fetchErr[ref]; err != nil {
		return nil, err
	}
	return []byte("img:" + ref), nil
}

func testPlan(ids ...string) flow.Plan {
	entries := make([]flow.PlanFrame, len(ids))
	for i, id := range ids {
		entries[i] = flow.PlanFrame{ID: id, Name: "Frame " + id, Duration: 2, Transition: flow.Fade}
	}
	return flow.NewPlan(entries)
}

func newScratch(t *testing.T) *Scratch {
	t.Helper()
	s, err := NewScratch(t.TempDir(), logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func recordingPolicy(slept *[]time.Duration) retry.Policy {
	return retry.Policy{
		MaxAttempts:  3,
		InitialDelay: 15 * time.Second,
		MaxDelay:     60 * time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			*slept = append(*slept, d)
			return nil
		},
	}
}

func TestMaterialize_OneExportCallForAllIDs(t *testing.T) {
	exp := &fakeExporter{rendered: map[string]string{"a": "ra", "b": "rb", "c": "rc", "d": "rd"}}
	var slept []time.Duration
	m := New(Options{Retry: recordingPolicy(&slept)}, logging.Discard())

	frames, err := m.Materialize(context.Background(), exp, testPlan("a", "b", "c", "d"), newScratch(t))
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if len(exp.batches) != 1 {
		t.Fatalf("export calls = %d, want 1", len(exp.batches))
	}
	if !reflect.DeepEqual(exp.batches[0], []string{"a", "b", "c", "d"}) {
		t.Errorf("batch = %v", exp.batches[0])
	}
	if len(frames) != 4 || len(slept) != 0 {
		t.Errorf("frames = %d slept = %v", len(frames), slept)
	}
}

func TestMaterialize_RetriesWholeBatchOnRateLimit(t *testing.T) {
	exp := &fakeExporter{failures: 2, rendered: map[string]string{"a": "ra", "b": "rb"}}
	var slept []time.Duration
	m := New(Options{Retry: recordingPolicy(&slept)}, logging.Discard())

	frames, err := m.Materialize(context.Background(), exp, testPlan("a", "b"), newScratch(t))
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if len(exp.batches) != 3 {
		t.Fatalf("export calls = %d, want 3", len(exp.batches))
	}
	for i, b := range exp.batches {
		if !reflect.DeepEqual(b, []string{"a", "b"}) {
			t.Errorf("attempt %d batch = %v, want the full batch", i+1, b)
		}
	}
	if want := []time.Duration{15 * time.Second, 30 * time.Second}; !reflect.DeepEqual(slept, want) {
		t.Errorf("backoff = %v, want %v", slept, want)
	}
	if len(frames) != 2 {
		t.Errorf("frames = %d, want 2", len(frames))
	}
}

func TestMaterialize_RateLimitExhausted(t *testing.T) {
	exp := &fakeExporter{failures: 10}
	var slept []time.Duration
	m := New(Options{Retry: recordingPolicy(&slept)}, logging.Discard())

	_, err := m.Materialize(context.Background(), exp, testPlan("a", "b", "c"), newScratch(t))
	if !errors.Is(err, apperr.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if apperr.CategoryOf(err) != apperr.RateLimited {
		t.Errorf("category = %s", apperr.CategoryOf(err))
	}
	if len(exp.batches) != 3 {
		t.Errorf("export calls = %d, want 3", len(exp.batches))
	}
	for i := 1; i < len(slept); i++ {
		if slept[i] < slept[i-1] {
			t.Errorf("backoff decreased: %v", slept)
		}
	}
}

func TestMaterialize_OtherErrorsAreNotRetried(t *testing.T) {
	exp := &fakeExporter{exportErr: errors.New("HTTP 404")}
	var slept []time.Duration
	m := New(Options{Retry: recordingPolicy(&slept)}, logging.Discard())

	_, err := m.Materialize(context.Background(), exp, testPlan("a", "b"), newScratch(t))
	if err == nil || errors.Is(err, apperr.ErrRateLimited) {
		t.Fatalf("err = %v, want plain export error", err)
	}
	if len(exp.batches) != 1 {
		t.Errorf("export calls = %d, want 1", len(exp.batches))
	}
}

func TestMaterialize_SkipsMissingAndKeepsPlanOrder(t *testing.T) {
	exp := &fakeExporter{
		rendered: map[string]string{"3": "r3", "1": "r1", "4": "r4"},
		fetchErr: map[string]error{"r4": errors.New("403 expired")},
	}
	var slept []time.Duration
	m := New(Options{Retry: recordingPolicy(&slept)}, logging.Discard())
	scratch := newScratch(t)

	frames, err := m.Materialize(context.Background(), exp, testPlan("3", "2", "1", "4"), scratch)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}

	var ids []string
	for _, f := range frames {
		ids = append(ids, f.ID)
		data, err := os.ReadFile(f.Path)
		if err != nil {
			t.Fatalf("read %s: %v", f.Path, err)
		}
		if string(data) != "img:r"+f.ID {
			t.Errorf("frame %s content = %q", f.ID, data)
		}
		if filepath.Dir(f.Path) != scratch.Dir() {
			t.Errorf("frame %s written outside scratch: %s", f.ID, f.Path)
		}
	}
	if !reflect.DeepEqual(ids, []string{"3", "1"}) {
		t.Errorf("ids = %v, want [3 1]", ids)
	}
}

func TestMaterialize_Batching(t *testing.T) {
	rendered := map[string]string{}
	ids := []string{"a", "b", "c", "d", "e", "f", "g"}
	for _, id := range ids {
		rendered[id] = "r" + id
	}
	exp := &fakeExporter{rendered: rendered}
	var slept []time.Duration
	m := New(Options{BatchSize: 5, Retry: recordingPolicy(&slept)}, logging.Discard())

	frames, err := m.Materialize(context.Background(), exp, testPlan(ids...), newScratch(t))
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{{"a", "b", "c", "d", "e"}, {"f", "g"}}
	if !reflect.DeepEqual(exp.batches, want) {
		t.Errorf("batches = %v, want %v", exp.batches, want)
	}
	if len(frames) != len(ids) {
		t.Errorf("frames = %d, want %d", len(frames), len(ids))
	}
}

func TestScratch_Cleanup(t *testing.T) {
	root := t.TempDir()
	s, err := NewScratch(root, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	p, err := s.WriteFile("one.png", []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	outside := filepath.Join(root, "partial.mp4")
	os.WriteFile(outside, []byte("y"), 0o644)
	s.Track(outside)
	s.Track(filepath.Join(root, "never-created"))

	if failed := s.Cleanup(); failed != 0 {
		t.Errorf("Cleanup() failures = %d, want 0", failed)
	}
	for _, path := range []string{p, outside, s.Dir()} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("%s still exists", path)
		}
	}
}

func TestNewScratch_UniquePerRun(t *testing.T) {
	root := t.TempDir()
	a, _ := NewScratch(root, logging.Discard())
	b, _ := NewScratch(root, logging.Discard())
	if a.Dir() == b.Dir() || a.ID() == b.ID() {
		t.Fatalf("scratch dirs collide: %s", a.Dir())
	}
}
