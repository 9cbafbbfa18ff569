package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/mockshelf/mockshelf/internal/apperr"
	"github.com/mockshelf/mockshelf/internal/assets"
	"github.com/mockshelf/mockshelf/internal/db"
	"github.com/mockshelf/mockshelf/internal/encoder"
	"github.com/mockshelf/mockshelf/internal/figma"
	"github.com/mockshelf/mockshelf/internal/flow"
	"github.com/mockshelf/mockshelf/internal/logging"
	"github.com/mockshelf/mockshelf/internal/materialize"
	"github.com/mockshelf/mockshelf/internal/media"
)

const testURL = "https://www.figma.com/design/AbC123/Checkout"

type fakeFiles struct {
	data  *figma.FileData
	err   error
	token string
}

func (f *fakeFiles) Get(_ context.Context, token, key string) (*figma.FileData, error) {
	f.token = token
	if f.err != nil {
		return nil, f.err
	}
	d := *f.data
	d.Key = key
	return &d, nil
}

type fakeExporter struct {
	rendered map[string]bool
	requests [][]string
}

func (f *fakeExporter) Export(_ context.Context, ids []string) (map[string]string, error) {
	f.requests = append(f.requests, ids)
	out := map[string]string{}
	for _, id := range ids {
		if f.rendered == nil || f.rendered[id] {
			out[id] = "ref:" + id
		}
	}
	return out, nil
}

func (f *fakeExporter) Fetch(_ context.Context, ref string) ([]byte, error) {
	return []byte(ref), nil
}

type fakeAssembler struct {
	clips []encoder.Clip
	err   error
}

func (f *fakeAssembler) Assemble(_ context.Context, clips []encoder.Clip, out string) (*encoder.Result, error) {
	f.clips = clips
	if f.err != nil {
		return nil, f.err
	}
	if err := os.WriteFile(out, []byte("mp4"), 0o644); err != nil {
		return nil, err
	}
	return &encoder.Result{Path: out, Strategy: encoder.SelectStrategy(clips), Duration: encoder.TotalDuration(clips)}, nil
}

type fakeDoctor struct{ err error }

func (f fakeDoctor) Get(context.Context) (*encoder.Capabilities, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &encoder.Capabilities{Version: "6.1", HasXfade: true}, nil
}

type harness struct {
	svc       *Service
	db        *db.DB
	media     string
	assets    *assets.Service
	files     *fakeFiles
	exporter  *fakeExporter
	assembler *fakeAssembler
	scratch   string
	exportKey string
}

func newHarness(t *testing.T, data *figma.FileData) *harness {
	t.Helper()
	dir := t.TempDir()
	database, err := db.New(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	store, err := media.NewStore(filepath.Join(dir, "media"), logging.Discard())
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		db:        database,
		media:     filepath.Join(dir, "media"),
		assets:    assets.NewService(assets.NewRepository(database.Conn()), store, logging.Discard()),
		files:     &fakeFiles{data: data},
		exporter:  &fakeExporter{},
		assembler: &fakeAssembler{},
		scratch:   filepath.Join(dir, "scratch"),
	}
	h.svc = New(Deps{
		Files: h.files,
		Exporters: func(token, key string) materialize.Exporter {
			h.exportKey = key
			return h.exporter
		},
		Materializer: materialize.New(materialize.Options{}, logging.Discard()),
		Assembler:    h.assembler,
		Doctor:       fakeDoctor{},
		Assets:       h.assets,
		DefaultToken: "env-token",
		ScratchDir:   h.scratch,
		Logger:       logging.Discard(),
	})
	return h
}

func fileData(ids ...string) *figma.FileData {
	d := &figma.FileData{Name: "Checkout"}
	for _, id := range ids {
		d.Frames = append(d.Frames, flow.Frame{ID: id, Name: "Screen " + id})
	}
	return d
}

func clipPaths(clips []encoder.Clip) []string {
	out := make([]string, len(clips))
	for i, c := range clips {
		out[i] = filepath.Base(c.Path)
	}
	return out
}

func assertScratchEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch not cleaned up: %d entries left", len(entries))
	}
}

func TestBuildVideo_TwoFramesWithFade(t *testing.T) {
	data := fileData("1:1", "1:2")
	data.Connections = []flow.Connection{{SourceID: "1:1", DestID: "1:2"}}
	h := newHarness(t, data)

	res, err := h.svc.BuildVideo(context.Background(), VideoRequest{
		SourceURL: testURL,
		Settings:  flow.Settings{Duration: 2, Transition: flow.Fade},
	})
	if err != nil {
		t.Fatalf("BuildVideo() error = %v", err)
	}
	if res.FramesCount != 2 || res.TotalDuration != 4 {
		t.Errorf("frames = %d, total = %v; want 2, 4", res.FramesCount, res.TotalDuration)
	}
	if res.Strategy != encoder.StrategyComplex {
		t.Errorf("strategy = %s, want complex", res.Strategy)
	}
	if res.Asset.Source != assets.SourceFigmaVideo || res.Asset.Format != "mp4" || res.Asset.Name != "Checkout walkthrough" {
		t.Errorf("asset = %+v", res.Asset)
	}
	if h.files.token != "env-token" || h.exportKey != "AbC123" {
		t.Errorf("token = %q, key = %q", h.files.token, h.exportKey)
	}

	imports, err := h.assets.Repo().ListImports(context.Background(), "AbC123")
	if err != nil {
		t.Fatal(err)
	}
	if len(imports) != 1 || imports[0].AssetID != res.Asset.ID || !reflect.DeepEqual(imports[0].NodeIDs, []string{"1:1", "1:2"}) {
		t.Errorf("imports = %+v", imports)
	}

	job, err := h.assets.Repo().GetJob(context.Background(), res.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != assets.JobStatusCompleted || job.AssetID != res.Asset.ID || job.Progress != 100 {
		t.Errorf("job = %+v", job)
	}
	assertScratchEmpty(t, h.scratch)
}

func TestBuildVideo_FollowsChainOnly(t *testing.T) {
	data := fileData("1", "2", "3")
	data.Connections = []flow.Connection{{SourceID: "1", DestID: "2"}}
	h := newHarness(t, data)

	res, err := h.svc.BuildVideo(context.Background(), VideoRequest{SourceURL: testURL})
	if err != nil {
		t.Fatalf("BuildVideo() error = %v", err)
	}
	if got := res.Plan.IDs(); !reflect.DeepEqual(got, []string{"1", "2"}) {
		t.Errorf("plan = %v, want [1 2]", got)
	}
	if !reflect.DeepEqual(h.exporter.requests, [][]string{{"1", "2"}}) {
		t.Errorf("export requests = %v", h.exporter.requests)
	}
	if res.Strategy != encoder.StrategySimple {
		t.Errorf("strategy = %s, want simple for default cuts", res.Strategy)
	}
}

func TestBuildVideo_SkipsUnexportedFrames(t *testing.T) {
	h := newHarness(t, fileData("a", "b", "c"))
	h.exporter.rendered = map[string]bool{"a": true, "c": true}

	res, err := h.svc.BuildVideo(context.Background(), VideoRequest{SourceURL: testURL})
	if err != nil {
		t.Fatalf("BuildVideo() error = %v", err)
	}
	if res.FramesCount != 2 || res.TotalDuration != 4 {
		t.Errorf("frames = %d, total = %v", res.FramesCount, res.TotalDuration)
	}
	if got := clipPaths(h.assembler.clips); !reflect.DeepEqual(got, []string{"frame_000.png", "frame_002.png"}) {
		t.Errorf("clips = %v", got)
	}
	if res.Plan.Len() != 3 {
		t.Errorf("plan should still list the requested frames, got %d", res.Plan.Len())
	}
}

func TestBuildVideo_StoredTokenWins(t *testing.T) {
	h := newHarness(t, fileData("a", "b"))
	if err := h.assets.SetFigmaToken(context.Background(), "stored"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.BuildVideo(context.Background(), VideoRequest{SourceURL: testURL}); err != nil {
		t.Fatal(err)
	}
	if h.files.token != "stored" {
		t.Errorf("token = %q, want stored", h.files.token)
	}
}

func TestBuildVideo_Sequence(t *testing.T) {
	h := newHarness(t, fileData("a", "b", "c"))
	res, err := h.svc.BuildVideo(context.Background(), VideoRequest{
		SourceURL: testURL,
		Mode:      flow.ModeSequence,
		Sequence:  []flow.PlanFrame{{ID: "c", Duration: 3}, {ID: "a", Transition: flow.Slide}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Plan.IDs(); !reflect.DeepEqual(got, []string{"c", "a"}) {
		t.Errorf("plan = %v", got)
	}
	if res.TotalDuration != 5 {
		t.Errorf("total = %v, want 5", res.TotalDuration)
	}
}

func TestBuildVideo_Errors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness)
		req     VideoRequest
		wantCat apperr.Category
	}{
		{
			name:    "missing url",
			req:     VideoRequest{},
			wantCat: apperr.Validation,
		},
		{
			name:    "not a design url",
			req:     VideoRequest{SourceURL: "https://example.com/x"},
			wantCat: apperr.Validation,
		},
		{
			name:    "short sequence",
			req:     VideoRequest{SourceURL: testURL, Mode: flow.ModeSequence, Sequence: []flow.PlanFrame{{ID: "a"}}},
			wantCat: apperr.Validation,
		},
		{
			name:    "ai mode without planner",
			req:     VideoRequest{SourceURL: testURL, Mode: flow.ModeAI},
			wantCat: apperr.Validation,
		},
		{
			name:    "no token",
			setup:   func(h *harness) { h.svc.deps.DefaultToken = "" },
			req:     VideoRequest{SourceURL: testURL},
			wantCat: apperr.CredentialMissing,
		},
		{
			name:    "token rejected",
			setup:   func(h *harness) { h.files.err = &figma.APIError{StatusCode: 403} },
			req:     VideoRequest{SourceURL: testURL},
			wantCat: apperr.CredentialMissing,
		},
		{
			name:    "file missing",
			setup:   func(h *harness) { h.files.err = &figma.APIError{StatusCode: 404} },
			req:     VideoRequest{SourceURL: testURL},
			wantCat: apperr.NotFound,
		},
		{
			name:    "empty file",
			setup:   func(h *harness) { h.files.data = fileData() },
			req:     VideoRequest{SourceURL: testURL},
			wantCat: apperr.NoFramesResolved,
		},
		{
			name:    "single frame",
			setup:   func(h *harness) { h.files.data = fileData("a") },
			req:     VideoRequest{SourceURL: testURL},
			wantCat: apperr.NoFramesResolved,
		},
		{
			name:    "nothing exported",
			setup:   func(h *harness) { h.exporter.rendered = map[string]bool{} },
			req:     VideoRequest{SourceURL: testURL},
			wantCat: apperr.NoFramesMaterialized,
		},
		{
			name:    "encoder missing",
			setup:   func(h *harness) { h.svc.deps.Doctor = fakeDoctor{err: encoder.ErrNotInstalled} },
			req:     VideoRequest{SourceURL: testURL},
			wantCat: apperr.EnvironmentUnsupported,
		},
		{
			name:    "encoding fails",
			setup:   func(h *harness) { h.assembler.err = apperr.New(apperr.EncodingFailed, "exit 1") },
			req:     VideoRequest{SourceURL: testURL},
			wantCat: apperr.EncodingFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, fileData("a", "b"))
			if tt.setup != nil {
				tt.setup(h)
			}
			_, err := h.svc.BuildVideo(context.Background(), tt.req)
			if got := apperr.CategoryOf(err); got != tt.wantCat {
				t.Fatalf("category = %s, want %s (err = %v)", got, tt.wantCat, err)
			}
			assertScratchEmpty(t, h.scratch)
		})
	}
}

func TestBuildVideo_FailedJobRecorded(t *testing.T) {
	h := newHarness(t, fileData("a", "b"))
	h.assembler.err = apperr.New(apperr.EncodingFailed, "exit 1")
	if _, err := h.svc.BuildVideo(context.Background(), VideoRequest{SourceURL: testURL}); err == nil {
		t.Fatal("expected error")
	}

	jobs, err := h.assets.ListJobs(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Status != assets.JobStatusFailed || !strings.Contains(jobs[0].Error, "exit 1") {
		t.Errorf("jobs = %+v", jobs)
	}
	list, _ := h.assets.List(context.Background(), assets.Filter{})
	if len(list) != 0 {
		t.Errorf("no asset should be stored, got %d", len(list))
	}
}

func TestBuildVideo_UnrecordedVideoRemoved(t *testing.T) {
	h := newHarness(t, fileData("a", "b"))
	if _, err := h.db.Conn().Exec(`DROP TABLE import_records`); err != nil {
		t.Fatal(err)
	}

	_, err := h.svc.BuildVideo(context.Background(), VideoRequest{SourceURL: testURL})
	if apperr.CategoryOf(err) != apperr.Internal {
		t.Fatalf("err = %v, want internal", err)
	}
	list, _ := h.assets.List(context.Background(), assets.Filter{})
	if len(list) != 0 {
		t.Errorf("assets = %d, want the video removed", len(list))
	}
	entries, _ := os.ReadDir(h.media)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".mp4") {
			t.Errorf("media file %s left behind", e.Name())
		}
	}
}

func TestSourceError(t *testing.T) {
	tests := []struct {
		err  error
		want apperr.Category
	}{
		{&figma.APIError{StatusCode: 429}, apperr.RateLimited},
		{&figma.APIError{StatusCode: 401}, apperr.CredentialMissing},
		{&figma.APIError{StatusCode: 500}, apperr.Internal},
		{figma.ErrMissingToken, apperr.CredentialMissing},
		{apperr.New(apperr.RateLimited, "budget spent"), apperr.RateLimited},
		{errors.New("boom"), apperr.Internal},
	}
	for _, tt := range tests {
		if got := apperr.CategoryOf(sourceError(tt.err, "op")); got != tt.want {
			t.Errorf("sourceError(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestPreviewPlan_DoesNotExport(t *testing.T) {
	h := newHarness(t, fileData("a", "b", "c"))
	plan, err := h.svc.PreviewPlan(context.Background(), VideoRequest{SourceURL: testURL})
	if err != nil {
		t.Fatal(err)
	}
	if plan.Len() != 3 || len(h.exporter.requests) != 0 {
		t.Errorf("plan = %d frames, export requests = %d", plan.Len(), len(h.exporter.requests))
	}
}

func TestImportFrames(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		nodeIDs []string
		want    []string
	}{
		{"explicit ids", testURL, []string{"b", "b", " a "}, []string{"Screen b", "Screen a"}},
		{"node in url", testURL + "?node-id=c", nil, []string{"Screen c"}},
		{"whole file", testURL, nil, []string{"Screen a", "Screen b", "Screen c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, fileData("a", "b", "c"))
			got, err := h.svc.ImportFrames(context.Background(), ImportRequest{
				SourceURL: tt.url,
				NodeIDs:   tt.nodeIDs,
				Metadata:  assets.Metadata{DeviceOEM: "apple"},
			})
			if err != nil {
				t.Fatalf("ImportFrames() error = %v", err)
			}
			var names []string
			for _, a := range got {
				names = append(names, a.Name)
				if a.Source != assets.SourceFigmaImport || a.Format != "png" || a.DeviceOEM != "apple" {
					t.Errorf("asset = %+v", a)
				}
			}
			if !reflect.DeepEqual(names, tt.want) {
				t.Errorf("names = %v, want %v", names, tt.want)
			}
			imports, _ := h.assets.Repo().ListImports(context.Background(), "AbC123")
			if len(imports) != len(tt.want) {
				t.Errorf("import records = %d, want %d", len(imports), len(tt.want))
			}
			assertScratchEmpty(t, h.scratch)
		})
	}
}

func TestBuildFlowVideo(t *testing.T) {
	h := newHarness(t, fileData())
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"one.png", "two.png"} {
		a, err := h.assets.Upload(ctx, assets.Upload{Filename: name, Body: strings.NewReader("img")})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, a.ID)
	}
	fl, err := h.assets.CreateFlow(ctx, "Onboarding", []assets.NewFlowItem{
		{AssetID: ids[0], Duration: 1.5, Transition: "fade"},
		{AssetID: ids[1], Duration: 2},
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := h.svc.BuildFlowVideo(ctx, fl.ID, FlowVideoRequest{})
	if err != nil {
		t.Fatalf("BuildFlowVideo() error = %v", err)
	}
	if res.FramesCount != 2 || res.TotalDuration != 3.5 || res.Asset.Name != "Onboarding" || res.Asset.Source != assets.SourceFlowVideo {
		t.Errorf("result = %+v, asset = %+v", res, res.Asset)
	}
	if len(h.assembler.clips) != 2 || h.assembler.clips[0].Transition != flow.Fade {
		t.Errorf("clips = %+v", h.assembler.clips)
	}
	assertScratchEmpty(t, h.scratch)
}

func TestBuildFlowVideo_Missing(t *testing.T) {
	h := newHarness(t, fileData())
	_, err := h.svc.BuildFlowVideo(context.Background(), "nope", FlowVideoRequest{})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestAssetSource_Export(t *testing.T) {
	h := newHarness(t, fileData())
	ctx := context.Background()
	img, err := h.assets.Upload(ctx, assets.Upload{Filename: "one.png", Body: strings.NewReader("img")})
	if err != nil {
		t.Fatal(err)
	}
	clip, err := h.assets.Upload(ctx, assets.Upload{Filename: "clip.mp4", Body: strings.NewReader("mp4")})
	if err != nil {
		t.Fatal(err)
	}
	src := AssetSource{Assets: h.assets}

	refs, err := src.Export(ctx, []string{img.ID, clip.ID, "deleted"})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if len(refs) != 1 || refs[img.ID] == "" {
		t.Errorf("refs = %v, want only the image", refs)
	}
	data, err := src.Fetch(ctx, refs[img.ID])
	if err != nil || string(data) != "img" {
		t.Errorf("Fetch() = %q, %v", data, err)
	}
}

func TestAssetSource_ExportStoreFailure(t *testing.T) {
	h := newHarness(t, fileData())
	ctx := context.Background()
	img, err := h.assets.Upload(ctx, assets.Upload{Filename: "one.png", Body: strings.NewReader("img")})
	if err != nil {
		t.Fatal(err)
	}
	h.db.Close()

	_, err = AssetSource{Assets: h.assets}.Export(ctx, []string{img.ID})
	if err == nil {
		t.Fatal("expected error from a closed store")
	}
	if got := apperr.CategoryOf(err); got != apperr.Internal {
		t.Errorf("category = %s, want %s", got, apperr.Internal)
	}
}
