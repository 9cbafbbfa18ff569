package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mockshelf/mockshelf/internal/apperr"
	"github.com/mockshelf/mockshelf/internal/assets"
	"github.com/mockshelf/mockshelf/internal/pipeline"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/status", statusHandler(cfg))
	r.Put("/settings/figma-token", setTokenHandler(cfg))

	r.Route("/assets", func(r chi.Router) {
		r.Post("/", uploadHandler(cfg))
		r.Get("/", listAssetsHandler(cfg))
		r.Get("/{id}", getAssetHandler(cfg))
		r.Delete("/{id}", deleteAssetHandler(cfg))
	})
	r.Get("/media/{name}", mediaHandler(cfg))
	r.Head("/media/{name}", mediaHandler(cfg))

	r.Get("/design/frames", designFramesHandler(cfg))
	r.Post("/imports/frames", importFramesHandler(cfg))

	r.Route("/flows", func(r chi.Router) {
		r.Post("/video", buildVideoHandler(cfg))
		r.Post("/plan", previewPlanHandler(cfg))
		r.Post("/", createFlowHandler(cfg))
		r.Get("/", listFlowsHandler(cfg))
		r.Get("/{id}", getFlowHandler(cfg))
		r.Post("/{id}/video", flowVideoHandler(cfg))
	})
	r.Get("/jobs", listJobsHandler(cfg))

	return r
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		jobs, _ := cfg.Assets.ListJobs(ctx, 10)
		resp := StatusResponse{
			State:   "idle",
			Version: cfg.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		}
		for _, j := range jobs {
			if j.Status == assets.JobStatusRunning {
				resp.State = "rendering"
				if resp.ActiveJob == nil {
					jr := JobToResponse(j)
					resp.ActiveJob = &jr
				}
				resp.JobsRunning++
			}
			if j.Status == assets.JobStatusFailed && resp.LastError == "" {
				resp.LastError = j.Error
			}
		}

		caps, err := cfg.Pipeline.EncoderStatus(ctx)
		if err != nil {
			resp.Encoder.Error = err.Error()
			if resp.State == "idle" {
				resp.State = "degraded"
			}
		} else {
			resp.Encoder = EncoderStatusResponse{
				Available:   true,
				Version:     caps.Version,
				HasXfade:    caps.HasXfade,
				LastProbeAt: caps.ProbedAt.Format(time.RFC3339),
			}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func setTokenHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TokenRequest
		if err := decodeJSON(r, &req); err != nil {
			WriteAppError(w, err)
			return
		}
		if err := cfg.Assets.SetFigmaToken(r.Context(), req.Token); err != nil {
			WriteAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func uploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			WriteAppError(w, apperr.Wrap(apperr.Validation, err, "invalid multipart upload"))
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			WriteAppError(w, apperr.New(apperr.Validation, "file field is required"))
			return
		}
		defer file.Close()

		a, err := cfg.Assets.Upload(r.Context(), assets.Upload{
			Name:     r.FormValue("name"),
			Filename: header.Filename,
			Body:     file,
			Metadata: assets.Metadata{
				DeviceOEM:  r.FormValue("device_oem"),
				ScreenType: r.FormValue("screen_type"),
				AssetType:  r.FormValue("asset_type"),
			},
		})
		if err != nil {
			WriteAppError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, AssetToResponse(a))
	}
}

func listAssetsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := assets.Filter{
			DeviceOEM:  q.Get("device_oem"),
			ScreenType: q.Get("screen_type"),
			AssetType:  q.Get("asset_type"),
			Format:     q.Get("format"),
			Source:     q.Get("source"),
		}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				WriteAppError(w, apperr.New(apperr.Validation, "limit must be a non-negative integer"))
				return
			}
			f.Limit = n
		}

		list, err := cfg.Assets.List(r.Context(), f)
		if err != nil {
			WriteAppError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, AssetsToResponse(list))
	}
}

func getAssetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := cfg.Assets.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteAppError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, AssetToResponse(a))
	}
}

func deleteAssetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Assets.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			WriteAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func mediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		path, err := cfg.Store.Path(name)
		if err != nil {
			WriteError(w, http.StatusNotFound, "media not found", string(apperr.NotFound))
			return
		}
		if err := cfg.Media.ServeFile(w, r, path); err != nil {
			cfg.Logger.Error("media error", "error", err, "name", name)
		}
	}
}

func designFramesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := cfg.Pipeline.DesignFrames(r.Context(), r.URL.Query().Get("url"))
		if err != nil {
			WriteAppError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, DesignFramesResponse{
			FileKey:     data.Key,
			Name:        data.Name,
			Frames:      data.Frames,
			Connections: data.Connections,
		})
	}
}

func importFramesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ImportFramesRequest
		if err := decodeJSON(r, &req); err != nil {
			WriteAppError(w, err)
			return
		}
		list, err := cfg.Pipeline.ImportFrames(r.Context(), pipeline.ImportRequest{
			SourceURL: req.SourceURL,
			NodeIDs:   req.NodeIDs,
			Metadata:  req.Metadata.toModel(),
		})
		if err != nil {
			WriteAppError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, AssetsToResponse(list))
	}
}

func buildVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body VideoRequestBody
		if err := decodeJSON(r, &body); err != nil {
			WriteAppError(w, err)
			return
		}
		req, err := body.toRequest()
		if err != nil {
			WriteAppError(w, err)
			return
		}
		res, err := cfg.Pipeline.BuildVideo(r.Context(), req)
		if err != nil {
			WriteAppError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, VideoToResponse(res))
	}
}

func previewPlanHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body VideoRequestBody
		if err := decodeJSON(r, &body); err != nil {
			WriteAppError(w, err)
			return
		}
		req, err := body.toRequest()
		if err != nil {
			WriteAppError(w, err)
			return
		}
		plan, err := cfg.Pipeline.PreviewPlan(r.Context(), req)
		if err != nil {
			WriteAppError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, PlanToResponse(plan))
	}
}

func createFlowHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateFlowRequest
		if err := decodeJSON(r, &req); err != nil {
			WriteAppError(w, err)
			return
		}
		items := make([]assets.NewFlowItem, len(req.Items))
		for i, it := range req.Items {
			items[i] = assets.NewFlowItem{AssetID: it.AssetID, Duration: it.Duration, Transition: it.Transition}
		}
		f, err := cfg.Assets.CreateFlow(r.Context(), req.Name, items)
		if err != nil {
			WriteAppError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, FlowToResponse(f))
	}
}

func listFlowsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flows, err := cfg.Assets.ListFlows(r.Context())
		if err != nil {
			WriteAppError(w, err)
			return
		}
		resp := FlowsResponse{Flows: make([]FlowResponse, len(flows))}
		for i, f := range flows {
			resp.Flows[i] = FlowToResponse(f)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getFlowHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := cfg.Assets.GetFlow(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteAppError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, FlowToResponse(f))
	}
}

func flowVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body FlowVideoRequestBody
		if r.ContentLength != 0 {
			if err := decodeJSON(r, &body); err != nil {
				WriteAppError(w, err)
				return
			}
		}
		res, err := cfg.Pipeline.BuildFlowVideo(r.Context(), chi.URLParam(r, "id"), pipeline.FlowVideoRequest{
			Name:     body.Name,
			Metadata: body.Metadata.toModel(),
		})
		if err != nil {
			WriteAppError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, VideoToResponse(res))
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := cfg.Assets.ListJobs(r.Context(), 50)
		if err != nil {
			WriteAppError(w, err)
			return
		}
		resp := make([]JobResponse, len(jobs))
		for i, j := range jobs {
			resp[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, map[string][]JobResponse{"jobs": resp})
	}
}
