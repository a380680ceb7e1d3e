package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inferd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	Status() types.StatusResponse
	Ready() bool
	Runners() []types.RunnerInfo
	// RunnerSchema returns the JSON Schema of a runner's parameters.
	RunnerSchema(name string) (map[string]any, bool)
	Capability(c types.Capability) types.CapabilityResponse
	// Infer starts a request and returns its id and results. The channel
	// closes after the terminal result, or without one when cancelled.
	Infer(ctx context.Context, c types.Capability, req types.InferRequest) (string, <-chan types.InferenceResult)
	Cancel(requestID string) bool
	Settings() types.EngineSettings
	UpdateSettings(ctx context.Context, s types.EngineSettings) (types.ReloadResponse, error)
}

type handlers struct{ svc Service }

// NewMux returns the HTTP handler serving svc.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	h := &handlers{svc: svc}
	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Get("/models", h.models)
	r.Get("/status", h.status)
	r.Get("/runners", h.runners)
	r.Get("/runners/{name}/schema", h.runnerSchema)
	r.Get("/capabilities/{capability}", h.capability)
	r.Post("/v1/infer/{capability}", h.infer)
	r.Delete("/v1/requests/{id}", h.cancel)
	r.Get("/settings", h.getSettings)
	r.Put("/settings", h.putSettings)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Debug().Err(err).Msg("encode response")
	}
}

func requireJSON(w http.ResponseWriter, r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	return true
}

func (h *handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handlers) readyz(w http.ResponseWriter, _ *http.Request) {
	if h.svc.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("loading"))
}

// models godoc
// @Summary  List model files
// @Tags     models
// @Produce  json
// @Success  200 {object} types.ModelsResponse
// @Router   /models [get]
func (h *handlers) models(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: h.svc.ListModels()})
}

// status godoc
// @Summary  Runner, budget and request status
// @Tags     status
// @Produce  json
// @Success  200 {object} types.StatusResponse
// @Router   /status [get]
func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// runners godoc
// @Summary  List registered runners
// @Tags     runners
// @Produce  json
// @Success  200 {object} types.RunnersResponse
// @Router   /runners [get]
func (h *handlers) runners(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, types.RunnersResponse{Runners: h.svc.Runners()})
}

// runnerSchema godoc
// @Summary  JSON Schema of a runner's parameters
// @Tags     runners
// @Produce  json
// @Param    name path string true "runner name"
// @Success  200 {object} map[string]any
// @Failure  404 {object} types.ErrorResponse
// @Router   /runners/{name}/schema [get]
func (h *handlers) runnerSchema(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	schema, ok := h.svc.RunnerSchema(name)
	if !ok {
		writeError(w, types.Errorf(types.CodeRunnerNotFound, "runner %s is not registered", name))
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

// capability godoc
// @Summary  Resolved runner and candidates for a capability
// @Tags     runners
// @Produce  json
// @Param    capability path string true "LLM, ASR, TTS, VLM or GUARDIAN"
// @Success  200 {object} types.CapabilityResponse
// @Failure  422 {object} types.ErrorResponse
// @Router   /capabilities/{capability} [get]
func (h *handlers) capability(w http.ResponseWriter, r *http.Request) {
	c, err := types.ParseCapability(chi.URLParam(r, "capability"))
	if err != nil {
		writeError(w, types.Errorf(types.CodeCapabilityUnsupported, "%v", err))
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Capability(c))
}

// infer godoc
// @Summary  Run an inference request
// @Description With stream=true the response is NDJSON, one types.Frame per line; the last frame has complete=true.
// @Tags     inference
// @Accept   json
// @Produce  json
// @Produce  application/x-ndjson
// @Param    capability path string true "LLM, ASR, TTS, VLM or GUARDIAN"
// @Param    request body types.InferRequest true "request"
// @Success  200 {object} types.Frame
// @Failure  400 {object} types.ErrorResponse
// @Failure  404 {object} types.ErrorResponse
// @Failure  429 {object} types.ErrorResponse
// @Router   /v1/infer/{capability} [post]
func (h *handlers) infer(w http.ResponseWriter, r *http.Request) {
	c, err := types.ParseCapability(chi.URLParam(r, "capability"))
	if err != nil {
		writeError(w, types.Errorf(types.CodeCapabilityUnsupported, "%v", err))
		return
	}
	if !requireJSON(w, r) {
		return
	}
	if !allowInfer() {
		IncrementBackpressure("rate")
		writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req types.InferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RequestID == "" {
		req.RequestID = r.Header.Get("X-Request-ID")
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", req.RequestID)

	lg := newInferLog(r, req.RequestID)
	lg.begin(c.String(), req.Runner)

	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if inferTimeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, inferTimeout)
		defer stop()
	}
	id, results := h.svc.Infer(ctx, c, req)
	if req.Stream {
		h.streamFrames(ctx, w, r, id, results, lg)
		return
	}

	var final *types.InferenceResult
	for res := range results {
		if res.IsComplete() {
			final = &res
		}
	}
	switch {
	case final == nil:
		noResult(ctx, w, r, id, lg)
	case final.Error != nil:
		lg.end(writeError(w, final.Error), final.Error)
	default:
		writeJSON(w, http.StatusOK, types.Frame{RequestID: id, Result: *final, Complete: true})
		lg.end(http.StatusOK, nil)
	}
}

// streamFrames writes results as NDJSON. An error before the first frame
// is returned as a regular error response.
func (h *handlers) streamFrames(ctx context.Context, w http.ResponseWriter, r *http.Request, id string, results <-chan types.InferenceResult, lg inferLog) {
	first, ok := <-results
	if !ok {
		noResult(ctx, w, r, id, lg)
		return
	}
	if first.IsComplete() && first.Error != nil {
		lg.end(writeError(w, first.Error), first.Error)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	out := io.Writer(w)
	if lg.lvl >= LevelDebug {
		out = io.MultiWriter(w, &frameLogger{rid: id})
	}
	enc := json.NewEncoder(out)
	flusher, _ := w.(http.Flusher)
	write := func(res types.InferenceResult) bool {
		if err := enc.Encode(types.Frame{RequestID: id, Result: res, Complete: res.IsComplete()}); err != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}
	if !write(first) {
		return
	}
	for res := range results {
		if !write(res) {
			return
		}
	}
	lg.end(http.StatusOK, nil)
}

// noResult answers a request that ended without a terminal result.
func noResult(ctx context.Context, w http.ResponseWriter, r *http.Request, id string, lg inferLog) {
	switch {
	case r.Context().Err() != nil:
		// client went away
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		writeJSONError(w, http.StatusGatewayTimeout, "inference timed out")
		lg.end(http.StatusGatewayTimeout, ctx.Err())
	default:
		writeJSON(w, http.StatusOK, types.CancelResponse{RequestID: id, Cancelled: true})
		lg.end(http.StatusOK, nil)
	}
}

// cancel godoc
// @Summary  Cancel an active request
// @Tags     inference
// @Produce  json
// @Param    id path string true "request id"
// @Success  200 {object} types.CancelResponse
// @Failure  404 {object} types.ErrorResponse
// @Router   /v1/requests/{id} [delete]
func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.svc.Cancel(id) {
		writeJSONError(w, http.StatusNotFound, "no active request "+id)
		return
	}
	writeJSON(w, http.StatusOK, types.CancelResponse{RequestID: id, Cancelled: true})
}

// getSettings godoc
// @Summary  Current engine settings
// @Tags     settings
// @Produce  json
// @Success  200 {object} types.EngineSettings
// @Router   /settings [get]
func (h *handlers) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Settings())
}

// putSettings godoc
// @Summary  Replace engine settings and reload
// @Tags     settings
// @Accept   json
// @Produce  json
// @Param    settings body types.EngineSettings true "settings"
// @Success  200 {object} types.ReloadResponse
// @Failure  400 {object} types.ErrorResponse
// @Router   /settings [put]
func (h *handlers) putSettings(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var s types.EngineSettings
	if err := dec.Decode(&s); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid settings: "+err.Error())
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	resp, err := h.svc.UpdateSettings(ctx, s)
	if err != nil {
		writeError(w, err)
		return
	}
	zlog.Info().Bool("success", resp.Success).Strs("changes", resp.Changes).Msg("settings updated")
	writeJSON(w, http.StatusOK, resp)
}
