package types

// InferRequest is the body of POST /v1/infer/{capability}.
type InferRequest struct {
	// Optional request id. Generated when empty.
	// example: req-1
	RequestID string `json:"request_id,omitempty" example:"req-1"`
	// Optional client session id.
	// example: chat-42
	SessionID string `json:"session_id,omitempty" example:"chat-42"`
	// Named inputs. LLM expects "text", VLM expects "text" and "image" (base64), GUARDIAN expects "text".
	Inputs map[string]any `json:"inputs"`
	// Per-request parameters validated against the runner schema. "model_id" overrides the model.
	Parameters map[string]any `json:"parameters,omitempty"`
	// Optional preferred runner name.
	// example: ollama
	Runner string `json:"runner,omitempty" example:"ollama"`
	// Stream NDJSON frames when true.
	// example: true
	Stream bool `json:"stream,omitempty" example:"true"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
	// Engine error code when the failure came from dispatch.
	// example: E301
	EngineCode ErrorCode `json:"engine_code,omitempty" example:"E301"`
}

// RunnerInfo describes one registered runner.
type RunnerInfo struct {
	// example: llama-server
	Name string `json:"name" example:"llama-server"`
	// example: LLAMA_CPP
	Vendor string `json:"vendor" example:"LLAMA_CPP"`
	// example: NORMAL
	Tier string `json:"tier" example:"NORMAL"`
	// Selection score; lower wins.
	// example: 21
	Score        int          `json:"score" example:"21"`
	Capabilities []Capability `json:"capabilities"`
	// example: true
	Streaming bool `json:"streaming" example:"true"`
	// example: tinyllama-q4.gguf
	DefaultModel string `json:"default_model,omitempty" example:"tinyllama-q4.gguf"`
	// Lifecycle state (unloaded, loading, loaded, unloading).
	// example: loaded
	State string `json:"state" example:"loaded"`
	// example: tinyllama-q4.gguf
	LoadedModel string `json:"loaded_model,omitempty" example:"tinyllama-q4.gguf"`
	Description string `json:"description,omitempty"`
}

// RunnersResponse is returned by GET /runners.
type RunnersResponse struct {
	Runners []RunnerInfo `json:"runners"`
}

// CapabilityResponse is returned by GET /capabilities/{capability}.
type CapabilityResponse struct {
	Capability Capability `json:"capability"`
	// Runner that new requests are routed to.
	// example: ollama
	Selected string `json:"selected,omitempty" example:"ollama"`
	// Candidates in score order.
	Candidates []RunnerInfo `json:"candidates"`
}

// RunnerStatus summarizes a runner controller for /status.
type RunnerStatus struct {
	// example: llama-server
	Runner string `json:"runner" example:"llama-server"`
	// example: loaded
	State string `json:"state" example:"loaded"`
	// example: tinyllama-q4.gguf
	ModelID string `json:"model_id,omitempty" example:"tinyllama-q4.gguf"`
	// Last time this runner served a request (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
	// Estimated memory in MB.
	// example: 1200
	EstMB int `json:"est_mb" example:"1200"`
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// example: 32
	MaxQueueDepth int    `json:"max_queue_depth" example:"32"`
	LastError     string `json:"last_error,omitempty"`
	// Effective parameters with sensitive values masked.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Runners []RunnerStatus `json:"runners"`
	// example: 8192
	BudgetMB int `json:"budget_mb" example:"8192"`
	// example: 2048
	UsedMB int `json:"used_est_mb" example:"2048"`
	// example: 512
	MarginMB int `json:"margin_mb" example:"512"`
	// Active requests tracked for cancellation.
	// example: 2
	ActiveRequests int `json:"active_requests" example:"2"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// example: 5
	EvictionsTotal uint64 `json:"evictions_total" example:"5"`
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// Result of the last settings reload.
	LastReload *ReloadResponse `json:"last_reload,omitempty"`
}

// ReloadResponse reports the outcome of applying a settings change.
type ReloadResponse struct {
	// example: true
	Success bool `json:"success" example:"true"`
	// Changes in application order, e.g. "RUNNER_SWITCHED(LLM)".
	Changes []string `json:"changes"`
	Error   string   `json:"error,omitempty"`
}

// CancelResponse is returned by DELETE /v1/requests/{id}.
type CancelResponse struct {
	// example: req-1
	RequestID string `json:"request_id" example:"req-1"`
	// example: true
	Cancelled bool `json:"cancelled" example:"true"`
}
