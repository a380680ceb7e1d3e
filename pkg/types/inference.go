package types

// InferenceRequest is one unit of work for a capability. Treat as immutable.
type InferenceRequest struct {
	// Request identifier used for cancellation and result correlation.
	// example: 7b0e5c1e-2f2a-4d0c-9a55-2f3c6e9f1a10
	ID string `json:"request_id,omitempty" example:"7b0e5c1e-2f2a-4d0c-9a55-2f3c6e9f1a10"`
	// Client session id.
	// example: chat-42
	SessionID string `json:"session_id,omitempty" example:"chat-42"`
	// Named inputs, e.g. "text", "image", "audio".
	Inputs map[string]any `json:"inputs"`
	// Per-request parameters; "model_id" selects the model.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Input returns the named input.
func (r InferenceRequest) Input(name string) (any, bool) {
	v, ok := r.Inputs[name]
	return v, ok
}

// InputString returns the named input when it is a string.
func (r InferenceRequest) InputString(name string) (string, bool) {
	v, ok := r.Inputs[name].(string)
	return v, ok
}

// Param returns the named parameter.
func (r InferenceRequest) Param(name string) (any, bool) {
	v, ok := r.Parameters[name]
	return v, ok
}

// InferenceResult is a streamed chunk (Partial) or the terminal result.
type InferenceResult struct {
	Outputs  map[string]any `json:"outputs,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Error    *EngineError   `json:"error,omitempty"`
	Partial  bool           `json:"partial"`
	// Cancelled marks a result produced after cancellation. Never sent to clients.
	Cancelled bool `json:"-"`
}

// IsComplete reports whether r is the terminal frame of its request.
func (r InferenceResult) IsComplete() bool { return !r.Partial }

// Text returns the "text" output when present.
func (r InferenceResult) Text() string {
	s, _ := r.Outputs["text"].(string)
	return s
}

// TextChunk builds a partial result carrying one text fragment.
func TextChunk(s string) InferenceResult {
	return InferenceResult{Outputs: map[string]any{"text": s}, Partial: true}
}

// Final builds a terminal success result.
func Final(outputs, metadata map[string]any) InferenceResult {
	return InferenceResult{Outputs: outputs, Metadata: metadata}
}

// ErrorResult builds a terminal error result.
func ErrorResult(err *EngineError) InferenceResult {
	return InferenceResult{Error: err}
}

// Frame is one result tagged with its request id, as delivered to a transport.
type Frame struct {
	RequestID string          `json:"request_id"`
	Result    InferenceResult `json:"result"`
	Complete  bool            `json:"complete"`
}
