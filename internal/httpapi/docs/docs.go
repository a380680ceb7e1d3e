// Package docs holds the OpenAPI description served under /swagger when
// built with -tags=swagger. Regenerate with `swag init -g cmd/inferd/docs.go`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {"name": "inferd maintainers"},
        "license": {"name": "MIT", "url": "https://opensource.org/licenses/MIT"},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/models": {"get": {"tags": ["models"], "summary": "List model files", "produces": ["application/json"],
            "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelsResponse"}}}}},
        "/status": {"get": {"tags": ["status"], "summary": "Runner, budget and request status", "produces": ["application/json"],
            "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}}}},
        "/runners": {"get": {"tags": ["runners"], "summary": "List registered runners", "produces": ["application/json"],
            "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.RunnersResponse"}}}}},
        "/runners/{name}/schema": {"get": {"tags": ["runners"], "summary": "JSON Schema of a runner's parameters", "produces": ["application/json"],
            "parameters": [{"type": "string", "description": "runner name", "name": "name", "in": "path", "required": true}],
            "responses": {"200": {"description": "OK", "schema": {"type": "object"}},
                "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}}}},
        "/capabilities/{capability}": {"get": {"tags": ["runners"], "summary": "Resolved runner and candidates for a capability", "produces": ["application/json"],
            "parameters": [{"type": "string", "description": "LLM, ASR, TTS, VLM or GUARDIAN", "name": "capability", "in": "path", "required": true}],
            "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.CapabilityResponse"}},
                "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}}}},
        "/v1/infer/{capability}": {"post": {"tags": ["inference"], "summary": "Run an inference request",
            "description": "With stream=true the response is NDJSON, one types.Frame per line; the last frame has complete=true.",
            "consumes": ["application/json"], "produces": ["application/json", "application/x-ndjson"],
            "parameters": [{"type": "string", "description": "LLM, ASR, TTS, VLM or GUARDIAN", "name": "capability", "in": "path", "required": true},
                {"description": "request", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.InferRequest"}}],
            "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.Frame"}},
                "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}}}},
        "/v1/requests/{id}": {"delete": {"tags": ["inference"], "summary": "Cancel an active request", "produces": ["application/json"],
            "parameters": [{"type": "string", "description": "request id", "name": "id", "in": "path", "required": true}],
            "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.CancelResponse"}},
                "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}}}},
        "/settings": {
            "get": {"tags": ["settings"], "summary": "Current engine settings", "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.EngineSettings"}}}},
            "put": {"tags": ["settings"], "summary": "Replace engine settings and reload", "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"description": "settings", "name": "settings", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.EngineSettings"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ReloadResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}}}}
    },
    "definitions": {
        "types.Model": {"type": "object", "properties": {
            "id": {"type": "string", "example": "tinyllama-q4.gguf"}, "name": {"type": "string"}, "path": {"type": "string"},
            "format": {"type": "string", "example": "gguf"}, "size_mb": {"type": "integer", "example": 640}}},
        "types.ModelsResponse": {"type": "object", "properties": {"models": {"type": "array", "items": {"$ref": "#/definitions/types.Model"}}}},
        "types.ErrorResponse": {"type": "object", "properties": {
            "error": {"type": "string", "example": "invalid JSON body"}, "code": {"type": "integer", "example": 400},
            "engine_code": {"type": "string", "example": "E301"}}},
        "types.InferRequest": {"type": "object", "properties": {
            "request_id": {"type": "string", "example": "req-1"}, "session_id": {"type": "string"},
            "inputs": {"type": "object"}, "parameters": {"type": "object"},
            "runner": {"type": "string", "example": "ollama"}, "stream": {"type": "boolean", "example": true}}},
        "types.InferenceResult": {"type": "object", "properties": {
            "outputs": {"type": "object"}, "metadata": {"type": "object"}, "partial": {"type": "boolean"},
            "error": {"type": "object", "properties": {"code": {"type": "string"}, "message": {"type": "string"}}}}},
        "types.Frame": {"type": "object", "properties": {
            "request_id": {"type": "string"}, "complete": {"type": "boolean"}, "result": {"$ref": "#/definitions/types.InferenceResult"}}},
        "types.CancelResponse": {"type": "object", "properties": {"request_id": {"type": "string"}, "cancelled": {"type": "boolean"}}},
        "types.RunnerInfo": {"type": "object", "properties": {
            "name": {"type": "string"}, "vendor": {"type": "string"}, "tier": {"type": "string"}, "score": {"type": "integer"},
            "capabilities": {"type": "array", "items": {"type": "string"}}, "streaming": {"type": "boolean"},
            "default_model": {"type": "string"}, "state": {"type": "string"}, "loaded_model": {"type": "string"}, "description": {"type": "string"}}},
        "types.RunnersResponse": {"type": "object", "properties": {"runners": {"type": "array", "items": {"$ref": "#/definitions/types.RunnerInfo"}}}},
        "types.CapabilityResponse": {"type": "object", "properties": {
            "capability": {"type": "string"}, "selected": {"type": "string"},
            "candidates": {"type": "array", "items": {"$ref": "#/definitions/types.RunnerInfo"}}}},
        "types.RunnerStatus": {"type": "object", "properties": {
            "runner": {"type": "string"}, "state": {"type": "string"}, "model_id": {"type": "string"}, "last_used_unix": {"type": "integer"},
            "est_mb": {"type": "integer"}, "queue_len": {"type": "integer"}, "inflight": {"type": "integer"},
            "max_queue_depth": {"type": "integer"}, "last_error": {"type": "string"}, "parameters": {"type": "object"}}},
        "types.ReloadResponse": {"type": "object", "properties": {
            "success": {"type": "boolean"}, "changes": {"type": "array", "items": {"type": "string"}}, "error": {"type": "string"}}},
        "types.StatusResponse": {"type": "object", "properties": {
            "runners": {"type": "array", "items": {"$ref": "#/definitions/types.RunnerStatus"}},
            "budget_mb": {"type": "integer"}, "used_est_mb": {"type": "integer"}, "margin_mb": {"type": "integer"},
            "active_requests": {"type": "integer"}, "uptime_seconds": {"type": "integer"}, "server_time_unix": {"type": "integer"},
            "evictions_total": {"type": "integer"}, "loads_total": {"type": "integer"},
            "last_reload": {"$ref": "#/definitions/types.ReloadResponse"}}},
        "types.EngineSettings": {"type": "object", "properties": {
            "selectedRunners": {"type": "object", "additionalProperties": {"type": "string"}},
            "runnerParameters": {"type": "object", "additionalProperties": {"type": "object"}}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "inferd API",
	Description:      "HTTP API for capability-routed on-device inference.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
