package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"inferd/pkg/types"
)

func TestStatusFor(t *testing.T) {
	cases := map[types.ErrorCode]int{
		types.CodeRuntime:               http.StatusInternalServerError,
		types.CodeModelNotLoaded:        http.StatusServiceUnavailable,
		types.CodeInvalidInput:          http.StatusBadRequest,
		types.CodePermissionDenied:      http.StatusForbidden,
		types.CodeRunnerNotFound:        http.StatusNotFound,
		types.CodeCapabilityUnsupported: http.StatusUnprocessableEntity,
		types.CodeStreamingUnsupported:  http.StatusConflict,
		types.CodeModelLoadFailed:       http.StatusServiceUnavailable,
		types.CodeInsufficientResources: http.StatusTooManyRequests,
		"E999":                          http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := StatusFor(code); got != want {
			t.Fatalf("StatusFor(%s)=%d want %d", code, got, want)
		}
	}
}

func TestWriteErrorPlainError(t *testing.T) {
	w := httptest.NewRecorder()
	if got := writeError(w, errors.New("plain")); got != http.StatusInternalServerError {
		t.Fatalf("status=%d", got)
	}
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("recorded=%d", w.Code)
	}
}

func TestWriteErrorWrapped(t *testing.T) {
	w := httptest.NewRecorder()
	err := types.Wrap(types.CodeModelLoadFailed, errors.New("exec format error"))
	if got := writeError(w, err); got != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", got)
	}
}
