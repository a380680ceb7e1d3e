package llamaserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"inferd/internal/runners/gen"
)

// sseWriter helps write SSE-style lines.
type sseWriter struct{ w http.ResponseWriter }

func (sw sseWriter) writeLine(line string) {
	_, _ = sw.w.Write([]byte(line + "\n"))
	if f, ok := sw.w.(http.Flusher); ok {
		f.Flush()
	}
}

func newClient(t *testing.T, h http.HandlerFunc) client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return client{baseURL: srv.URL, http: srv.Client(), log: zerolog.Nop()}
}

func TestCompleteStreamsOpenAIChunks(t *testing.T) {
	var got completionRequest
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/completions" {
			t.Errorf("path=%s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		sw := sseWriter{w: w}
		sw.writeLine(`data: {"choices":[{"text":"Hello"}]}`)
		sw.writeLine("")
		sw.writeLine(`data: {"choices":[{"delta":{"content":" World"},"finish_reason":"length"}]}`)
		sw.writeLine("data: [DONE]")
		sw.writeLine(`data: {"choices":[{"text":"ignored"}]}`)
	})
	var toks []string
	text, finish, err := c.complete(context.Background(), "hi", gen.Params{MaxTokens: 8, Temperature: 0.2, Stop: []string{"\n"}}, func(s string) error {
		toks = append(toks, s)
		return nil
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "Hello World" || finish != "length" {
		t.Fatalf("text=%q finish=%q", text, finish)
	}
	if len(toks) != 2 {
		t.Fatalf("tokens=%v", toks)
	}
	if got.Prompt != "hi" || got.MaxTokens != 8 || !got.Stream || len(got.Stop) != 1 {
		t.Fatalf("request=%+v", got)
	}
}

func TestCompleteNativeContentLines(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		sw := sseWriter{w: w}
		sw.writeLine(`data: {"content":"a"}`)
		sw.writeLine(`data: {"content":"b","stop":true}`)
		sw.writeLine(`data: not json`)
	})
	text, finish, err := c.complete(context.Background(), "x", gen.Params{}, nil)
	if err != nil || text != "ab" || finish != "stop" {
		t.Fatalf("text=%q finish=%q err=%v", text, finish, err)
	}
}

func TestCompleteHTTPError(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model busy", http.StatusServiceUnavailable)
	})
	_, _, err := c.complete(context.Background(), "x", gen.Params{}, nil)
	if err == nil || !strings.Contains(err.Error(), "model busy") {
		t.Fatalf("err=%v", err)
	}
}

func TestCompleteStopsWhenConsumerFails(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		sw := sseWriter{w: w}
		for i := 0; i < 5; i++ {
			sw.writeLine(`data: {"choices":[{"text":"x"}]}`)
		}
	})
	stop := errors.New("consumer gone")
	n := 0
	_, _, err := c.complete(context.Background(), "x", gen.Params{}, func(string) error {
		n++
		if n == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || n != 2 {
		t.Fatalf("err=%v n=%d", err, n)
	}
}

func TestHealthy(t *testing.T) {
	ok := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	if err := ok.healthy(context.Background()); err == nil {
		t.Fatalf("expected unauthorized without key")
	}
	ok.apiKey = "k"
	if err := ok.healthy(context.Background()); err != nil {
		t.Fatalf("healthy: %v", err)
	}
}
