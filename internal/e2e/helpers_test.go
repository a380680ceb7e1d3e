package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"inferd/internal/daemon"
	"inferd/internal/httpapi"
	"inferd/internal/plugin"
	"inferd/internal/runner"
	"inferd/pkg/types"
)

func pluginFor(r interface {
	runner.Runner
	runner.Described
}) plugin.Plugin {
	return plugin.Plugin{Descriptor: r.Descriptor(), New: func(*runner.Env) (runner.Runner, error) { return r, nil }}
}

// newServer starts a daemon over pls behind the HTTP API.
func newServer(t *testing.T, pls ...plugin.Plugin) (*httptest.Server, *daemon.Daemon) {
	t.Helper()
	d := daemon.New(daemon.Config{
		ModelsDir:    t.TempDir(),
		SettingsPath: filepath.Join(t.TempDir(), "settings.json"),
		Workers:      4,
		Plugins:      pls,
		Host:         &plugin.Host{},
		Log:          zerolog.Nop(),
	})
	if _, err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(d))
	t.Cleanup(func() {
		srv.Close()
		_ = d.Close(context.Background())
	})
	return srv, d
}

func do(t *testing.T, method, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, body)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func decodeFrames(t *testing.T, body []byte) []types.Frame {
	t.Helper()
	var frames []types.Frame
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var f types.Frame
		if err := json.Unmarshal(sc.Bytes(), &f); err != nil {
			t.Fatalf("frame %q: %v", sc.Text(), err)
		}
		frames = append(frames, f)
	}
	return frames
}
