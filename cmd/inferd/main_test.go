package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"inferd/internal/plugin"
	"inferd/internal/runner"
	"inferd/internal/runner/runnertest"
	"inferd/pkg/types"
)

func TestSplitCSV(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b , c ", []string{"a", "b", "c"}},
		{"a,,c", []string{"a", "c"}},
		{"", nil},
	}
	for _, c := range cases {
		got := splitCSV(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
			}
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger("warn", "json", &buf)
	l.Info().Msg("hidden")
	l.Warn().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"message":"shown"`) {
		t.Fatalf("log output: %s", buf.String())
	}
	if newLogger("bogus", "json", &buf).GetLevel() != zerolog.InfoLevel {
		t.Fatalf("unknown level not defaulted to info")
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil || strings.TrimSpace(out) != version {
		t.Fatalf("out=%q err=%v", out, err)
	}
}

func TestServeFlagsOverrideConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "inferd.yaml")
	if err := os.WriteFile(cfgPath, []byte("addr: \":9000\"\nworkers: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	root := newRootCmd()
	serveCmd, _, err := root.Find([]string{"serve"})
	if err != nil {
		t.Fatal(err)
	}
	if err := serveCmd.ParseFlags([]string{"--config", cfgPath, "--workers", "8", "--cors-origins", "http://a, http://b"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(serveCmd)
	if err != nil {
		t.Fatal(err)
	}
	f := serveFlags{workers: 8, corsOrigins: "http://a, http://b"}
	f.apply(serveCmd, &cfg)
	if cfg.Addr != ":9000" || cfg.Workers != 8 || !cfg.CORSEnabled || len(cfg.CORSOrigins) != 2 {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestSettingsValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	if err := os.WriteFile(good, []byte("selectedRunners:\n  GUARDIAN: lexicon-guard\nrunnerParameters:\n  lexicon-guard:\n    mode: redact\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"selectedRunners":{"GUARDIAN":"lexicon-guard"},"runnerParameters":{"lexicon-guard":{"mode":"shout"}}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("INFERD_LOG_LEVEL", "error")
	if out, err := run(t, "settings", "validate", good); err != nil || !strings.Contains(out, "ok") {
		t.Fatalf("good: out=%q err=%v", out, err)
	}
	if _, err := run(t, "settings", "validate", bad); err == nil {
		t.Fatalf("bad settings accepted")
	}
}

func TestPrintReport(t *testing.T) {
	a := runnertest.New("alpha", runner.VendorSherpa, runner.TierHigh, types.CapabilityLLM)
	b := runnertest.New("beta", runner.VendorMediaTek, runner.TierHigh, types.CapabilityASR)
	rep := plugin.Report{
		Registered: []string{"alpha", "beta"},
		Skipped:    []plugin.Skip{{Name: "gamma", Stage: "requirements", Reason: "no gpu"}},
	}
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	if err := printReport(root, []runner.Runner{a, b}, rep); err != nil {
		t.Fatalf("print: %v", err)
	}
	text := out.String()
	for _, want := range []string{"RUNNER", "alpha", "available", "gamma", "skipped (requirements)"} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in:\n%s", want, text)
		}
	}
	// ranked by score
	if strings.Index(text, "beta") > strings.Index(text, "alpha") {
		t.Fatalf("rows not ranked:\n%s", text)
	}
}
