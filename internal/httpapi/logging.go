package httpapi

import (
	"bytes"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is the structured logger of the HTTP layer. Nop until SetLogger.
var zlog = zerolog.Nop()

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = l.With().Str("component", "http").Logger() }

// frameLogger logs complete NDJSON lines at debug level.
type frameLogger struct {
	buf []byte
	rid string
}

func (lw *frameLogger) Write(p []byte) (int, error) {
	lw.buf = append(lw.buf, p...)
	for {
		idx := bytes.IndexByte(lw.buf, '\n')
		if idx < 0 {
			break
		}
		if idx > 0 {
			zlog.Debug().Str("request_id", lw.rid).RawJSON("frame", lw.buf[:idx]).Msg("infer frame")
		}
		lw.buf = lw.buf[idx+1:]
	}
	return len(p), nil
}

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// global default, read once
var defaultLogLevel = parseLevel(os.Getenv("INFERD_HTTP_LOG_LEVEL"))

func requestLogLevel(r *http.Request) LogLevel {
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// inferLog carries the per-request log settings of one inference.
type inferLog struct {
	lvl   LogLevel
	rid   string
	start time.Time
}

func newInferLog(r *http.Request, rid string) inferLog {
	if rid == "" {
		rid = middleware.GetReqID(r.Context())
	}
	return inferLog{lvl: requestLogLevel(r), rid: rid, start: time.Now()}
}

func (l inferLog) begin(capability, runner string) {
	if l.lvl < LevelInfo {
		return
	}
	zlog.Info().Str("request_id", l.rid).Str("capability", capability).Str("runner", runner).Msg("infer start")
}

func (l inferLog) end(status int, err error) {
	if l.lvl < LevelInfo && (err == nil || l.lvl < LevelError) {
		return
	}
	ev := zlog.Info()
	if err != nil {
		ev = zlog.Error().Err(err)
	}
	ev.Str("request_id", l.rid).Int("status", status).Dur("dur", time.Since(l.start)).Msg("infer end")
}
