package httpapi

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const defaultMaxBodyBytes = 1 << 20

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
var maxBodyBytes int64 = defaultMaxBodyBytes

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
		return
	}
	maxBodyBytes = n
}

// inferTimeout bounds each inference request. Zero means no timeout.
var inferTimeout time.Duration

// SetInferTimeout sets the inference timeout (0 disables).
func SetInferTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	inferTimeout = d
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}

// inferLimiter throttles inference requests; nil means unlimited.
var inferLimiter atomic.Pointer[rate.Limiter]

// SetRateLimit allows rps inference requests per second with the given
// burst. rps <= 0 disables limiting.
func SetRateLimit(rps float64, burst int) {
	if rps <= 0 {
		inferLimiter.Store(nil)
		return
	}
	if burst <= 0 {
		burst = 1
	}
	inferLimiter.Store(rate.NewLimiter(rate.Limit(rps), burst))
}

func allowInfer() bool {
	l := inferLimiter.Load()
	return l == nil || l.Allow()
}
