package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/logger"
)

const timeoutBody = `{"error":"request timeout"}`

// Timeout bounds each request by timeout. The handler runs with a context
// that expires at the deadline; if it has not committed a status by then the
// client gets 504 and anything the handler writes afterwards is dropped.
//
// The handler writes headers into a private map that is copied to the real
// response only when it commits, so a late handler never races the 504.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			tw := &timeoutWriter{w: w, header: make(http.Header)}
			done := make(chan struct{})
			go func() {
				defer close(done)
				next.ServeHTTP(tw, r.WithContext(ctx))
			}()

			select {
			case <-done:
			case <-ctx.Done():
				if tw.expire() {
					logger.FromContext(r.Context()).Warn("request timed out",
						"method", r.Method,
						"path", r.URL.Path,
						"timeout", timeout,
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusGatewayTimeout)
					w.Write([]byte(timeoutBody))
				}
			}
		})
	}
}

type timeoutWriter struct {
	w      http.ResponseWriter
	header http.Header

	mu        sync.Mutex
	committed bool
	expired   bool
}

func (tw *timeoutWriter) Header() http.Header { return tw.header }

// expire reports whether the 504 may be sent, i.e. the handler has not
// committed a response yet.
func (tw *timeoutWriter) expire() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.committed {
		return false
	}
	tw.expired = true
	return true
}

// commit copies the handler's headers out and writes the status once.
// Callers hold mu.
func (tw *timeoutWriter) commit(code int) {
	if tw.committed {
		return
	}
	tw.committed = true
	dst := tw.w.Header()
	for k, v := range tw.header {
		dst[k] = v
	}
	tw.w.WriteHeader(code)
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if !tw.expired {
		tw.commit(code)
	}
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.expired {
		return 0, http.ErrHandlerTimeout
	}
	tw.commit(http.StatusOK)
	return tw.w.Write(b)
}
