package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/studio-ops/coordinator/internal/locks"
	"github.com/studio-ops/coordinator/internal/metrics"
)

// Middleware serialises requests that share mutable state. Per request it
// has exactly three outcomes: acquire the org-wide lock, acquire the
// repo-user-wide lock, or pass through unlocked. The org-wide evaluator is
// consulted first because it is the coarser scope; when it matches, the
// repo-user evaluator is skipped entirely, so a request never holds both
// locks.
type Middleware struct {
	locks    *locks.Service
	orgEval  OrgEvaluator
	repoEval RepoUserEvaluator
	wait     time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewMiddleware creates the request synchronisation middleware. wait is the
// lock wait budget applied to every synchronised request.
func NewMiddleware(lockService *locks.Service, wait time.Duration, logger *zap.Logger, m *metrics.Metrics) *Middleware {
	return &Middleware{
		locks:    lockService,
		orgEval:  OrgScopeEvaluator{},
		repoEval: RepoUserScopeEvaluator{},
		wait:     wait,
		logger:   logger,
		metrics:  m,
	}
}

// Handler wraps the downstream handler with lock acquisition.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if orgCtx, ok := m.orgEval.Evaluate(r); ok {
			m.synchronised(w, r, next, "org-wide", func(ctx context.Context) (locks.Handle, error) {
				return m.locks.AcquireOrgWideLock(ctx, orgCtx, m.wait)
			})
			return
		}

		if editCtx, ok := m.repoEval.Evaluate(r); ok {
			m.synchronised(w, r, next, "repo-user-wide", func(ctx context.Context) (locks.Handle, error) {
				return m.locks.AcquireRepoUserWideLock(ctx, editCtx, m.wait)
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// synchronised runs the downstream handler under the lock produced by
// acquire. The handle is released on every exit path, including handler
// panics; cancellation of the inbound request aborts the pending wait and
// the downstream handler never runs.
func (m *Middleware) synchronised(w http.ResponseWriter, r *http.Request, next http.Handler, scope string, acquire func(context.Context) (locks.Handle, error)) {
	start := time.Now()
	handle, err := acquire(r.Context())
	if m.metrics != nil && m.metrics.LockWaitDurationSeconds != nil {
		m.metrics.LockWaitDurationSeconds.WithLabelValues(scope).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		m.refuse(w, r, scope, err)
		return
	}

	defer func() {
		// Release with a fresh context: the request context may already
		// be cancelled, and an orphaned lock would block the whole scope
		// until its lease expires.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := handle.Release(ctx); err != nil {
			m.logger.Error("Failed to release request lock",
				zap.String("scope", scope),
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
		}
	}()

	m.record(scope, "acquired")
	next.ServeHTTP(w, r)
}

// refuse reports a failed acquisition. Lock timeouts and provider outages
// are surfaced as distinct retryable conditions so clients can tell "could
// not even start" apart from downstream handler failures.
func (m *Middleware) refuse(w http.ResponseWriter, r *http.Request, scope string, err error) {
	switch {
	case errors.Is(err, locks.ErrLockTimeout):
		m.logger.Info("Request refused: scope busy",
			zap.String("scope", scope),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
		m.record(scope, "timeout")
		w.Header().Set("Retry-After", "5")
		m.respondError(w, http.StatusServiceUnavailable, "Another change is in progress, try again shortly")

	case errors.Is(err, locks.ErrProviderUnavailable):
		m.logger.Error("Request refused: lock provider unavailable",
			zap.String("scope", scope),
			zap.Error(err),
		)
		m.record(scope, "provider_unavailable")
		m.respondError(w, http.StatusServiceUnavailable, "Coordination backend unavailable")

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Client gave up while waiting; nothing useful to write.
		m.record(scope, "cancelled")

	default:
		m.logger.Error("Request refused: lock acquisition failed",
			zap.String("scope", scope),
			zap.Error(err),
		)
		m.record(scope, "error")
		m.respondError(w, http.StatusInternalServerError, "Failed to synchronise request")
	}
}

func (m *Middleware) respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status":  "error",
		"message": message,
	}); err != nil {
		m.logger.Error("Failed to encode refusal response", zap.Error(err))
	}
}

func (m *Middleware) record(scope, status string) {
	if m.metrics != nil && m.metrics.LockAcquisitionsTotal != nil {
		m.metrics.LockAcquisitionsTotal.WithLabelValues(scope, status).Inc()
	}
}
