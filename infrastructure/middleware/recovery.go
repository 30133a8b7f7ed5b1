// Package middleware provides HTTP middleware for the Shell/IPC Surface.
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/multiacct/sessionhost/infrastructure/errors"
	"github.com/multiacct/sessionhost/infrastructure/httputil"
	"github.com/multiacct/sessionhost/infrastructure/logging"
)

// RecoveryMiddleware recovers from panics in IPC handlers and logs them.
type RecoveryMiddleware struct {
	logger *logging.Logger
}

// NewRecoveryMiddleware creates a new recovery middleware.
func NewRecoveryMiddleware(logger *logging.Logger) *RecoveryMiddleware {
	return &RecoveryMiddleware{logger: logger}
}

// Handler returns the recovery middleware handler.
func (m *RecoveryMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				stack := debug.Stack()
				m.logger.WithContext(r.Context()).WithFields(map[string]interface{}{
					"panic":       fmt.Sprintf("%v", rec),
					"stack":       string(stack),
					"path":        r.URL.Path,
					"method":      r.Method,
					"remote_addr": r.RemoteAddr,
				}).Error("panic recovered")

				hostErr := errors.Wrap(errors.Category("InternalError"), "internal error", http.StatusInternalServerError, fmt.Errorf("%v", rec))
				httputil.WriteHostError(w, r, hostErr)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
