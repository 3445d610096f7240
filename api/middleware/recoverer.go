package middleware

import (
	"fmt"
	"net/http"

	"github.com/angelmondragon/channelcore-backend/api/responses"
	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
)

// Recoverer turns a handler panic into a 500 envelope. Mount it after
// RequestID so the client gets the request id back as the correlation id.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// let net/http abort the connection as it intends
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				err := fmt.Errorf("panic: %v", rec)
				ctx := r.Context()
				if logg != nil {
					// Error attaches the stack, which still holds the panicking frames here
					ctx = logg.WithField(ctx, "panic", fmt.Sprint(rec))
					logg.Error(ctx, "panic.recovered", err)
				}
				typed := pkgerrors.Wrap(pkgerrors.CodeInternal, err, "panic")
				if id := RequestIDFromContext(ctx); id != "" {
					typed = typed.WithDetail("correlation_id", id)
				}
				responses.WriteError(ctx, logg, w, typed)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
