package mw

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/vango-go/voiceboard/pkg/core"
	"github.com/vango-go/voiceboard/pkg/gateway/apierror"
	"github.com/vango-go/voiceboard/pkg/gateway/auth"
)

// Auth verifies the caller's token before the handler runs, so a bad token is
// answered with a plain 401 instead of an upgraded socket. The principal is
// stored on the request context for the handler.
func Auth(verifier auth.Verifier, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID, _ := RequestIDFrom(r.Context())
		if verifier == nil {
			apierror.Write(w, reqID, errors.New("no token verifier configured"), http.StatusInternalServerError)
			return
		}

		p, err := auth.Authenticate(r, verifier)
		if err != nil {
			if logger != nil {
				logger.Debug("token rejected", "request_id", reqID, "error", err)
			}
			if ce, _ := apierror.FromError(err, reqID); ce.Type != core.ErrAuthentication {
				err = auth.ErrInvalidToken
			}
			apierror.Write(w, reqID, err, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}
