package mw

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/vango-go/voiceboard/pkg/core"
	"github.com/vango-go/voiceboard/pkg/gateway/apierror"
)

// Recover turns a handler panic into a 500 error envelope. http.ErrAbortHandler
// is re-raised so net/http can abort the connection quietly.
func Recover(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			switch rec {
			case nil:
				return
			case http.ErrAbortHandler:
				panic(rec)
			}

			reqID, _ := RequestIDFrom(r.Context())
			if logger != nil {
				logger.Error("handler panic",
					"request_id", reqID,
					"path", r.URL.Path,
					"panic", fmt.Sprint(rec),
					"stack", string(debug.Stack()),
				)
			}
			apierror.Write(w, reqID, &core.Error{Type: core.ErrAPI, Message: "internal error"}, http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}
