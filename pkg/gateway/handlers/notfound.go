package handlers

import (
	"net/http"

	"github.com/vango-go/voiceboard/pkg/core"
	"github.com/vango-go/voiceboard/pkg/gateway/apierror"
	"github.com/vango-go/voiceboard/pkg/gateway/mw"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apierror.Write(w, reqID, &core.Error{Type: core.ErrNotFound, Message: "not found"}, 0)
}
