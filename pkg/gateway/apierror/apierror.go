// Package apierror maps pipeline and gateway failures onto the JSON error
// envelope and HTTP status of the plain HTTP endpoints.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/vango-go/voiceboard/pkg/core"
	"github.com/vango-go/voiceboard/pkg/gateway/auth"
	"github.com/vango-go/voiceboard/pkg/gateway/snapshots"
)

// StatusOverloaded is returned while the gateway drains.
const StatusOverloaded = 529

type Envelope struct {
	Error *core.Error `json:"error"`
}

// sentinels maps well-known package errors to their public shape.
var sentinels = []struct {
	err    error
	typ    core.ErrorType
	code   string
	msg    string
	status int
}{
	{auth.ErrMissingToken, core.ErrAuthentication, "missing_token", "", http.StatusUnauthorized},
	{auth.ErrExpiredToken, core.ErrAuthentication, "token_expired", "", http.StatusUnauthorized},
	{auth.ErrInvalidToken, core.ErrAuthentication, "invalid_token", "invalid token", http.StatusUnauthorized},
	{auth.ErrInvalidSignature, core.ErrAuthentication, "invalid_token", "invalid token", http.StatusUnauthorized},
	{auth.ErrInvalidClaims, core.ErrAuthentication, "invalid_token", "invalid token", http.StatusUnauthorized},
	{snapshots.ErrNotFound, core.ErrNotFound, "", "no saved canvas", http.StatusNotFound},
	{context.DeadlineExceeded, core.ErrAPI, "", "request timeout", http.StatusGatewayTimeout},
	{context.Canceled, core.ErrAPI, "cancelled", "request cancelled", http.StatusRequestTimeout},
}

// FromError converts err into the error body and status sent to HTTP clients.
// Errors it does not recognise are reported as a bare internal error.
func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, statusFromType(coreErr.Type)
	}

	for _, s := range sentinels {
		if !errors.Is(err, s.err) {
			continue
		}
		msg := s.msg
		if msg == "" {
			msg = err.Error()
		}
		return &core.Error{Type: s.typ, Message: msg, Code: s.code, RequestID: requestID}, s.status
	}

	return &core.Error{Type: core.ErrAPI, Message: "internal error", RequestID: requestID}, http.StatusInternalServerError
}

// Write encodes err as an envelope. A non-zero status overrides the mapped one.
func Write(w http.ResponseWriter, requestID string, err error, status int) {
	ce, mapped := FromError(err, requestID)
	if ce == nil {
		return
	}
	if status == 0 {
		status = mapped
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if ce.RetryAfter != nil && *ce.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(*ce.RetryAfter))
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: ce})
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest, core.ErrSnapshotMalformed, core.ErrActionRejected:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrPermission:
		return http.StatusForbidden
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrAdmissionRejected:
		return http.StatusTooManyRequests
	case core.ErrOverloaded:
		return StatusOverloaded
	case core.ErrTranscription, core.ErrReasoning, core.ErrAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
