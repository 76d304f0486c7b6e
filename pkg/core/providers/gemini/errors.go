package gemini

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/vango-go/voiceboard/pkg/core"
)

// mapError converts SDK API errors onto *core.Error. Other errors pass through.
func mapError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var p *genai.APIError
		if !errors.As(err, &p) || p == nil {
			return err
		}
		apiErr = *p
	}

	errType := core.ErrAPI
	switch apiErr.Code {
	case http.StatusBadRequest, http.StatusNotFound:
		errType = core.ErrInvalidRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		errType = core.ErrAuthentication
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		errType = core.ErrOverloaded
	}
	return &core.Error{
		Type:    errType,
		Message: fmt.Sprintf("gemini error %d: %s", apiErr.Code, apiErr.Message),
		Code:    apiErr.Status,
		Cause:   err,
	}
}
