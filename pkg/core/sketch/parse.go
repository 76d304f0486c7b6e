package sketch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var codeFence = regexp.MustCompile("(?s)^```(?:json)?\\s*\n?(.*?)\\s*```$")

// ErrEmptyOutput is returned when the model produced no text at all.
var ErrEmptyOutput = errors.New("empty model output")

// StripCodeFence removes a surrounding markdown code fence, if any.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFence.FindStringSubmatch(s); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return s
}

// Parse decodes raw model output into validated actions. Unknown fields are
// rejected. A bare JSON array is accepted as shorthand for {"actions": [...]}.
// Action ids are lower-cased after validation.
func (v *Validator) Parse(raw string) ([]Action, error) {
	body := StripCodeFence(raw)
	if body == "" {
		return nil, ErrEmptyOutput
	}

	var resp Response
	if strings.HasPrefix(body, "[") {
		var actions []Action
		if err := decodeStrict(body, &actions); err != nil {
			return nil, err
		}
		if actions == nil {
			actions = []Action{}
		}
		resp.Actions = actions
	} else if err := decodeStrict(body, &resp); err != nil {
		return nil, err
	}

	if err := v.ValidateResponse(&resp); err != nil {
		return nil, err
	}
	for i := range resp.Actions {
		resp.Actions[i].ID = strings.ToLower(resp.Actions[i].ID)
	}
	return resp.Actions, nil
}

func decodeStrict(body string, dst any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if dec.More() {
		return errors.New("invalid json: trailing data after document")
	}
	return nil
}
