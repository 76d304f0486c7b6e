package sketch

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ValidResponse(t *testing.T) {
	v := NewValidator()
	raw := "```json\n" + `{"actions":[
		{"action":"create_node","id":"API_Server","label":"API","type":"server","color":"light-blue"},
		{"action":"create_node","id":"db","label":"Postgres","type":"database"},
		{"action":"create_edge","id":"api_db","source_id":"api_server","target_id":"db","bidirectional":true}
	]}` + "\n```"

	actions, err := v.Parse(raw)
	require.NoError(t, err)
	require.Len(t, actions, 3)

	assert.Equal(t, KindCreateNode, actions[0].Kind)
	assert.Equal(t, "api_server", actions[0].ID, "ids are lower-cased")
	assert.Equal(t, NodeServer, *actions[0].Type)
	assert.Equal(t, Color("light-blue"), *actions[0].Color)
	assert.Equal(t, "db", actions[2].Target())
	assert.True(t, *actions[2].Bidirectional)
}

func TestParse_BareArrayAndEmptyList(t *testing.T) {
	v := NewValidator()

	actions, err := v.Parse(`[{"action":"delete_node","id":"cache"}]`)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, KindDeleteNode, actions[0].Kind)

	actions, err = v.Parse(`{"actions":[]}`)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestParse_RejectsMalformed(t *testing.T) {
	v := NewValidator()
	tests := []struct {
		name    string
		raw     string
		wantSub string
	}{
		{"empty", "   ", "empty model output"},
		{"not json", "sure! here is your diagram", "invalid json"},
		{"unknown field", `{"actions":[{"action":"delete_node","id":"a","shape":"x"}]}`, "unknown field"},
		{"missing actions", `{}`, "actions: is required"},
		{"bad kind", `{"actions":[{"action":"move_node","id":"a"}]}`, `unknown action "move_node"`},
		{"bad node type", `{"actions":[{"action":"create_node","id":"a","label":"A","type":"blob"}]}`, `unknown node type "blob"`},
		{"bad color", `{"actions":[{"action":"update_node","id":"a","color":"chartreuse"}]}`, "unknown color"},
		{"bad id", `{"actions":[{"action":"delete_node","id":"a b"}]}`, "actions[0].id"},
		{"long id", `{"actions":[{"action":"delete_node","id":"` + strings.Repeat("x", 51) + `"}]}`, "at most 50"},
		{"opacity", `{"actions":[{"action":"update_node","id":"a","opacity":1.5}]}`, "between 0 and 1"},
		{"create_node without type", `{"actions":[{"action":"create_node","id":"a","label":"A"}]}`, "type: is required for create_node"},
		{"create_edge without target", `{"actions":[{"action":"create_edge","id":"e","source_id":"a"}]}`, "target_id: is required for create_edge"},
		{"trailing data", `{"actions":[]} {"actions":[]}`, "trailing data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Parse(tt.raw)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantSub)
		})
	}
}

func TestParse_ValidationErrorListsEveryIssue(t *testing.T) {
	v := NewValidator()
	_, err := v.Parse(`{"actions":[
		{"action":"create_node","id":"a"},
		{"action":"create_edge","id":"e"}
	]}`)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	paths := make([]string, 0, len(verr.Issues))
	for _, is := range verr.Issues {
		paths = append(paths, is.Path)
	}
	assert.ElementsMatch(t, []string{
		"actions[0].label", "actions[0].type",
		"actions[1].source_id", "actions[1].target_id",
	}, paths)
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFence("```\n{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, StripCodeFence("  {\"a\":1}  "))
}
