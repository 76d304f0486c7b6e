package groq

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-go/voiceboard/pkg/core"
	"github.com/vango-go/voiceboard/pkg/core/reasoner"
)

func TestNew_AppliesOptions(t *testing.T) {
	client := &http.Client{}
	p := New("test-key", WithBaseURL("https://example.com"), WithHTTPClient(client), WithModel("m"))

	if p.baseURL != "https://example.com" {
		t.Fatalf("baseURL = %q, want https://example.com", p.baseURL)
	}
	if p.httpClient != client {
		t.Fatal("httpClient option was not applied")
	}
	if p.Model() != "m" {
		t.Fatalf("model = %q, want m", p.Model())
	}
	if p.Name() != "groq" {
		t.Fatalf("name = %q, want groq", p.Name())
	}
}

func TestGenerate_SendsJSONModeChat(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody chatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id":"chatcmpl_1",
			"model":"llama-3.3-70b-versatile",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"actions\":[]}"}}]
		}`)
	}))
	defer server.Close()

	p := New("test-key", WithBaseURL(server.URL+"/openai/v1"))
	out, err := p.Generate(t.Context(), reasoner.Prompt{
		System: "sys",
		Turns: []reasoner.Turn{
			{Role: reasoner.RoleUser, Content: "draw"},
			{Role: reasoner.RoleAssistant, Content: "bad"},
			{Role: reasoner.RoleUser, Content: "fix it"},
		},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out != `{"actions":[]}` {
		t.Fatalf("out = %q", out)
	}
	if gotPath != "/openai/v1/chat/completions" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotBody.ResponseFormat == nil || gotBody.ResponseFormat.Type != "json_object" {
		t.Fatalf("response_format = %#v, want json_object", gotBody.ResponseFormat)
	}
	if gotBody.Model != DefaultModel {
		t.Fatalf("model = %q, want %q", gotBody.Model, DefaultModel)
	}
	wantRoles := []string{"system", "user", "assistant", "user"}
	if len(gotBody.Messages) != len(wantRoles) {
		t.Fatalf("messages = %d, want %d", len(gotBody.Messages), len(wantRoles))
	}
	for i, role := range wantRoles {
		if gotBody.Messages[i].Role != role {
			t.Fatalf("messages[%d].role = %q, want %q", i, gotBody.Messages[i].Role, role)
		}
	}
}

func TestGenerate_MapsHTTPErrors(t *testing.T) {
	tests := []struct {
		status int
		want   core.ErrorType
	}{
		{http.StatusUnauthorized, core.ErrAuthentication},
		{http.StatusTooManyRequests, core.ErrOverloaded},
		{http.StatusBadRequest, core.ErrInvalidRequest},
		{http.StatusInternalServerError, core.ErrAPI},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":{"message":"nope","type":"x"}}`)
			}))
			defer server.Close()

			_, err := New("k", WithBaseURL(server.URL)).Generate(t.Context(), reasoner.Prompt{})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := core.TypeOf(err); got != tt.want {
				t.Fatalf("type = %q, want %q (err=%v)", got, tt.want, err)
			}
		})
	}
}

func TestGenerate_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"x","choices":[]}`)
	}))
	defer server.Close()

	if _, err := New("k", WithBaseURL(server.URL)).Generate(t.Context(), reasoner.Prompt{}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
