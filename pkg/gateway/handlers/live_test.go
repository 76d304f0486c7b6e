package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/voiceboard/pkg/core/reasoner"
	"github.com/vango-go/voiceboard/pkg/core/sketch"
	"github.com/vango-go/voiceboard/pkg/core/voice/stt"
	"github.com/vango-go/voiceboard/pkg/gateway/auth"
	"github.com/vango-go/voiceboard/pkg/gateway/config"
	"github.com/vango-go/voiceboard/pkg/gateway/lifecycle"
	"github.com/vango-go/voiceboard/pkg/gateway/live/sessions"
	"github.com/vango-go/voiceboard/pkg/gateway/metrics"
	"github.com/vango-go/voiceboard/pkg/gateway/ratelimit"
	"github.com/vango-go/voiceboard/pkg/gateway/snapshots"
)

const testToken = "dev-token-0123456789"

type reasonerFunc func(ctx context.Context, req reasoner.Request) ([]sketch.Action, error)

func (f reasonerFunc) Reason(ctx context.Context, req reasoner.Request) ([]sketch.Action, error) {
	return f(ctx, req)
}

type liveTestOptions struct {
	maxSessions int
	origins     map[string]struct{}
}

type liveHarness struct {
	server    *httptest.Server
	tracker   *sessions.Tracker
	lifecycle *lifecycle.Lifecycle
	store     *snapshots.MemoryStore
	url       string
}

func (h *liveHarness) close() {
	h.tracker.CancelAll()
	h.server.Close()
}

func newLiveTestServer(t *testing.T, opts liveTestOptions) *liveHarness {
	t.Helper()
	if opts.maxSessions <= 0 {
		opts.maxSessions = 2
	}
	if opts.origins == nil {
		opts.origins = map[string]struct{}{}
	}

	tracker := sessions.NewTracker()
	lc := &lifecycle.Lifecycle{}
	store := snapshots.NewMemoryStore()
	cfg := config.Config{
		AuthMode:                config.AuthModeDisabled,
		CORSAllowedOrigins:      opts.origins,
		MaxSessionsPerIdentity:  opts.maxSessions,
		ReasonMaxAttempts:       2,
		TranscribeTimeout:       2 * time.Second,
		ReasonTimeout:           2 * time.Second,
		LayoutTimeout:           time.Second,
		ErrorDisplayDelay:       20 * time.Millisecond,
		MaxAudioBytes:           64 * 1024,
		LiveMaxJSONMessageBytes: 64 * 1024,
		LiveWSPingInterval:      5 * time.Second,
		LiveWSWriteTimeout:      2 * time.Second,
		LiveHandshakeTimeout:    2 * time.Second,
		HistorySize:             10,
	}

	handler := LiveHandler{
		Config:   cfg,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Verifier: auth.DevVerifier{},
		Transcriber: stt.TranscriberFunc(func(ctx context.Context, audio []byte) (string, error) {
			return "add a web server", nil
		}),
		Reasoner: reasonerFunc(func(ctx context.Context, req reasoner.Request) ([]sketch.Action, error) {
			return []sketch.Action{{
				Kind:  sketch.KindCreateNode,
				ID:    "web",
				Label: sketch.Ptr("Web"),
				Type:  sketch.Ptr(sketch.NodeServer),
			}}, nil
		}),
		Admitter:     ratelimit.New(ratelimit.Config{Max: 10, Window: time.Minute}),
		Limiter:      ratelimit.New(ratelimit.Config{Max: 10, Window: time.Minute, MaxSessionsPerIdentity: opts.maxSessions}),
		Snapshots:    store,
		Metrics:      metrics.New("voiceboard_test"),
		Lifecycle:    lc,
		LiveSessions: tracker,
	}

	srv := httptest.NewServer(handler)
	return &liveHarness{
		server:    srv,
		tracker:   tracker,
		lifecycle: lc,
		store:     store,
		url:       "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/live",
	}
}

func dialWS(url, token string, header http.Header) (*websocket.Conn, *http.Response, error) {
	if token != "" {
		url += "?token=" + token
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func mustDialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := dialWS(url, testToken, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func mustReadJSON(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return msg
}

func readUntilType(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	for i := 0; i < 20; i++ {
		msg := mustReadJSON(t, conn, 3*time.Second)
		if msg["type"] == typ {
			return msg
		}
	}
	t.Fatalf("no %q message within 20 frames", typ)
	return nil
}

func waitForCount(t *testing.T, tracker *sessions.Tracker, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tracker.Count() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("tracked sessions=%d, want %d", tracker.Count(), want)
}

func TestLiveHandler_MissingTokenIs401BeforeUpgrade(t *testing.T) {
	h := newLiveTestServer(t, liveTestOptions{})
	defer h.close()

	_, resp, err := dialWS(h.url, "", nil)
	if err != websocket.ErrBadHandshake {
		t.Fatalf("err=%v, want ErrBadHandshake", err)
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp=%v", resp)
	}
}

func TestLiveHandler_InvalidTokenIs401(t *testing.T) {
	h := newLiveTestServer(t, liveTestOptions{})
	defer h.close()

	_, resp, err := dialWS(h.url, "short", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("err=%v resp=%v", err, resp)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"code":"invalid_token"`) {
		t.Fatalf("body=%q", body)
	}
}

func TestLiveHandler_ConnectsAndTracksSession(t *testing.T) {
	h := newLiveTestServer(t, liveTestOptions{})
	defer h.close()

	conn := mustDialWS(t, h.url)
	defer conn.Close()

	msg := mustReadJSON(t, conn, 2*time.Second)
	if msg["type"] != "connected" {
		t.Fatalf("type=%v", msg["type"])
	}
	if id, _ := msg["session_id"].(string); !strings.HasPrefix(id, "s_") {
		t.Fatalf("session_id=%v", msg["session_id"])
	}
	waitForCount(t, h.tracker, 1)

	active := h.tracker.Active()
	if active[0].Identity != auth.IdentityFromToken(testToken) {
		t.Fatalf("identity=%q", active[0].Identity)
	}

	_ = conn.Close()
	waitForCount(t, h.tracker, 0)
}

func TestLiveHandler_FullRoundOverHandler(t *testing.T) {
	h := newLiveTestServer(t, liveTestOptions{})
	defer h.close()

	conn := mustDialWS(t, h.url)
	defer conn.Close()
	_ = mustReadJSON(t, conn, 2*time.Second)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"start_capture"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 2048)); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop_capture"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	transcript := readUntilType(t, conn, "transcript")
	if transcript["text"] != "add a web server" {
		t.Fatalf("transcript=%v", transcript)
	}
	render := readUntilType(t, conn, "render")
	graph, _ := render["graph"].(map[string]any)
	nodes, _ := graph["nodes"].([]any)
	if len(nodes) != 1 {
		t.Fatalf("render nodes=%v", graph["nodes"])
	}
}

func TestLiveHandler_SessionCapIs429(t *testing.T) {
	h := newLiveTestServer(t, liveTestOptions{maxSessions: 1})
	defer h.close()

	first := mustDialWS(t, h.url)
	defer first.Close()
	_ = mustReadJSON(t, first, 2*time.Second)

	_, resp, err := dialWS(h.url, testToken, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("err=%v resp=%v", err, resp)
	}

	// Another identity is unaffected.
	other, _, err := dialWS(h.url, "another-dev-token-42", nil)
	if err != nil {
		t.Fatalf("dial other identity: %v", err)
	}
	_ = other.Close()
}

func TestLiveHandler_DrainingIs529(t *testing.T) {
	h := newLiveTestServer(t, liveTestOptions{})
	defer h.close()
	h.lifecycle.BeginDrain(time.Now())

	_, resp, err := dialWS(h.url, testToken, nil)
	if err == nil || resp == nil || resp.StatusCode != 529 {
		t.Fatalf("err=%v resp=%v", err, resp)
	}
}

func TestLiveHandler_OriginAllowlist(t *testing.T) {
	h := newLiveTestServer(t, liveTestOptions{origins: map[string]struct{}{"https://app.example.com": {}}})
	defer h.close()

	_, resp, err := dialWS(h.url, testToken, http.Header{"Origin": {"https://evil.example.com"}})
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("err=%v resp=%v", err, resp)
	}

	conn, _, err := dialWS(h.url, testToken, http.Header{"Origin": {"https://app.example.com"}})
	if err != nil {
		t.Fatalf("allowlisted origin: %v", err)
	}
	_ = conn.Close()
}

func TestLiveHandler_MethodNotAllowed(t *testing.T) {
	h := newLiveTestServer(t, liveTestOptions{})
	defer h.close()

	resp, err := http.Post(h.server.URL+"/v1/live?token="+testToken, "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestLiveHandler_WarnAllAndCancelAll(t *testing.T) {
	h := newLiveTestServer(t, liveTestOptions{})
	defer h.close()

	conn := mustDialWS(t, h.url)
	defer conn.Close()
	_ = mustReadJSON(t, conn, 2*time.Second)
	waitForCount(t, h.tracker, 1)

	if sent := h.tracker.WarnAll("draining", "server is restarting"); sent != 1 {
		t.Fatalf("sent=%d", sent)
	}
	msg := readUntilType(t, conn, "error")
	if msg["code"] != "draining" || msg["message"] != "server is restarting" {
		t.Fatalf("warning=%v", msg)
	}

	if n := h.tracker.CancelAll(); n != 1 {
		t.Fatalf("canceled=%d", n)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
				t.Fatalf("session was not closed after CancelAll")
			}
			break
		}
	}
	waitForCount(t, h.tracker, 0)
}

func TestLiveHandler_RestoresSavedCanvas(t *testing.T) {
	h := newLiveTestServer(t, liveTestOptions{})
	defer h.close()

	identity := auth.IdentityFromToken(testToken)
	if err := h.store.Save(context.Background(), identity, json.RawMessage(`{"shapes":[1,2]}`)); err != nil {
		t.Fatalf("save: %v", err)
	}

	conn := mustDialWS(t, h.url)
	defer conn.Close()
	_ = mustReadJSON(t, conn, 2*time.Second)

	msg := mustReadJSON(t, conn, 2*time.Second)
	if msg["type"] != "canvas_snapshot" {
		t.Fatalf("type=%v", msg["type"])
	}
}
