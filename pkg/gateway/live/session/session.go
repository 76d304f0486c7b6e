package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/voiceboard/pkg/core"
	"github.com/vango-go/voiceboard/pkg/core/graph"
	"github.com/vango-go/voiceboard/pkg/core/layout"
	"github.com/vango-go/voiceboard/pkg/core/reasoner"
	"github.com/vango-go/voiceboard/pkg/core/sketch"
	"github.com/vango-go/voiceboard/pkg/core/voice/stt"
	"github.com/vango-go/voiceboard/pkg/gateway/live/protocol"
	"github.com/vango-go/voiceboard/pkg/gateway/metrics"
	"github.com/vango-go/voiceboard/pkg/gateway/ratelimit"
	"github.com/vango-go/voiceboard/pkg/gateway/snapshots"
)

const (
	outboundPriorityQueueSize = 8

	msgNoSpeech   = "No speech detected - please speak clearly"
	msgUnexpected = "An unexpected error occurred"
	msgBusy       = "Still working on the last command"
)

var errBackpressure = errors.New("live outbound backpressure")

// Reasoner turns one transcript plus graph context into validated actions.
type Reasoner interface {
	Reason(ctx context.Context, req reasoner.Request) ([]sketch.Action, error)
}

type Config struct {
	MaxAudioBytes       int
	MaxJSONMessageBytes int64
	ErrorDisplayDelay   time.Duration
	TranscribeTimeout   time.Duration
	ReasonTimeout       time.Duration
	LayoutTimeout       time.Duration
	AdmissionTimeout    time.Duration
	SnapshotTimeout     time.Duration
	HistorySize         int
	HistoryShown        int
	PingInterval        time.Duration
	WriteTimeout        time.Duration
	ReadTimeout         time.Duration
	OutboundQueueSize   int
}

type Dependencies struct {
	Conn        *websocket.Conn
	Logger      *slog.Logger
	Transcriber stt.Transcriber
	Reasoner    Reasoner
	Layouter    layout.Layouter
	Admitter    ratelimit.Admitter
	Snapshots   snapshots.Store
	Metrics     *metrics.Metrics
	Identity    string
	SessionID   string
	RequestID   string
	Config      Config
	Now         func() time.Time
}

// LiveSession is one connected canvas. Run is the actor: it alone touches the
// graph, the state, the audio buffer and the history. Slow stages run in
// worker goroutines that get immutable inputs and post results back.
type LiveSession struct {
	conn        *websocket.Conn
	logger      *slog.Logger
	transcriber stt.Transcriber
	reasoner    Reasoner
	layouter    layout.Layouter
	admitter    ratelimit.Admitter
	snapshots   snapshots.Store
	metrics     *metrics.Metrics
	identity    string
	sessionID   string
	requestID   string
	cfg         Config
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame

	// Owned by the Run goroutine.
	graph       *graph.Graph
	history     *historyManager
	state       State
	round       int
	roundCancel context.CancelFunc
	audio       []byte
	transcript  string
	results     chan stageResult
	workers     sync.WaitGroup
	errorTimer  *time.Timer
	errorActive bool
	pendingSave chan json.RawMessage
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

// stageResult is what a worker posts back. stage is the state the session
// was in when the worker started; round ties it to one voice turn.
type stageResult struct {
	round      int
	stage      State
	transcript string
	actions    []sketch.Action
	positioned layout.Positioned
	err        error
	elapsed    time.Duration
}

func New(deps Dependencies) (*LiveSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Transcriber == nil {
		return nil, fmt.Errorf("transcriber is required")
	}
	if deps.Reasoner == nil {
		return nil, fmt.Errorf("reasoner is required")
	}
	if deps.Layouter == nil {
		deps.Layouter = layout.Default()
	}
	if strings.TrimSpace(deps.Identity) == "" {
		return nil, fmt.Errorf("identity is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	applyConfigDefaults(&deps.Config)

	ctx, cancel := context.WithCancel(context.Background())
	return &LiveSession{
		conn:             deps.Conn,
		logger:           deps.Logger,
		transcriber:      deps.Transcriber,
		reasoner:         deps.Reasoner,
		layouter:         deps.Layouter,
		admitter:         deps.Admitter,
		snapshots:        deps.Snapshots,
		metrics:          deps.Metrics,
		identity:         deps.Identity,
		sessionID:        deps.SessionID,
		requestID:        deps.RequestID,
		cfg:              deps.Config,
		now:              deps.Now,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, max(1, min(deps.Config.OutboundQueueSize, outboundPriorityQueueSize))),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
		graph:            graph.New(),
		history:          newHistoryManager(deps.Config.HistorySize),
		state:            StateIdle,
		results:          make(chan stageResult, 4),
	}, nil
}

func applyConfigDefaults(cfg *Config) {
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = stt.MaxAudioBytes
	}
	if cfg.MaxJSONMessageBytes <= 0 {
		cfg.MaxJSONMessageBytes = 2 << 20
	}
	if cfg.ErrorDisplayDelay < 0 {
		cfg.ErrorDisplayDelay = 0
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = 60 * time.Second
	}
	if cfg.ReasonTimeout <= 0 {
		cfg.ReasonTimeout = 90 * time.Second
	}
	if cfg.LayoutTimeout <= 0 {
		cfg.LayoutTimeout = 5 * time.Second
	}
	if cfg.AdmissionTimeout <= 0 {
		cfg.AdmissionTimeout = 2 * time.Second
	}
	if cfg.SnapshotTimeout <= 0 {
		cfg.SnapshotTimeout = 5 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 10
	}
	if cfg.HistoryShown <= 0 || cfg.HistoryShown > cfg.HistorySize {
		cfg.HistoryShown = min(reasoner.HistoryShown, cfg.HistorySize)
	}
	if cfg.OutboundQueueSize <= 0 {
		cfg.OutboundQueueSize = 64
	}
}

func (s *LiveSession) Run() error {
	if s.cfg.MaxJSONMessageBytes > 0 {
		s.conn.SetReadLimit(max(s.cfg.MaxJSONMessageBytes, int64(s.cfg.MaxAudioBytes)))
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	startedAt := s.now()
	s.metrics.RecordLiveSessionStart()
	status := "closed"
	defer func() {
		s.metrics.RecordLiveSessionEnd(status, s.now().Sub(startedAt))
	}()

	readCh := make(chan inboundFrame, 64)
	writerErrCh := make(chan error, 1)
	go s.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:       s.conn,
			ctx:      s.ctx,
			cfg:      s.cfg,
			priority: s.outboundPriority,
			normal:   s.outboundNormal,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	if s.snapshots != nil {
		s.pendingSave = make(chan json.RawMessage, 1)
		s.workers.Add(1)
		go s.saveLoop(s.pendingSave)
	}

	defer func() {
		s.cancelRound()
		s.stopErrorTimer()
		s.cancel()
		s.workers.Wait()
	}()

	flushAndClose := func() {
		s.cancel()
		wait := 100 * time.Millisecond
		if s.cfg.WriteTimeout > 0 && s.cfg.WriteTimeout < wait {
			wait = s.cfg.WriteTimeout
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-writerErrCh:
		case <-timer.C:
		}
	}

	if err := s.sendJSON(protocol.NewConnected(s.sessionID)); err != nil {
		status = "backpressure"
		return err
	}
	if err := s.restoreSnapshot(); err != nil {
		status = "backpressure"
		return err
	}

	for {
		var err error
		select {
		case <-s.ctx.Done():
			return nil
		case werr := <-writerErrCh:
			if werr != nil {
				status = "transport_error"
				s.logger.Info("live session write failed", "session_id", s.sessionID, "error", werr)
				return core.NewTransportError(werr)
			}
			return nil
		case frame, ok := <-readCh:
			if !ok || frame.err != nil {
				if frame.err != nil && !websocket.IsCloseError(frame.err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					s.logger.Info("live session read ended", "session_id", s.sessionID, "error", frame.err)
				}
				return nil
			}
			err = s.handleFrame(frame)
		case res := <-s.results:
			err = s.handleResult(res)
		case <-s.errorTimerC():
			s.errorActive = false
			if s.state == StateError {
				err = s.setState(StateIdle)
			}
		}
		if err != nil {
			if errors.Is(err, errBackpressure) {
				status = "backpressure"
				s.logger.Warn("live session outbound queue full", "session_id", s.sessionID)
				flushAndClose()
			}
			return err
		}
	}
}

func (s *LiveSession) handleFrame(frame inboundFrame) error {
	switch frame.messageType {
	case websocket.BinaryMessage:
		return s.handleAudio(frame.data)
	case websocket.TextMessage:
		if int64(len(frame.data)) > s.cfg.MaxJSONMessageBytes {
			return s.sendError(protocol.CodeBadRequest, "message exceeds max size", nil)
		}
		msg, decErr := protocol.DecodeClientMessage(frame.data)
		if decErr != nil {
			var de *protocol.DecodeError
			if errors.As(decErr, &de) && de.Code == protocol.CodeUnknownType {
				s.logger.Info("ignoring unknown live message", "session_id", s.sessionID, "type", de.Param)
				return nil
			}
			return s.sendError(protocol.CodeBadRequest, decErr.Error(), nil)
		}
		switch m := msg.(type) {
		case protocol.StartCapture:
			_, err := s.startCapture()
			return err
		case protocol.StopCapture:
			return s.stopCapture()
		case protocol.CanvasSync:
			return s.canvasSync(m)
		case protocol.Feedback:
			return s.feedback(m)
		default:
			return nil
		}
	default:
		return nil
	}
}

// handleAudio accepts a recording chunk. In idle a frame is a whole
// recording: implicit start, append, stop.
func (s *LiveSession) handleAudio(data []byte) error {
	s.metrics.RecordLiveAudio(len(data))
	switch s.state {
	case StateIdle:
		started, err := s.startCapture()
		if err != nil || !started {
			return err
		}
		if err := s.appendAudio(data); err != nil || s.state != StateListening {
			return err
		}
		return s.stopCapture()
	case StateListening:
		return s.appendAudio(data)
	default:
		return s.sendError("busy", msgBusy, nil)
	}
}

// startCapture opens a round. It reports false when the session is busy or
// the identity is over its round budget.
func (s *LiveSession) startCapture() (bool, error) {
	if s.state != StateIdle {
		return false, s.sendError("busy", msgBusy, nil)
	}
	if ok, err := s.admit(); !ok || err != nil {
		return false, err
	}
	s.round++
	s.audio = s.audio[:0]
	s.transcript = ""
	return true, s.setState(StateListening)
}

func (s *LiveSession) admit() (bool, error) {
	if s.admitter == nil {
		return true, nil
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.AdmissionTimeout)
	defer cancel()
	dec, err := s.admitter.Allow(ctx, s.identity, s.now())
	if err != nil {
		s.logger.Warn("round admission check failed, admitting", "session_id", s.sessionID, "identity", s.identity, "error", err)
		return true, nil
	}
	if dec.Allowed {
		return true, nil
	}
	s.metrics.RecordRateLimitHit("rounds")
	s.logger.Info("round rejected by rate limit", "session_id", s.sessionID, "identity", s.identity, "retry_after", dec.RetryAfter)
	msg := fmt.Sprintf("Too many requests. Try again in %d seconds.", dec.RetryAfter)
	return false, s.fail(core.NewAdmissionRejected(msg, dec.RetryAfter))
}

func (s *LiveSession) appendAudio(data []byte) error {
	if len(s.audio)+len(data) > s.cfg.MaxAudioBytes {
		return s.fail(core.NewTranscriptionError(fmt.Sprintf("recording exceeds %d bytes", s.cfg.MaxAudioBytes), stt.ErrAudioTooLarge))
	}
	s.audio = append(s.audio, data...)
	return nil
}

func (s *LiveSession) stopCapture() error {
	if s.state != StateListening {
		s.logger.Debug("stop_capture outside listening", "session_id", s.sessionID, "state", s.state)
		return nil
	}
	if len(s.audio) == 0 {
		s.metrics.RecordRound("empty")
		return s.setState(StateIdle)
	}
	audio := make([]byte, len(s.audio))
	copy(audio, s.audio)
	s.audio = s.audio[:0]
	if err := s.setState(StateTranscribing); err != nil {
		return err
	}
	s.launch(s.cfg.TranscribeTimeout, func(ctx context.Context, res *stageResult) {
		res.transcript, res.err = s.transcriber.Transcribe(ctx, audio)
	})
	return nil
}

// launch runs fn in a worker bound to the current round and stage.
func (s *LiveSession) launch(timeout time.Duration, fn func(ctx context.Context, res *stageResult)) {
	s.cancelRound()
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	s.roundCancel = cancel
	res := stageResult{round: s.round, stage: s.state}

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		defer cancel()
		started := time.Now()
		fn(ctx, &res)
		res.elapsed = time.Since(started)
		if res.err == nil && ctx.Err() != nil {
			res.err = ctx.Err()
		}
		select {
		case s.results <- res:
		case <-s.ctx.Done():
		}
	}()
}

func (s *LiveSession) cancelRound() {
	if s.roundCancel != nil {
		s.roundCancel()
		s.roundCancel = nil
	}
}

func (s *LiveSession) handleResult(res stageResult) error {
	if res.round != s.round || res.stage != s.state {
		s.logger.Debug("discarding stale stage result", "session_id", s.sessionID, "round", res.round, "stage", res.stage, "current_round", s.round, "state", s.state)
		return nil
	}
	s.roundCancel = nil
	s.metrics.RecordStage(stageName(res.stage), res.elapsed)

	switch res.stage {
	case StateTranscribing:
		return s.onTranscript(res)
	case StateReasoning:
		return s.onActions(res)
	case StateRendering:
		return s.onRender(res)
	default:
		return nil
	}
}

func (s *LiveSession) onTranscript(res stageResult) error {
	if res.err != nil {
		if errors.Is(res.err, stt.ErrAudioTooShort) {
			return s.fail(core.NewTranscriptionError(msgNoSpeech, res.err))
		}
		return s.fail(core.NewTranscriptionError(res.err.Error(), res.err))
	}
	text := strings.TrimSpace(res.transcript)
	if text == "" {
		return s.fail(core.NewTranscriptionError(msgNoSpeech, nil))
	}
	s.transcript = text
	s.logger.Info("transcript received", "session_id", s.sessionID, "round", s.round, "chars", len(text))
	if err := s.sendJSON(protocol.ServerTranscript{Type: "transcript", Text: text}); err != nil {
		return err
	}
	if err := s.setState(StateReasoning); err != nil {
		return err
	}

	req := reasoner.Request{
		Transcript:   text,
		GraphSummary: s.graph.Summary(),
		History:      lastN(s.history.snapshot(), s.cfg.HistoryShown),
	}
	s.launch(s.cfg.ReasonTimeout, func(ctx context.Context, res *stageResult) {
		res.actions, res.err = s.reasoner.Reason(ctx, req)
	})
	return nil
}

func (s *LiveSession) onActions(res stageResult) error {
	if res.err != nil {
		return s.fail(res.err)
	}
	s.history.append(s.transcript)
	if err := s.sendJSON(protocol.ServerActions{Type: "actions", Actions: nonNilActions(res.actions)}); err != nil {
		return err
	}

	batch := s.graph.ApplyBatch(res.actions)
	for _, o := range batch.Outcomes {
		result := "applied"
		if o.Err != nil {
			result = "rejected"
			s.logger.Warn("action rejected", "session_id", s.sessionID, "round", s.round, "index", o.Index, "action", o.Action.Kind, "id", o.Action.ID, "error", o.Err)
		}
		s.metrics.RecordAction(string(o.Action.Kind), result)
	}
	s.logger.Info("actions applied", "session_id", s.sessionID, "round", s.round, "applied", batch.Applied(), "rejected", len(batch.Rejected()), "nodes", s.graph.Len())

	if err := s.setState(StateRendering); err != nil {
		return err
	}
	snapshot := s.graph.Clone()
	s.launch(s.cfg.LayoutTimeout, func(ctx context.Context, res *stageResult) {
		res.positioned, res.err = s.layouter.Layout(ctx, snapshot)
	})
	return nil
}

func (s *LiveSession) onRender(res stageResult) error {
	if res.err != nil {
		return s.fail(core.NewRenderError("layout failed", res.err))
	}
	if err := s.sendJSON(protocol.ServerRender{Type: "render", Graph: res.positioned}); err != nil {
		return err
	}
	s.metrics.RecordRound("rendered")
	return s.setState(StateIdle)
}

// fail ends the current round: it cancels any worker, enters error, tells
// the client why and arms the return to idle.
func (s *LiveSession) fail(err error) error {
	s.cancelRound()
	s.audio = s.audio[:0]

	var ce *core.Error
	if !errors.As(err, &ce) {
		ce = &core.Error{Type: core.ErrAPI, Message: err.Error(), Cause: err}
	}
	s.metrics.RecordRound("error")
	s.metrics.RecordError(string(ce.Type))
	s.logger.Warn("round failed", "session_id", s.sessionID, "round", s.round, "state", s.state, "type", ce.Type, "error", err)

	message, code := clientError(ce)
	if err := s.setState(StateError); err != nil {
		return err
	}
	if err := s.sendError(code, message, ce.RetryAfter); err != nil {
		return err
	}
	s.armErrorTimer()
	return nil
}

func clientError(e *core.Error) (message, code string) {
	switch e.Type {
	case core.ErrAdmissionRejected:
		return e.Message, e.Code
	case core.ErrTranscription:
		if e.Message == msgNoSpeech {
			return msgNoSpeech, "no_speech"
		}
		if errors.Is(e, stt.ErrAudioTooLarge) {
			return "Recording is too long", "audio_too_large"
		}
		return "Transcription failed: " + e.Message, "transcription_failed"
	case core.ErrReasoning:
		return "Failed to generate diagram: " + e.Message, "reasoning_failed"
	case core.ErrRender:
		return "Failed to render diagram", "render_failed"
	default:
		return msgUnexpected, "internal_error"
	}
}

func (s *LiveSession) armErrorTimer() {
	s.stopErrorTimer()
	if s.errorTimer == nil {
		s.errorTimer = time.NewTimer(s.cfg.ErrorDisplayDelay)
	} else {
		s.errorTimer.Reset(s.cfg.ErrorDisplayDelay)
	}
	s.errorActive = true
}

func (s *LiveSession) stopErrorTimer() {
	if s.errorTimer == nil {
		return
	}
	if !s.errorTimer.Stop() {
		select {
		case <-s.errorTimer.C:
		default:
		}
	}
	s.errorActive = false
}

func (s *LiveSession) errorTimerC() <-chan time.Time {
	if !s.errorActive || s.errorTimer == nil {
		return nil
	}
	return s.errorTimer.C
}

func (s *LiveSession) setState(to State) error {
	if s.state == to {
		return nil
	}
	if !canTransition(s.state, to) {
		s.logger.Error("illegal state transition", "session_id", s.sessionID, "from", s.state, "to", to)
		return fmt.Errorf("illegal state transition %s -> %s", s.state, to)
	}
	s.logger.Debug("state change", "session_id", s.sessionID, "round", s.round, "from", s.state, "to", to)
	s.state = to
	return s.sendJSON(protocol.NewState(string(to)))
}

// canvasSync folds the client's canvas into the graph. A malformed graph is
// reported and leaves both the graph and the round untouched.
func (s *LiveSession) canvasSync(m protocol.CanvasSync) error {
	if err := s.graph.ReplaceFrom(m.Graph); err != nil {
		ce := core.NewSnapshotMalformed(err.Error(), err)
		s.logger.Warn("canvas sync rejected", "session_id", s.sessionID, "error", err)
		s.metrics.RecordError(string(ce.Type))
		return s.sendError("snapshot_malformed", "Invalid canvas graph: "+err.Error(), nil)
	}
	s.logger.Debug("canvas synced", "session_id", s.sessionID, "nodes", s.graph.Len(), "edges", s.graph.EdgeCount())
	if len(m.Snapshot) > 0 && s.pendingSave != nil {
		queueLatest(s.pendingSave, m.Snapshot)
	}
	return nil
}

// queueLatest replaces any document still waiting to be saved.
func queueLatest(ch chan json.RawMessage, doc json.RawMessage) {
	select {
	case ch <- doc:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- doc:
	default:
	}
}

// saveLoop persists canvas documents in the background, latest first. A
// document still queued when the session ends is saved before it returns.
func (s *LiveSession) saveLoop(in <-chan json.RawMessage) {
	defer s.workers.Done()
	for {
		select {
		case <-s.ctx.Done():
			select {
			case doc := <-in:
				s.saveSnapshot(doc)
			default:
			}
			return
		case doc := <-in:
			s.saveSnapshot(doc)
		}
	}
}

// saveSnapshot is not bound to the session context so a final save survives
// disconnect.
func (s *LiveSession) saveSnapshot(doc json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SnapshotTimeout)
	defer cancel()
	if err := s.snapshots.Save(ctx, s.identity, doc); err != nil {
		s.logger.Warn("canvas snapshot save failed", "session_id", s.sessionID, "identity", s.identity, "error", err)
	}
}

func (s *LiveSession) restoreSnapshot() error {
	if s.snapshots == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.SnapshotTimeout)
	defer cancel()
	doc, err := s.snapshots.Load(ctx, s.identity)
	if errors.Is(err, snapshots.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.logger.Warn("canvas snapshot load failed", "session_id", s.sessionID, "identity", s.identity, "error", err)
		return nil
	}
	s.logger.Info("restoring saved canvas", "session_id", s.sessionID, "bytes", len(doc))
	return s.sendJSON(protocol.ServerCanvasSnapshot{Type: "canvas_snapshot", Snapshot: doc})
}

func (s *LiveSession) feedback(m protocol.Feedback) error {
	s.logger.Info("action feedback",
		"session_id", s.sessionID,
		"identity", s.identity,
		"action_id", m.ActionID,
		"feedback_type", m.FeedbackType,
		"has_comment", strings.TrimSpace(m.UserComment) != "",
	)
	return s.sendJSON(protocol.ServerFeedbackAck{Type: "feedback_ack", ActionID: m.ActionID, Status: "recorded"})
}

func (s *LiveSession) sendError(code, message string, retryAfter *int) error {
	return s.sendJSON(protocol.NewError(message, code, retryAfter))
}

func (s *LiveSession) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueueNormal(outboundFrame{textPayload: payload})
}

func (s *LiveSession) sendJSONPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueuePriority(outboundFrame{textPayload: payload})
}

func (s *LiveSession) enqueueNormal(frame outboundFrame) error {
	select {
	case s.outboundNormal <- frame:
		return nil
	default:
		return errBackpressure
	}
}

func (s *LiveSession) enqueuePriority(frame outboundFrame) error {
	for i := 0; i < 4; i++ {
		select {
		case s.outboundPriority <- frame:
			return nil
		default:
		}
		select {
		case <-s.outboundPriority:
		default:
		}
	}
	select {
	case s.outboundPriority <- frame:
		return nil
	default:
		return errBackpressure
	}
}

func (s *LiveSession) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LiveSession) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

// SendWarning delivers an out-of-band notice (server drain) ahead of queued
// round output. Safe to call from any goroutine.
func (s *LiveSession) SendWarning(code, message string) error {
	if s == nil {
		return nil
	}
	return s.sendJSONPriority(protocol.NewError(message, code, nil))
}

func stageName(st State) string {
	switch st {
	case StateTranscribing:
		return "transcribe"
	case StateReasoning:
		return "reason"
	case StateRendering:
		return "layout"
	default:
		return string(st)
	}
}

func lastN(items []string, n int) []string {
	if n <= 0 || len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

func nonNilActions(actions []sketch.Action) []sketch.Action {
	if actions == nil {
		return []sketch.Action{}
	}
	return actions
}
