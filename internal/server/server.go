package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/recallai/separate-streams-recorder/internal/appstats"
	"github.com/recallai/separate-streams-recorder/internal/config"
	"github.com/recallai/separate-streams-recorder/internal/pubsub"
	"github.com/recallai/separate-streams-recorder/internal/pubsub/events"
	"github.com/recallai/separate-streams-recorder/internal/recall"
	"github.com/recallai/separate-streams-recorder/internal/recorder"
	"github.com/recallai/separate-streams-recorder/internal/types"
	log "github.com/sirupsen/logrus"
)

const (
	HealthPath = "/healthz"

	shutdownTimeout = 10 * time.Second
)

var _ recorder.Observer = (*Server)(nil)

type Server struct {
	cfg        atomic.Pointer[config.Config]
	pubsub     pubsub.PubSub
	verifier   recall.Verifier
	processors map[recorder.MediaKind]*recorder.Processor
	upgrader   websocket.Upgrader

	// sessions by id, webhooks by the recording id that created them
	sessions sync.Map
	webhooks sync.Map

	shutdownWg sync.WaitGroup
	httpMu     sync.Mutex
	httpServer *http.Server
	closing    atomic.Bool
}

// NewServer wires one processor per media kind. ps may be nil when pub/sub
// is disabled.
func NewServer(cfg *config.Config, ps pubsub.PubSub, factory recorder.EncoderFactory) (*Server, error) {
	verifier, err := recall.NewVerifier(cfg.Recall.VerificationSecret)
	if err != nil {
		return nil, err
	}

	s := &Server{
		pubsub:     ps,
		verifier:   verifier,
		processors: make(map[recorder.MediaKind]*recorder.Processor),
		upgrader: websocket.Upgrader{
			ReadBufferSize: cfg.HTTP.ReadBufferSize,
			// bots connect server to server
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.cfg.Store(cfg)

	for _, kind := range []recorder.MediaKind{recorder.MediaKindAudio, recorder.MediaKindVideo} {
		p, err := recorder.NewProcessor(kind, cfg.Recorder, factory, s)
		if err != nil {
			return nil, fmt.Errorf("creating %s processor: %w", kind, err)
		}
		s.processors[kind] = p
	}
	return s, nil
}

func (s *Server) config() *config.Config {
	return s.cfg.Load()
}

// Reload swaps in a new configuration. HTTP limits and timeouts, the encoder
// close timeout and the pub/sub channels take effect for the next request;
// listen addresses, paths, recorder and verification settings keep the
// values the server was started with.
func (s *Server) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	old := s.config()
	if cfg.HTTP.ListenAddress != old.HTTP.ListenAddress ||
		cfg.HTTP.WebSocketPath != old.HTTP.WebSocketPath ||
		cfg.HTTP.WebhookPath != old.HTTP.WebhookPath ||
		cfg.Recorder != old.Recorder ||
		cfg.Recall != old.Recall {
		log.Warn("http listener, recorder and recall settings change only on restart")
	}
	s.cfg.Store(cfg)
	return nil
}

func (s *Server) Processor(kind recorder.MediaKind) *recorder.Processor {
	return s.processors[kind]
}

func (s *Server) Handler() http.Handler {
	cfg := s.config().HTTP
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.WebSocketPath, s.handleWebSocket)
	mux.HandleFunc(cfg.WebhookPath, s.handleWebhook)
	mux.HandleFunc(HealthPath, s.handleHealth)
	return mux
}

// Serve blocks until Close is called.
func (s *Server) Serve() error {
	cfg := s.config().HTTP
	hs := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpMu.Lock()
	if s.closing.Load() {
		s.httpMu.Unlock()
		return nil
	}
	s.httpServer = hs
	s.httpMu.Unlock()

	log.Infof("listening on %s (websocket %s, webhook %s)",
		cfg.ListenAddress, cfg.WebSocketPath, cfg.WebhookPath)

	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := s.verifier.Verify(r.Header, nil); err != nil {
		log.WithField("remote", r.RemoteAddr).Warnf("rejected websocket upgrade: %s", err)
		appstats.OnDroppedMessage("unauthorized")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.closing.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("remote", r.RemoteAddr).Warnf("websocket upgrade failed: %s", err)
		return
	}
	conn.SetReadLimit(s.config().HTTP.MaxMessageSize)

	sess := NewSession(uuid.NewString(), s, TransportWebSocket, conn)
	sess.log().WithField("remote", r.RemoteAddr).Info("websocket connected")
	s.startSession(sess)
	go s.readLoop(conn, sess)
}

func (s *Server) readLoop(conn *websocket.Conn, sess *Session) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.log().Warnf("websocket closed: %s", err)
			} else {
				sess.log().Debugf("websocket closed: %s", err)
			}
			sess.Close(events.CloseReasonConnectionClosed)
			return
		}
		if err := sess.Push(msg); err != nil {
			sess.log().Debugf("stop reading: %s", err)
			return
		}
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config().HTTP.MaxMessageSize))
	if err != nil {
		appstats.OnDroppedMessage("malformed")
		http.Error(w, "could not read body", http.StatusRequestEntityTooLarge)
		return
	}

	if err := s.verifier.Verify(r.Header, body); err != nil {
		log.WithField("remote", r.RemoteAddr).Warnf("rejected webhook: %s", err)
		appstats.OnDroppedMessage("unauthorized")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	e, err := recall.Decode(body)
	if err != nil {
		log.WithField("remote", r.RemoteAddr).Warn(err)
		appstats.OnDroppedMessage("malformed")
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}

	rid := e.RecordingID()
	if rid == "" {
		log.WithField("event", e.Event).Debug("dropping webhook without recording id")
		appstats.OnDroppedMessage("unbound")
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}

	// the session may close between lookup and push
	for attempt := 0; attempt < 2; attempt++ {
		sess := s.webhookSession(rid)
		if sess == nil {
			break
		}
		if err := sess.Push(body); err == nil {
			sess.touch(s.config().HTTP.WebhookIdleTimeout)
			writeJSON(w, http.StatusOK, map[string]bool{"success": true})
			return
		}
	}
	http.Error(w, "recording is closing", http.StatusServiceUnavailable)
}

func (s *Server) webhookSession(recordingID string) *Session {
	if v, ok := s.webhooks.Load(recordingID); ok {
		return v.(*Session)
	}
	if s.closing.Load() {
		return nil
	}

	sess := NewSession(uuid.NewString(), s, TransportWebhook, nil)
	sess.webhookKey = recordingID
	if v, loaded := s.webhooks.LoadOrStore(recordingID, sess); loaded {
		return v.(*Session)
	}
	sess.log().WithField("recording", recordingID).Info("webhook session started")
	s.startSession(sess)
	return sess
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) startSession(sess *Session) {
	s.sessions.Store(sess.id, sess)
	appstats.OnConnectionOpened(string(sess.transport))
	s.shutdownWg.Add(1)
	go sess.Run(&s.shutdownWg)
}

func (s *Server) removeSession(sess *Session) {
	if _, ok := s.sessions.LoadAndDelete(sess.id); ok {
		appstats.OnConnectionClosed(string(sess.transport))
	}
	if sess.webhookKey != "" {
		s.webhooks.CompareAndDelete(sess.webhookKey, sess)
	}
}

func (s *Server) sessionCount() int {
	n := 0
	s.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *Server) pipelineCount() int {
	n := 0
	for _, p := range s.processors {
		n += p.Manager().Len()
	}
	return n
}

func (s *Server) status() *events.RecorderStatus {
	app := s.config().App
	return events.NewRecorderStatus(app.Version, app.InstanceId).
		WithLoad(s.sessionCount(), s.pipelineCount())
}

// CloseRecording stops every session bound to recordingID, then finalizes
// whatever pipelines of the recording remain. It returns the number of
// pipelines closed.
func (s *Server) CloseRecording(recordingID string, reason string) int {
	var bound []*Session
	s.sessions.Range(func(_, v any) bool {
		if sess := v.(*Session); sess.RecordingID() == recordingID {
			bound = append(bound, sess)
		}
		return true
	})

	closed := 0
	wait := s.config().Encoder.CloseTimeout + 5*time.Second
	for _, sess := range bound {
		sess.Close(reason)
		select {
		case <-sess.Done():
			closed += sess.ClosedPipelines()
		case <-time.After(wait):
			sess.log().Warnf("session did not stop within %s", wait)
		}
	}

	for _, p := range s.processors {
		closed += p.CloseRecording(recordingID)
	}
	return closed
}

func (s *Server) HandlePubSub(ctx context.Context, msg []byte) {
	log.Trace(string(msg))
	event := events.Decode(msg)
	appstats.OnServerRequest(event)

	if !event.IsValid() {
		return
	}

	switch event.Id {
	case events.CloseRecordingKey:
		e := event.CloseRecording()
		if e == nil {
			log.Errorf("incorrect %s event", event.Id)
			return
		}
		if err := e.Validate(); err != nil {
			log.Error(err)
			s.PublishPubSub(e.Fail(err))
			return
		}
		n := s.CloseRecording(e.RecordingId, events.CloseReasonRequest)
		log.WithField("recording", e.RecordingId).Infof("recording closed on request, %d pipelines", n)
		s.PublishPubSub(e.Success(n))

	case events.GetRecorderStatusKey:
		s.PublishPubSub(s.status())
	}
}

func (s *Server) PublishPubSub(msg interface{}) {
	if s.pubsub == nil {
		return
	}
	j, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("failed to marshal %T: %s", msg, err)
		return
	}
	appstats.OnServerResponse(msg)
	if err := s.pubsub.Publish(s.config().PubSub.Channels.Publish, j); err != nil {
		log.Errorf("failed to publish %T: %s", msg, err)
	}
}

func (s *Server) OnStart() error {
	app := s.config().App
	log.Info("Application started. Version=", app.Version, " InstanceId=", app.InstanceId)
	s.PublishPubSub(events.NewRecorderStatus(app.Version, app.InstanceId))
	return nil
}

func (s *Server) StreamOpened(kind recorder.MediaKind, key recorder.StreamKey, file string) {
	s.PublishPubSub(events.NewPipelineOpened(key.RecordingID, key.ParticipantID, string(kind), file))
}

func (s *Server) StreamClosed(kind recorder.MediaKind, key recorder.StreamKey, stats *types.StreamStats) {
	s.PublishPubSub(events.NewPipelineClosed(stats))
}

// Close stops accepting connections, tears down every session and
// finalizes all remaining pipelines.
func (s *Server) Close() {
	if !s.closing.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.httpMu.Lock()
	hs := s.httpServer
	s.httpMu.Unlock()
	if hs != nil {
		if err := hs.Shutdown(ctx); err != nil {
			log.Warnf("http shutdown: %s", err)
		}
	}

	s.sessions.Range(func(_, v any) bool {
		v.(*Session).Close(events.CloseReasonShutdown)
		return true
	})

	done := make(chan struct{})
	go func() {
		s.shutdownWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.config().Encoder.CloseTimeout + shutdownTimeout):
		log.Warn("timed out waiting for sessions to stop")
	}

	for _, p := range s.processors {
		p.Close()
	}
}
