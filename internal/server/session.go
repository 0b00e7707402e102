package server

import (
	"errors"
	"io"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/recallai/separate-streams-recorder/internal/appstats"
	"github.com/recallai/separate-streams-recorder/internal/pubsub/events"
	"github.com/recallai/separate-streams-recorder/internal/recall"
	"github.com/recallai/separate-streams-recorder/internal/recorder"
	log "github.com/sirupsen/logrus"
)

var ErrSessionClosed = errors.New("session closed")

type Transport string

const (
	TransportWebSocket Transport = "websocket"
	TransportWebhook   Transport = "webhook"
)

type SessionState int

const (
	SessionUnbound SessionState = iota
	SessionBound
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionUnbound:
		return "unbound"
	case SessionBound:
		return "bound"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const commandQueueSize = 256

type messageCommand struct {
	payload []byte
}

type closeCommand struct {
	reason string
}

// Session is one upstream connection. It binds to the first recording id
// it sees and routes every later media message to that recording.
type Session struct {
	id          string
	server      *Server
	transport   Transport
	conn        io.Closer
	webhookKey  string
	commands    chan interface{}
	stoppedOnce sync.Once
	done        chan struct{}
	closing     atomic.Bool
	sendMu      sync.RWMutex

	mu              sync.Mutex
	state           SessionState
	recordingID     string
	kinds           map[recorder.MediaKind]bool
	idleTimer       *time.Timer
	closedPipelines int
}

func NewSession(id string, s *Server, transport Transport, conn io.Closer) *Session {
	return &Session{
		id:        id,
		server:    s,
		transport: transport,
		conn:      conn,
		commands:  make(chan interface{}, commandQueueSize),
		done:      make(chan struct{}),
		kinds:     make(map[recorder.MediaKind]bool),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RecordingID is empty until the session is bound.
func (s *Session) RecordingID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordingID
}

// Done is closed once the session has released its pipelines.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) ClosedPipelines() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedPipelines
}

func (s *Session) log() *log.Entry {
	fields := log.Fields{
		"session":   s.id,
		"transport": s.transport,
	}
	if rid := s.RecordingID(); rid != "" {
		fields["recording"] = rid
	}
	return log.WithFields(fields)
}

// Push queues an upstream message, blocking while the queue is full.
// Messages pushed before Close are processed before the session tears down.
func (s *Session) Push(msg []byte) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()

	if s.closing.Load() {
		return ErrSessionClosed
	}
	select {
	case s.commands <- messageCommand{payload: msg}:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// Close asks the session to tear down once the messages already queued are
// processed. Later pushes are rejected. It is safe to call more than once.
func (s *Session) Close(reason string) {
	// waits for in-flight pushes so the close command is queued last
	s.sendMu.Lock()
	first := !s.closing.Swap(true)
	s.sendMu.Unlock()
	if !first {
		return
	}

	if s.webhookKey != "" {
		s.server.webhooks.CompareAndDelete(s.webhookKey, s)
	}

	select {
	case s.commands <- closeCommand{reason: reason}:
	case <-s.done:
	}
}

func (s *Session) touch(idle time.Duration) {
	if idle <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionClosed {
		return
	}
	if s.idleTimer == nil {
		s.idleTimer = time.AfterFunc(idle, func() {
			s.log().Debugf("no webhook for %s", idle)
			s.Close(events.CloseReasonIdle)
		})
		return
	}
	s.idleTimer.Reset(idle)
}

func (s *Session) Run(wg *sync.WaitGroup) {
	defer wg.Done()

	for cmd := range s.commands {
		switch c := cmd.(type) {
		case messageCommand:
			s.handleMessage(c.payload)

		case closeCommand:
			s.handleClose(c.reason)
			return

		default:
			log.WithField("session", s.id).Errorf("unknown command type: %T", c)
		}
	}
}

// handleMessage never lets a failing message take down the session.
func (s *Session) handleMessage(payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.log().WithField("stack", string(debug.Stack())).Errorf("dropping message after panic: %v", r)
			appstats.OnDroppedMessage("panic")
		}
	}()

	e, err := recall.Decode(payload)
	if err != nil {
		s.log().Warn(err)
		appstats.OnDroppedMessage("malformed")
		return
	}
	appstats.OnMessage(e.Event)

	rid := e.RecordingID()

	s.mu.Lock()
	if s.state == SessionUnbound && rid != "" {
		s.state = SessionBound
		s.recordingID = rid
		s.mu.Unlock()
		s.log().Info("bound to recording")
		s.mu.Lock()
	}
	state, bound := s.state, s.recordingID
	s.mu.Unlock()

	if state != SessionBound {
		s.log().WithField("event", e.Event).Info("dropping message without recording id")
		appstats.OnDroppedMessage("unbound")
		return
	}
	if rid == "" {
		s.log().WithField("event", e.Event).Debug("dropping message without recording id")
		appstats.OnDroppedMessage("unbound")
		return
	}
	if rid != bound {
		s.log().Warnf("message for recording %s routed to bound recording", rid)
	}

	if !e.IsMedia() {
		s.log().WithField("event", e.Event).Debug("ignoring event")
		appstats.OnDroppedMessage("unsupported")
		return
	}
	if err := e.Validate(); err != nil {
		s.log().WithField("event", e.Event).Warnf("dropping malformed message: %s", err)
		appstats.OnDroppedMessage("malformed")
		return
	}
	data, err := e.DecodeBuffer()
	if err != nil {
		s.log().WithField("event", e.Event).Warnf("dropping malformed message: %s", err)
		appstats.OnDroppedMessage("malformed")
		return
	}

	kind := recorder.MediaKindAudio
	if e.Event == recall.EventVideoSeparatePng {
		kind = recorder.MediaKindVideo
	}

	s.mu.Lock()
	s.kinds[kind] = true
	s.mu.Unlock()

	chunk := recorder.Chunk{
		RecordingID:   bound,
		ParticipantID: e.ParticipantID(),
		Relative:      e.Relative(),
		Data:          data,
	}
	if err := s.server.Processor(kind).Process(chunk); err != nil {
		s.log().WithField("participant", chunk.ParticipantID).Errorf("processing %s chunk: %s", kind, err)
	}
}

func (s *Session) handleClose(reason string) {
	s.stoppedOnce.Do(func() {
		s.mu.Lock()
		s.state = SessionClosed
		if s.idleTimer != nil {
			s.idleTimer.Stop()
		}
		rid := s.recordingID
		kinds := make([]recorder.MediaKind, 0, len(s.kinds))
		for k := range s.kinds {
			kinds = append(kinds, k)
		}
		s.mu.Unlock()

		if s.conn != nil {
			_ = s.conn.Close()
		}

		closed := 0
		if rid != "" {
			for _, kind := range kinds {
				closed += s.server.Processor(kind).CloseRecording(rid)
			}
		}

		s.mu.Lock()
		s.closedPipelines = closed
		s.mu.Unlock()

		s.server.removeSession(s)

		s.log().Infof("session closed (%s), %d pipelines finalized", reason, closed)
		if rid != "" && reason != events.CloseReasonRequest {
			s.server.PublishPubSub(events.NewRecordingClosed(rid, reason, closed))
		}
		close(s.done)
	})
}
