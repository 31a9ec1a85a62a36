// Package session implements C1 Session: one bidirectional transcription
// stream over a WebSocket, the framing primitive that pooledsession.PooledSession
// and pool.Pool build lifecycle and pooling policy on top of.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/lookatitude/dgstream"
	"github.com/lookatitude/dgstream/internal/logging"
)

// Callbacks is the capability set a caller registers on a Session. Each
// field is optional; a nil callback is silently skipped. Set-callbacks is
// replace-not-append — calling SetCallbacks again discards the previous set.
type Callbacks struct {
	// OnOpen fires once the WebSocket handshake completes, before any
	// inbound frame is delivered.
	OnOpen func()

	// OnRawText fires for every inbound text frame with the exact bytes
	// received, before any JSON decode is attempted.
	OnRawText func(raw []byte)

	// OnTranscript fires when an inbound text frame decodes to a
	// TranscriptResponse carrying at least one alternative.
	OnTranscript func(msg *TranscriptMessage)

	// OnError fires on any transport error: a socket error or a transcript
	// decode failure. A decode failure does not close the connection.
	OnError func(err error)

	// OnClose fires exactly once when the connection closes, local or
	// remote, carrying the close code that was observed.
	OnClose func(code CloseCode)
}

// Session owns one WebSocket endpoint: connect, send binary audio, send
// control frames, and dispatch inbound text frames to registered callbacks.
// A Session is created disconnected and meaningfully connects at most once.
type Session struct {
	id         uuid.UUID
	url        string
	credential string
	logger     *logging.Logger

	mu        sync.Mutex
	options   *dgstream.AudioStreamOptions
	callbacks Callbacks

	tr        *transport
	connected bool
	startedAt time.Time

	closeOnce sync.Once
	cancel    context.CancelFunc
}

// Option configures optional Session construction parameters.
type Option func(*Session)

// WithLogger overrides the default stdout info-level logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// New constructs a disconnected Session for rawURL, authenticating with
// credential. Both must be non-empty. Every Session is tagged with a random
// ID so log lines from concurrent sessions in the same fleet can be told
// apart.
func New(rawURL, credential string, opts ...Option) (*Session, error) {
	if rawURL == "" {
		return nil, dgstream.NewError("session.new", dgstream.ErrInvalidArgument, "url must not be empty", nil)
	}
	if credential == "" {
		return nil, dgstream.NewError("session.new", dgstream.ErrInvalidArgument, "credential must not be empty", nil)
	}
	s := &Session{
		id:         uuid.New(),
		url:        rawURL,
		credential: credential,
		logger:     logging.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ID returns the Session's unique identifier, stable for its lifetime.
func (s *Session) ID() string {
	return s.id.String()
}

// SetOptions stores opts; Connect appends their serialized query string to
// the stored URL. A later call replaces the earlier opts. opts must not be
// nil.
func (s *Session) SetOptions(opts *dgstream.AudioStreamOptions) error {
	if opts == nil {
		return dgstream.NewError("session.setOptions", dgstream.ErrInvalidArgument, "options must not be nil", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options = opts
	return nil
}

// SetCallbacks replaces the registered callback set wholesale.
func (s *Session) SetCallbacks(cb Callbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = cb
}

// Connect asynchronously opens the WebSocket handshake and begins the
// inbound dispatch loop. It returns once the socket is open; onOpen fires
// before Connect returns, and no inbound frame is dispatched before it.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	rawURL := s.url
	if s.options != nil {
		rawURL = s.options.AppendToURL(rawURL)
	}
	credential := s.credential
	s.mu.Unlock()

	headers := http.Header{}
	headers.Set("Authorization", fmt.Sprintf("Token %s", credential))

	tr, err := dial(ctx, rawURL, headers)
	if err != nil {
		s.logger.Error(ctx, "session: dial failed", "session_id", s.ID(), "error", err)
		return dgstream.NewError("session.connect", dgstream.ErrTransport, "websocket dial failed", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.tr = tr
	s.connected = true
	s.startedAt = time.Now()
	s.cancel = cancel
	onOpen := s.callbacks.OnOpen
	s.mu.Unlock()

	if onOpen != nil {
		onOpen()
	}

	pingErrCh := make(chan error, 1)
	go tr.runPingLoop(loopCtx, pingErrCh)
	go s.readLoop(loopCtx, tr, pingErrCh)

	return nil
}

// readLoop dispatches inbound text frames to callbacks until the
// connection closes or the ping loop reports a failed ping.
func (s *Session) readLoop(ctx context.Context, tr *transport, pingErrCh <-chan error) {
	for {
		data, isText, err := tr.readText(ctx)
		if err != nil {
			s.handleClose(err)
			return
		}
		select {
		case pingErr := <-pingErrCh:
			s.handleClose(pingErr)
			return
		default:
		}
		if !isText {
			continue
		}
		s.dispatchText(data)
	}
}

// dispatchText implements the onRawText-then-onTranscript ordering
// required of inbound text-frame handling: the raw bytes are always
// delivered first, and a decode failure fires onError without closing
// the connection.
func (s *Session) dispatchText(data []byte) {
	s.mu.Lock()
	onRawText := s.callbacks.OnRawText
	onTranscript := s.callbacks.OnTranscript
	onError := s.callbacks.OnError
	s.mu.Unlock()

	if onRawText != nil {
		onRawText(data)
	}

	var resp TranscriptResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		if onError != nil {
			onError(dgstream.NewError("session.dispatchText", dgstream.ErrTransport, "transcript decode failed", err))
		}
		return
	}

	msg := resp.ToMessage()
	if msg == nil {
		return
	}
	if onTranscript != nil {
		onTranscript(msg)
	}
}

func (s *Session) handleClose(err error) {
	s.mu.Lock()
	s.connected = false
	onError := s.callbacks.OnError
	onClose := s.callbacks.OnClose
	s.mu.Unlock()

	if err != nil {
		s.logger.Error(context.Background(), "session: connection lost", "session_id", s.ID(), "error", err)
		if onError != nil {
			onError(dgstream.NewError("session.readLoop", dgstream.ErrTransport, "connection lost", err))
		}
	}

	s.closeOnce.Do(func() {
		if onClose != nil {
			onClose(closeCode(err))
		}
	})
}

// SendAudio sends raw audio bytes as a binary frame. Fails with
// IllegalState if not connected, InvalidArgument on an empty payload.
func (s *Session) SendAudio(ctx context.Context, data []byte) error {
	tr, err := s.connectedTransport("session.sendAudio")
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return dgstream.NewError("session.sendAudio", dgstream.ErrInvalidArgument, "audio payload must not be empty", nil)
	}
	if err := tr.writeAudio(ctx, data); err != nil {
		return dgstream.NewError("session.sendAudio", dgstream.ErrTransport, "write failed", err)
	}
	return nil
}

// SendControl serializes msg to JSON and sends it as a text frame. Fails
// with IllegalState if not connected.
func (s *Session) SendControl(ctx context.Context, msg ControlFrame) error {
	tr, err := s.connectedTransport("session.sendControl")
	if err != nil {
		return err
	}
	if err := tr.writeControl(ctx, msg); err != nil {
		return dgstream.NewError("session.sendControl", dgstream.ErrTransport, "write failed", err)
	}
	return nil
}

func (s *Session) connectedTransport(op string) (*transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected || s.tr == nil {
		return nil, dgstream.NewError(op, dgstream.ErrIllegalState, "session is not connected", nil)
	}
	return s.tr, nil
}

// Disconnect idempotently closes the connection, triggering onClose
// exactly once with the observed close code.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	tr := s.tr
	cancel := s.cancel
	wasConnected := s.connected
	s.connected = false
	s.mu.Unlock()

	if !wasConnected || tr == nil {
		s.closeOnce.Do(func() {
			s.mu.Lock()
			onClose := s.callbacks.OnClose
			s.mu.Unlock()
			if onClose != nil {
				onClose(CloseAbnormal)
			}
		})
		return nil
	}

	err := tr.close(websocket.StatusNormalClosure, "")
	if cancel != nil {
		cancel()
	}

	s.closeOnce.Do(func() {
		s.mu.Lock()
		onClose := s.callbacks.OnClose
		s.mu.Unlock()
		if onClose != nil {
			onClose(closeCode(err))
		}
	})
	return nil
}

// IsConnected reports whether the open/close lifecycle has last crossed
// into the open state.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// StartedAt reports when Connect last completed successfully.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}
