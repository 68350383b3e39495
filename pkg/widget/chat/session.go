package chat

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatwidget/pkg/widget/config"
)

const (
	FallbackWelcome = "Hello! How can I help you today?"
	ApologyMessage  = "Sorry, I encountered an error. Please try again."
)

// Request is the body of one chat call.
type Request struct {
	Message   string `json:"message"`
	ClientID  string `json:"client_id"`
	SessionID string `json:"session_id"`
}

// Sender delivers one chat request and returns the reply text.
type Sender interface {
	Send(ctx context.Context, req Request) (string, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, req Request) (string, error)

func (f SenderFunc) Send(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Message is one immutable turn of the transcript.
type Message struct {
	ID        string
	Text      string
	IsUser    bool
	Timestamp time.Time
}

// Props is what the bootstrapper hands the session on every render.
type Props struct {
	Theme          config.Theme
	WelcomeMessage string
}

// View is a consistent snapshot of the session used for rendering.
type View struct {
	Props    Props
	Open     bool
	Awaiting bool
	Input    string
	Messages []Message
}

// CanSend mirrors the send button state.
func (v View) CanSend() bool {
	return !v.Awaiting && strings.TrimSpace(v.Input) != ""
}

// Session owns one conversation: visibility, transcript, input and the
// single outstanding request. All mutations are serialized by mu; the
// request itself runs in a goroutine and its result is applied under mu.
type Session struct {
	clientID  string
	sessionID string
	sender    Sender
	logger    zerolog.Logger
	now       func() time.Time
	timeout   time.Duration
	onChange  func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	props    Props
	open     bool
	awaiting bool
	closed   bool
	input    string
	messages []Message
	counter  int
}

type Option func(*Session)

// WithClock replaces time.Now for message timestamps and ids.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithReplyTimeout bounds every chat request. Zero means no timeout.
func WithReplyTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// WithOnChange registers the callback run after every state change,
// outside the session lock.
func WithOnChange(fn func()) Option {
	return func(s *Session) { s.onChange = fn }
}

// WithLogger sets the session logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithSessionID pins the session identifier instead of generating one.
func WithSessionID(id string) Option {
	return func(s *Session) { s.sessionID = id }
}

// NewSession creates a closed, idle session with an empty transcript.
func NewSession(clientID string, sender Sender, options ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		clientID: clientID,
		sender:   sender,
		logger:   log.With().Str("component", "chat").Str("client_id", clientID).Logger(),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		props:    Props{Theme: config.DefaultTheme()},
	}
	for _, opt := range options {
		opt(s)
	}
	if s.sessionID == "" {
		s.sessionID = uuid.NewString()
	}
	return s
}

// ID returns the session identifier sent with every request.
func (s *Session) ID() string {
	return s.sessionID
}

// SetProps updates theme and welcome text. The transcript is kept.
func (s *Session) SetProps(p Props) {
	s.mu.Lock()
	s.props = p
	s.mu.Unlock()
}

// Toggle flips between closed and open. Opening with an empty transcript
// adds the welcome message.
func (s *Session) Toggle() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.open = !s.open
	if s.open && len(s.messages) == 0 {
		welcome := s.props.WelcomeMessage
		if welcome == "" {
			welcome = FallbackWelcome
		}
		s.appendLocked(welcome, false)
	}
	s.mu.Unlock()
	s.changed()
}

// SetInput replaces the input box content.
func (s *Session) SetInput(v string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.input = v
	s.mu.Unlock()
	s.changed()
}

// KeyPress handles a key in the input box. Enter without Shift submits;
// the return value tells whether a request was issued.
func (s *Session) KeyPress(key string, shift bool) bool {
	if key != "Enter" || shift {
		return false
	}
	return s.Submit()
}

// Submit sends the current input. It is a no-op returning false when the
// input is blank or a reply is still outstanding.
func (s *Session) Submit() bool {
	s.mu.Lock()
	if s.closed || s.awaiting || strings.TrimSpace(s.input) == "" {
		s.mu.Unlock()
		return false
	}
	text := s.input
	s.appendLocked(text, true)
	s.input = ""
	s.awaiting = true
	req := Request{Message: text, ClientID: s.clientID, SessionID: s.sessionID}
	s.wg.Add(1)
	s.mu.Unlock()
	s.changed()

	go s.roundTrip(req)
	return true
}

func (s *Session) roundTrip(req Request) {
	defer s.wg.Done()

	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	reply, err := s.sender.Send(ctx, req)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", s.sessionID).Msg("failed to send message")
		reply = ApologyMessage
	}
	s.appendLocked(reply, false)
	s.awaiting = false
	s.mu.Unlock()
	s.changed()
}

func (s *Session) appendLocked(text string, isUser bool) {
	now := s.now()
	s.counter++
	s.messages = append(s.messages, Message{
		ID:        strconv.FormatInt(now.UnixMilli(), 10) + "-" + strconv.Itoa(s.counter),
		Text:      text,
		IsUser:    isUser,
		Timestamp: now,
	})
}

func (s *Session) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

// View returns a snapshot for rendering.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]Message, len(s.messages))
	copy(msgs, s.messages)
	return View{
		Props:    s.props,
		Open:     s.open,
		Awaiting: s.awaiting,
		Input:    s.input,
		Messages: msgs,
	}
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []Message {
	return s.View().Messages
}

// Awaiting reports whether a reply is outstanding.
func (s *Session) Awaiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awaiting
}

// Wait blocks until no request is outstanding.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close cancels an outstanding request, waits for it and discards the
// transcript. Later calls on the session are no-ops.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.messages = nil
	s.input = ""
	s.awaiting = false
	s.open = false
	s.mu.Unlock()
}
