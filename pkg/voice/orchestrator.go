package voice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-ruvo/pkg/inference"
	"github.com/teslashibe/go-ruvo/pkg/speech"
)

// EventType identifies a presentation event.
type EventType string

const (
	EventState      EventType = "state"
	EventLevel      EventType = "level"
	EventTranscript EventType = "transcript"
	EventError      EventType = "error"
	EventTitle      EventType = "title"
	EventMuted      EventType = "muted"
)

// Event is published to subscribers for rendering.
type Event struct {
	Type    EventType `json:"type"`
	State   string    `json:"state,omitempty"`
	Session string    `json:"session,omitempty"`
	Role    string    `json:"role,omitempty"`
	Text    string    `json:"text,omitempty"`
	Level   float64   `json:"level,omitempty"`
	Error   string    `json:"error,omitempty"`
	Class   string    `json:"class,omitempty"`
	Muted   bool      `json:"muted,omitempty"`
	Time    time.Time `json:"time"`
}

// Orchestrator runs the hands-free loop: listen, think, speak, listen.
//
// Every external signal (capture result, capture end, completion reply,
// speech end, user command) enters through dispatch, which applies one
// transition under the lock and returns side effects to run after it is
// released. Asynchronous signals carry the epoch they were issued in; a
// signal from an older epoch is ignored, so nothing fires after Stop.
type Orchestrator struct {
	cfg     Config
	chat    inference.Provider
	capture *speech.Capture
	output  *speech.Output
	logger  *slog.Logger
	metrics *MetricsCollector

	mu           sync.Mutex
	state        State
	session      *Session
	epoch        uint64
	endedCapture uint64
	lastErr      error
	muted        bool
	finishing    bool
	ctx          context.Context
	cancel       context.CancelFunc
	turnCancel   context.CancelFunc
	grace        *time.Timer

	subMu   sync.Mutex
	subs    map[uint64]chan Event
	nextSub uint64
}

// New wires capture and output to chat. It takes over the capture and
// output callbacks.
func New(chat inference.Provider, capture *speech.Capture, output *speech.Output, cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if chat == nil || capture == nil || output == nil {
		return nil, errors.New("voice: chat, capture and output are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = SystemPrompt(cfg.UserName)
	}
	if cfg.Fallback == "" {
		cfg.Fallback = FallbackReply
	}

	o := &Orchestrator{
		cfg:     cfg,
		chat:    chat,
		capture: capture,
		output:  output,
		logger:  cfg.Logger.With("component", "voice.orchestrator"),
		metrics: NewMetricsCollector(cfg.Metrics),
		ctx:     context.Background(),
		subs:    make(map[uint64]chan Event),
	}

	capture.OnResult = func(id uint64, text string) {
		o.dispatch(event{kind: evResult, capture: id, text: text})
	}
	capture.OnSessionEnd = func(id uint64) {
		o.dispatch(event{kind: evCaptureEnded, capture: id})
	}
	capture.OnError = func(id uint64, err error) {
		o.dispatch(event{kind: evCaptureError, capture: id, err: err})
	}
	capture.OnLevel = func(level float64) { o.publishLevel(StateListening, level) }
	output.OnLevel = func(level float64) { o.publishLevel(StateSpeaking, level) }
	output.OnError = func(err error) {
		o.logger.Warn("speech output failed", "error", err)
		o.publish(Event{Type: EventError, Error: err.Error(), Class: Classify(err).String()})
	}

	return o, nil
}

// Start begins a session and opens the microphone. ctx bounds the whole
// session; canceling it stops the loop. Calling Start while a session is
// running is a no-op. From the error state it resumes the same session.
func (o *Orchestrator) Start(ctx context.Context) error {
	return o.dispatch(event{kind: evStart, ctx: ctx})
}

// Stop ends the session from any state. Capture and output are halted
// before it returns and no later signal changes state.
func (o *Orchestrator) Stop() {
	o.dispatch(event{kind: evStop})
}

// Finish ends the session gracefully: a reply in progress is still spoken,
// then the orchestrator goes idle.
func (o *Orchestrator) Finish() {
	o.dispatch(event{kind: evFinish})
}

// Retry clears an error and resumes listening.
func (o *Orchestrator) Retry() error {
	return o.dispatch(event{kind: evRetry})
}

// HandleInput submits typed text as if it had been spoken. Empty text is
// ignored. It fails with ErrBusy while a turn is in progress and with
// ErrNotActive outside a session.
func (o *Orchestrator) HandleInput(text string) error {
	return o.dispatch(event{kind: evResult, text: text, manual: true})
}

// SetMuted switches audio output off or on. Muted replies still complete.
func (o *Orchestrator) SetMuted(muted bool) {
	o.output.SetMuted(muted)
	o.mu.Lock()
	o.muted = muted
	o.mu.Unlock()
	o.publish(Event{Type: EventMuted, Muted: muted})
}

// Muted reports the mute switch.
func (o *Orchestrator) Muted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.muted
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Err returns the error that moved the orchestrator to StateError.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// History returns a copy of the current session history, system entry first.
// It is empty once the session has ended.
func (o *Orchestrator) History() []inference.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil
	}
	return append([]inference.Message(nil), o.session.History...)
}

// Session returns a copy of the current session, if any.
func (o *Orchestrator) Session() (Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return Session{}, false
	}
	return o.session.snapshot(), true
}

// Metrics returns the per-turn latency collector.
func (o *Orchestrator) Metrics() *MetricsCollector {
	return o.metrics
}

// Subscribe returns a channel of presentation events and a function that
// unsubscribes. Slow subscribers miss events rather than block the loop.
func (o *Orchestrator) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	o.subMu.Lock()
	o.nextSub++
	id := o.nextSub
	o.subs[id] = ch
	o.subMu.Unlock()

	return ch, func() {
		o.subMu.Lock()
		defer o.subMu.Unlock()
		if _, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(ch)
		}
	}
}

// Close stops the session and releases subscribers.
func (o *Orchestrator) Close() error {
	o.Stop()
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for id, ch := range o.subs {
		delete(o.subs, id)
		close(ch)
	}
	return nil
}

type eventKind int

const (
	evStart eventKind = iota
	evStop
	evFinish
	evRetry
	evCaptureFailed
	evResult
	evCaptureError
	evCaptureEnded
	evReply
	evSpeechEnded
	evResume
	evTitle
)

type event struct {
	kind    eventKind
	ctx     context.Context
	epoch   uint64
	capture uint64
	text    string
	session string
	err     error
	manual  bool
}

// effect runs after the lock is released.
type effect func() error

func (o *Orchestrator) dispatch(ev event) error {
	o.mu.Lock()
	effects, err := o.transition(ev)
	o.mu.Unlock()

	for _, fx := range effects {
		if fxErr := fx(); fxErr != nil && err == nil {
			err = fxErr
		}
	}
	return err
}

// transition applies ev (must hold mu).
func (o *Orchestrator) transition(ev event) ([]effect, error) {
	switch ev.kind {
	case evStart:
		return o.onStart(ev.ctx)
	case evStop:
		return o.onStop(StateStopped), nil
	case evFinish:
		return o.onFinish(), nil
	case evRetry:
		if o.state != StateError || o.session == nil {
			return nil, nil
		}
		return o.resume(), nil
	case evCaptureFailed:
		return o.onCaptureFailed(ev), nil
	case evResult:
		return o.onResult(ev)
	case evCaptureError:
		return o.onCaptureError(ev), nil
	case evCaptureEnded:
		return o.onCaptureEnded(ev), nil
	case evReply:
		return o.onReply(ev), nil
	case evSpeechEnded:
		return o.onSpeechEnded(ev), nil
	case evResume:
		if ev.epoch != o.epoch || o.state != StateListening {
			return nil, nil
		}
		return []effect{o.openCapture(o.epoch)}, nil
	case evTitle:
		if o.session != nil && o.session.ID == ev.session {
			o.session.Title = ev.text
			o.publish(Event{Type: EventTitle, Session: ev.session, Text: ev.text})
		}
	}
	return nil, nil
}

func (o *Orchestrator) onStart(ctx context.Context) ([]effect, error) {
	if o.state.Active() {
		return nil, nil
	}
	if o.state == StateError && o.session != nil {
		return o.resume(), nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	o.epoch++
	epoch := o.epoch
	session := newSession(o.cfg.SystemPrompt)
	o.session = session
	o.ctx, o.cancel = context.WithCancel(ctx)
	context.AfterFunc(o.ctx, func() { o.stopSession(session) })

	o.lastErr = nil
	o.finishing = false
	o.logger.Info("session started", "session", o.session.ID)
	o.setState(StateListening)
	return []effect{o.openCapture(epoch)}, nil
}

func (o *Orchestrator) resume() []effect {
	o.epoch++
	o.lastErr = nil
	o.session.Active = true
	o.setState(StateListening)
	return []effect{o.openCapture(o.epoch)}
}

// stopSession stops s if it is still the running session.
func (o *Orchestrator) stopSession(s *Session) {
	o.mu.Lock()
	current := o.session == s && s.Active
	o.mu.Unlock()
	if current {
		o.Stop()
	}
}

func (o *Orchestrator) onStop(to State) []effect {
	o.epoch++
	o.finishing = false
	if o.session != nil {
		o.session.Active = false
	}
	if o.turnCancel != nil {
		o.turnCancel()
		o.turnCancel = nil
	}
	if o.grace != nil {
		o.grace.Stop()
		o.grace = nil
	}
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	if o.state != to {
		o.logger.Info("session ended", "state", to)
		o.setState(to)
	}
	// History ends with the session; transcripts keep the saved turns.
	o.session = nil
	return []effect{
		func() error { o.capture.Stop(); return nil },
		func() error { o.output.Stop(); return nil },
	}
}

func (o *Orchestrator) onFinish() []effect {
	switch o.state {
	case StateListening:
		return o.onStop(StateIdle)
	case StateThinking, StateSpeaking:
		o.finishing = true
	}
	return nil
}

func (o *Orchestrator) onCaptureFailed(ev event) []effect {
	if ev.epoch != o.epoch || o.state != StateListening {
		return nil
	}
	return o.fail(ev.err)
}

// fail moves to StateError (must hold mu).
func (o *Orchestrator) fail(err error) []effect {
	o.epoch++
	o.lastErr = err
	if o.grace != nil {
		o.grace.Stop()
		o.grace = nil
	}
	o.logger.Warn("voice loop halted", "error", err)
	o.publish(Event{Type: EventError, Error: err.Error(), Class: Classify(err).String()})
	o.setState(StateError)
	return []effect{func() error { o.capture.Stop(); return nil }}
}

func (o *Orchestrator) onResult(ev event) ([]effect, error) {
	text := strings.TrimSpace(ev.text)
	if ev.manual {
		if text == "" {
			return nil, nil
		}
		switch o.state {
		case StateListening:
		case StateThinking, StateSpeaking:
			return nil, ErrBusy
		default:
			return nil, ErrNotActive
		}
	}
	if o.state != StateListening {
		o.logger.Debug("ignoring result", "state", o.state)
		return nil, nil
	}
	if !ev.manual && ev.capture <= o.endedCapture {
		return nil, nil
	}
	if text == "" {
		return nil, nil
	}

	o.session.add(inference.NewUserMessage(text))
	o.metrics.MarkResult()
	o.publish(Event{Type: EventTranscript, Session: o.session.ID, Role: string(inference.RoleUser), Text: text})
	o.setState(StateThinking)

	epoch := o.epoch
	ctx, cancel := context.WithTimeout(o.ctx, o.cfg.TurnTimeout)
	o.turnCancel = cancel
	req := &inference.ChatRequest{
		Messages:    o.requestMessages(),
		Model:       o.cfg.Model,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	}

	return []effect{
		func() error { o.capture.Stop(); return nil },
		func() error { go o.complete(ctx, cancel, epoch, req); return nil },
	}, nil
}

// requestMessages copies history, adding tone guidance for the latest
// user turn to the system entry (must hold mu).
func (o *Orchestrator) requestMessages() []inference.Message {
	msgs := append([]inference.Message(nil), o.session.History...)
	if !o.cfg.EmotionAware {
		return msgs
	}
	last := msgs[len(msgs)-1].Content
	if tone := Tone(DetectEmotion(last)); tone != "" && msgs[0].Role == inference.RoleSystem {
		msgs[0].Content += "\n\n" + tone
	}
	return msgs
}

func (o *Orchestrator) complete(ctx context.Context, cancel context.CancelFunc, epoch uint64, req *inference.ChatRequest) {
	defer cancel()
	resp, err := o.chat.Chat(ctx, req)
	var text string
	if err == nil {
		text = strings.TrimSpace(resp.Message.Content)
		if text == "" {
			err = errors.New("empty reply")
		}
	}
	o.dispatch(event{kind: evReply, epoch: epoch, text: text, err: err})
}

func (o *Orchestrator) onReply(ev event) []effect {
	if ev.epoch != o.epoch || o.state != StateThinking {
		return nil
	}
	o.turnCancel = nil

	reply := ev.text
	if ev.err != nil {
		err := wrapCompletion(ev.err)
		o.logger.Warn("completion failed", "error", err, "class", Classify(err))
		o.publish(Event{Type: EventError, Error: err.Error(), Class: Classify(err).String()})
		o.metrics.MarkReply(true)
		reply = o.cfg.Fallback
	} else {
		o.session.add(inference.NewAssistantMessage(reply))
		o.metrics.MarkReply(false)
		o.publish(Event{Type: EventTranscript, Session: o.session.ID, Role: string(inference.RoleAssistant), Text: reply})
	}
	o.setState(StateSpeaking)

	epoch, ctx := o.epoch, o.ctx
	effects := []effect{func() error { go o.speak(ctx, epoch, reply); return nil }}
	if o.cfg.Transcripts != nil {
		effects = append(effects, o.persist(o.session))
	}
	if ev.err == nil && o.cfg.Titles && o.session.Title == "" && o.session.replies() == 1 {
		effects = append(effects, o.titleSession(o.session))
	}
	return effects
}

func (o *Orchestrator) speak(ctx context.Context, epoch uint64, text string) {
	if err := o.output.Speak(ctx, text); err != nil {
		o.logger.Debug("reply not spoken", "error", err)
	}
	o.dispatch(event{kind: evSpeechEnded, epoch: epoch})
}

func (o *Orchestrator) onSpeechEnded(ev event) []effect {
	if ev.epoch != o.epoch || o.state != StateSpeaking {
		return nil
	}
	o.metrics.MarkResponseDone()
	if o.finishing {
		return o.onStop(StateIdle)
	}
	o.setState(StateListening)
	return o.scheduleCapture()
}

func (o *Orchestrator) onCaptureEnded(ev event) []effect {
	if ev.capture > o.endedCapture {
		o.endedCapture = ev.capture
	} else {
		return nil
	}
	if o.state != StateListening || o.grace != nil {
		return nil
	}
	// Silence with no result: listen again.
	return o.scheduleCapture()
}

func (o *Orchestrator) onCaptureError(ev event) []effect {
	if ev.capture <= o.endedCapture || o.state != StateListening {
		return nil
	}
	if o.cfg.Metrics != nil {
		kind := string(speech.KindUnknown)
		var re *RecognitionError
		if errors.As(ev.err, &re) {
			kind = string(re.Kind)
		} else if errors.Is(ev.err, ErrPermission) {
			kind = string(speech.KindNotAllowed)
		}
		o.cfg.Metrics.CaptureErrors.WithLabelValues(kind).Inc()
	}
	if Classify(ev.err) == ClassFatal {
		return o.fail(ev.err)
	}
	o.logger.Debug("recognition error", "error", ev.err)
	return nil
}

// scheduleCapture reopens the microphone after the grace delay (must hold mu).
func (o *Orchestrator) scheduleCapture() []effect {
	epoch := o.epoch
	if o.cfg.Grace <= 0 {
		return []effect{o.openCapture(epoch)}
	}
	if o.grace != nil {
		o.grace.Stop()
	}
	o.grace = time.AfterFunc(o.cfg.Grace, func() {
		o.mu.Lock()
		if o.epoch == epoch {
			o.grace = nil
		}
		o.mu.Unlock()
		o.dispatch(event{kind: evResume, epoch: epoch})
	})
	return nil
}

// openCapture returns an effect that starts a capture session for epoch.
func (o *Orchestrator) openCapture(epoch uint64) effect {
	return func() error {
		o.mu.Lock()
		ok := o.epoch == epoch && o.state == StateListening
		ctx := o.ctx
		o.mu.Unlock()
		if !ok {
			return nil
		}

		_, err := o.capture.Start(ctx)
		if errors.Is(err, speech.ErrAlreadyListening) {
			return nil
		}
		if err != nil {
			o.dispatch(event{kind: evCaptureFailed, epoch: epoch, err: err})
			return err
		}

		// Stopped while the microphone was opening.
		o.mu.Lock()
		stale := o.epoch != epoch || o.state != StateListening
		o.mu.Unlock()
		if stale {
			o.capture.Stop()
		}
		return nil
	}
}

func (o *Orchestrator) persist(s *Session) effect {
	id, turns := s.ID, s.turns()
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.cfg.Transcripts.Save(ctx, id, turns); err != nil {
			o.logger.Warn("transcript not saved", "session", id, "error", err)
		}
		return nil
	}
}

func (o *Orchestrator) titleSession(s *Session) effect {
	id, history := s.ID, append([]inference.Message(nil), s.History...)
	return func() error {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), o.cfg.TurnTimeout)
			defer cancel()
			title := inference.Title(ctx, o.chat, history)
			if o.cfg.Transcripts != nil {
				if err := o.cfg.Transcripts.SetTitle(ctx, id, title); err != nil {
					o.logger.Debug("title not saved", "session", id, "error", err)
				}
			}
			o.dispatch(event{kind: evTitle, session: id, text: title})
		}()
		return nil
	}
}

// setState records a transition (must hold mu).
func (o *Orchestrator) setState(s State) {
	if o.state == s {
		return
	}
	o.logger.Debug("state", "from", o.state, "to", s)
	o.state = s
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.StateChanges.WithLabelValues(s.String()).Inc()
	}
	ev := Event{Type: EventState, State: s.String()}
	if o.session != nil {
		ev.Session = o.session.ID
	}
	if s == StateError && o.lastErr != nil {
		ev.Error = o.lastErr.Error()
	}
	o.publish(ev)
}

func (o *Orchestrator) publishLevel(want State, level float64) {
	o.mu.Lock()
	ok := o.state == want
	o.mu.Unlock()
	if ok {
		o.publish(Event{Type: EventLevel, State: want.String(), Level: level})
	}
}

func (o *Orchestrator) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
