package speech

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Capture defaults.
const (
	DefaultSilence         = 1200 * time.Millisecond
	DefaultNoSpeechTimeout = 8 * time.Second
)

// CaptureConfig tunes a Capture service.
type CaptureConfig struct {
	// Silence ends a session after this long without new speech.
	Silence time.Duration

	// NoSpeechTimeout ends a session in which nothing was heard at all.
	NoSpeechTimeout time.Duration

	// Interim delivers non-final fragments as results.
	Interim bool

	Logger *slog.Logger
}

// CaptureOption configures a Capture.
type CaptureOption func(*CaptureConfig)

// WithSilence sets the quiet interval that ends a turn.
func WithSilence(d time.Duration) CaptureOption {
	return func(c *CaptureConfig) { c.Silence = d }
}

// WithNoSpeechTimeout sets how long a session waits for any speech.
func WithNoSpeechTimeout(d time.Duration) CaptureOption {
	return func(c *CaptureConfig) { c.NoSpeechTimeout = d }
}

// WithInterim enables delivery of interim fragments.
func WithInterim(enabled bool) CaptureOption {
	return func(c *CaptureConfig) { c.Interim = enabled }
}

// WithCaptureLogger sets the logger.
func WithCaptureLogger(l *slog.Logger) CaptureOption {
	return func(c *CaptureConfig) { c.Logger = l }
}

// Capture turns a continuous recognition engine into discrete listening
// sessions. Every callback carries the session id so that consumers can
// discard events from sessions they no longer care about.
type Capture struct {
	engine Engine
	cfg    CaptureConfig
	logger *slog.Logger

	// Callbacks. Set before the first Start.
	OnSessionStart func(id uint64)
	OnSessionEnd   func(id uint64)
	OnResult       func(id uint64, text string)
	OnError        func(id uint64, err error)
	OnLevel        func(level float64)

	mu      sync.Mutex
	nextID  uint64
	current *captureSession
}

type captureSession struct {
	id      uint64
	timer   *time.Timer
	endOnce sync.Once
}

// NewCapture wraps engine. A nil engine yields ErrUnsupported from Start.
func NewCapture(engine Engine, opts ...CaptureOption) *Capture {
	cfg := CaptureConfig{
		Silence:         DefaultSilence,
		NoSpeechTimeout: DefaultNoSpeechTimeout,
		Logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Capture{
		engine: engine,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "speech.capture"),
	}
}

// Start opens a listening session and returns its id.
func (c *Capture) Start(ctx context.Context) (uint64, error) {
	if c.engine == nil {
		return 0, ErrUnsupported
	}

	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return 0, ErrAlreadyListening
	}
	c.nextID++
	s := &captureSession{id: c.nextID}
	c.current = s
	c.mu.Unlock()

	events, err := c.engine.Start(ctx)
	if err != nil {
		c.mu.Lock()
		if c.current == s {
			c.current = nil
		}
		c.mu.Unlock()
		return 0, err
	}

	c.mu.Lock()
	stale := c.current != s
	if !stale {
		s.timer = time.AfterFunc(c.cfg.NoSpeechTimeout, func() { c.expire(s) })
	}
	c.mu.Unlock()

	// Stopped while the engine was starting; its session has already ended.
	if stale {
		c.engine.Stop()
	}

	c.logger.Debug("session opened", "session", s.id)
	go c.pump(s, events)
	return s.id, nil
}

// Stop ends the current session. OnSessionEnd fires before Stop returns.
// It is a no-op when not listening.
func (c *Capture) Stop() {
	c.mu.Lock()
	s := c.current
	if s == nil {
		c.mu.Unlock()
		return
	}
	c.current = nil
	if s.timer != nil {
		s.timer.Stop()
	}
	c.mu.Unlock()

	if err := c.engine.Stop(); err != nil {
		c.logger.Warn("engine stop failed", "session", s.id, "error", err)
	}
	c.end(s)
}

// Listening reports whether a session is open.
func (c *Capture) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

func (c *Capture) pump(s *captureSession, events <-chan Event) {
	for ev := range events {
		if !c.isCurrent(s) {
			continue
		}
		switch ev.Type {
		case EventStart:
			if c.OnSessionStart != nil {
				c.OnSessionStart(s.id)
			}
		case EventSpeechStart:
			c.hold(s)
		case EventSpeechEnd:
			c.arm(s, c.cfg.Silence)
		case EventFragment:
			c.arm(s, c.cfg.Silence)
			text := strings.TrimSpace(ev.Text)
			if text == "" || (!ev.Final && !c.cfg.Interim) {
				continue
			}
			if c.OnResult != nil {
				c.OnResult(s.id, text)
			}
		case EventLevel:
			if c.OnLevel != nil {
				c.OnLevel(ev.Level)
			}
		case EventError:
			c.logger.Debug("recognition error", "session", s.id, "error", ev.Err)
			if c.OnError != nil {
				c.OnError(s.id, ev.Err)
			}
		case EventEnd:
			c.detach(s)
		}
	}
	// Engine closed the channel without EventEnd.
	c.detach(s)
}

// hold pauses the silence timer while the user is talking.
func (c *Capture) hold(s *captureSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == s && s.timer != nil {
		s.timer.Stop()
	}
}

func (c *Capture) arm(s *captureSession, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != s {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(d, func() { c.expire(s) })
}

func (c *Capture) expire(s *captureSession) {
	if !c.isCurrent(s) {
		return
	}
	c.logger.Debug("silence timeout", "session", s.id)
	c.Stop()
}

func (c *Capture) detach(s *captureSession) {
	c.mu.Lock()
	if c.current == s {
		c.current = nil
		if s.timer != nil {
			s.timer.Stop()
		}
	}
	c.mu.Unlock()
	c.end(s)
}

func (c *Capture) end(s *captureSession) {
	s.endOnce.Do(func() {
		c.logger.Debug("session closed", "session", s.id)
		if c.OnLevel != nil {
			c.OnLevel(0)
		}
		if c.OnSessionEnd != nil {
			c.OnSessionEnd(s.id)
		}
	})
}

func (c *Capture) isCurrent(s *captureSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current == s
}
