package web

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-ruvo/pkg/hub"
	"github.com/teslashibe/go-ruvo/pkg/speech"
	"github.com/teslashibe/go-ruvo/pkg/transcript"
	"github.com/teslashibe/go-ruvo/pkg/tts"
	"github.com/teslashibe/go-ruvo/pkg/voice"
)

// StateResponse describes the orchestrator for the dashboard
type StateResponse struct {
	State      string `json:"state"`
	Session    string `json:"session,omitempty"`
	Title      string `json:"title,omitempty"`
	Muted      bool   `json:"muted"`
	Error      string `json:"error,omitempty"`
	Turns      int    `json:"turns"`
	Latency    string `json:"latency,omitempty"`
	Recognizer bool   `json:"recognizer_connected"`
}

func (s *Server) state() StateResponse {
	o := s.cfg.Orchestrator
	resp := StateResponse{
		State: o.State().String(),
		Muted: o.Muted(),
		Turns: o.Metrics().Turns(),
	}
	if sess, ok := o.Session(); ok {
		resp.Session = sess.ID
		resp.Title = sess.Title
	}
	if err := o.Err(); err != nil {
		resp.Error = err.Error()
	}
	if resp.Turns > 0 {
		avg := o.Metrics().Average()
		resp.Latency = avg.FormatLatency()
	}
	if s.cfg.Bridge != nil {
		resp.Recognizer = s.cfg.Bridge.Connected()
	}
	return resp
}

// handleState returns the current state
func (s *Server) handleState(c *fiber.Ctx) error {
	return c.JSON(s.state())
}

// handleHistory returns the current session history without the system prompt
func (s *Server) handleHistory(c *fiber.Ctx) error {
	history := s.cfg.Orchestrator.History()
	if len(history) > 0 {
		history = history[1:]
	}
	return c.JSON(history)
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	if err := s.cfg.Orchestrator.Start(s.ctx); err != nil {
		return fiber.NewError(statusFor(err), err.Error())
	}
	return c.JSON(s.state())
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	s.cfg.Orchestrator.Stop()
	return c.JSON(s.state())
}

func (s *Server) handleFinish(c *fiber.Ctx) error {
	s.cfg.Orchestrator.Finish()
	return c.JSON(s.state())
}

func (s *Server) handleRetry(c *fiber.Ctx) error {
	if err := s.cfg.Orchestrator.Retry(); err != nil {
		return fiber.NewError(statusFor(err), err.Error())
	}
	return c.JSON(s.state())
}

// MuteRequest is the body of POST /api/session/mute
type MuteRequest struct {
	Muted bool `json:"muted"`
}

func (s *Server) handleMute(c *fiber.Ctx) error {
	var req MuteRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	s.cfg.Orchestrator.SetMuted(req.Muted)
	return c.JSON(s.state())
}

// InputRequest is the body of POST /api/input
type InputRequest struct {
	Text string `json:"text"`
}

// handleInput submits typed text as a user turn
func (s *Server) handleInput(c *fiber.Ctx) error {
	var req InputRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if err := s.cfg.Orchestrator.HandleInput(req.Text); err != nil {
		return fiber.NewError(statusFor(err), err.Error())
	}
	return c.Status(fiber.StatusAccepted).JSON(s.state())
}

func (s *Server) handleKeys(c *fiber.Ctx) error {
	if s.cfg.Keys == nil {
		return fiber.ErrNotFound
	}
	return c.JSON(s.cfg.Keys.Stats())
}

func (s *Server) handleKeysReset(c *fiber.Ctx) error {
	if s.cfg.Keys == nil {
		return fiber.ErrNotFound
	}
	s.cfg.Keys.Reset()
	return c.JSON(s.cfg.Keys.Stats())
}

// VoicesResponse lists the catalog and the selection
type VoicesResponse struct {
	Current string      `json:"current"`
	Voices  []tts.Voice `json:"voices"`
}

func (s *Server) handleVoices(c *fiber.Ctx) error {
	resp := VoicesResponse{Current: tts.DefaultVoice().ID, Voices: tts.Voices}
	if s.cfg.Voices != nil {
		resp.Current = s.cfg.Voices.Current().ID
	}
	return c.JSON(resp)
}

// VoiceRequest is the body of PUT /api/voice
type VoiceRequest struct {
	Voice   string `json:"voice"`
	Preview bool   `json:"preview"`
}

func (s *Server) handleSelectVoice(c *fiber.Ctx) error {
	if s.cfg.Voices == nil {
		return fiber.ErrNotFound
	}
	var req VoiceRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	v, err := s.cfg.Voices.Select(c.UserContext(), req.Voice)
	if errors.Is(err, tts.ErrUnknownVoice) {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err != nil {
		return err
	}
	if req.Preview && s.cfg.Preview != nil {
		go func() {
			ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
			defer cancel()
			if err := s.cfg.Preview(ctx, tts.SampleText(v)); err != nil {
				s.logger.Warn("voice preview failed", "voice", v.Name, "error", err)
			}
		}()
	}
	return c.JSON(v)
}

func (s *Server) handleListTranscripts(c *fiber.Ctx) error {
	if s.cfg.Transcripts == nil {
		return fiber.ErrNotFound
	}
	list, err := s.cfg.Transcripts.List(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(list)
}

func (s *Server) handleGetTranscript(c *fiber.Ctx) error {
	if s.cfg.Transcripts == nil {
		return fiber.ErrNotFound
	}
	t, err := s.cfg.Transcripts.Get(c.UserContext(), c.Params("id"))
	if errors.Is(err, transcript.ErrNotFound) {
		return fiber.ErrNotFound
	}
	if err != nil {
		return err
	}
	return c.JSON(t)
}

func (s *Server) handleDeleteTranscript(c *fiber.Ctx) error {
	if s.cfg.Transcripts == nil {
		return fiber.ErrNotFound
	}
	err := s.cfg.Transcripts.Delete(c.UserContext(), c.Params("id"))
	if errors.Is(err, transcript.ErrNotFound) {
		return fiber.ErrNotFound
	}
	if err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleStateWS streams orchestrator events, starting with a state snapshot
func (s *Server) handleStateWS(c *websocket.Conn) {
	snapshot := voice.Event{Type: voice.EventState, State: s.cfg.Orchestrator.State().String(), Time: time.Now()}
	if sess, ok := s.cfg.Orchestrator.Session(); ok {
		snapshot.Session = sess.ID
	}

	var initial []hub.Message
	if data, err := json.Marshal(snapshot); err == nil {
		initial = append(initial, hub.NewJSONMessage(data))
	}
	hub.NewClient(s.stateHub, c, initial...).Run()
}

// handleRecognitionWS attaches a browser recognizer to the bridge engine.
// Text frames carry speech.WireEvent JSON; binary frames carry PCM16 mono
// microphone audio at the rate given by the "rate" query parameter.
func (s *Server) handleRecognitionWS(c *websocket.Conn) {
	if s.cfg.Bridge == nil {
		c.WriteJSON(fiber.Map{"error": "recognition bridge not configured"})
		c.Close()
		return
	}

	rate, err := strconv.Atoi(c.Query("rate", "16000"))
	if err != nil || rate <= 0 {
		rate = speech.DetectorSampleRate
	}

	bridge := s.cfg.Bridge
	bridge.Attach(c)
	defer bridge.Detach(c)

	for {
		mt, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			bridge.HandleAudio(data, rate)
		case websocket.TextMessage:
			var msg speech.WireEvent
			if err := json.Unmarshal(data, &msg); err != nil {
				s.logger.Debug("bad recognition message", "error", err)
				continue
			}
			bridge.Handle(msg)
		}
	}
}

// statusFor maps orchestrator errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, voice.ErrBusy), errors.Is(err, voice.ErrNotActive):
		return fiber.StatusConflict
	case errors.Is(err, voice.ErrPermission):
		return fiber.StatusForbidden
	case errors.Is(err, voice.ErrUnsupported):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}
