package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/texttospeech/v1"
)

const (
	providerGoogle   = "google"
	googleSampleRate = 24000
	wavHeaderSize    = 44
)

// Google implements Provider using Google Cloud Text-to-Speech.
// Audio comes back as LINEAR16 inside a WAV container.
type Google struct {
	config  *Config
	service *texttospeech.Service
	logger  *slog.Logger

	mu     sync.RWMutex
	gender string
}

// NewGoogle creates a Google Cloud TTS provider.
// Credentials come from WithCredentialsFile, WithHTTPClient, or the
// application default credentials, in that order.
func NewGoogle(ctx context.Context, opts ...Option) (*Google, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	var clientOpts []option.ClientOption
	switch {
	case cfg.HTTPClient != nil:
		clientOpts = append(clientOpts, option.WithHTTPClient(cfg.HTTPClient))
	case cfg.CredentialsFile != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, WrapError(providerGoogle, fmt.Errorf("read credentials: %w", err))
		}
		creds, err := google.CredentialsFromJSON(ctx, data, texttospeech.CloudPlatformScope)
		if err != nil {
			return nil, WrapError(providerGoogle, fmt.Errorf("parse credentials: %w", err))
		}
		clientOpts = append(clientOpts, option.WithCredentials(creds))
	default:
		creds, err := google.FindDefaultCredentials(ctx, texttospeech.CloudPlatformScope)
		if err != nil {
			return nil, WrapError(providerGoogle, fmt.Errorf("default credentials: %w", err))
		}
		clientOpts = append(clientOpts, option.WithCredentials(creds))
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.BaseURL))
	}

	svc, err := texttospeech.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, WrapError(providerGoogle, err)
	}

	g := &Google{
		config:  cfg,
		service: svc,
		logger:  cfg.Logger.With("component", "tts.google"),
		gender:  "FEMALE",
	}
	g.SetVoice(cfg.VoiceID)
	return g, nil
}

// Name returns "google".
func (g *Google) Name() string { return providerGoogle }

// SetVoice maps a catalog voice onto the matching Google voice gender.
// Unknown IDs are ignored.
func (g *Google) SetVoice(id string) {
	v, ok := LookupVoice(id)
	if !ok {
		return
	}
	g.mu.Lock()
	g.gender = v.Gender.ssml()
	g.mu.Unlock()
}

// Synthesize converts text to WAV audio.
func (g *Google) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if text == "" {
		return nil, WrapError(providerGoogle, ErrEmptyText)
	}
	start := time.Now()

	g.mu.RLock()
	gender := g.gender
	g.mu.RUnlock()

	resp, err := g.service.Text.Synthesize(&texttospeech.SynthesizeSpeechRequest{
		Input: &texttospeech.SynthesisInput{Text: text},
		Voice: &texttospeech.VoiceSelectionParams{
			LanguageCode: g.config.LanguageCode,
			SsmlGender:   gender,
		},
		AudioConfig: &texttospeech.AudioConfig{
			AudioEncoding:   "LINEAR16",
			SampleRateHertz: googleSampleRate,
		},
	}).Context(ctx).Do()
	if err != nil {
		return nil, convertGoogleError(err)
	}

	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, WrapError(providerGoogle, fmt.Errorf("decode audio: %w", err))
	}
	latency := time.Since(start).Milliseconds()

	g.logger.Debug("synthesized audio", "chars", len(text), "bytes", len(audio), "latency_ms", latency)

	pcmBytes := len(audio) - wavHeaderSize
	if pcmBytes < 0 {
		pcmBytes = 0
	}
	return &AudioResult{
		Audio: audio,
		Format: AudioFormat{
			Encoding:   EncodingWAV,
			SampleRate: googleSampleRate,
			Channels:   1,
			BitDepth:   16,
		},
		Duration:  time.Duration(float64(pcmBytes/2) / googleSampleRate * float64(time.Second)),
		CharCount: len(text),
		LatencyMs: latency,
		Provider:  providerGoogle,
	}, nil
}

// Health lists voices for the configured language.
func (g *Google) Health(ctx context.Context) error {
	_, err := g.service.Voices.List().LanguageCode(g.config.LanguageCode).Context(ctx).Do()
	if err != nil {
		return convertGoogleError(err)
	}
	return nil
}

// Close is a no-op; the generated client holds no long-lived resources.
func (g *Google) Close() error {
	return nil
}

func convertGoogleError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &APIError{
			StatusCode: gerr.Code,
			Message:    gerr.Message,
			Provider:   providerGoogle,
		}
	}
	return WrapError(providerGoogle, err)
}

var (
	_ Provider    = (*Google)(nil)
	_ VoiceSetter = (*Google)(nil)
)
