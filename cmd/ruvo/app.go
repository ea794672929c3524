package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/teslashibe/go-ruvo/internal/config"
	"github.com/teslashibe/go-ruvo/internal/httpc"
	"github.com/teslashibe/go-ruvo/internal/log"
	"github.com/teslashibe/go-ruvo/internal/metrics"
	"github.com/teslashibe/go-ruvo/pkg/audio"
	"github.com/teslashibe/go-ruvo/pkg/inference"
	"github.com/teslashibe/go-ruvo/pkg/keypool"
	"github.com/teslashibe/go-ruvo/pkg/kv"
	"github.com/teslashibe/go-ruvo/pkg/speech"
	"github.com/teslashibe/go-ruvo/pkg/transcript"
	"github.com/teslashibe/go-ruvo/pkg/tts"
	"github.com/teslashibe/go-ruvo/pkg/voice"
)

// app holds the components shared by the commands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	http    *http.Client
	store   kv.Store
	closers []func() error
}

func newApp(ctx context.Context, c *config.Config) (*app, error) {
	a := &app{
		cfg:     c,
		logger:  log.Component("ruvo"),
		metrics: metrics.New(),
	}

	client, err := httpc.New(c.Proxy, c.RequestTimeout)
	if err != nil {
		return nil, err
	}
	a.http = client

	switch {
	case c.RedisAddr != "":
		a.store, err = kv.NewRedis(ctx, kv.RedisOptions{Addr: c.RedisAddr})
	case strings.HasSuffix(c.DataDir, ".json"):
		a.store, err = kv.NewFile(c.DataDir)
	case c.DataDir != "":
		a.store, err = kv.NewBadger(kv.BadgerOptions{Dir: c.DataDir, Logger: a.logger})
	default:
		a.store = kv.NewMemory()
	}
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

func (a *app) pool() (*keypool.Manager, error) {
	pool, err := keypool.New(a.cfg.Keys,
		keypool.WithQuota(a.cfg.Quota),
		keypool.WithStrictExhaustion(a.cfg.StrictExhaustion),
		keypool.WithStore(a.store),
		keypool.WithObserver(a.metrics.KeyObserver()),
		keypool.WithLogger(a.logger),
	)
	if errors.Is(err, keypool.ErrNoCredentials) {
		return nil, errors.New("no API keys configured; set RUVO_KEYS or OPENAI_API_KEY")
	}
	return pool, err
}

// chat builds the rotating completion provider. A custom base URL selects
// the plain OpenAI-compatible client.
func (a *app) chat(pool *keypool.Manager) (inference.Provider, error) {
	opts := []inference.Option{
		inference.WithModel(a.cfg.Model),
		inference.WithTemperature(a.cfg.Temperature),
		inference.WithMaxTokens(a.cfg.MaxTokens),
		inference.WithTimeout(a.cfg.RequestTimeout),
		inference.WithHTTPClient(a.http),
		inference.WithLogger(a.logger),
	}

	var keyed inference.KeyedProvider
	if a.cfg.BaseURL != "" {
		client, err := inference.NewClient(append(opts, inference.WithBaseURL(a.cfg.BaseURL))...)
		if err != nil {
			return nil, err
		}
		keyed = client
	} else {
		oa, err := inference.NewOpenAI(opts...)
		if err != nil {
			return nil, err
		}
		keyed = oa
	}

	p := inference.NewRotating(keyed, pool)
	a.closers = append(a.closers, p.Close)
	return p, nil
}

// synthesizer builds the fallback chain: cloud voices first, espeak last.
func (a *app) synthesizer(ctx context.Context) (*tts.Chain, error) {
	var providers []tts.Provider

	if a.cfg.ElevenLabsKey != "" {
		el, err := tts.NewElevenLabs(
			tts.WithAPIKey(a.cfg.ElevenLabsKey),
			tts.WithVoice(a.cfg.VoiceID),
			tts.WithModel(a.cfg.SpeechModel),
			tts.WithHTTPClient(a.http),
			tts.WithLogger(a.logger),
		)
		if err != nil {
			return nil, err
		}
		providers = append(providers, el)
	}
	if a.cfg.GoogleCredentials != "" {
		g, err := tts.NewGoogle(ctx,
			tts.WithCredentialsFile(a.cfg.GoogleCredentials),
			tts.WithLogger(a.logger),
		)
		if err != nil {
			a.logger.Warn("google speech unavailable", "error", err)
		} else {
			providers = append(providers, g)
		}
	}
	if a.cfg.Espeak {
		providers = append(providers, tts.NewEspeak(tts.WithLogger(a.logger)))
	}

	chain, err := tts.NewChainWithLogger(a.logger, providers...)
	if err != nil {
		return nil, fmt.Errorf("no speech provider configured: %w", err)
	}
	chain.Observe = a.metrics.ObserveSynthesis
	a.closers = append(a.closers, chain.Close)
	return chain, nil
}

// output builds the speech output and restores the saved voice.
func (a *app) output(ctx context.Context) (*speech.Output, *tts.VoiceStore, error) {
	chain, err := a.synthesizer(ctx)
	if err != nil {
		return nil, nil, err
	}
	voices, err := tts.NewVoiceStore(ctx, a.store, chain)
	if err != nil {
		return nil, nil, err
	}
	return speech.NewOutput(chain, audio.NewSpeakerPlayer(a.logger), a.logger), voices, nil
}

func (a *app) voiceConfig(userName string) voice.Config {
	return voice.DefaultConfig().
		WithModel(a.cfg.Model, a.cfg.Temperature, a.cfg.MaxTokens).
		WithGrace(a.cfg.Grace).
		WithUserName(userName).
		WithTranscripts(transcript.New(a.store)).
		WithMetrics(a.metrics).
		WithLogger(a.logger)
}
