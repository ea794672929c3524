package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-ruvo/pkg/speech"
	"github.com/teslashibe/go-ruvo/pkg/voice"
	"github.com/teslashibe/go-ruvo/pkg/web"
)

var (
	serveStatic string
	serveUser   string
	serveLang   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web control surface and the voice loop",
	Long: `Serve exposes the JSON API, the live state websocket and the browser
recognition bridge. Sessions are started from the dashboard or with
POST /api/session/start.

When RUVO_RECOGNIZER_URL is set, recognition runs against that relay
instead of the browser bridge.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveStatic, "static", "", "directory served at /")
	serveCmd.Flags().StringVar(&serveUser, "user", "", "name the assistant addresses")
	serveCmd.Flags().StringVar(&serveLang, "lang", "en-US", "recognition language")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	pool, err := a.pool()
	if err != nil {
		return err
	}
	chat, err := a.chat(pool)
	if err != nil {
		return err
	}
	output, voices, err := a.output(ctx)
	if err != nil {
		return err
	}

	var (
		engine speech.Engine
		bridge *speech.BridgeEngine
	)
	if cfg.RecognizerURL != "" {
		engine = speech.NewWSEngine(cfg.RecognizerURL, serveLang, a.logger)
	} else {
		bridge = speech.NewBridgeEngine(serveLang, a.logger)
		engine = bridge
	}
	capture := speech.NewCapture(engine,
		speech.WithSilence(cfg.Silence),
		speech.WithCaptureLogger(a.logger),
	)

	vcfg := a.voiceConfig(serveUser)
	orch, err := voice.New(chat, capture, output, vcfg)
	if err != nil {
		return err
	}
	defer orch.Close()

	orch.Metrics().OnUpdate(func(m voice.Metrics) {
		a.logger.Info("turn complete", "latency", m.FormatLatency(), "fallback", m.Fallback)
	})

	srv, err := web.NewServer(web.Config{
		Addr:         cfg.ListenAddr,
		Static:       serveStatic,
		Orchestrator: orch,
		Keys:         pool,
		Voices:       voices,
		Transcripts:  vcfg.Transcripts,
		Bridge:       bridge,
		Metrics:      a.metrics,
		Preview:      output.Speak,
		Logger:       a.logger,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	orch.Stop()
	return srv.Shutdown()
}

// sessionContext is the parent of sessions started outside the web server.
func sessionContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}
