package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-ruvo/pkg/inference"
	"github.com/teslashibe/go-ruvo/pkg/speech"
	"github.com/teslashibe/go-ruvo/pkg/voice"
)

var (
	chatUser  string
	chatQuiet bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Converse in the terminal, one line per turn",
	Long: `Chat runs the same turn loop as serve with typed lines standing in for
speech. Replies are printed and, unless --quiet is given, spoken.
The session ends at end of input or on interrupt.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatUser, "user", "", "name the assistant addresses")
	chatCmd.Flags().BoolVarP(&chatQuiet, "quiet", "q", false, "print replies without speaking them")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := sessionContext(cmd)
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
	output, _, err := a.output(ctx)
	if err != nil {
		return err
	}

	capture := speech.NewCapture(speech.NewLineEngine(os.Stdin),
		speech.WithSilence(cfg.Silence),
		speech.WithCaptureLogger(a.logger),
	)
	orch, err := voice.New(chat, capture, output, a.voiceConfig(chatUser))
	if err != nil {
		return err
	}
	defer orch.Close()

	if chatQuiet {
		output.MutedDelay = 0
		orch.SetMuted(true)
	}
	orch.Metrics().OnUpdate(func(m voice.Metrics) {
		a.logger.Debug("turn complete", "latency", m.FormatLatency())
	})

	events, unsubscribe := orch.Subscribe()
	defer unsubscribe()

	if err := orch.Start(ctx); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Type a message and press enter. Ctrl-D ends the session.")

	for {
		select {
		case <-ctx.Done():
			orch.Stop()
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case voice.EventTranscript:
				if ev.Role == string(inference.RoleAssistant) {
					fmt.Fprintf(out, "ruvo> %s\n", ev.Text)
				}
			case voice.EventError:
				if ev.Class != voice.ClassFatal.String() {
					fmt.Fprintf(out, "(%s)\n", ev.Error)
				}
			case voice.EventState:
				switch ev.State {
				case voice.StateStopped.String(), voice.StateIdle.String():
					return nil
				case voice.StateError.String():
					err := orch.Err()
					orch.Stop()
					if errors.Is(err, io.EOF) {
						return nil
					}
					return err
				}
			}
		}
	}
}
