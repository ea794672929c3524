package main

import (
	"strings"

	"github.com/spf13/cobra"
)

var sayVoice string

var sayCmd = &cobra.Command{
	Use:   "say <text>",
	Short: "Speak text with the configured voices",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := sessionContext(cmd)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		output, voices, err := a.output(ctx)
		if err != nil {
			return err
		}
		if sayVoice != "" {
			v, err := voices.Select(ctx, sayVoice)
			if err != nil {
				return err
			}
			a.logger.Debug("voice selected", "voice", v.Name)
		}
		return output.Speak(ctx, strings.Join(args, " "))
	},
}

func init() {
	sayCmd.Flags().StringVar(&sayVoice, "voice", "", "voice name or id to select first")
}
