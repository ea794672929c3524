package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-ruvo/pkg/tts"
)

var (
	voicesSelect  string
	voicesPreview bool
)

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "List or select the assistant voice",
	Long: `Voices lists the catalog and marks the saved selection. With --select
the choice is persisted and used by later sessions.`,
	RunE: runVoices,
}

func init() {
	voicesCmd.Flags().StringVar(&voicesSelect, "select", "", "voice name or id to save")
	voicesCmd.Flags().BoolVar(&voicesPreview, "preview", false, "speak a sample after selecting")
}

func runVoices(cmd *cobra.Command, args []string) error {
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

	out := cmd.OutOrStdout()
	if voicesSelect != "" {
		v, err := voices.Select(ctx, voicesSelect)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Selected %s (%s)\n", v.Name, v.ID)
		if voicesPreview {
			return output.Speak(ctx, tts.SampleText(v))
		}
		return nil
	}

	current := voices.Current().ID
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tNAME\tGENDER\tID\tDESCRIPTION")
	for _, v := range tts.Voices {
		mark := ""
		if v.ID == current {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", mark, v.Name, v.Gender, v.ID, v.Description)
	}
	return w.Flush()
}
