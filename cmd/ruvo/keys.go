package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-ruvo/pkg/keypool"
)

var keysJSON bool

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Inspect the completion credential pool",
}

var keysStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show usage per credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPool(cmd, func(pool *keypool.Manager) error {
			return printStats(cmd, pool.Stats())
		})
	},
}

var keysResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reactivate every credential and clear usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPool(cmd, func(pool *keypool.Manager) error {
			pool.Reset()
			return printStats(cmd, pool.Stats())
		})
	},
}

func init() {
	keysStatsCmd.Flags().BoolVar(&keysJSON, "json", false, "print JSON")
	keysResetCmd.Flags().BoolVar(&keysJSON, "json", false, "print JSON")
	keysCmd.AddCommand(keysStatsCmd)
	keysCmd.AddCommand(keysResetCmd)
}

// withPool opens the store so persisted usage is visible.
func withPool(cmd *cobra.Command, fn func(*keypool.Manager) error) error {
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	pool, err := a.pool()
	if err != nil {
		return err
	}
	return fn(pool)
}

func printStats(cmd *cobra.Command, stats []keypool.Stat) error {
	out := cmd.OutOrStdout()
	if keysJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tKEY\tFINGERPRINT\tUSAGE\tACTIVE\tLAST USED")
	for _, s := range stats {
		mark := ""
		if s.Current {
			mark = "*"
		}
		last := "-"
		if !s.LastUsed.IsZero() {
			last = s.LastUsed.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%t\t%s\n", mark, s.Masked, s.Fingerprint, s.UsageCount, s.Quota, s.Active, last)
	}
	return w.Flush()
}
