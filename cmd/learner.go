package cmd

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kilianp07/wattbudget/config"
	"github.com/kilianp07/wattbudget/core/store"
)

var learnerCmd = &cobra.Command{
	Use:   "learner",
	Short: "Dump the learned consumption tables from the last snapshot",
	RunE:  runLearner,
}

func init() {
	rootCmd.AddCommand(learnerCmd)
}

func runLearner(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, err := store.NewSnapshotStore(cfg.Persistence)
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}
	defer st.Close()
	snap, err := st.Load(context.Background())
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TEMP °C\tIDLE W\tHEATER W\tSAMPLES")
	for _, t := range sortedKeys(snap.Learner.Idle) {
		s := snap.Learner.Idle[t]
		fmt.Fprintf(tw, "%d\t%.0f\t%.0f\t%d\n", t, s.Consumption, s.HeaterConsumption, s.Counter)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "OFF MIN\tTEMP °C\tRECOVERY KWH\tSAMPLES")
	for _, off := range sortedKeys(snap.Learner.Recovery) {
		table := snap.Learner.Recovery[off]
		for _, t := range sortedKeys(table) {
			s := table[t]
			fmt.Fprintf(tw, "%d\t%d\t%.2f\t%d\n", off, t, s.Consumption, s.Counter)
		}
	}
	return tw.Flush()
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
