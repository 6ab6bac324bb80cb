package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/serverbot/internal/config"
	"github.com/foxzi/serverbot/internal/store"
	"github.com/foxzi/serverbot/internal/trend"
)

var (
	historyLimit  int
	historyFailed bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent poll cycles",
	RunE:  runHistory,
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Saved trend state commands",
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the last saved trend state",
	RunE:  runStateShow,
}

var stateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the saved trend state",
	Long:  `Delete the saved trend state so the next start begins from scratch. Stop the bot first.`,
	RunE:  runStateReset,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of cycles to show")
	historyCmd.Flags().BoolVar(&historyFailed, "failed", false, "Only show failed cycles")

	stateCmd.AddCommand(stateShowCmd, stateResetCmd)
	rootCmd.AddCommand(historyCmd, stateCmd)
}

func openStore() (*store.BoltStore, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Storage.Path == "" {
		return nil, fmt.Errorf("storage.path is not configured")
	}

	s, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage (is the bot running?): %w", err)
	}
	return s, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()

	limit := historyLimit
	if historyFailed {
		// Failed cycles are sparse, scan the whole history
		limit = 0
	}

	records, err := s.RecentCycles(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	if historyFailed {
		filtered := make([]store.CycleRecord, 0)
		for _, rec := range records {
			if rec.Error != "" {
				filtered = append(filtered, rec)
			}
			if len(filtered) == historyLimit {
				break
			}
		}
		records = filtered
	}

	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No cycles recorded")
		return nil
	}

	printHistory(cmd.OutOrStdout(), records)
	return nil
}

func printHistory(w io.Writer, records []store.CycleRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tDURATION\tRESULT\tPLAYERS\tMAP\tNOTIFIED\tERROR")
	for _, rec := range records {
		result := rec.Result
		if rec.Error != "" && rec.Stage != "" {
			result = fmt.Sprintf("%s (%s)", rec.Result, rec.Stage)
		}
		players := "-"
		if rec.MaxPlayers > 0 {
			players = fmt.Sprintf("%d/%d", rec.Players, rec.MaxPlayers)
			if rec.Queue > 0 {
				players += fmt.Sprintf(" [%d]", rec.Queue)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.StartedAt.Local().Format("2006-01-02 15:04:05"),
			rec.FinishedAt.Sub(rec.StartedAt).Round(time.Millisecond),
			result,
			players,
			orDash(rec.Map),
			orDash(strings.Join(rec.Notifications, ",")),
			truncate(rec.Error, 60),
		)
	}
	tw.Flush()
}

func runStateShow(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	st, savedAt, ok, err := s.LoadState(context.Background())
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "No state saved")
		return nil
	}

	printState(cmd.OutOrStdout(), st, savedAt)
	return nil
}

func printState(w io.Writer, st trend.State, savedAt time.Time) {
	counts, _ := json.Marshal(st.RecentCounts)
	fmt.Fprintf(w, "Saved at:          %s\n", savedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "Game ID:           %s\n", orDash(st.SessionID))
	fmt.Fprintf(w, "Since empty:       %t\n", st.SinceEmpty)
	fmt.Fprintf(w, "Recent counts:     %s\n", counts)
	fmt.Fprintf(w, "Cycles since drop: %d\n", st.CyclesSinceDrop)
}

func runStateReset(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.ResetState(context.Background()); err != nil {
		return fmt.Errorf("failed to reset state: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "State reset")
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
