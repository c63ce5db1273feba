// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/helixml/hyprmoon/internal/history"
	"github.com/helixml/hyprmoon/internal/persistence/sqlite"
	"github.com/helixml/hyprmoon/internal/report"
)

var errNoHistoryDB = errors.New("no history database configured (use --history-db or HYPRMOON_HISTORY_DB)")

func newHistoryCmd(stdout io.Writer) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded verification runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			passed, total, err := store.PassRate(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printHistory(stdout, entries, passed, total)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")

	show := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Print the stored report of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			rep, err := store.Report(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return report.WriteText(stdout, rep)
		},
	}

	var full bool
	check := &cobra.Command{
		Use:   "check",
		Short: "Verify the integrity of the history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := historyPath(cmd)
			if err != nil {
				return err
			}
			mode := sqlite.CheckQuick
			if full {
				mode = sqlite.CheckFull
			}
			issues, err := sqlite.VerifyIntegrity(path, mode)
			if err != nil {
				return err
			}
			if len(issues) > 0 {
				return fmt.Errorf("history database corrupt: %s", strings.Join(issues, "; "))
			}
			_, _ = fmt.Fprintf(stdout, "%s: ok (%s check)\n", path, mode)
			return nil
		},
	}
	check.Flags().BoolVar(&full, "full", false, "run a full integrity_check instead of quick_check")

	cmd.AddCommand(show, check)
	return cmd
}

func historyPath(cmd *cobra.Command) (string, error) {
	var o runOptions
	if fl := cmd.Flags().Lookup("config"); fl != nil {
		o.configPath = fl.Value.String()
	}
	if fl := cmd.Flags().Lookup("history-db"); fl != nil {
		o.historyDB = fl.Value.String()
	}
	cfg, err := loadConfig(cmd, &o)
	if err != nil {
		return "", err
	}
	if cfg.Output.HistoryDB == "" {
		return "", errNoHistoryDB
	}
	return cfg.Output.HistoryDB, nil
}

func openHistory(cmd *cobra.Command) (*history.Store, error) {
	path, err := historyPath(cmd)
	if err != nil {
		return nil, err
	}
	return history.Open(path)
}

func printHistory(w io.Writer, entries []history.Entry, passed, total int) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RUN\tSTARTED\tDURATION\tRESULT\tSTRATEGY\tCONFIDENCE")
	for _, e := range entries {
		result := "pass"
		if !e.Passed {
			result = "fail"
			if e.FailedStage != "" {
				result += " (" + e.FailedStage + ")"
			}
		}
		if e.Degraded {
			result += " degraded"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.2f\n",
			e.RunID, e.StartedAt.Local().Format(time.DateTime), e.Duration.Round(time.Second),
			result, dash(e.Strategy), e.Confidence)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d/%d passed\n", passed, total)
	return err
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
