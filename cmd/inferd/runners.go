package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"inferd/internal/daemon"
	"inferd/internal/plugin"
	"inferd/internal/registry"
	"inferd/internal/runner"
	"inferd/internal/runners"
	"inferd/internal/settings"
)

func newRunnersCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "runners",
		Short: "Show which runners can run on this host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
			found, rep := daemon.Discover(cmd.Context(), daemon.ConfigFrom(cfg, runners.Plugins(), log))
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			return printReport(cmd, found, rep)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func printReport(cmd *cobra.Command, found []runner.Runner, rep plugin.Report) error {
	table := tablewriter.NewTable(cmd.OutOrStdout(),
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{Borders: tw.BorderNone}),
	)
	table.Header("RUNNER", "SCORE", "CAPABILITIES", "STATUS")
	for _, r := range registry.Ranked(found) {
		if err := table.Append([]string{r.Name(), fmt.Sprint(registry.ScoreOf(r)), fmt.Sprint(r.Capabilities()), "available"}); err != nil {
			return err
		}
	}
	for _, s := range rep.Skipped {
		if err := table.Append([]string{s.Name, "-", "-", fmt.Sprintf("skipped (%s): %s", s.Stage, s.Reason)}); err != nil {
			return err
		}
	}
	return table.Render()
}

// runnerSet looks runners up by name.
type runnerSet map[string]runner.Runner

func (s runnerSet) Lookup(name string) (runner.Runner, bool) {
	r, ok := s[name]
	return r, ok
}

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Work with engine settings documents",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a settings document against the runners of this host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			s, err := settings.Parse(data, settings.FormatOf(args[0]))
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
			found, _ := daemon.Discover(cmd.Context(), daemon.ConfigFrom(cfg, runners.Plugins(), log))
			set := runnerSet{}
			for _, r := range found {
				set[r.Name()] = r
			}
			if err := settings.Validate(s, set); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	})
	return cmd
}
