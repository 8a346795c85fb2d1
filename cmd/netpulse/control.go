package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/wellsgz/netpulse/internal/ipc"
	"github.com/wellsgz/netpulse/internal/tui"
)

// withClient loads the environment and connects to the daemon's control socket
func withClient(opts *rootOptions, fn func(e *env, c *ipc.Client) error) error {
	e, err := loadEnv(opts)
	if err != nil {
		return err
	}
	if err := e.configureLogging(os.Stderr); err != nil {
		return err
	}

	c, err := ipc.Connect(e.socket)
	if err != nil {
		return fmt.Errorf("%w (is `netpulse serve` running?)", err)
	}
	defer c.Close()
	return fn(e, c)
}

func newTUICmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Attach the terminal UI to a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(opts, func(e *env, c *ipc.Client) error {
				return tui.Run(c, e.socket)
			})
		},
	}
}

func newAddCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <target>...",
		Short: "Start monitoring targets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(opts, func(e *env, c *ipc.Client) error {
				for _, t := range args {
					if err := c.AddTarget(t); err != nil {
						return fmt.Errorf("add %s: %w", t, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", t)
				}
				return nil
			})
		},
	}
}

func newRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <target>...",
		Aliases: []string{"rm"},
		Short:   "Stop monitoring targets",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(opts, func(e *env, c *ipc.Client) error {
				for _, t := range args {
					if err := c.RemoveTarget(t); err != nil {
						return fmt.Errorf("remove %s: %w", t, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", t)
				}
				return nil
			})
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List monitored targets with their counters",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(opts, func(e *env, c *ipc.Client) error {
				targets, err := c.ListTargets()
				if err != nil {
					return err
				}

				tbl := table.New().
					Border(lipgloss.NormalBorder()).
					Headers("TARGET", "PROBES", "ANOMALY", "AVG", "STREAK")
				for _, t := range targets {
					s, err := c.Snapshot(t)
					if err != nil {
						// Removed since the listing
						continue
					}
					tbl.Row(t,
						fmt.Sprintf("%d", s.TotalProbes),
						fmt.Sprintf("%.2f%%", s.AnomalyRate),
						fmt.Sprintf("%.2fms", s.AvgLatency),
						fmt.Sprintf("%d", s.Streak))
				}
				fmt.Fprintln(cmd.OutOrStdout(), tbl.Render())
				return nil
			})
		},
	}
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var (
		limit  int
		source string
	)

	cmd := &cobra.Command{
		Use:   "stats <target>",
		Short: "Show the snapshot and recent events of a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			return withClient(opts, func(e *env, c *ipc.Client) error {
				s, err := c.Snapshot(target)
				if err != nil {
					return err
				}
				events, err := c.Events(target, limit, source)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-11s%s\n", "Target:", s.Target)
				fmt.Fprintf(out, "%-11s%d\n", "Probes:", s.TotalProbes)
				fmt.Fprintf(out, "%-11s%d (%.2f%%)\n", "Anomalies:", s.TotalAnomalies, s.AnomalyRate)
				fmt.Fprintf(out, "%-11slast %.2fms  avg %.2fms  min %.2fms  max %.2fms  p95 %.2fms\n",
					"Latency:", s.LastMs, s.AvgLatency, s.MinMs, s.MaxMs, s.P95Ms)
				fmt.Fprintf(out, "%-11s%.2fms\n", "Jitter:", s.JitterMs)
				fmt.Fprintf(out, "%-11s%d\n", "Streak:", s.Streak)
				if !s.LastUpdate.IsZero() {
					fmt.Fprintf(out, "%-11s%s\n", "Updated:", s.LastUpdate.Format("2006-01-02 15:04:05"))
				}

				fmt.Fprintf(out, "\nEvents (%s):\n", source)
				if len(events) == 0 {
					fmt.Fprintln(out, "  none")
				}
				for _, ev := range events {
					fmt.Fprintf(out, "  %s\n", ev)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of events to show")
	cmd.Flags().StringVar(&source, "source", "memory", "event source: memory or journal")
	return cmd
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(opts)
			if err != nil {
				return err
			}
			out, err := e.cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", e.configFile)
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
