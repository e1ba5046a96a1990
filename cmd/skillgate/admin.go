package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/flemzord/skillgate/internal/audit"
	"github.com/flemzord/skillgate/pkg/app"
)

// withMaintenance opens the stores without the transports, runs fn and
// closes everything. Logs go to stderr at warn level unless overridden.
func withMaintenance(cmd *cobra.Command, flags *globalFlags, fn func(context.Context, app.Maintenance) error) error {
	level := flags.logLevel
	if level == "" {
		level = "warn"
	}
	rt, err := app.Open(app.OpenParams{
		ConfigPath: flags.configPath,
		DataDir:    flags.dataDir,
		Version:    version,
		LogLevel:   level,
		StoreOnly:  true,
		LogOutput:  os.Stderr,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	m, err := rt.Maintenance()
	if err != nil {
		return err
	}
	return fn(cmd.Context(), m)
}

func newTable(w io.Writer, header ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row(header))
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func capabilityCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "capability",
		Aliases: []string{"cap"},
		Short:   "Inspect and approve registered capabilities",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered capabilities",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMaintenance(cmd, flags, func(ctx context.Context, m app.Maintenance) error {
				caps, err := m.Registry.List(ctx)
				if err != nil {
					return err
				}
				t := newTable(cmd.OutOrStdout(), "Name", "Kind", "Status", "Approved", "Origin")
				for _, c := range caps {
					t.AppendRow(table.Row{c.Name, c.Kind, c.Status, c.Approved, c.Origin})
				}
				t.Render()
				return nil
			})
		},
	})

	actions := []struct {
		use, short string
		run        func(context.Context, app.Maintenance, string) error
	}{
		{"approve <name>", "Approve and activate a capability", func(ctx context.Context, m app.Maintenance, name string) error {
			_, err := m.Registry.Approve(ctx, name)
			return err
		}},
		{"reject <name>", "Withdraw approval and deactivate a capability", func(ctx context.Context, m app.Maintenance, name string) error {
			_, err := m.Registry.Reject(ctx, name)
			return err
		}},
		{"activate <name>", "Reactivate an approved capability", func(ctx context.Context, m app.Maintenance, name string) error {
			_, err := m.Registry.Activate(ctx, name)
			return err
		}},
		{"deactivate <name>", "Deactivate a capability without withdrawing approval", func(ctx context.Context, m app.Maintenance, name string) error {
			_, err := m.Registry.Deactivate(ctx, name)
			return err
		}},
	}
	for _, a := range actions {
		cmd.AddCommand(&cobra.Command{
			Use:   a.use,
			Short: a.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMaintenance(cmd, flags, func(ctx context.Context, m app.Maintenance) error {
					if err := a.run(ctx, m, args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
					return nil
				})
			},
		})
	}
	return cmd
}

func sourceCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Inspect and approve external tool servers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List external tool servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMaintenance(cmd, flags, func(ctx context.Context, m app.Maintenance) error {
				servers, err := m.Sources.List(ctx)
				if err != nil {
					return err
				}
				t := newTable(cmd.OutOrStdout(), "ID", "Name", "Approved", "Enabled", "Health", "Checked", "Approved tools")
				for _, s := range servers {
					t.AppendRow(table.Row{s.ID, s.Name, s.Approved, s.Enabled, s.Health, formatTime(s.LastCheckedAt), len(s.ApprovedTools)})
				}
				t.Render()
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "approve <id> [tool...]",
		Short: "Approve a server, or individual tools on it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMaintenance(cmd, flags, func(ctx context.Context, m app.Maintenance) error {
				id, tools := args[0], args[1:]
				if len(tools) == 0 {
					if _, err := m.Sources.Approve(ctx, id); err != nil {
						return err
					}
				}
				for _, tool := range tools {
					if _, err := m.Sources.ApproveTool(ctx, id, tool); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", id)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Withdraw approval of a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMaintenance(cmd, flags, func(ctx context.Context, m app.Maintenance) error {
				if _, err := m.Sources.Revoke(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

func taskCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect scheduled tasks",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List scheduled tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMaintenance(cmd, flags, func(ctx context.Context, m app.Maintenance) error {
				tasks, err := m.Tasks.List(ctx)
				if err != nil {
					return err
				}
				t := newTable(cmd.OutOrStdout(), "ID", "Name", "Capability", "Enabled", "Next run", "Runs", "Last error")
				for _, task := range tasks {
					t.AppendRow(table.Row{task.ID, task.Name, task.Capability, task.Enabled,
						formatTime(task.NextRunAt), task.RunCount, task.LastError})
				}
				t.Render()
				return nil
			})
		},
	})

	for _, enable := range []bool{true, false} {
		use, short := "enable <id>", "Enable a task"
		if !enable {
			use, short = "disable <id>", "Disable a task"
		}
		cmd.AddCommand(&cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMaintenance(cmd, flags, func(ctx context.Context, m app.Maintenance) error {
					var err error
					if enable {
						_, err = m.Tasks.Enable(ctx, args[0])
					} else {
						_, err = m.Tasks.Disable(ctx, args[0])
					}
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
					return nil
				})
			},
		})
	}
	return cmd
}

func auditCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Run audit maintenance passes",
	}

	var (
		capName string
		limit   int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "Show the most recent audit records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMaintenance(cmd, flags, func(ctx context.Context, m app.Maintenance) error {
				recs, err := m.Audit.ListRecords(ctx, audit.Query{Capability: capName, Limit: limit})
				if err != nil {
					return err
				}
				t := newTable(cmd.OutOrStdout(), "ID", "Time", "Capability", "Caller", "Reason", "Duration")
				for _, r := range recs {
					t.AppendRow(table.Row{r.ID, formatTime(r.CreatedAt), r.CapabilityName, r.CallerKind,
						r.ReasonCode, time.Duration(r.DurationMs) * time.Millisecond})
				}
				t.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&capName, "capability", "", "Only records of this capability")
	list.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "summarize",
		Short: "Fold new audit records into per-capability summaries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMaintenance(cmd, flags, func(ctx context.Context, m app.Maintenance) error {
				res, err := m.Summarizer.Pass(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d records folded into %d summaries (%d failed)\n",
					res.Records, res.Capabilities, res.Failed)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete audit records past the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMaintenance(cmd, flags, func(ctx context.Context, m app.Maintenance) error {
				n, err := m.Pruner.Prune(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d records deleted\n", n)
				return nil
			})
		},
	})
	return cmd
}
