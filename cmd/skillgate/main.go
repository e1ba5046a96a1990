// Package main is the entry point for the skillgate CLI.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/flemzord/skillgate/internal/config"
	"github.com/flemzord/skillgate/internal/core"
	"github.com/flemzord/skillgate/pkg/app"

	// Compiled-in modules.
	_ "github.com/flemzord/skillgate/internal/gateway"
	_ "github.com/flemzord/skillgate/modules/store/sqlite"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every command that opens the configuration.
type globalFlags struct {
	configPath string
	dataDir    string
	logLevel   string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "skillgate",
		Short:         "A self-hosted gateway that gates, runs and audits agent capabilities",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to configuration file")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "Persistent data directory")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	root.AddCommand(
		versionCmd(),
		startCmd(flags),
		configCmd(),
		initCmd(),
		serviceCmd(flags),
		capabilityCmd(flags),
		sourceCmd(flags),
		taskCmd(flags),
		auditCmd(flags),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "skillgate %s (commit: %s, built: %s)\n", version, commit, date)
	mods := core.GetModules()
	if len(mods) == 0 {
		fmt.Fprintln(w, "\nNo compiled modules.")
		return
	}
	fmt.Fprintln(w, "\nCompiled modules:")
	for _, mod := range mods {
		fmt.Fprintf(w, "  %s\n", mod.ID)
	}
}

func startCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start skillgate with all configured modules",
		RunE: func(_ *cobra.Command, _ []string) error {
			return app.Run(flags.runParams())
		},
	}
}

func (f *globalFlags) runParams() app.RunParams {
	return app.RunParams{
		ConfigPath: f.configPath,
		DataDir:    f.dataDir,
		LogLevel:   f.logLevel,
		Version:    version,
		Commit:     commit,
		Date:       date,
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			ids := config.Resolve(cfg)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration OK (%d modules)\n", len(ids))
			for _, id := range ids {
				fmt.Fprintf(out, "  %s\n", id)
			}
			return nil
		},
	})
	return cmd
}
