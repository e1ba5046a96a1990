package main

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/flemzord/skillgate/pkg/app"
)

// program runs the gateway under the OS service manager.
type program struct {
	params app.RunParams
	stop   chan struct{}
	done   chan error
}

func (p *program) Start(service.Service) error {
	p.stop = make(chan struct{})
	p.done = make(chan error, 1)
	params := p.params
	params.Stop = p.stop
	go func() { p.done <- app.Run(params) }()
	return nil
}

func (p *program) Stop(service.Service) error {
	close(p.stop)
	return <-p.done
}

var serviceActions = []string{"install", "uninstall", "start", "stop", "restart"}

// serviceConfig builds the unit definition. The installed unit runs
// "skillgate service run" with the same configuration flags.
func serviceConfig(flags *globalFlags) (*service.Config, error) {
	args := []string{"service", "run"}
	if flags.configPath != "" {
		abs, err := filepath.Abs(flags.configPath)
		if err != nil {
			return nil, err
		}
		args = append(args, "--config", abs)
	}
	if flags.dataDir != "" {
		abs, err := filepath.Abs(flags.dataDir)
		if err != nil {
			return nil, err
		}
		args = append(args, "--data-dir", abs)
	}
	if flags.logLevel != "" {
		args = append(args, "--log-level", flags.logLevel)
	}
	return &service.Config{
		Name:        "skillgate",
		DisplayName: "skillgate",
		Description: "Capability gateway for AI agents",
		Arguments:   args,
		Option:      service.KeyValue{"UserService": true},
	}, nil
}

func newService(flags *globalFlags) (service.Service, *program, error) {
	cfg, err := serviceConfig(flags)
	if err != nil {
		return nil, nil, err
	}
	prg := &program{params: flags.runParams()}
	s, err := service.New(prg, cfg)
	if err != nil {
		return nil, nil, err
	}
	return s, prg, nil
}

func serviceCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage skillgate as an OS service",
	}

	cmd.AddCommand(&cobra.Command{
		Use:       "control <action>",
		Short:     "Install, uninstall, start, stop or restart the service",
		Args:      cobra.ExactArgs(1),
		ValidArgs: serviceActions,
		RunE: func(cmd *cobra.Command, args []string) error {
			action := args[0]
			if !slices.Contains(serviceActions, action) {
				return fmt.Errorf("unknown action %q (valid: %v)", action, serviceActions)
			}
			s, _, err := newService(flags)
			if err != nil {
				return err
			}
			if err := service.Control(s, action); err != nil {
				return fmt.Errorf("service %s: %w", action, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "service %s: done\n", action)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the service status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _, err := newService(flags)
			if err != nil {
				return err
			}
			st, err := s.Status()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), statusString(st))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:    "run",
		Short:  "Run under the service manager",
		Hidden: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			s, _, err := newService(flags)
			if err != nil {
				return err
			}
			return s.Run()
		},
	})

	return cmd
}

func statusString(st service.Status) string {
	switch st {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
