package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/skillgate/internal/config"
	"github.com/flemzord/skillgate/pkg/app"
)

// initAnswers collects what the setup wizard asks for.
type initAnswers struct {
	Path          string
	Bind          string
	Token         string
	TimeZone      string
	LogFormat     string
	AgentInboxURL string
}

func defaultAnswers() (initAnswers, error) {
	token, err := generateToken()
	if err != nil {
		return initAnswers{}, err
	}
	return initAnswers{
		Path:      app.ConfigCandidates()[0],
		Bind:      "127.0.0.1:8080",
		Token:     token,
		TimeZone:  "UTC",
		LogFormat: "text",
	}, nil
}

func initCmd() *cobra.Command {
	var (
		yes   bool
		force bool
		path  string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			answers, err := defaultAnswers()
			if err != nil {
				return err
			}
			if path != "" {
				answers.Path = path
			}
			if !yes {
				if err := runWizard(&answers); err != nil {
					return err
				}
			}

			if _, err := os.Stat(answers.Path); err == nil && !force {
				overwrite := false
				if !yes {
					err := huh.NewConfirm().
						Title(fmt.Sprintf("%s exists. Overwrite?", answers.Path)).
						Value(&overwrite).
						Run()
					if err != nil {
						return err
					}
				}
				if !overwrite {
					return fmt.Errorf("%s already exists (use --force to overwrite)", answers.Path)
				}
			}

			if err := writeConfig(answers); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration written to %s\n", answers.Path)
			fmt.Fprintf(out, "API token: %s\n", answers.Token)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Accept defaults without prompting")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().StringVarP(&path, "output", "o", "", "Where to write the configuration")
	return cmd
}

func runWizard(a *initAnswers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Configuration file").
				Value(&a.Path).
				Validate(notEmpty),
			huh.NewInput().
				Title("Listen address").
				Description("The API, MCP endpoint and audit feed are served here.").
				Value(&a.Bind).
				Validate(validateBind),
			huh.NewInput().
				Title("API bearer token").
				Description("Pre-filled with a random token.").
				Value(&a.Token).
				EchoMode(huh.EchoModePassword).
				Validate(notEmpty),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Time zone for scheduled tasks").
				Value(&a.TimeZone).
				Validate(validateTimeZone),
			huh.NewSelect[string]().
				Title("Log format").
				Options(huh.NewOptions("text", "json")...).
				Value(&a.LogFormat),
			huh.NewInput().
				Title("Agent inbox URL (optional)").
				Description("Scheduled agent instructions are posted here.").
				Value(&a.AgentInboxURL),
		),
	)
	return form.Run()
}

func notEmpty(s string) error {
	if s == "" {
		return errors.New("required")
	}
	return nil
}

func validateBind(s string) error {
	if _, _, err := net.SplitHostPort(s); err != nil {
		return fmt.Errorf("expected host:port: %w", err)
	}
	return nil
}

func validateTimeZone(s string) error {
	_, err := time.LoadLocation(s)
	return err
}

// renderConfig produces a configuration that passes config.Validate.
func renderConfig(a initAnswers) ([]byte, error) {
	type logSection struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}
	type executorSection struct {
		AgentInboxURL string `yaml:"agent_inbox_url,omitempty"`
	}
	type schedulerSection struct {
		TimeZone string `yaml:"time_zone"`
	}
	doc := struct {
		Version   string           `yaml:"version"`
		Modules   map[string]any   `yaml:"modules"`
		Log       logSection       `yaml:"log"`
		Executor  executorSection  `yaml:"executor,omitempty"`
		Scheduler schedulerSection `yaml:"scheduler"`
	}{
		Version: "1",
		Modules: map[string]any{
			"store.sqlite": map[string]any{},
			"gateway.http": map[string]any{
				"bind": a.Bind,
				"auth": map[string]any{"bearer_token": a.Token},
			},
		},
		Log:       logSection{Level: "info", Format: a.LogFormat},
		Executor:  executorSection{AgentInboxURL: a.AgentInboxURL},
		Scheduler: schedulerSection{TimeZone: a.TimeZone},
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return data, nil
}

func writeConfig(a initAnswers) error {
	data, err := renderConfig(a)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(a.Path), 0o700); err != nil {
		return err
	}
	// The file holds the API token.
	return os.WriteFile(a.Path, data, 0o600)
}

func generateToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
