package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	apiclient "github.com/AbhishekMashetty/axon/pkg/api/client"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

var buildVersion = "dev"

type globalFlags struct {
	api      string
	token    string
	noColors bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "axonctl",
		Short:         "Submit, watch and roll back deployment batches",
		Version:       buildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.api, "api", "", "API base URL (default from config or http://localhost:4000)")
	root.PersistentFlags().StringVar(&flags.token, "token", "", "Bearer token (default $AXON_TOKEN or stored login)")
	root.PersistentFlags().BoolVar(&flags.noColors, "no-colors", false, "Disable colorized output")

	root.AddCommand(
		newLoginCmd(flags),
		newSubmitCmd(flags),
		newStatusCmd(flags),
		newListCmd(flags),
		newRollbackCmd(flags),
		newValidateCmd(flags),
		newConnectivityCmd(flags),
		newTokenCmd(),
	)
	return root
}

// client builds an API client from flags, environment and the stored config, in that order.
func (g *globalFlags) client() (*apiclient.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	base := strings.TrimSpace(g.api)
	if base == "" {
		base = cfg.APIBaseURL
	}
	token := strings.TrimSpace(g.token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("AXON_TOKEN"))
	}
	if token == "" {
		token = cfg.AccessToken
	}
	return apiclient.New(base, apiclient.WithToken(token))
}

func (g *globalFlags) printer() *printer {
	return newPrinter(os.Stdout, !g.noColors && term.IsTerminal(int(os.Stdout.Fd())))
}

func newLoginCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Store an API token for later commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token := strings.TrimSpace(flags.token)
			if token == "" {
				secret, err := readSecret("Token: ")
				if err != nil {
					return err
				}
				token = secret
			}
			if token == "" {
				return errors.New("token is required")
			}
			cfg, _ := loadConfig()
			if strings.TrimSpace(flags.api) != "" {
				cfg.APIBaseURL = flags.api
			}
			cfg.AccessToken = token
			if err := saveConfig(cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "token stored")
			return nil
		},
	}
}

// readSecret prompts without echo when stdin is a terminal.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal available to prompt; pass the value as a flag")
	}
	fmt.Fprint(os.Stderr, prompt)
	bytes, err := term.ReadPassword(fd)
	fmt.Fprint(os.Stderr, "\n")
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(string(bytes)), nil
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: "http://localhost:4000"}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:4000"
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "axon", "config.json"), nil
}
