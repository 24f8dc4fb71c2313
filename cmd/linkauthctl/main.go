// linkauthctl serves the federated login endpoints and inspects the
// identity store from the command line.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	la "github.com/panyam/linkauth"
)

// cli holds the state shared by all subcommands
type cli struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg *la.Config
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	cmd := &cobra.Command{
		Use:           "linkauthctl",
		Short:         "Federated login and account linking",
		Long:          "Serves the OpenID, Twitter, LinkedIn and Facebook login endpoints and manages the identity store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
	}

	cmd.PersistentFlags().StringVar(&c.configPath, "config", "", "Path to config file (optional)")
	cmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&c.logFormat, "log-format", "", "Log format (text, json)")

	cmd.AddCommand(newServeCommand(c))
	cmd.AddCommand(newMigrateCommand(c))
	cmd.AddCommand(newAccountCommand(c))
	cmd.AddCommand(newIdentitiesCommand(c))
	cmd.AddCommand(newAuditCommand(c))
	cmd.AddCommand(newMergeCommand(c))

	return cmd
}

// setup loads the configuration and installs the global logger
func (c *cli) setup() error {
	cfg, err := la.LoadConfig(c.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	if c.logFormat != "" {
		cfg.Log.Format = c.logFormat
	}
	c.cfg = cfg
	slog.SetDefault(la.NewLogger(cfg.Log, os.Stderr))
	return nil
}
