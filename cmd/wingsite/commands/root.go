// Package commands implements the wingsite command line.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wingheights/wingsite/internal/config"
)

// Version is the build version, overridden with -ldflags at release time.
var Version = "0.1.0-dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFile    string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "wingsite",
		Short: "Wing Heights insurance brochure site",
		Long: `wingsite renders the Wing Heights brochure pages from the Strapi CMS,
records insurance-quote appointments and relays the ADA chat widget to the bot.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("wingsite version {{.Version}}\n")

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", config.DefaultFile, "Path to the YAML config file")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Dotenv file read before the environment is applied")

	root.AddCommand(newServeCommand(flags))
	root.AddCommand(newRoutesCommand(flags))
	root.AddCommand(newVersionCommand())
	return root
}

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wingsite version %s\n", Version)
		},
	}
}

// loadConfig reads the config file, the dotenv file and the environment, in
// that order of increasing precedence.
func loadConfig(flags *globalFlags, getenv func(string) string) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if err := config.LoadEnvFile(flags.envFile); err != nil {
		return nil, err
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg.ApplyEnv(getenv)
	return cfg, nil
}
