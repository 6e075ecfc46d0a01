package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wisdomchain/wisdom/config"
	"github.com/wisdomchain/wisdom/libs/cli"
	"github.com/wisdomchain/wisdom/libs/log"
)

// EnvPrefix prefixes the environment variables read into the config,
// e.g. WD_P2P_LADDR.
const EnvPrefix = "WD"

// ParseConfig retrieves the default environment configuration,
// sets up the root and ensures that the root exists
func ParseConfig(conf *config.Config) (*config.Config, error) {
	if err := viper.Unmarshal(conf); err != nil {
		return nil, err
	}

	conf.SetRoot(conf.RootDir)

	if err := conf.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config file: %w", err)
	}
	return conf, nil
}

// RootCommand constructs the root command-line entry point. Subcommands
// share conf, which is loaded from flags, environment and config.toml
// before any of them runs.
func RootCommand(conf *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "wisdomd",
		Short:         "Proof of work chain node",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}

			if err := cli.BindFlagsLoadViper(cmd, args); err != nil {
				return err
			}

			pconf, err := ParseConfig(conf)
			if err != nil {
				return err
			}
			*conf = *pconf
			return config.EnsureRoot(conf.RootDir)
		},
	}
	cmd.PersistentFlags().String(cli.HomeFlag, os.ExpandEnv(filepath.Join("$HOME", config.DefaultWisdomDir)),
		"directory for config and data")
	cmd.PersistentFlags().Bool(cli.TraceFlag, false, "print out full stack trace on errors")
	cmd.PersistentFlags().String("log_level", conf.LogLevel, "log level (debug | info | warn | error)")
	cmd.PersistentFlags().String("log_format", conf.LogFormat, "log format (plain | json)")
	cobra.OnInitialize(func() { cli.InitEnv(EnvPrefix) })
	return cmd
}

func newLogger(conf *config.Config) (log.Logger, error) {
	return log.NewDefaultLogger(conf.LogFormat, conf.LogLevel)
}
