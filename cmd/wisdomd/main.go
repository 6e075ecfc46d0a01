package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/wisdomchain/wisdom/cmd/wisdomd/commands"
	"github.com/wisdomchain/wisdom/config"
	"github.com/wisdomchain/wisdom/libs/cli"
	"github.com/wisdomchain/wisdom/libs/log"
	"github.com/wisdomchain/wisdom/libs/service"
	"github.com/wisdomchain/wisdom/node"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conf := config.DefaultConfig()
	rootCmd := commands.RootCommand(conf)
	rootCmd.AddCommand(
		commands.MakeInitFilesCommand(conf),
		commands.MakeShowNodeIDCommand(conf),
		commands.MakeGenNodeKeyCommand(conf),
		commands.MakeVersionCommand(),
	)

	// Create & start node
	rootCmd.AddCommand(commands.NewRunNodeCmd(conf, func(c *config.Config, l log.Logger) (service.Service, error) {
		return node.NewDefault(c, l)
	}))

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if viper.GetBool(cli.TraceFlag) {
			fmt.Fprintf(os.Stderr, "ERROR: %+v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		}
		os.Exit(1)
	}
}
