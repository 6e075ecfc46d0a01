package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wisdomchain/wisdom/config"
	"github.com/wisdomchain/wisdom/internal/p2p"
	wdos "github.com/wisdomchain/wisdom/libs/os"
)

// MakeShowNodeIDCommand returns the command printing the node's ID, the
// hex encoded public key of its node key.
func MakeShowNodeIDCommand(conf *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "show-node-id",
		Short: "Show this node's ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeKey, err := p2p.LoadNodeKey(conf.NodeKeyFile())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%x\n", nodeKey.ID())
			return nil
		},
	}
}

// MakeGenNodeKeyCommand returns the command generating the node key. It
// prints node's ID to the standard output and refuses to overwrite an
// existing key.
func MakeGenNodeKeyCommand(conf *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "gen-node-key",
		Short: "Generate a node key for this node and print its ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeKeyFile := conf.NodeKeyFile()
			if wdos.FileExists(nodeKeyFile) {
				return fmt.Errorf("node key at %s already exists", nodeKeyFile)
			}

			nodeKey, err := p2p.LoadOrGenNodeKey(nodeKeyFile)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%x\n", nodeKey.ID())
			return nil
		},
	}
}
