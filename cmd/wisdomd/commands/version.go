package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wisdomchain/wisdom/version"
)

// MakeVersionCommand returns the command printing the software version.
func MakeVersionCommand() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			if !verbose {
				fmt.Fprintln(cmd.OutOrStdout(), version.Version)
				return
			}
			values, _ := json.MarshalIndent(struct {
				Wisdom        string `json:"wisdom"`
				BlockProtocol uint64 `json:"block_protocol"`
				P2PProtocol   uint64 `json:"p2p_protocol"`
			}{
				Wisdom:        version.Version,
				BlockProtocol: version.BlockProtocol,
				P2PProtocol:   version.P2PProtocol,
			}, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(values))
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show protocol versions")
	return cmd
}
