package commands

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wisdomchain/wisdom/config"
	"github.com/wisdomchain/wisdom/libs/log"
	"github.com/wisdomchain/wisdom/libs/service"
)

// NodeProvider builds the node run by the start command.
type NodeProvider func(*config.Config, log.Logger) (service.Service, error)

// AddNodeFlags exposes some common configuration options on the command-line
// These are exposed for convenience of commands embedding a node
func AddNodeFlags(cmd *cobra.Command, conf *config.Config, genesisHash *[]byte) {
	cmd.Flags().String("moniker", conf.Moniker, "node name")
	cmd.Flags().BytesHexVar(genesisHash, "genesis_hash", []byte{},
		"optional SHA-256 hash of the genesis file")

	// p2p flags
	cmd.Flags().String("p2p.laddr", conf.P2P.ListenAddress, "node listen address")
	cmd.Flags().String("p2p.external_address", conf.P2P.ExternalAddress,
		"address advertised to peers (defaults to p2p.laddr)")
	cmd.Flags().String("p2p.bootstraps", conf.P2P.Bootstraps,
		"comma-delimited wisdom://[id@]host:port bootstrap nodes")
	cmd.Flags().String("p2p.trusted_peers", conf.P2P.TrustedPeers,
		"comma-delimited wisdom://id@host:port trusted peers")
	cmd.Flags().Bool("p2p.enable_discovery", conf.P2P.EnableDiscovery,
		"discover peers beyond the bootstrap and trusted ones")

	// instrumentation flags
	cmd.Flags().Bool("instrumentation.prometheus", conf.Instrumentation.Prometheus,
		"serve Prometheus metrics")

	// db flags
	cmd.Flags().String("db_backend", conf.DBBackend, "database backend: goleveldb | memdb")
	cmd.Flags().String("db_dir", conf.DBPath, "database directory")
}

// NewRunNodeCmd returns the command that allows the CLI to start a node.
func NewRunNodeCmd(conf *config.Config, nodeProvider NodeProvider) *cobra.Command {
	var genesisHash []byte
	cmd := &cobra.Command{
		Use:     "start",
		Aliases: []string{"node", "run"},
		Short:   "Run the node",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkGenesisHash(conf, genesisHash); err != nil {
				return err
			}
			logger, err := newLogger(conf)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			n, err := nodeProvider(conf, logger)
			if err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}

			if err := n.Start(ctx); err != nil {
				return fmt.Errorf("failed to start node: %w", err)
			}

			logger.Info("started node", "node", n.String())

			// Stop upon receiving SIGTERM or CTRL-C.
			n.Wait()
			return nil
		},
	}

	AddNodeFlags(cmd, conf, &genesisHash)
	return cmd
}

func checkGenesisHash(conf *config.Config, genesisHash []byte) error {
	if len(genesisHash) == 0 || conf.Genesis == "" {
		return nil
	}

	// Calculate SHA-256 hash of the genesis file.
	f, err := os.Open(conf.GenesisFile())
	if err != nil {
		return fmt.Errorf("can't open genesis file: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("error when hashing genesis file: %w", err)
	}
	actualHash := h.Sum(nil)

	// Compare with the flag.
	if !bytes.Equal(genesisHash, actualHash) {
		return fmt.Errorf(
			"--genesis_hash=%X does not match %s hash: %X",
			genesisHash, conf.GenesisFile(), actualHash)
	}

	return nil
}
