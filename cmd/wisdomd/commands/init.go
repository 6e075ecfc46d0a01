package commands

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wisdomchain/wisdom/config"
	"github.com/wisdomchain/wisdom/internal/consensus"
	"github.com/wisdomchain/wisdom/internal/p2p"
	"github.com/wisdomchain/wisdom/libs/log"
	wdos "github.com/wisdomchain/wisdom/libs/os"
	"github.com/wisdomchain/wisdom/types"
)

// MakeInitFilesCommand returns the command that writes the config file,
// node key, genesis document and validators file. Existing files are kept.
func MakeInitFilesCommand(conf *config.Config) *cobra.Command {
	var chainID, proposer string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a wisdom node home directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(conf)
			if err != nil {
				return err
			}
			if err := config.WriteDefaultConfigFileIfNone(conf.RootDir); err != nil {
				return err
			}
			return initFilesWithConfig(conf, logger, chainID, proposer)
		},
	}
	cmd.Flags().StringVar(&chainID, "chain-id", "", "chain ID of a new genesis (random if empty)")
	cmd.Flags().StringVar(&proposer, "proposer", "",
		"address of the genesis proposer, required unless a genesis file exists")
	return cmd
}

func initFilesWithConfig(conf *config.Config, logger log.Logger, chainID, proposer string) error {
	nodeKeyFile := conf.NodeKeyFile()
	if wdos.FileExists(nodeKeyFile) {
		logger.Info("found node key", "path", nodeKeyFile)
	} else {
		if _, err := p2p.LoadOrGenNodeKey(nodeKeyFile); err != nil {
			return err
		}
		logger.Info("generated node key", "path", nodeKeyFile)
	}

	// genesis file
	genFile := conf.GenesisFile()
	if wdos.FileExists(genFile) {
		logger.Info("found genesis file", "path", genFile)
	} else {
		if proposer == "" {
			return errors.New("--proposer is required to generate a genesis file")
		}
		if chainID == "" {
			suffix := make([]byte, 3)
			if _, err := rand.Read(suffix); err != nil {
				return err
			}
			chainID = "wisdom-" + hex.EncodeToString(suffix)
		}
		genDoc := types.GenesisDoc{
			ChainID:     chainID,
			GenesisTime: time.Now().UTC().Truncate(time.Second),
			Proposer:    proposer,
		}
		if err := genDoc.ValidateAndComplete(); err != nil {
			return err
		}
		if err := genDoc.SaveAs(genFile); err != nil {
			return err
		}
		logger.Info("generated genesis file", "path", genFile, "chain", chainID)
	}

	// validators file
	valFile := conf.ValidatorsFile()
	if wdos.FileExists(valFile) {
		logger.Info("found validators file", "path", valFile)
		return nil
	}
	genDoc, err := types.GenesisDocFromFile(genFile)
	if err != nil {
		return err
	}
	uri := fmt.Sprintf("wisdom://%s@%s", genDoc.Proposer, conf.P2P.ListenAddress)
	if err := consensus.SaveValidators(valFile, []string{uri}); err != nil {
		return err
	}
	logger.Info("generated validators file", "path", valFile)
	return nil
}
