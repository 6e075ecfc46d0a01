package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	wdos "github.com/wisdomchain/wisdom/libs/os"
)

// defaultDirPerm is the default permissions used when creating directories.
const defaultDirPerm = 0700

var configTemplate *template.Template

func init() {
	var err error
	tmpl := template.New("configFileTemplate").Funcs(template.FuncMap{
		"StringsJoin": strings.Join,
	})
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

/****** these are for production settings ***********/

// EnsureRoot creates the root, config, and data directories if they don't
// exist.
func EnsureRoot(rootDir string) error {
	for _, dir := range []string{
		rootDir,
		filepath.Join(rootDir, defaultConfigDir),
		filepath.Join(rootDir, defaultDataDir),
	} {
		if err := wdos.EnsureDir(dir, defaultDirPerm); err != nil {
			return err
		}
	}
	return nil
}

// WriteConfigFile renders config using the template and writes it to
// the config path under rootDir. Called by the init command.
func WriteConfigFile(rootDir string, config *Config) error {
	return config.WriteToTemplate(filepath.Join(rootDir, defaultConfigFilePath))
}

// WriteToTemplate writes the config to the exact file specified by
// the path, in the default toml template and does not mangle the path
// or filename at all.
func (cfg *Config) WriteToTemplate(path string) error {
	var buffer bytes.Buffer

	if err := configTemplate.Execute(&buffer, cfg); err != nil {
		return err
	}

	if err := os.WriteFile(path, buffer.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

// WriteDefaultConfigFileIfNone writes the default config unless a config
// file already exists under rootDir.
func WriteDefaultConfigFileIfNone(rootDir string) error {
	configFilePath := filepath.Join(rootDir, defaultConfigFilePath)
	if !wdos.FileExists(configFilePath) {
		return WriteConfigFile(rootDir, DefaultConfig())
	}
	return nil
}

// Note: any changes to the comments/variables/mapstructure
// must be reflected in the appropriate struct in config/config.go
const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

# NOTE: Any path below can be absolute (e.g. "/var/wisdom/data") or
# relative to the home directory (e.g. "data"). The home directory is
# "$HOME/.wisdom" by default, but could be changed via $WDHOME env variable
# or --home cmd flag.

#######################################################################
###                   Main Base Config Options                      ###
#######################################################################

# A custom human readable name for this node
moniker = "{{ .BaseConfig.Moniker }}"

# Database backend: goleveldb | memdb
db_backend = "{{ .BaseConfig.DBBackend }}"

# Database directory
db_dir = "{{ .BaseConfig.DBPath }}"

# Output level for logging: debug | info | warn | error
log_level = "{{ .BaseConfig.LogLevel }}"

# Output format: 'plain' (colored text) or 'json'
log_format = "{{ .BaseConfig.LogFormat }}"

# Path to the JSON file describing the genesis block
genesis_file = "{{ js .BaseConfig.Genesis }}"

# Path to the JSON file containing the key that signs p2p messages
node_key_file = "{{ js .BaseConfig.NodeKey }}"

# Path to the JSON array of initial proposers
validators_file = "{{ js .BaseConfig.Validators }}"

#######################################################
###           P2P Configuration Options             ###
#######################################################
[p2p]

# Address to listen for incoming connections
laddr = "{{ .P2P.ListenAddress }}"

# Address to advertise to peers for them to dial.
# If empty, laddr is used. host and port are required.
external_address = "{{ .P2P.ExternalAddress }}"

# Comma separated list of bootstrap nodes, either
# wisdom://<peer id>@host:port or wisdom://host:port
bootstraps = "{{ .P2P.Bootstraps }}"

# Comma separated list of wisdom://<peer id>@host:port that are always kept
trusted_peers = "{{ .P2P.TrustedPeers }}"

# Learn peers from other nodes. When false only bootstrap and
# trusted peers are used.
enable_discovery = {{ .P2P.EnableDiscovery }}

# Period of score decay, redial and discovery
half_rate = "{{ .P2P.HalfRate }}"

# Timeout of a single outbound call
dial_timeout = "{{ .P2P.DialTimeout }}"

# Maximum number of simultaneous inbound connections (0 - unlimited)
max_connections = {{ .P2P.MaxConnections }}

# Messages created longer ago than this are dropped
max_message_age = "{{ .P2P.MaxMessageAge }}"

# Maximum size of a message, in bytes
max_message_size = {{ .P2P.MaxMessageSize }}

# Number of recently seen messages remembered to drop duplicates
dedup_cache_size = {{ .P2P.DedupCacheSize }}

# Blocks served per request, and the height window around the best
# block inside which incoming and orphan blocks are kept
max_blocks_per_transfer = {{ .P2P.MaxBlocksPerTransfer }}

#######################################################
###       Block Sync Configuration Options          ###
#######################################################
[blocksync]

# How often settled or stored orphans are dropped
orphan_sweep_interval = "{{ .BlockSync.OrphanSweepInterval }}"

# How often peers are asked for their status
status_interval = "{{ .BlockSync.StatusInterval }}"

# Blocks waiting to be validated and written
pending_queue_size = {{ .BlockSync.PendingQueueSize }}

#######################################################
###         Consensus Configuration Options         ###
#######################################################
[consensus]

# Target seconds between blocks
block_interval = {{ .Consensus.BlockInterval }}

# Era from which block_interval_switch_to replaces block_interval (-1 disables)
block_interval_switch_era = {{ .Consensus.BlockIntervalSwitchEra }}
block_interval_switch_to = {{ .Consensus.BlockIntervalSwitchTo }}

blocks_per_era = {{ .Consensus.BlocksPerEra }}

# Era from which proposers come from chain state (-1 disables)
allow_miners_join_era = {{ .Consensus.AllowMinersJoinEra }}

# Height from which only the first static proposer is scheduled
legacy_single_proposer_height = {{ .Consensus.LegacySingleProposerHeight }}

max_proposers = {{ .Consensus.MaxProposers }}

# Depth below the best block at which blocks are final
confirmations = {{ .Consensus.Confirmations }}

era_cache_size = {{ .Consensus.EraCacheSize }}

#######################################################
###          Mempool Configuration Option          ###
#######################################################
[mempool]

# Maximum number of transactions in the mempool
size = {{ .Mempool.Size }}

#######################################################
###       Instrumentation Configuration Options     ###
#######################################################
[instrumentation]

# When true, Prometheus metrics are served under /metrics on
# PrometheusListenAddr.
prometheus = {{ .Instrumentation.Prometheus }}

# Address to listen for Prometheus collector(s) connections
prometheus_listen_addr = "{{ .Instrumentation.PrometheusListenAddr }}"

# Maximum number of simultaneous connections.
# 0 - unlimited.
max_open_connections = {{ .Instrumentation.MaxOpenConnections }}

# Instrumentation namespace
namespace = "{{ .Instrumentation.Namespace }}"
`
