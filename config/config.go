package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// LogFormatPlain is a format for colored text
	LogFormatPlain = "plain"
	// LogFormatJSON is a format for json output
	LogFormatJSON = "json"
)

// NOTE: Most of the structs & relevant comments + the
// default configuration options were used to manually
// generate the config.toml. Please reflect any changes
// made here in the defaultConfigTemplate constant in
// config/toml.go
var (
	DefaultWisdomDir = ".wisdom"
	defaultConfigDir = "config"
	defaultDataDir   = "data"

	defaultConfigFileName     = "config.toml"
	defaultGenesisJSONName    = "genesis.json"
	defaultNodeKeyName        = "node_key.json"
	defaultValidatorsJSONName = "validators.json"

	defaultConfigFilePath  = filepath.Join(defaultConfigDir, defaultConfigFileName)
	defaultGenesisJSONPath = filepath.Join(defaultConfigDir, defaultGenesisJSONName)
	defaultNodeKeyPath     = filepath.Join(defaultConfigDir, defaultNodeKeyName)
	defaultValidatorsPath  = filepath.Join(defaultConfigDir, defaultValidatorsJSONName)
)

// Config defines the top level configuration for a node
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	// Options for services
	P2P             *P2PConfig             `mapstructure:"p2p"`
	BlockSync       *BlockSyncConfig       `mapstructure:"blocksync"`
	Consensus       *ConsensusConfig       `mapstructure:"consensus"`
	Mempool         *MempoolConfig         `mapstructure:"mempool"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration for a node
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		P2P:             DefaultP2PConfig(),
		BlockSync:       DefaultBlockSyncConfig(),
		Consensus:       DefaultConsensusConfig(),
		Mempool:         DefaultMempoolConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing
func TestConfig() *Config {
	return &Config{
		BaseConfig:      TestBaseConfig(),
		P2P:             TestP2PConfig(),
		BlockSync:       TestBlockSyncConfig(),
		Consensus:       TestConsensusConfig(),
		Mempool:         DefaultMempoolConfig(),
		Instrumentation: TestInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	cfg.P2P.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.P2P.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [p2p] section: %w", err)
	}
	if err := cfg.BlockSync.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [blocksync] section: %w", err)
	}
	if err := cfg.Consensus.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [consensus] section: %w", err)
	}
	if err := cfg.Mempool.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [mempool] section: %w", err)
	}
	if err := cfg.Instrumentation.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [instrumentation] section: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration for a node
type BaseConfig struct {
	// The root directory for all data.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home"`

	// A custom human readable name for this node
	Moniker string `mapstructure:"moniker"`

	// Database backend: goleveldb | memdb
	DBBackend string `mapstructure:"db_backend"`

	// Database directory
	DBPath string `mapstructure:"db_dir"`

	// Output level for logging
	LogLevel string `mapstructure:"log_level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log_format"`

	// Path to the JSON file describing the genesis block
	Genesis string `mapstructure:"genesis_file"`

	// A JSON file containing the ed25519 key that signs every p2p envelope
	NodeKey string `mapstructure:"node_key_file"`

	// A JSON array of proposer URIs (wisdom://<address>@host:port) making up
	// the initial proposer schedule
	Validators string `mapstructure:"validators_file"`
}

// DefaultBaseConfig returns a default base configuration for a node
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Genesis:    defaultGenesisJSONPath,
		NodeKey:    defaultNodeKeyPath,
		Validators: defaultValidatorsPath,
		Moniker:    defaultMoniker,
		LogLevel:   DefaultLogLevel,
		LogFormat:  LogFormatPlain,
		DBBackend:  "goleveldb",
		DBPath:     defaultDataDir,
	}
}

// TestBaseConfig returns a base configuration for testing a node
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.DBBackend = "memdb"
	cfg.LogLevel = "debug"
	return cfg
}

// GenesisFile returns the full path to the genesis.json file
func (cfg BaseConfig) GenesisFile() string {
	return rootify(cfg.Genesis, cfg.RootDir)
}

// NodeKeyFile returns the full path to the node_key.json file
func (cfg BaseConfig) NodeKeyFile() string {
	return rootify(cfg.NodeKey, cfg.RootDir)
}

// ValidatorsFile returns the full path to the validators.json file
func (cfg BaseConfig) ValidatorsFile() string {
	return rootify(cfg.Validators, cfg.RootDir)
}

// DBDir returns the full path to the database directory
func (cfg BaseConfig) DBDir() string {
	return rootify(cfg.DBPath, cfg.RootDir)
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.LogFormat {
	case LogFormatPlain, LogFormatJSON:
	default:
		return errors.New("unknown log_format (must be 'plain' or 'json')")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", cfg.LogLevel)
	}
	return nil
}

// DefaultLogLevel is the level used unless the operator asks otherwise.
const DefaultLogLevel = "info"

//-----------------------------------------------------------------------------
// P2PConfig

// P2PConfig defines the configuration options for the peer overlay
type P2PConfig struct {
	RootDir string `mapstructure:"home"`

	// Address to listen for incoming gRPC connections
	ListenAddress string `mapstructure:"laddr"`

	// Address to advertise to peers for them to dial. Defaults to laddr.
	ExternalAddress string `mapstructure:"external_address"`

	// Comma separated list of bootstrap nodes. Entries are either full peer
	// URIs (wisdom://<id>@host:port) or plain addresses (wisdom://host:port)
	// whose identity is learned on first contact.
	Bootstraps string `mapstructure:"bootstraps"`

	// Comma separated list of peer URIs that are never scored or evicted
	TrustedPeers string `mapstructure:"trusted_peers"`

	// When false the node only talks to bootstrap and trusted peers
	EnableDiscovery bool `mapstructure:"enable_discovery"`

	// Period of the peer maintenance tick: score decay, redial, discovery
	HalfRate time.Duration `mapstructure:"half_rate"`

	// Timeout of a single outbound call
	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	// Maximum number of simultaneous inbound connections. 0 - unlimited.
	MaxConnections int `mapstructure:"max_connections"`

	// Envelopes created longer ago than this are dropped
	MaxMessageAge time.Duration `mapstructure:"max_message_age"`

	// Maximum encoded envelope size, in bytes
	MaxMessageSize int `mapstructure:"max_message_size"`

	// Number of envelope signatures remembered for duplicate suppression
	DedupCacheSize int `mapstructure:"dedup_cache_size"`

	// Largest number of blocks served or requested in one exchange. Also
	// the height window around the best block in which orphans are kept
	// and incoming blocks are accepted.
	MaxBlocksPerTransfer int64 `mapstructure:"max_blocks_per_transfer"`
}

// DefaultP2PConfig returns a default configuration for the peer-to-peer layer
func DefaultP2PConfig() *P2PConfig {
	return &P2PConfig{
		ListenAddress:        "0.0.0.0:9585",
		EnableDiscovery:      true,
		HalfRate:             60 * time.Second,
		DialTimeout:          5 * time.Second,
		MaxConnections:       64,
		MaxMessageAge:        10 * time.Minute,
		MaxMessageSize:       16 << 20,
		DedupCacheSize:       4096,
		MaxBlocksPerTransfer: 256,
	}
}

// TestP2PConfig returns a configuration for testing the peer-to-peer layer
func TestP2PConfig() *P2PConfig {
	cfg := DefaultP2PConfig()
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.DialTimeout = time.Second
	cfg.HalfRate = 100 * time.Millisecond
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *P2PConfig) ValidateBasic() error {
	if cfg.ListenAddress == "" {
		return errors.New("laddr can't be empty")
	}
	if cfg.HalfRate <= 0 {
		return errors.New("half_rate must be positive")
	}
	if cfg.DialTimeout <= 0 {
		return errors.New("dial_timeout must be positive")
	}
	if cfg.MaxConnections < 0 {
		return errors.New("max_connections can't be negative")
	}
	if cfg.MaxMessageAge <= 0 {
		return errors.New("max_message_age must be positive")
	}
	if cfg.MaxMessageSize <= 0 {
		return errors.New("max_message_size must be positive")
	}
	if cfg.DedupCacheSize <= 0 {
		return errors.New("dedup_cache_size must be positive")
	}
	if cfg.MaxBlocksPerTransfer <= 0 {
		return errors.New("max_blocks_per_transfer must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// BlockSyncConfig

// BlockSyncConfig configures orphan handling and the sync protocol
type BlockSyncConfig struct {
	// How often orphans that are settled or already stored are dropped
	OrphanSweepInterval time.Duration `mapstructure:"orphan_sweep_interval"`

	// How often GET_STATUS is broadcast to find peers that are ahead
	StatusInterval time.Duration `mapstructure:"status_interval"`

	// Capacity of the queue of blocks waiting to be validated and written
	PendingQueueSize int `mapstructure:"pending_queue_size"`
}

// DefaultBlockSyncConfig returns a default configuration for block sync
func DefaultBlockSyncConfig() *BlockSyncConfig {
	return &BlockSyncConfig{
		OrphanSweepInterval: 30 * time.Second,
		StatusInterval:      15 * time.Second,
		PendingQueueSize:    1024,
	}
}

// TestBlockSyncConfig returns a configuration for testing block sync
func TestBlockSyncConfig() *BlockSyncConfig {
	cfg := DefaultBlockSyncConfig()
	cfg.OrphanSweepInterval = 100 * time.Millisecond
	cfg.StatusInterval = 100 * time.Millisecond
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *BlockSyncConfig) ValidateBasic() error {
	if cfg.OrphanSweepInterval <= 0 {
		return errors.New("orphan_sweep_interval must be positive")
	}
	if cfg.StatusInterval <= 0 {
		return errors.New("status_interval must be positive")
	}
	if cfg.PendingQueueSize <= 0 {
		return errors.New("pending_queue_size must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// ConsensusConfig

// ConsensusConfig holds the proposer schedule parameters. They are chain
// wide and must match across the network.
type ConsensusConfig struct {
	// Target seconds between blocks
	BlockInterval int64 `mapstructure:"block_interval"`

	// Era from which BlockIntervalSwitchTo replaces BlockInterval. Negative
	// disables the switch.
	BlockIntervalSwitchEra int64 `mapstructure:"block_interval_switch_era"`
	BlockIntervalSwitchTo  int64 `mapstructure:"block_interval_switch_to"`

	BlocksPerEra int64 `mapstructure:"blocks_per_era"`

	// Era from which proposers are drawn from chain state instead of the
	// validators file. Negative keeps the static list forever.
	AllowMinersJoinEra int64 `mapstructure:"allow_miners_join_era"`

	// Height from which only the first static proposer may propose while
	// multi-proposer mode is off
	LegacySingleProposerHeight int64 `mapstructure:"legacy_single_proposer_height"`

	// Upper bound on the proposer list derived for an era
	MaxProposers int `mapstructure:"max_proposers"`

	// Depth below the best block at which blocks are considered final
	Confirmations int64 `mapstructure:"confirmations"`

	// Number of era proposer snapshots kept in memory
	EraCacheSize int `mapstructure:"era_cache_size"`
}

// DefaultConsensusConfig returns the mainnet schedule parameters.
func DefaultConsensusConfig() *ConsensusConfig {
	return &ConsensusConfig{
		BlockInterval:              30,
		BlockIntervalSwitchEra:     -1,
		BlockIntervalSwitchTo:      30,
		BlocksPerEra:               120,
		AllowMinersJoinEra:         -1,
		LegacySingleProposerHeight: 9235,
		MaxProposers:               15,
		Confirmations:              3,
		EraCacheSize:               64,
	}
}

// TestConsensusConfig returns a short-era schedule for tests.
func TestConsensusConfig() *ConsensusConfig {
	cfg := DefaultConsensusConfig()
	cfg.BlockInterval = 10
	cfg.BlocksPerEra = 4
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *ConsensusConfig) ValidateBasic() error {
	if cfg.BlockInterval <= 0 {
		return errors.New("block_interval must be positive")
	}
	if cfg.BlockIntervalSwitchEra >= 0 && cfg.BlockIntervalSwitchTo <= 0 {
		return errors.New("block_interval_switch_to must be positive when the switch is enabled")
	}
	if cfg.BlocksPerEra <= 0 {
		return errors.New("blocks_per_era must be positive")
	}
	if cfg.MaxProposers <= 0 {
		return errors.New("max_proposers must be positive")
	}
	if cfg.Confirmations < 0 {
		return errors.New("confirmations can't be negative")
	}
	if cfg.EraCacheSize <= 0 {
		return errors.New("era_cache_size must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// MempoolConfig

// MempoolConfig bounds the pool of gossiped transactions.
type MempoolConfig struct {
	// Maximum number of transactions held
	Size int `mapstructure:"size"`
}

// DefaultMempoolConfig returns a default configuration for the mempool
func DefaultMempoolConfig() *MempoolConfig {
	return &MempoolConfig{
		Size: 5000,
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *MempoolConfig) ValidateBasic() error {
	if cfg.Size <= 0 {
		return errors.New("size must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on
	// PrometheusListenAddr.
	Prometheus bool `mapstructure:"prometheus"`

	// Address to listen for Prometheus collector(s) connections.
	PrometheusListenAddr string `mapstructure:"prometheus_listen_addr"`

	// Maximum number of simultaneous connections.
	// 0 - unlimited.
	MaxOpenConnections int `mapstructure:"max_open_connections"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":9586",
		MaxOpenConnections:   3,
		Namespace:            "wisdom",
	}
}

// TestInstrumentationConfig returns a default configuration for metrics
// reporting.
func TestInstrumentationConfig() *InstrumentationConfig {
	return DefaultInstrumentationConfig()
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *InstrumentationConfig) ValidateBasic() error {
	if cfg.MaxOpenConnections < 0 {
		return errors.New("max_open_connections can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

//-----------------------------------------------------------------------------
// Moniker

var defaultMoniker = getDefaultMoniker()

// getDefaultMoniker returns a default moniker, which is the host name. If runtime
// fails to get the host name, "anonymous" will be returned.
func getDefaultMoniker() string {
	moniker, err := os.Hostname()
	if err != nil {
		moniker = "anonymous"
	}
	return moniker
}
