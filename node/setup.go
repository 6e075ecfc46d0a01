package node

import (
	"fmt"

	dbm "github.com/tendermint/tm-db"

	"github.com/wisdomchain/wisdom/config"
	"github.com/wisdomchain/wisdom/internal/blocksync"
	"github.com/wisdomchain/wisdom/internal/consensus"
	"github.com/wisdomchain/wisdom/internal/libs/scheduler"
	"github.com/wisdomchain/wisdom/internal/mempool"
	"github.com/wisdomchain/wisdom/internal/p2p"
	"github.com/wisdomchain/wisdom/internal/store"
	"github.com/wisdomchain/wisdom/libs/log"
	"github.com/wisdomchain/wisdom/types"
)

// MetricsProvider returns the metrics of every instrumented package.
type MetricsProvider func(chainID string) (*p2p.Metrics, *blocksync.Metrics, *mempool.Metrics)

// DefaultMetricsProvider returns Prometheus metrics if enabled in cfg, and
// no-op metrics otherwise.
func DefaultMetricsProvider(cfg *config.InstrumentationConfig) MetricsProvider {
	return func(chainID string) (*p2p.Metrics, *blocksync.Metrics, *mempool.Metrics) {
		if cfg.Prometheus {
			return p2p.PrometheusMetrics(cfg.Namespace, "chain_id", chainID),
				blocksync.PrometheusMetrics(cfg.Namespace, "chain_id", chainID),
				mempool.PrometheusMetrics(cfg.Namespace, "chain_id", chainID)
		}
		return p2p.NopMetrics(), blocksync.NopMetrics(), mempool.NopMetrics()
	}
}

func initChainStore(cfg *config.Config, dbProvider config.DBProvider, genesis *types.Block) (*store.ChainStore, error) {
	db, err := dbProvider(&config.DBContext{ID: "blockstore", Config: cfg})
	if err != nil {
		return nil, fmt.Errorf("opening block store: %w", err)
	}
	cs, err := store.NewChainStore(db, genesis, cfg.Consensus.Confirmations)
	if err != nil {
		closeDB(db)
		return nil, err
	}
	return cs, nil
}

func closeDB(db dbm.DB) { _ = db.Close() }

// createProposers builds the proposer schedule. Chain state only feeds it
// once miners may join.
func createProposers(cfg *config.ConsensusConfig, validators []string, cs *store.ChainStore) (*consensus.Factory, error) {
	var eras consensus.EraStateSource
	if cfg.AllowMinersJoinEra >= 0 {
		state, err := consensus.NewStoreEraState(cs, cfg.BlocksPerEra, cfg.MaxProposers, cfg.EraCacheSize)
		if err != nil {
			return nil, err
		}
		eras = state
	}
	return consensus.NewFactory(cfg, validators, eras)
}

func createSelf(cfg *config.P2PConfig, nodeKey p2p.NodeKey) (*p2p.Peer, error) {
	addr := cfg.ExternalAddress
	if addr == "" {
		addr = cfg.ListenAddress
	}
	host, port, err := splitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid p2p address %q: %w", addr, err)
	}
	return p2p.NewPeer(nodeKey.ID(), host, port)
}

func createRegistry(
	cfg *config.P2PConfig,
	self *p2p.Peer,
	transport p2p.Transport,
	logger log.Logger,
	metrics *p2p.Metrics,
) (*p2p.Registry, error) {
	return p2p.NewRegistry(self, p2p.RegistryOptions{
		Bootstraps:      splitAndTrimEmpty(cfg.Bootstraps, ",", " "),
		Trusted:         splitAndTrimEmpty(cfg.TrustedPeers, ",", " "),
		EnableDiscovery: cfg.EnableDiscovery,
		OnEvict: func(p *p2p.Peer) {
			transport.Disconnect(p.Address())
		},
	}, logger, metrics)
}

// createHandlers returns the pipeline in its fixed order: logging, the
// filter, sync, transactions, then peer bookkeeping.
func createHandlers(
	cfg *config.P2PConfig,
	self *p2p.Peer,
	registry *p2p.Registry,
	syncReactor *blocksync.Reactor,
	txReactor *mempool.Reactor,
	logger log.Logger,
	metrics *p2p.Metrics,
) ([]p2p.Handler, error) {
	filter, err := p2p.NewMessageFilter(self, cfg.MaxMessageAge, cfg.DedupCacheSize, logger, metrics)
	if err != nil {
		return nil, err
	}
	return []p2p.Handler{
		p2p.NewMessageLogger(logger, metrics),
		filter,
		syncReactor,
		txReactor,
		p2p.NewPeersManager(registry),
	}, nil
}

func createScheduler(
	cfg *config.Config,
	router *p2p.Router,
	orphans *blocksync.OrphanResolver,
	logger log.Logger,
) (*scheduler.Scheduler, error) {
	return scheduler.New(logger,
		scheduler.Task{
			Name:      "peers",
			Interval:  cfg.P2P.HalfRate,
			Immediate: true,
			Run:       router.Tick,
		},
		scheduler.Task{
			Name:     "orphans",
			Interval: cfg.BlockSync.OrphanSweepInterval,
			Run:      orphans.Sweep,
		},
		scheduler.Task{
			Name:     "status",
			Interval: cfg.BlockSync.StatusInterval,
			Run:      func() { router.Broadcast(p2p.GetStatus{}) },
		},
	)
}
