// Package node assembles the chain store, the validation gate, block sync,
// the transaction pool and the overlay into a runnable node.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	"github.com/wisdomchain/wisdom/config"
	"github.com/wisdomchain/wisdom/internal/blocksync"
	"github.com/wisdomchain/wisdom/internal/consensus"
	"github.com/wisdomchain/wisdom/internal/libs/scheduler"
	"github.com/wisdomchain/wisdom/internal/mempool"
	"github.com/wisdomchain/wisdom/internal/p2p"
	"github.com/wisdomchain/wisdom/internal/store"
	"github.com/wisdomchain/wisdom/internal/validation"
	"github.com/wisdomchain/wisdom/libs/log"
	"github.com/wisdomchain/wisdom/libs/service"
	"github.com/wisdomchain/wisdom/types"
)

// number of proposal hashes remembered to relay each proposal once
const proposalCacheSize = 1024

// Node is the highest level interface to a full wisdom node.
// It includes all configuration information and running services.
type Node struct {
	service.BaseService
	logger log.Logger

	config     *config.Config
	genesisDoc *types.GenesisDoc
	nodeKey    p2p.NodeKey

	store     *store.ChainStore
	proposers *consensus.Factory
	gate      *validation.Gate
	pool      *mempool.TxPool
	orphans   *blocksync.OrphanResolver
	pending   *blocksync.PendingBlocks
	transport *p2p.GRPCTransport
	router    *p2p.Router
	scheduler *scheduler.Scheduler

	listener      net.Listener
	prometheusSrv *http.Server
}

// NewDefault constructs a node from the files under cfg.RootDir: node key,
// genesis document and validators. The node key is generated if missing.
func NewDefault(cfg *config.Config, logger log.Logger) (*Node, error) {
	nodeKey, err := p2p.LoadOrGenNodeKey(cfg.NodeKeyFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load or gen node key %s: %w", cfg.NodeKeyFile(), err)
	}
	genDoc, err := types.GenesisDocFromFile(cfg.GenesisFile())
	if err != nil {
		return nil, err
	}
	validators, err := consensus.LoadValidators(cfg.ValidatorsFile())
	if err != nil {
		return nil, err
	}
	return New(cfg, logger, nodeKey, genDoc, validators,
		config.DefaultDBProvider, DefaultMetricsProvider(cfg.Instrumentation))
}

// New wires a node together. Nothing listens until Start.
func New(
	cfg *config.Config,
	logger log.Logger,
	nodeKey p2p.NodeKey,
	genDoc *types.GenesisDoc,
	validators []string,
	dbProvider config.DBProvider,
	metricsProvider MetricsProvider,
) (*Node, error) {
	if err := cfg.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	p2pMetrics, syncMetrics, poolMetrics := metricsProvider(genDoc.ChainID)

	chainStore, err := initChainStore(cfg, dbProvider, genDoc.Block())
	if err != nil {
		return nil, err
	}
	n, err := assemble(cfg, logger, nodeKey, genDoc, validators, chainStore, p2pMetrics, syncMetrics, poolMetrics)
	if err != nil {
		_ = chainStore.Close()
		return nil, err
	}
	return n, nil
}

func assemble(
	cfg *config.Config,
	logger log.Logger,
	nodeKey p2p.NodeKey,
	genDoc *types.GenesisDoc,
	validators []string,
	chainStore *store.ChainStore,
	p2pMetrics *p2p.Metrics,
	syncMetrics *blocksync.Metrics,
	poolMetrics *mempool.Metrics,
) (*Node, error) {
	proposers, err := createProposers(cfg.Consensus, validators, chainStore)
	if err != nil {
		return nil, fmt.Errorf("proposer schedule: %w", err)
	}
	window := cfg.P2P.MaxBlocksPerTransfer
	gate := validation.NewGate(chainStore, proposers, window, cfg.Consensus.BlockInterval)

	pool, err := mempool.NewTxPool(logger.With("module", "mempool"), poolMetrics, cfg.Mempool.Size)
	if err != nil {
		return nil, err
	}

	syncLogger := logger.With("module", "blocksync")
	pending := blocksync.NewPendingBlocks(syncLogger, syncMetrics, gate, chainStore, cfg.BlockSync.PendingQueueSize)
	orphans := blocksync.NewOrphanResolver(chainStore, pending, window, syncLogger, syncMetrics)
	chainStore.OnNewBlock(func(b *types.Block) {
		pool.Update(b)
		orphans.Promote()
	})
	syncReactor, err := blocksync.NewReactor(syncLogger, chainStore, orphans, pending, window, proposalCacheSize)
	if err != nil {
		return nil, err
	}
	txReactor := mempool.NewReactor(logger.With("module", "mempool"), poolMetrics, gate, pool)

	p2pLogger := logger.With("module", "p2p")
	transport := p2p.NewGRPCTransport(p2pLogger, p2p.GRPCTransportOptions{
		MaxMessageSize: cfg.P2P.MaxMessageSize,
		Instrumented:   cfg.Instrumentation.Prometheus,
	})
	self, err := createSelf(cfg.P2P, nodeKey)
	if err != nil {
		return nil, err
	}
	registry, err := createRegistry(cfg.P2P, self, transport, p2pLogger, p2pMetrics)
	if err != nil {
		return nil, err
	}
	handlers, err := createHandlers(cfg.P2P, self, registry, syncReactor, txReactor, p2pLogger, p2pMetrics)
	if err != nil {
		return nil, err
	}
	router := p2p.NewRouter(p2pLogger, p2pMetrics, nodeKey, registry, transport, handlers, p2p.RouterOptions{
		DialTimeout:     cfg.P2P.DialTimeout,
		EnableDiscovery: cfg.P2P.EnableDiscovery,
	})

	sched, err := createScheduler(cfg, router, orphans, logger.With("module", "scheduler"))
	if err != nil {
		return nil, err
	}

	n := &Node{
		logger:     logger,
		config:     cfg,
		genesisDoc: genDoc,
		nodeKey:    nodeKey,
		store:      chainStore,
		proposers:  proposers,
		gate:       gate,
		pool:       pool,
		orphans:    orphans,
		pending:    pending,
		transport:  transport,
		router:     router,
		scheduler:  sched,
	}
	n.BaseService = *service.NewBaseService(logger, "Node", n)
	return n, nil
}

// OnStart starts the node: the peer listener first, so that peers can
// answer our first broadcast, then the consumer and the maintenance tasks.
func (n *Node) OnStart(ctx context.Context) error {
	listener, err := net.Listen("tcp", n.config.P2P.ListenAddress)
	if err != nil {
		return fmt.Errorf("p2p listener: %w", err)
	}
	if n.config.P2P.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, n.config.P2P.MaxConnections)
	}
	if err := n.transport.Listen(listener, n.router); err != nil {
		listener.Close()
		return err
	}
	n.listener = listener

	if n.config.Instrumentation.Prometheus && n.config.Instrumentation.PrometheusListenAddr != "" {
		n.prometheusSrv = n.startPrometheusServer(n.config.Instrumentation.PrometheusListenAddr)
	}

	best := n.store.BestBlock()
	n.logger.Info("starting node",
		"id", log.Hexadecimal(n.nodeKey.ID()),
		"chain", n.genesisDoc.ChainID,
		"height", best.Height,
		"hash", log.Hexadecimal(best.Hash()))

	for _, s := range []service.Service{n.router, n.pending, n.scheduler} {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("starting %s: %w", s, err)
		}
	}
	return nil
}

// OnStop stops the services in reverse order and releases the store.
func (n *Node) OnStop() {
	n.logger.Info("Stopping Node")

	for _, s := range []service.Service{n.scheduler, n.router, n.pending} {
		if err := s.Stop(); err != nil && !errors.Is(err, service.ErrAlreadyStopped) &&
			!errors.Is(err, service.ErrNotStarted) {
			n.logger.Error("problem stopping service", "service", s.String(), "err", err)
		}
	}
	if err := n.transport.Close(); err != nil {
		n.logger.Error("problem closing transport", "err", err)
	}
	if n.prometheusSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.prometheusSrv.Shutdown(ctx); err != nil {
			// Error from closing listeners, or context timeout:
			n.logger.Error("Prometheus HTTP server Shutdown", "err", err)
		}
	}
	if err := n.store.Close(); err != nil {
		n.logger.Error("problem closing blockstore", "err", err)
	}
}

// startPrometheusServer starts a Prometheus HTTP server, listening for metrics
// collectors on addr.
func (n *Node) startPrometheusServer(addr string) *http.Server {
	srv := &http.Server{
		Addr: addr,
		Handler: promhttp.InstrumentMetricHandler(
			prometheus.DefaultRegisterer, promhttp.HandlerFor(
				prometheus.DefaultGatherer,
				promhttp.HandlerOpts{MaxRequestsInFlight: n.config.Instrumentation.MaxOpenConnections},
			),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Error starting or closing listener:
			n.logger.Error("Prometheus HTTP server ListenAndServe", "err", err)
		}
	}()
	return srv
}

// ProposerAt returns who may propose on top of the best block at now.
func (n *Node) ProposerAt(now time.Time) (consensus.Proposer, bool) {
	return n.proposers.Proposer(n.store.BestBlock(), now.Unix())
}

// Store returns the chain store.
func (n *Node) Store() *store.ChainStore { return n.store }

// Router returns the overlay router.
func (n *Node) Router() *p2p.Router { return n.router }

// Mempool returns the transaction pool.
func (n *Node) Mempool() *mempool.TxPool { return n.pool }

// Orphans returns the orphan resolver.
func (n *Node) Orphans() *blocksync.OrphanResolver { return n.orphans }

// NodeKey returns the key signing this node's envelopes.
func (n *Node) NodeKey() p2p.NodeKey { return n.nodeKey }

// GenesisDoc returns the genesis document the node was started with.
func (n *Node) GenesisDoc() *types.GenesisDoc { return n.genesisDoc }

// ListenAddr returns the address the peer listener is bound to, or the
// configured one before Start.
func (n *Node) ListenAddr() string {
	if n.listener != nil {
		return n.listener.Addr().String()
	}
	return strings.TrimPrefix(n.config.P2P.ListenAddress, "tcp://")
}
