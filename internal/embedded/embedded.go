package embedded

import (
	"fmt"
	"log/slog"
	"math"
	"math/bits"
	"sync"
	"time"

	"github.com/InsulaLabs/nodekeeper/node"
)

/*
	A small local stand-in node: a header chain in badger and a transaction
	pool in memory, enforcing the runtime policy the supervisor hands it. A
	fresh store is seeded with the chain's genesis header on launch. Further
	headers and transactions arrive only through ProcessHeader and
	AddTransaction from an embedding program; there is no networking, and
	configured seeds only change the reported sync state.
*/

const bytesPerGB = 1 << 30

// Launcher brings up an embedded node. The zero value is ready to use.
type Launcher struct {
	// Now is the clock used for header validation. Defaults to time.Now.
	Now func() time.Time
}

var _ node.Launcher = (*Launcher)(nil)

type Node struct {
	logger *slog.Logger
	lc     node.LaunchConfig
	now    func() time.Time

	mu    sync.RWMutex
	store *chainStore
	pool  *txPool

	stopOnce sync.Once
	stopped  bool
}

var _ node.Service = (*Node)(nil)

func (l *Launcher) Launch(lc node.LaunchConfig) (node.Service, error) {
	return l.Open(lc)
}

// Open is Launch with the concrete type, for callers that feed the node
// headers and transactions directly.
func (l *Launcher) Open(lc node.LaunchConfig) (*Node, error) {
	logger := lc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("service", "embeddedNode")

	now := time.Now
	if l != nil && l.Now != nil {
		now = l.Now
	}

	server := lc.Config.Server
	store, err := openChainStore(logger, server.DBRoot)
	if err != nil {
		return nil, err
	}

	pool := newTxPool(poolLimits{
		ttl:         time.Duration(server.Pool.ReorgCachePeriod) * time.Minute,
		maxPool:     server.Pool.MaxPoolSize,
		maxStem:     server.Pool.MaxStemSlots,
		maxWeight:   server.Pool.MineableMaxWeight,
		acceptRate:  server.Pool.AcceptRateLimit,
		acceptBurst: server.Pool.AcceptBurst,
	})

	n := &Node{
		logger: logger,
		lc:     lc,
		now:    now,
		store:  store,
		pool:   pool,
	}

	if err := n.importGenesis(); err != nil {
		n.Stop()
		return nil, err
	}

	logger.Info("embedded node started",
		"db_root", server.DBRoot,
		"chain", lc.Policy.Chain.String(),
		"max_pool_size", server.Pool.MaxPoolSize,
	)
	return n, nil
}

// importGenesis seeds an empty chain store with the chain's genesis header.
func (n *Node) importGenesis() error {
	_, ok, err := n.store.head()
	if err != nil || ok {
		return err
	}
	g := GenesisHeader(n.lc.Policy.Chain)
	if err := n.ProcessHeader(g); err != nil {
		return fmt.Errorf("import genesis for %s: %w", n.lc.Policy.Chain, err)
	}
	n.logger.Info("genesis imported", "hash", g.Hash)
	return nil
}

// ProcessHeader validates h against the policy and the current head and
// appends it. Genesis is height zero with an empty PrevHash.
func (n *Node) ProcessHeader(h Header) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return ErrStopped
	}

	limit := n.now().Add(n.lc.Policy.FutureTimeLimit)
	if h.Timestamp.After(limit) {
		return fmt.Errorf("%w: %s is after %s", ErrHeaderFromFuture, h.Timestamp.Format(time.RFC3339), limit.Format(time.RFC3339))
	}

	head, ok, err := n.store.head()
	if err != nil {
		return err
	}

	var total uint64
	switch {
	case !ok:
		if h.Height != 0 || h.PrevHash != "" {
			return fmt.Errorf("%w: expected genesis, got height %d", ErrHeaderOrphan, h.Height)
		}
	case h.Height != head.Height+1 || h.PrevHash != head.Hash:
		return fmt.Errorf("%w: head is %d/%s, got %d on %s", ErrHeaderOrphan, head.Height, head.Hash, h.Height, h.PrevHash)
	default:
		total = head.TotalDifficulty
	}

	h.TotalDifficulty = total + h.Difficulty
	if err := n.store.appendHeader(h); err != nil {
		return err
	}
	n.logger.Debug("header accepted", "height", h.Height, "hash", h.Hash)
	return nil
}

func (n *Node) HeaderAt(height uint64) (Header, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.stopped {
		return Header{}, ErrStopped
	}
	return n.store.headerAt(height)
}

// AddTransaction admits tx to the stem or main pool.
func (n *Node) AddTransaction(tx Transaction) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.stopped {
		return ErrStopped
	}

	if tx.ID == "" || tx.Weight == 0 {
		return ErrTxInvalid
	}
	if tx.Weight > n.pool.limits.maxWeight {
		return fmt.Errorf("%w: %d > %d", ErrTxTooHeavy, tx.Weight, n.pool.limits.maxWeight)
	}
	if tx.NRD && !n.lc.Policy.NRDEnabled {
		return ErrNRDDisabled
	}
	// a minimum fee past 64 bits cannot be paid
	hi, minFee := bits.Mul64(n.lc.Policy.AcceptFeeBase, tx.Weight)
	if hi != 0 {
		return fmt.Errorf("%w: fee %d, need more than %d", ErrFeeTooLow, tx.Fee, uint64(math.MaxUint64))
	}
	if tx.Fee < minFee {
		return fmt.Errorf("%w: fee %d, need %d", ErrFeeTooLow, tx.Fee, minFee)
	}
	return n.pool.add(tx)
}

// Fluff moves a stem transaction into the main pool.
func (n *Node) Fluff(id string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.stopped {
		return false
	}
	return n.pool.fluff(id)
}

func (n *Node) GetStats() (node.StatusSnapshot, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.stopped {
		return node.StatusSnapshot{}, ErrStopped
	}

	head, _, err := n.store.head()
	if err != nil {
		return node.StatusSnapshot{}, err
	}

	used, err := n.store.diskUsage()
	if err != nil {
		n.logger.Debug("unable to measure chain data", "error", err)
	}

	syncStatus := node.SyncStatus{State: node.SyncNone}
	if len(n.lc.Config.Server.P2P.Seeds) > 0 {
		syncStatus.State = node.SyncAwaitingPeers
	}

	txs, stem := n.pool.sizes()
	return node.StatusSnapshot{
		InstanceID:      n.lc.InstanceID,
		Chain:           n.lc.Policy.Chain,
		TakenAt:         n.now(),
		Sync:            syncStatus,
		HeaderHeight:    head.Height,
		ChainHeight:     head.Height,
		TotalDifficulty: head.TotalDifficulty,
		LatestBlockAt:   head.Timestamp,
		TxPoolSize:      txs,
		StemPoolSize:    stem,
		DiskUsageGB:     float64(used) / bytesPerGB,
	}, nil
}

// Stop releases the pools and the chain store. Only the first call does
// anything.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.stopped = true

		n.pool.close()
		n.logger.Info("transaction pool stopped")

		if err := n.store.close(); err != nil {
			return
		}
		n.logger.Info("chain store closed")
	})
}
