package embedded

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

type Transaction struct {
	ID     string
	Fee    uint64
	Weight uint64

	// Carries a no recent duplicate kernel.
	NRD bool

	// Stem transactions wait in the stem pool before being fluffed.
	Stem bool
}

type poolLimits struct {
	ttl         time.Duration
	maxPool     int
	maxStem     int
	maxWeight   uint64
	acceptRate  float64
	acceptBurst int
}

// txPool holds unconfirmed transactions. Entries expire after the reorg cache
// period; a full pool rejects new entries instead of evicting old ones.
type txPool struct {
	mu      sync.Mutex
	limits  poolLimits
	txs     *ttlcache.Cache[string, Transaction]
	stem    *ttlcache.Cache[string, Transaction]
	limiter *rate.Limiter
}

func newTxPool(limits poolLimits) *txPool {
	p := &txPool{
		limits: limits,
		txs: ttlcache.New[string, Transaction](
			ttlcache.WithTTL[string, Transaction](limits.ttl),
			ttlcache.WithCapacity[string, Transaction](uint64(limits.maxPool)),
			ttlcache.WithDisableTouchOnHit[string, Transaction](),
		),
		stem: ttlcache.New[string, Transaction](
			ttlcache.WithTTL[string, Transaction](limits.ttl),
			ttlcache.WithCapacity[string, Transaction](uint64(limits.maxStem)),
			ttlcache.WithDisableTouchOnHit[string, Transaction](),
		),
		limiter: rate.NewLimiter(rate.Limit(limits.acceptRate), limits.acceptBurst),
	}
	go p.txs.Start()
	go p.stem.Start()
	return p
}

func (p *txPool) add(tx Transaction) error {
	if !p.limiter.Allow() {
		return ErrRateLimited
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.txs.Has(tx.ID) || p.stem.Has(tx.ID) {
		return ErrDuplicateTx
	}

	target, limit := p.txs, p.limits.maxPool
	if tx.Stem {
		target, limit = p.stem, p.limits.maxStem
	}
	if target.Len() >= limit {
		return ErrPoolFull
	}
	target.Set(tx.ID, tx, ttlcache.DefaultTTL)
	return nil
}

// fluff moves a stem transaction into the main pool.
func (p *txPool) fluff(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.txs.Len() >= p.limits.maxPool {
		return false
	}
	item, ok := p.stem.GetAndDelete(id)
	if !ok || item == nil {
		return false
	}
	tx := item.Value()
	tx.Stem = false
	p.txs.Set(id, tx, ttlcache.DefaultTTL)
	return true
}

func (p *txPool) sizes() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.txs.Len(), p.stem.Len()
}

func (p *txPool) close() {
	p.txs.Stop()
	p.stem.Stop()
	p.txs.DeleteAll()
	p.stem.DeleteAll()
}
