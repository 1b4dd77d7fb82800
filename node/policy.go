package node

import (
	"time"

	"github.com/InsulaLabs/nodekeeper/chain"
	"github.com/InsulaLabs/nodekeeper/config"
)

// RuntimePolicy holds the network wide policy switches for one instance. It
// is built once in Start and copied into the background goroutine.
type RuntimePolicy struct {
	Chain           chain.Type
	NRDEnabled      bool
	AcceptFeeBase   uint64
	FutureTimeLimit time.Duration
}

func NewRuntimePolicy(ct chain.Type, cfg *config.NodeConfig) RuntimePolicy {
	return RuntimePolicy{
		Chain: ct,
		// NRD kernels stay off on mainnet
		NRDEnabled:      !ct.IsMainnet(),
		AcceptFeeBase:   cfg.Server.Pool.AcceptFeeBase,
		FutureTimeLimit: time.Duration(cfg.Server.FutureTimeLimit) * time.Second,
	}
}
