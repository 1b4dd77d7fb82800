package node

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/InsulaLabs/nodekeeper/chain"
	"github.com/InsulaLabs/nodekeeper/config"
)

/*
	The node service itself is opaque to this package. A Launcher brings one up
	on the supervisor's background goroutine and hands back a Service; from then
	on that goroutine is the only owner of the Service until it calls Stop.
*/

type Service interface {
	// Point in time statistics. Must be safe to call repeatedly.
	GetStats() (StatusSnapshot, error)

	// Stop blocks until the service has released its storage and network
	// resources. There is no timeout.
	Stop()
}

type LaunchConfig struct {
	InstanceID string
	Config     config.NodeConfig
	Policy     RuntimePolicy
	Logger     *slog.Logger
}

type Launcher interface {
	Launch(cfg LaunchConfig) (Service, error)
}

type LauncherFunc func(cfg LaunchConfig) (Service, error)

func (f LauncherFunc) Launch(cfg LaunchConfig) (Service, error) {
	return f(cfg)
}

type SyncState int

const (
	SyncInitial SyncState = iota
	SyncNone
	SyncAwaitingPeers
	SyncHeaders
	SyncTxHashset
	SyncBodies
	SyncShutdown
)

type SyncStatus struct {
	State   SyncState
	Current uint64
	Highest uint64
}

// Percent is the progress of header or body sync, 0 when unknown.
func (s SyncStatus) Percent() uint64 {
	if s.Highest == 0 {
		return 0
	}
	if s.Current >= s.Highest {
		return 100
	}
	return s.Current * 100 / s.Highest
}

func (s SyncStatus) String() string {
	switch s.State {
	case SyncInitial:
		return "Initializing"
	case SyncNone:
		return "Running"
	case SyncAwaitingPeers:
		return "Waiting for peers"
	case SyncHeaders:
		return fmt.Sprintf("Sync step 1/7: Downloading headers: %d%%", s.Percent())
	case SyncTxHashset:
		return "Sync step 2/7: Downloading chain state for state sync"
	case SyncBodies:
		return fmt.Sprintf("Sync step 7/7: Downloading blocks: %d%%", s.Percent())
	case SyncShutdown:
		return "Shutting down, closing connections"
	}
	return "Unknown"
}

// StatusSnapshot is a consistent read of node statistics. Each one replaces
// the previous for display purposes.
type StatusSnapshot struct {
	InstanceID string
	Chain      chain.Type
	TakenAt    time.Time

	PeerCount int
	Sync      SyncStatus

	HeaderHeight    uint64
	ChainHeight     uint64
	TotalDifficulty uint64
	LatestBlockAt   time.Time

	TxPoolSize   int
	StemPoolSize int

	DiskUsageGB float64
}
