package node

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeService counts calls and can be told to stall or panic in Stop.
type fakeService struct {
	lc       LaunchConfig
	launcher *fakeLauncher

	stopDelay time.Duration
	panicStop bool
	statsErr  error

	getCalls atomic.Int32
	stopOnce sync.Once
	stopped  chan struct{}
}

func (f *fakeService) GetStats() (StatusSnapshot, error) {
	f.getCalls.Add(1)
	if f.statsErr != nil {
		return StatusSnapshot{}, f.statsErr
	}
	return StatusSnapshot{
		InstanceID:  f.lc.InstanceID,
		Chain:       f.lc.Policy.Chain,
		TakenAt:     time.Now(),
		Sync:        SyncStatus{State: SyncNone},
		ChainHeight: 42,
	}, nil
}

func (f *fakeService) Stop() {
	if f.stopDelay > 0 {
		time.Sleep(f.stopDelay)
	}
	if f.panicStop {
		panic("storage refused to close")
	}
	f.stopOnce.Do(func() {
		if f.launcher != nil {
			f.launcher.active.Add(-1)
		}
		close(f.stopped)
	})
}

func (f *fakeService) isStopped() bool {
	select {
	case <-f.stopped:
		return true
	default:
		return false
	}
}

type fakeLauncher struct {
	// read without the lock, set before use
	launchDelay time.Duration

	mu        sync.Mutex
	err       error
	stopDelay time.Duration
	panicStop bool
	services  []*fakeService
	configs   []LaunchConfig

	launches  atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32
}

var errLaunch = errors.New("chain data is corrupt")

func (l *fakeLauncher) Launch(lc LaunchConfig) (Service, error) {
	time.Sleep(l.launchDelay)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.launches.Add(1)
	n := l.active.Add(1)
	if n > l.maxActive.Load() {
		l.maxActive.Store(n)
	}
	svc := &fakeService{
		lc:        lc,
		launcher:  l,
		stopDelay: l.stopDelay,
		panicStop: l.panicStop,
		stopped:   make(chan struct{}),
	}
	l.services = append(l.services, svc)
	l.configs = append(l.configs, lc)
	return svc, nil
}

func (l *fakeLauncher) set(fn func(l *fakeLauncher)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l)
}

func (l *fakeLauncher) service(i int) *fakeService {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.services[i]
}

func (l *fakeLauncher) config(i int) LaunchConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.configs[i]
}
