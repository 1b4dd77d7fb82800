package node

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/InsulaLabs/nodekeeper/chain"
	"github.com/InsulaLabs/nodekeeper/config"
	"github.com/InsulaLabs/nodekeeper/home"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSupervisor(t *testing.T, l *fakeLauncher) (*Supervisor, chan StatusSnapshot, string) {
	t.Helper()
	base := t.TempDir()
	status := make(chan StatusSnapshot, 8)
	s := New(Config{
		Logger:       discardLogger(),
		BaseDir:      base,
		Launcher:     l,
		StatInterval: testInterval,
	})
	s.SetStatusSink(status)
	t.Cleanup(func() {
		_ = s.Stop(true)
	})
	return s, status, base
}

func TestStartFreshTestnetHome(t *testing.T) {
	l := &fakeLauncher{}
	s, status, base := newTestSupervisor(t, l)

	require.NoError(t, s.Start(chain.Testnet))
	assert.Equal(t, Running, s.State())

	dir := home.NodeDir(base, chain.Testnet)
	assert.Equal(t, dir, s.Home())
	for _, name := range []string{home.APISecretFileName, home.ForeignAPISecretFileName, home.ServerConfigFileName} {
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
	}

	cfg, ok := s.Config()
	require.True(t, ok)
	assert.Equal(t, chain.Testnet, cfg.Server.ChainType)
	assert.Equal(t, "127.0.0.1:13413", cfg.Server.APIHTTPAddr)

	select {
	case snap := <-status:
		assert.Equal(t, chain.Testnet, snap.Chain)
		assert.Equal(t, s.InstanceID(), snap.InstanceID)
	case <-time.After(2 * time.Second):
		t.Fatal("no status received")
	}

	written, err := os.ReadFile(home.ServerConfigPath(dir))
	require.NoError(t, err)

	require.NoError(t, s.Stop(true))
	assert.Equal(t, Idle, s.State())
	assert.True(t, l.service(0).isStopped())

	require.NoError(t, s.Start(chain.Testnet))
	assert.Equal(t, Running, s.State())
	again, err := os.ReadFile(home.ServerConfigPath(dir))
	require.NoError(t, err)
	assert.Equal(t, written, again, "second start must reuse the config unchanged")
	assert.Equal(t, int32(2), l.launches.Load())
}

func TestStartWhileRunningFails(t *testing.T) {
	l := &fakeLauncher{}
	s, _, _ := newTestSupervisor(t, l)

	require.NoError(t, s.Start(chain.Testnet))
	id := s.InstanceID()

	err := s.Start(chain.Testnet)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyRunning))

	assert.Equal(t, Running, s.State())
	assert.Equal(t, id, s.InstanceID())
	assert.Equal(t, int32(1), l.launches.Load())
	assert.Equal(t, int32(1), l.active.Load())
	assert.False(t, l.service(0).isStopped())
}

func TestStopWaitReturnsAfterExit(t *testing.T) {
	l := &fakeLauncher{stopDelay: 100 * time.Millisecond}
	s, _, _ := newTestSupervisor(t, l)

	require.NoError(t, s.Start(chain.Testnet))
	require.NoError(t, s.Stop(true))

	assert.True(t, l.service(0).isStopped(), "stop(true) returned before the node stopped")
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, "", s.InstanceID())

	require.NoError(t, s.Start(chain.Testnet))
	assert.Equal(t, Running, s.State())
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	s, _, _ := newTestSupervisor(t, &fakeLauncher{})
	assert.NoError(t, s.Stop(true))
	assert.NoError(t, s.Stop(false))
	assert.Equal(t, Idle, s.State())
}

func TestStopWithoutWaitDoesNotOverlapInstances(t *testing.T) {
	l := &fakeLauncher{stopDelay: 150 * time.Millisecond}
	s, _, _ := newTestSupervisor(t, l)

	require.NoError(t, s.Start(chain.Testnet))
	require.NoError(t, s.Stop(false))
	assert.Equal(t, Idle, s.State(), "non-blocking stop is idle once the message is sent")

	require.NoError(t, s.Start(chain.Testnet))
	assert.True(t, l.service(0).isStopped(), "new instance launched before the old one released its resources")
	assert.Equal(t, int32(1), l.maxActive.Load())
	assert.Equal(t, int32(2), l.launches.Load())
}

func TestStopDuringStartStopsNewInstance(t *testing.T) {
	l := &fakeLauncher{launchDelay: 200 * time.Millisecond}
	s, _, _ := newTestSupervisor(t, l)

	started := make(chan error, 1)
	go func() { started <- s.Start(chain.Testnet) }()
	require.Eventually(t, func() bool { return s.State() == Starting }, time.Second, time.Millisecond)

	require.NoError(t, s.Stop(true))
	require.NoError(t, <-started)

	assert.Equal(t, Idle, s.State(), "stop issued while starting was dropped")
	assert.Equal(t, "", s.InstanceID())
	assert.Equal(t, int32(1), l.launches.Load())
	assert.Equal(t, int32(0), l.active.Load())
	assert.True(t, l.service(0).isStopped())
}

func TestCorruptConfigLeavesIdle(t *testing.T) {
	l := &fakeLauncher{}
	s, _, base := newTestSupervisor(t, l)

	dir, err := home.ResolveHome(base, chain.Testnet)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(home.ServerConfigPath(dir), []byte("server = [[["), 0644))

	err = s.Start(chain.Testnet)
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrConfigFileUnmarshallable))
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, int32(0), l.launches.Load(), "no node may be launched on a bad config")
	assert.Equal(t, "", s.InstanceID())
}

func TestCorruptSecretLeavesIdle(t *testing.T) {
	l := &fakeLauncher{}
	s, _, base := newTestSupervisor(t, l)

	dir, err := home.ResolveHome(base, chain.Mainnet)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, home.ForeignAPISecretFileName), nil, 0600))

	err = s.Start(chain.Mainnet)
	require.Error(t, err)
	assert.True(t, errors.Is(err, home.ErrSecretEmpty))
	assert.Contains(t, err.Error(), home.ForeignAPISecretFileName)
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, int32(0), l.launches.Load())
}

func TestLaunchFailureLeavesIdle(t *testing.T) {
	l := &fakeLauncher{err: errLaunch}
	s, _, _ := newTestSupervisor(t, l)

	err := s.Start(chain.Testnet)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errLaunch))
	assert.Equal(t, Idle, s.State())

	l.set(func(l *fakeLauncher) { l.err = nil })
	require.NoError(t, s.Start(chain.Testnet))
	assert.Equal(t, Running, s.State())
}

func TestStartRequiresSinkAndLauncher(t *testing.T) {
	s := New(Config{Logger: discardLogger(), BaseDir: t.TempDir(), Launcher: &fakeLauncher{}})
	assert.ErrorIs(t, s.Start(chain.Testnet), ErrNoStatusSink)

	s = New(Config{Logger: discardLogger(), BaseDir: t.TempDir()})
	s.SetStatusSink(make(chan StatusSnapshot, 1))
	assert.ErrorIs(t, s.Start(chain.Testnet), ErrNoLauncher)
	assert.Equal(t, Idle, s.State())
}

func TestPanickedInstanceSurfacesJoinError(t *testing.T) {
	l := &fakeLauncher{panicStop: true}
	s, _, _ := newTestSupervisor(t, l)

	require.NoError(t, s.Start(chain.Testnet))
	err := s.Stop(true)
	require.Error(t, err)

	var joinErr *JoinError
	require.True(t, errors.As(err, &joinErr))
	assert.Equal(t, "storage refused to close", joinErr.Panic)
	assert.Equal(t, Idle, s.State())

	l.set(func(l *fakeLauncher) { l.panicStop = false })
	require.NoError(t, s.Start(chain.Testnet))
}

func TestRestartSwitchesChain(t *testing.T) {
	l := &fakeLauncher{stopDelay: 50 * time.Millisecond}
	s, _, _ := newTestSupervisor(t, l)

	require.NoError(t, s.Start(chain.Testnet))
	require.NoError(t, s.Restart(chain.UserTesting))

	assert.Equal(t, Running, s.State())
	assert.True(t, l.service(0).isStopped())
	assert.Equal(t, int32(1), l.maxActive.Load())

	ct, ok := s.Chain()
	require.True(t, ok)
	assert.Equal(t, chain.UserTesting, ct)

	cfg, ok := s.Config()
	require.True(t, ok)
	assert.Equal(t, chain.UserTesting, cfg.Server.ChainType)
}

func TestRestartFromIdleStarts(t *testing.T) {
	l := &fakeLauncher{}
	s, _, _ := newTestSupervisor(t, l)
	require.NoError(t, s.Restart(chain.Testnet))
	assert.Equal(t, Running, s.State())
}

func TestPolicyHandedToLauncher(t *testing.T) {
	l := &fakeLauncher{}
	s, _, _ := newTestSupervisor(t, l)

	require.NoError(t, s.Start(chain.Mainnet))
	require.NoError(t, s.Restart(chain.Testnet))

	mainPolicy := l.config(0).Policy
	assert.Equal(t, chain.Mainnet, mainPolicy.Chain)
	assert.False(t, mainPolicy.NRDEnabled)
	assert.Equal(t, uint64(500_000), mainPolicy.AcceptFeeBase)
	assert.Equal(t, 5*time.Minute, mainPolicy.FutureTimeLimit)

	testPolicy := l.config(1).Policy
	assert.Equal(t, chain.Testnet, testPolicy.Chain)
	assert.True(t, testPolicy.NRDEnabled)

	assert.NotEqual(t, l.config(0).InstanceID, l.config(1).InstanceID)
	assert.Equal(t, chain.Testnet, l.config(1).Config.Server.ChainType)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "stopping", Stopping.String())
	assert.Equal(t, "starting", Starting.String())
}
