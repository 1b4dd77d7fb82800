package node

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/InsulaLabs/nodekeeper/chain"
	"github.com/InsulaLabs/nodekeeper/config"
	"github.com/InsulaLabs/nodekeeper/home"
	"github.com/InsulaLabs/nodekeeper/internal/logging"
	"github.com/google/uuid"
)

type State int

const (
	Idle State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

var (
	ErrAlreadyRunning = errors.New("node is already active")
	ErrNoStatusSink   = errors.New("no status sink has been set")
	ErrNoLauncher     = errors.New("no node launcher configured")
)

// JoinError reports a background goroutine that panicked instead of
// returning. The goroutine is gone either way.
type JoinError struct {
	InstanceID string
	Panic      any
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("node instance %s did not exit cleanly: %v", e.InstanceID, e.Panic)
}

type Config struct {
	Logger *slog.Logger

	// Parent of the node home tree. Empty means the user's home directory.
	BaseDir string

	Launcher     Launcher
	StatInterval time.Duration
}

type instance struct {
	id       string
	chain    chain.Type
	control  chan ControlMessage
	finished chan struct{}
	err      error // written before finished is closed
}

func (i *instance) wait() error {
	<-i.finished
	return i.err
}

// Supervisor owns at most one running node instance and is the only way the
// front end starts, stops or restarts it.
type Supervisor struct {
	logger       *slog.Logger
	baseDir      string
	launcher     Launcher
	statInterval time.Duration

	mu      sync.Mutex
	state   State
	status  chan<- StatusSnapshot
	chain   chain.Type
	homeDir string
	cfg     *config.NodeConfig

	current *instance
	// closed when an in-flight Start settles
	starting chan struct{}
	// stopped without waiting and possibly still releasing resources
	draining *instance
}

func New(cfg Config) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = home.DefaultBase()
	}
	if cfg.StatInterval <= 0 {
		cfg.StatInterval = DefaultStatInterval
	}
	return &Supervisor{
		logger:       cfg.Logger.With("service", "nodeSupervisor"),
		baseDir:      cfg.BaseDir,
		launcher:     cfg.Launcher,
		statInterval: cfg.StatInterval,
	}
}

// SetStatusSink sets where snapshots are pushed. It applies to instances
// started after the call.
func (s *Supervisor) SetStatusSink(sink chan<- StatusSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = sink
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) IsRunning() bool {
	return s.State() == Running
}

// Chain reports the chain of the most recently started instance.
func (s *Supervisor) Chain() (chain.Type, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chain, s.cfg != nil
}

// Config returns a copy of the configuration the last instance started with.
func (s *Supervisor) Config() (config.NodeConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return config.NodeConfig{}, false
	}
	return s.cfg.Clone(), true
}

func (s *Supervisor) Home() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.homeDir
}

func (s *Supervisor) InstanceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.id
}

// Start bootstraps the node home for ct and launches a node on a background
// goroutine. It blocks for disk I/O and until the node reports it is up, so
// call it off any latency sensitive path. On error the supervisor stays Idle.
func (s *Supervisor) Start(ct chain.Type) error {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyRunning, s.state)
	}
	if s.launcher == nil {
		s.mu.Unlock()
		return ErrNoLauncher
	}
	if s.status == nil {
		s.mu.Unlock()
		return ErrNoStatusSink
	}
	s.state = Starting
	s.starting = make(chan struct{})
	sink := s.status
	prev := s.draining
	s.mu.Unlock()

	inst, homeDir, cfg, err := s.bringUp(ct, sink, prev)

	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.starting)
	s.starting = nil
	if err != nil {
		s.state = Idle
		s.logger.Error("Node failed to start", "chain", ct.String(), "error", err)
		return err
	}
	s.state = Running
	s.current = inst
	s.chain = ct
	s.homeDir = homeDir
	s.cfg = cfg
	if s.draining == prev {
		s.draining = nil
	}
	return nil
}

func (s *Supervisor) bringUp(ct chain.Type, sink chan<- StatusSnapshot, prev *instance) (*instance, string, *config.NodeConfig, error) {
	homeDir, err := home.ResolveHome(s.baseDir, ct)
	if err != nil {
		return nil, "", nil, err
	}
	if err := home.EnsureSecrets(homeDir); err != nil {
		return nil, "", nil, err
	}
	cfg, err := config.LoadOrCreate(s.logger, homeDir, ct)
	if err != nil {
		return nil, "", nil, err
	}

	nodeLogger, logCloser, err := logging.Open(s.logger, cfg.Logging)
	if err != nil {
		return nil, "", nil, err
	}

	policy := NewRuntimePolicy(ct, cfg)

	inst := &instance{
		id:       uuid.NewString(),
		chain:    ct,
		control:  make(chan ControlMessage, 1),
		finished: make(chan struct{}),
	}
	nodeLogger = nodeLogger.With("instance", inst.id)

	nodeLogger.Info("Using configuration file", "path", cfg.FilePath)
	logBuildInfo(nodeLogger)
	nodeLogger.Info("Chain", "chain", ct.String())
	nodeLogger.Info("Accept Fee Base", "accept_fee_base", policy.AcceptFeeBase)
	nodeLogger.Info("Future Time Limit", "future_time_limit", policy.FutureTimeLimit)
	nodeLogger.Info("Feature: NRD kernel enabled", "enabled", policy.NRDEnabled)

	ready := make(chan error, 1)
	go s.runInstance(inst, prev, LaunchConfig{
		InstanceID: inst.id,
		Config:     cfg.Clone(),
		Policy:     policy,
		Logger:     nodeLogger,
	}, sink, logCloser, ready)

	if err := <-ready; err != nil {
		<-inst.finished
		return nil, "", nil, err
	}
	return inst, homeDir, cfg, nil
}

func (s *Supervisor) runInstance(
	inst *instance,
	prev *instance,
	lc LaunchConfig,
	sink chan<- StatusSnapshot,
	logCloser io.Closer,
	ready chan<- error,
) {
	readySent := false
	defer func() {
		if r := recover(); r != nil {
			inst.err = &JoinError{InstanceID: inst.id, Panic: r}
			lc.Logger.Error("Node goroutine panicked", "panic", r)
			if !readySent {
				ready <- inst.err
			}
		}
		if err := logCloser.Close(); err != nil {
			s.logger.Warn("Failed to close node log file", "error", err)
		}
		close(inst.finished)
	}()

	// the old instance must release the data directory first
	if prev != nil {
		lc.Logger.Info("Waiting for previous node instance to shut down", "previous", prev.id)
		<-prev.finished
	}

	svc, err := s.launcher.Launch(lc)
	if err != nil {
		readySent = true
		ready <- fmt.Errorf("failed to launch node for %s: %w", lc.Policy.Chain, err)
		return
	}
	readySent = true
	ready <- nil

	NewController(lc.Logger, lc.Policy.Chain, inst.control, sink, s.statInterval).Run(svc)
}

// Stop sends one Shutdown to the running instance. With wait it blocks until
// the background goroutine has exited; without, the supervisor is Idle as
// soon as the message is sent and the next Start waits for the old instance
// to finish before launching. A Start still in progress is waited for and
// the instance it brought up is stopped. Stopping an Idle supervisor does
// nothing.
func (s *Supervisor) Stop(wait bool) error {
	s.mu.Lock()
	for s.state == Starting {
		pending := s.starting
		s.mu.Unlock()
		s.logger.Info("Waiting for node start to finish before stopping")
		<-pending
		s.mu.Lock()
	}
	inst := s.current
	if inst == nil {
		s.mu.Unlock()
		return nil
	}
	s.current = nil
	inst.control <- Shutdown

	if !wait {
		s.state = Idle
		s.draining = inst
		s.mu.Unlock()
		s.logger.Info("Node shutdown requested", "instance", inst.id)
		return nil
	}

	s.state = Stopping
	s.mu.Unlock()

	s.logger.Info("Node shutdown requested, waiting for exit", "instance", inst.id)
	err := inst.wait()

	s.mu.Lock()
	s.state = Idle
	s.mu.Unlock()
	return err
}

// Restart stops the current instance, waiting for it to release its data
// directory, and starts ct.
func (s *Supervisor) Restart(ct chain.Type) error {
	if err := s.Stop(true); err != nil {
		var joinErr *JoinError
		if !errors.As(err, &joinErr) {
			return err
		}
		s.logger.Warn("Previous node instance exited abnormally, starting anyway", "error", err)
	}
	return s.Start(ct)
}

func logBuildInfo(logger *slog.Logger) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	logger.Info("Build info", "module", info.Main.Path, "version", info.Main.Version, "go", info.GoVersion)
}
