package node

import (
	"errors"
	"log/slog"
	"time"

	"github.com/InsulaLabs/nodekeeper/chain"
)

type ControlMessage int

const (
	Shutdown ControlMessage = iota
)

func (m ControlMessage) String() string {
	if m == Shutdown {
		return "shutdown"
	}
	return "unknown"
}

const DefaultStatInterval = time.Second

var (
	ErrStatusSinkFull   = errors.New("status sink is full")
	ErrStatusSinkClosed = errors.New("status sink is closed")
)

// Controller bridges one running Service to the front end. It runs on the
// background goroutine that owns the Service.
type Controller struct {
	logger       *slog.Logger
	chain        chain.Type
	control      <-chan ControlMessage
	status       chan<- StatusSnapshot
	statInterval time.Duration
}

func NewController(
	logger *slog.Logger,
	ct chain.Type,
	control <-chan ControlMessage,
	status chan<- StatusSnapshot,
	statInterval time.Duration,
) *Controller {
	if statInterval <= 0 {
		statInterval = DefaultStatInterval
	}
	return &Controller{
		logger:       logger,
		chain:        ct,
		control:      control,
		status:       status,
		statInterval: statInterval,
	}
}

// Run blocks until a Shutdown arrives or the control channel closes, then
// stops the service and returns.
func (c *Controller) Run(svc Service) {
	ticker := time.NewTicker(c.statInterval)
	defer ticker.Stop()

	c.logger.Warn("Running node", "chain", c.chain.String())

	for {
		select {
		case msg, ok := <-c.control:
			if !ok || msg == Shutdown {
				c.logger.Warn("Shutdown in progress, please wait", "chain", c.chain.String())
				svc.Stop()
				c.logger.Info("Node stopped", "chain", c.chain.String())
				return
			}
			c.logger.Debug("Ignoring control message", "message", msg.String())
		case <-ticker.C:
			c.pushStatus(svc)
		}
	}
}

func (c *Controller) pushStatus(svc Service) {
	stats, err := svc.GetStats()
	if err != nil {
		c.logger.Debug("Unable to read node stats", "error", err)
		return
	}
	if err := trySend(c.status, stats); err != nil {
		c.logger.Error("Unable to send stat message to UI", "error", err)
	}
}

// trySend never blocks. A closed sink is reported rather than panicking the
// goroutine that owns the node.
func trySend(sink chan<- StatusSnapshot, s StatusSnapshot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrStatusSinkClosed
		}
	}()
	select {
	case sink <- s:
		return nil
	default:
		return ErrStatusSinkFull
	}
}
