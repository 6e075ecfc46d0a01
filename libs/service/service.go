package service

import (
	"context"
	"errors"
	"sync"

	"github.com/wisdomchain/wisdom/libs/log"
)

var (
	// ErrAlreadyStarted is returned when somebody tries to start an already
	// running service.
	ErrAlreadyStarted = errors.New("already started")
	// ErrAlreadyStopped is returned when somebody tries to stop an already
	// stopped service. Services cannot be restarted.
	ErrAlreadyStopped = errors.New("already stopped")
	// ErrNotStarted is returned when somebody tries to stop a not running
	// service.
	ErrNotStarted = errors.New("not started")
)

// Service defines a long running component of the node: the router, the
// pending block consumer, the scheduler.
type Service interface {
	// Start is called to start the service, which should run until
	// the context terminates or Stop is called. If the service is already
	// running, Start must report an error.
	Start(context.Context) error

	// Stop stops the service.
	Stop() error

	// Return true if the service is running
	IsRunning() bool

	// String representation of the service
	String() string

	// Wait blocks until the service is stopped.
	Wait()
}

// Implementation describes the implementation that the
// BaseService implementation wraps.
type Implementation interface {
	// Called by the Services Start Method
	OnStart(context.Context) error

	// Called once when the service stops, either through Stop or because
	// the start context was canceled.
	OnStop()
}

/*
BaseService carries the lifecycle bookkeeping shared by every service.
Embed it and hand the outer value to NewBaseService:

	type Router struct {
		service.BaseService
		// private fields
	}

	func NewRouter(logger log.Logger) *Router {
		r := &Router{}
		r.BaseService = *service.NewBaseService(logger, "Router", r)
		return r
	}

	func (r *Router) OnStart(ctx context.Context) error { ... }
	func (r *Router) OnStop() { ... }

OnStart and OnStop are called at most once. If OnStart fails, the service
stays idle and Start may be called again.
*/
type BaseService struct {
	logger log.Logger
	name   string

	mtx   sync.Mutex
	state serviceState
	quit  chan struct{}

	impl Implementation
}

type serviceState uint8

const (
	stateIdle serviceState = iota
	stateRunning
	stateStopped
)

// NewBaseService creates a new BaseService.
func NewBaseService(logger log.Logger, name string, impl Implementation) *BaseService {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &BaseService{
		logger: logger,
		name:   name,
		quit:   make(chan struct{}),
		impl:   impl,
	}
}

// Start starts the Service and calls its OnStart method. The service is
// stopped once ctx is canceled.
func (bs *BaseService) Start(ctx context.Context) error {
	bs.mtx.Lock()
	switch bs.state {
	case stateRunning:
		bs.mtx.Unlock()
		return ErrAlreadyStarted
	case stateStopped:
		bs.mtx.Unlock()
		bs.logger.Error("not starting service; already stopped", "service", bs.name)
		return ErrAlreadyStopped
	}

	bs.logger.Info("starting service", "service", bs.name)
	if err := bs.impl.OnStart(ctx); err != nil {
		bs.mtx.Unlock()
		return err
	}
	bs.state = stateRunning
	bs.mtx.Unlock()

	go func() {
		select {
		case <-bs.quit:
		case <-ctx.Done():
			if err := bs.Stop(); err != nil && !errors.Is(err, ErrAlreadyStopped) {
				bs.logger.Error("stopping service", "service", bs.name, "err", err)
			}
		}
	}()

	return nil
}

// Stop calls OnStop and releases everybody blocked in Wait.
func (bs *BaseService) Stop() error {
	bs.mtx.Lock()
	switch bs.state {
	case stateIdle:
		bs.mtx.Unlock()
		return ErrNotStarted
	case stateStopped:
		bs.mtx.Unlock()
		return ErrAlreadyStopped
	}
	bs.state = stateStopped
	bs.mtx.Unlock()

	bs.logger.Info("stopping service", "service", bs.name)
	bs.impl.OnStop()
	close(bs.quit)

	return nil
}

// IsRunning implements Service by returning true or false depending on the
// service's state.
func (bs *BaseService) IsRunning() bool {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()
	return bs.state == stateRunning
}

// Quit returns a channel closed when the service stops. Goroutines spawned
// from OnStart select on it.
func (bs *BaseService) Quit() <-chan struct{} { return bs.quit }

// Wait blocks until the service is stopped.
func (bs *BaseService) Wait() { <-bs.quit }

// String implements Service by returning a string representation of the service.
func (bs *BaseService) String() string { return bs.name }
