// Package scheduler runs named maintenance tasks at fixed intervals.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wisdomchain/wisdom/libs/log"
	"github.com/wisdomchain/wisdom/libs/service"
)

// Task is a function run every Interval.
type Task struct {
	Name     string
	Interval time.Duration
	// Immediate runs the task once on start, before the first interval.
	Immediate bool
	Run       func()
}

// Scheduler runs its tasks each on its own goroutine until stopped. Runs
// of one task never overlap.
type Scheduler struct {
	service.BaseService
	logger log.Logger

	tasks  []Task
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New validates tasks and returns an idle scheduler.
func New(logger log.Logger, tasks ...Task) (*Scheduler, error) {
	names := make(map[string]struct{}, len(tasks))
	for _, task := range tasks {
		if task.Name == "" {
			return nil, errors.New("task without a name")
		}
		if _, ok := names[task.Name]; ok {
			return nil, fmt.Errorf("duplicate task %q", task.Name)
		}
		names[task.Name] = struct{}{}
		if task.Interval <= 0 {
			return nil, fmt.Errorf("task %q: interval must be positive, got %v", task.Name, task.Interval)
		}
		if task.Run == nil {
			return nil, fmt.Errorf("task %q: nothing to run", task.Name)
		}
	}
	s := &Scheduler{
		logger: logger,
		tasks:  append([]Task(nil), tasks...),
	}
	s.BaseService = *service.NewBaseService(logger, "scheduler", s)
	return s, nil
}

// OnStart implements service.Service.
func (s *Scheduler) OnStart(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.group, ctx = errgroup.WithContext(ctx)
	for _, task := range s.tasks {
		task := task
		s.group.Go(func() error {
			s.loop(ctx, task)
			return nil
		})
	}
	return nil
}

// OnStop implements service.Service. It waits for running tasks to return.
func (s *Scheduler) OnStop() {
	s.cancel()
	_ = s.group.Wait()
}

func (s *Scheduler) loop(ctx context.Context, task Task) {
	if task.Immediate {
		s.run(task)
	}
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(task)
		}
	}
}

func (s *Scheduler) run(task Task) {
	defer func() {
		if e := recover(); e != nil {
			s.logger.Error("task panicked", "task", task.Name, "err", e)
		}
	}()
	task.Run()
}
