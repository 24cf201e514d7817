package parking

import (
	"context"
	"sync"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/parkb/internal/clock"
)

// Scheduler periodically cancels preorders whose holder did not arrive
// within the grace period. Runs are driven by the injected clock.
type Scheduler struct {
	svc   *Service
	clock clock.Clock
	log   *log.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewScheduler returns a stopped scheduler for svc. A nil logger logs with
// prefix "scheduler".
func NewScheduler(svc *Service, c clock.Clock, l *log.Logger) *Scheduler {
	if l == nil {
		l = log.New("scheduler")
	}
	return &Scheduler{svc: svc, clock: c, log: l}
}

// Start launches the sweep loop. Calling Start on a running scheduler has
// no effect. After a Stop that timed out, the new loop waits for the old
// one to exit so that two loops never sweep at once.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	prev := s.done
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go s.loop(runCtx, prev, s.done)
	s.log.Infof("auto-cancel sweep every %s", s.svc.policy.SweepInterval)
}

func (s *Scheduler) loop(ctx context.Context, prev <-chan struct{}, done chan struct{}) {
	defer close(done)
	if prev != nil {
		<-prev
	}
	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.svc.policy.SweepInterval):
		}
		// A run that has started completes even if Stop is called meanwhile.
		if _, err := s.RunOnce(context.WithoutCancel(ctx)); err != nil {
			s.log.Errorf("sweep: %v", err)
		}
	}
}

// Stop prevents further runs and waits for the current run to finish or
// for ctx to expire, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs one sweep and returns how many reservations it
// cancelled. Each reservation is cancelled in its own transaction; a
// failure is logged and the sweep moves on.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	overdue, err := s.svc.OverdueReservations(ctx)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, r := range overdue {
		ok, err := s.svc.CancelOverdue(ctx, r.Code)
		if err != nil {
			s.log.Warnf("cancel reservation %d: %v", r.Code, err)
			continue
		}
		if ok {
			cancelled++
			s.log.Infof("reservation %d cancelled: no arrival within %s", r.Code, s.svc.policy.GracePeriod)
		}
	}
	return cancelled, nil
}
