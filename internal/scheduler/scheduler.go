package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs one sync job on a cron spec
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	spec   string
	job    func(ctx context.Context) error
}

// New creates a scheduler in the given location (time.Local when nil)
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetJob sets the function run on every tick
func (s *Scheduler) SetJob(spec string, f func(ctx context.Context) error) {
	s.spec = spec
	s.job = f
}

// Start validates the cron expression and starts ticking. A failing run is logged and
// the schedule goes on; a tick that fires while the previous run is still
// waiting for a TAN is skipped.
func (s *Scheduler) Start() error {
	if s.job == nil {
		return fmt.Errorf("scheduler: no job set")
	}

	_, err := s.cron.AddFunc(s.spec, func() {
		log.Printf("[SCHED] sync triggered (%s)", s.spec)
		if err := s.job(s.ctx); err != nil {
			log.Printf("[SCHED] sync failed: %v", err)
			return
		}
		log.Printf("[SCHED] sync done")
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", s.spec, err)
	}

	s.cron.Start()
	if next := s.Next(); !next.IsZero() {
		log.Printf("[SCHED] scheduler started, next run at %s", next.Format(time.RFC3339))
	}
	return nil
}

// Next is the time of the upcoming run, zero if nothing is scheduled.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stop cancels the running job's context and waits for it to return
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	log.Println("[SCHED] scheduler stopped")
}

// IsRunning reports whether a job is registered
func (s *Scheduler) IsRunning() bool {
	return s.cron != nil && len(s.cron.Entries()) > 0
}

// Validate parses spec the way Start does.
func Validate(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}
