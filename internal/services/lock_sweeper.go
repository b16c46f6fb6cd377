package services

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// sweepTimeout bounds a single sweep run.
const sweepTimeout = time.Minute

// LockSweeper periodically reevaluates account locks so flags left stale by
// out-of-band data changes are corrected without waiting for the user's next
// borrow or return.
type LockSweeper struct {
	lending  LendingService
	schedule string
	cron     *cron.Cron
}

// NewLockSweeper creates a sweeper running on a robfig/cron schedule
// (e.g. "@every 10m" or "*/15 * * * *").
func NewLockSweeper(lending LendingService, schedule string) *LockSweeper {
	return &LockSweeper{
		lending:  lending,
		schedule: schedule,
		cron:     cron.New(),
	}
}

// Start registers the sweep and starts the scheduler.
func (s *LockSweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.run); err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("[INFO] LockSweeper: started with schedule %q", s.schedule)
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *LockSweeper) Stop() {
	<-s.cron.Stop().Done()
	log.Println("[INFO] LockSweeper: stopped")
}

func (s *LockSweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	changed, err := s.lending.ReevaluateAllLocks(ctx)
	if err != nil {
		log.Printf("[ERROR] LockSweeper: sweep failed after %d changes: %v", changed, err)
		return
	}
	if changed > 0 {
		log.Printf("[INFO] LockSweeper: corrected %d lock flags", changed)
	}
}
