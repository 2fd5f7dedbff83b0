package followup

import (
	"context"
	"log"
	"time"
)

// Sweeper runs Tracker.Sweep on an interval until stopped. One sweeper per
// process; the CAS transitions make overlapping sweeps harmless anyway.
type Sweeper struct {
	tracker  *Tracker
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSweeper creates a sweeper. interval < 1m is clamped to 1m.
func NewSweeper(tracker *Tracker, interval time.Duration) *Sweeper {
	if interval < time.Minute {
		interval = time.Minute
	}
	return &Sweeper{tracker: tracker, interval: interval}
}

// Start launches the sweep loop. An immediate sweep runs first so restarts
// do not delay overdue processing by a full interval.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := s.tracker.Sweep(ctx); err != nil {
			log.Printf("followup: initial sweep: %v", err)
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.tracker.Sweep(ctx); err != nil {
					log.Printf("followup: sweep: %v", err)
				}
			}
		}
	}()
}

// Stop halts the loop and waits for the in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}
