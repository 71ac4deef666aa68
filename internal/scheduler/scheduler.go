package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sweeper is the interface the scheduler drives. Satisfied by rotation.Engine.
type Sweeper interface {
	RotateExpiredKeys(ctx context.Context) (int, error)
}

// SessionExpirer removes stale unlock sessions. Satisfied by session.Manager.
type SessionExpirer interface {
	ExpireStale() int
}

// Scheduler runs the rotation sweep on a cron cadence so credentials rotate
// even when nobody resolves them. The sweep endpoint stays callable by an
// external scheduler as well; the two compose because rotation is guarded by
// the storage-level compare-and-swap.
type Scheduler struct {
	cron     *cron.Cron
	sweeper  Sweeper
	sessions SessionExpirer
	spec     string

	mu      sync.Mutex
	running bool

	// inflight guards against overlapping sweeps when a sweep outlasts the
	// cron interval.
	inflight sync.Mutex
}

// New creates a Scheduler with a standard 5-field cron expression. sessions
// may be nil.
func New(spec string, sweeper Sweeper, sessions SessionExpirer) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		sweeper:  sweeper,
		sessions: sessions,
		spec:     spec,
	}
}

// Start registers the sweep job and launches the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already started")
	}

	_, err := s.cron.AddFunc(s.spec, func() { s.sweep(ctx) })
	if err != nil {
		return fmt.Errorf("parsing sweep schedule %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.running = true
	log.Info().Str("schedule", s.spec).Msg("rotation scheduler started")
	return nil
}

func (s *Scheduler) sweep(ctx context.Context) {
	if !s.inflight.TryLock() {
		log.Warn().Msg("previous sweep still running, skipping")
		return
	}
	defer s.inflight.Unlock()

	if s.sessions != nil {
		if removed := s.sessions.ExpireStale(); removed > 0 {
			log.Debug().Int("removed", removed).Msg("expired stale sessions")
		}
	}

	start := time.Now()
	rotated, err := s.sweeper.RotateExpiredKeys(ctx)
	if err != nil {
		log.Error().Err(err).Int("rotated", rotated).Msg("rotation sweep failed")
		return
	}
	if rotated > 0 {
		log.Info().Int("rotated", rotated).Dur("took", time.Since(start)).Msg("rotation sweep complete")
	}
}

// Stop halts the cron loop and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	log.Info().Msg("rotation scheduler stopped")
}
