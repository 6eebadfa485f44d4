package server

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sweeper periodically prunes empty rooms from the registry.
type Sweeper struct {
	cron     *cron.Cron
	registry *Registry
	metrics  *Metrics
}

// NewSweeper schedules pruning of the server's registry with a cron spec
// such as "@every 5m".
func NewSweeper(schedule string, srv *Server) (*Sweeper, error) {
	s := &Sweeper{
		cron:     cron.New(),
		registry: srv.registry,
		metrics:  srv.metrics,
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.Sweep() }); err != nil {
		return nil, fmt.Errorf("scheduling room sweep %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
	log.Info().Msg("room sweeper started")
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info().Msg("room sweeper stopped")
}

// Sweep prunes empty rooms once and returns how many were removed.
func (s *Sweeper) Sweep() int {
	removed := s.registry.Prune()
	if removed > 0 {
		s.metrics.pruned.Add(float64(removed))
		log.Debug().Int("rooms", removed).Msg("pruned empty rooms")
	}
	return removed
}
