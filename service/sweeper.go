package service

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically removes orphaned scratch files and expired
// outputs. Normal requests clean up after themselves; this is a
// defensive net for crashed requests and process restarts.
type Sweeper struct {
	cron      *cron.Cron
	scratch   *ScratchStore
	outputs   *OutputStore
	retention time.Duration
}

func NewSweeper(spec string, scratch *ScratchStore, outputs *OutputStore, retention time.Duration) (*Sweeper, error) {
	s := &Sweeper{
		cron:      cron.New(),
		scratch:   scratch,
		outputs:   outputs,
		retention: retention,
	}
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start runs an immediate sweep to clear leftovers from a previous
// process, then begins the schedule.
func (s *Sweeper) Start() {
	s.sweep()
	s.cron.Start()
}

// Stop halts the schedule; an in-flight sweep finishes.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweep() {
	scratchRemoved, err := s.scratch.Sweep(s.retention)
	if err != nil {
		slog.Warn("scratch sweep failed", "error", err)
	}
	outputsRemoved := s.outputs.Sweep(s.retention)

	if scratchRemoved > 0 || outputsRemoved > 0 {
		slog.Info("sweep completed",
			"scratch_removed", scratchRemoved,
			"outputs_removed", outputsRemoved,
		)
	}
}
