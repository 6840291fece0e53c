package agent

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SweeperConfig holds stale-agent sweep configuration.
type SweeperConfig struct {
	// Interval between sweeps. Default 1 minute.
	Interval time.Duration
	// Threshold of heartbeat silence after which an active agent is marked
	// inactive. Default 5 minutes.
	Threshold time.Duration
}

// StaleSweeper periodically marks active agents inactive when they stop
// sending heartbeats. The inverse transition (inactive back to active)
// happens in Directory.Verify when valid telemetry arrives.
type StaleSweeper struct {
	dir    *Directory
	cfg    SweeperConfig
	logger *zap.Logger
}

// NewStaleSweeper creates a StaleSweeper.
func NewStaleSweeper(dir *Directory, cfg SweeperConfig, logger *zap.Logger) *StaleSweeper {
	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 5 * time.Minute
	}
	return &StaleSweeper{dir: dir, cfg: cfg, logger: logger}
}

// Run sweeps until ctx is cancelled. Sweep failures are logged and the loop
// continues; one bad sweep must not stop liveness tracking.
func (s *StaleSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("stale sweeper started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("threshold", s.cfg.Threshold),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stale sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.dir.SweepStale(ctx, s.cfg.Threshold); err != nil {
				s.logger.Warn("stale sweep failed", zap.Error(err))
			}
		}
	}
}
