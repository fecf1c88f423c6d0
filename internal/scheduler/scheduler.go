// Package scheduler runs periodic background tasks: session history pruning
// and a daily database size report.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/micromayhem/mayhem/internal/config"
)

// Pruner deletes history older than a cutoff and reports rows removed.
type Pruner interface {
	Prune(cutoff time.Time) (int64, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg    config.DatabaseConfig
	pruner Pruner
	now    func() time.Time
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg config.DatabaseConfig, pruner Pruner) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		pruner: pruner,
		now:    time.Now,
	}
}

// Start runs all scheduled tasks and blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	if s.pruner != nil {
		go s.runPruneLoop(ctx)
	}
	go s.runStatsCollectionLoop(ctx)

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) pruneInterval() time.Duration {
	if s.cfg.PruneInterval <= 0 {
		return time.Hour
	}
	return time.Duration(s.cfg.PruneInterval) * time.Second
}

// runPruneLoop prunes once at start and then every prune interval.
func (s *Scheduler) runPruneLoop(ctx context.Context) {
	s.RunPrune()

	ticker := time.NewTicker(s.pruneInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunPrune()
		}
	}
}

// RunPrune deletes history older than the retention window.
func (s *Scheduler) RunPrune() int64 {
	days := s.cfg.RetentionDays
	if days < 1 {
		days = 1
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	n, err := s.pruner.Prune(cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("session history prune failed")
		return 0
	}

	log.Info().
		Int("retention_days", days).
		Int64("deleted_rows", n).
		Msg("session history pruned")
	return n
}

// runStatsCollectionLoop reports the database size daily.
func (s *Scheduler) runStatsCollectionLoop(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collectStats()
		}
	}
}

func (s *Scheduler) collectStats() {
	var size int64
	for _, suffix := range []string{"", "-wal"} {
		if info, err := os.Stat(s.cfg.Path + suffix); err == nil {
			size += info.Size()
		}
	}

	log.Info().
		Str("path", s.cfg.Path).
		Str("size", formatBytes(size)).
		Msg("daily stats collected")
}

// formatBytes formats bytes into human-readable format.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
