package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/mohammad-safakhou/researchflow/config"
	"github.com/mohammad-safakhou/researchflow/internal/checkpoint"
	"github.com/mohammad-safakhou/researchflow/internal/store"
	"github.com/mohammad-safakhou/researchflow/internal/telemetry"
)

// Janitor prunes replays and their checkpoint garbage on a cron
// schedule. Checkpoints of pruned threads go first so a crash between
// the two deletes leaves a summary row behind, never an orphaned
// checkpoint namespace.
type Janitor struct {
	Summaries   store.Summaries
	Checkpoints checkpoint.Store
	MaxAge      time.Duration
	Logger      *log.Logger

	schedule *cronexpr.Expression
}

func NewJanitor(cfg config.RetentionConfig, summaries store.Summaries, checkpoints checkpoint.Store, logger *log.Logger) (*Janitor, error) {
	spec := cfg.Schedule
	if spec == "" {
		spec = "@hourly"
	}
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing retention schedule %q: %w", spec, err)
	}
	return &Janitor{
		Summaries:   summaries,
		Checkpoints: checkpoints,
		MaxAge:      cfg.MaxAge,
		Logger:      logger,
		schedule:    expr,
	}, nil
}

func (j *Janitor) Start(ctx context.Context) {
	go func() {
		for {
			next := j.schedule.Next(time.Now())
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Until(next)):
				j.prune(ctx)
			}
		}
	}()
}

func (j *Janitor) prune(ctx context.Context) {
	cutoff := time.Now().Add(-j.MaxAge)
	stale, err := j.Summaries.StaleThreads(ctx, cutoff)
	if err != nil {
		j.Logger.Printf("prune: listing stale threads: %v", err)
		return
	}
	for _, threadID := range stale {
		if err := j.Checkpoints.Delete(ctx, threadID); err != nil {
			j.Logger.Printf("prune: deleting checkpoints for %s: %v", threadID, err)
			return
		}
	}
	n, err := j.Summaries.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.Logger.Printf("prune: deleting replays: %v", err)
		return
	}
	if n > 0 {
		telemetry.ReplaysPruned.Add(float64(n))
		j.Logger.Printf("pruned %d replays older than %s", n, cutoff.Format(time.RFC3339))
	}
}
