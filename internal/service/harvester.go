// Package service wires traversal, snapshot, sync and journal into
// scheduled harvest passes.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/runwatch/log-harvester/internal/config"
	"github.com/runwatch/log-harvester/internal/domain"
	"github.com/runwatch/log-harvester/internal/journal"
	"github.com/runwatch/log-harvester/internal/snapshot"
	"github.com/runwatch/log-harvester/internal/syncer"
	"github.com/runwatch/log-harvester/internal/traverse"
)

// Harvester runs the pass pipeline on a schedule: walk the view, dump
// the snapshot, sync new records into the store, journal the outcome.
// Passes never overlap; a tick that lands while the previous pass is
// still running is skipped.
type Harvester struct {
	cfg        *config.Config
	traversal  *traverse.Engine
	syncEngine *syncer.Engine
	journal    *journal.Journal

	mu sync.Mutex
}

// NewHarvester wires the pass pipeline. The journal may be nil, in
// which case outcomes are only logged.
func NewHarvester(cfg *config.Config, traversal *traverse.Engine, syncEngine *syncer.Engine, j *journal.Journal) *Harvester {
	return &Harvester{
		cfg:        cfg,
		traversal:  traversal,
		syncEngine: syncEngine,
		journal:    j,
	}
}

// RunOnce executes a single pass end to end. Traversal faults are
// folded into the pass status and records collected before a fault
// still reach the sync step. Snapshot and journal failures are logged
// and do not fail the pass. The returned error covers only the sync
// step, whose store-read failure leaves nothing committed.
func (h *Harvester) RunOnce(ctx context.Context) (domain.HarvestPass, domain.SyncReport, error) {
	started := time.Now()
	ctx, span := startSpan(ctx, "harvester.pass")

	pass := h.traversal.RunPass(ctx)
	span.AddEvent("traversal complete")
	span.SetAttributes(
		attribute.String("pass.id", pass.ID.String()),
		attribute.String("pass.status", string(pass.Status)),
		attribute.Int("pass.matches", pass.Matches),
		attribute.Int("pass.records", len(pass.Records)),
	)

	if path := h.cfg.Snapshot.Path; path != "" {
		if err := snapshot.Write(path, pass.Records); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Snapshot write failed")
		}
	}

	report, syncErr := h.syncEngine.Sync(ctx, pass)
	span.AddEvent("sync complete")
	span.SetAttributes(
		attribute.Int("sync.committed", report.Committed),
		attribute.Int("sync.skipped", report.Skipped),
	)

	if h.journal != nil {
		if err := h.journal.Record(ctx, journal.Summarize(pass, report, time.Since(started))); err != nil {
			log.Warn().Err(err).Msg("Journaling pass summary failed")
		}
	}

	log.Info().
		Str("pass_id", pass.ID.String()).
		Str("status", string(pass.Status)).
		Int("committed", report.Committed).
		Dur("duration", time.Since(started)).
		Msg("Pass complete")

	endSpanWithError(span, syncErr, "harvest pass")
	return pass, report, syncErr
}

// Run executes one pass immediately, then keeps passing on the
// configured schedule until ctx is cancelled.
func (h *Harvester) Run(ctx context.Context) error {
	h.runGuarded(ctx)

	c := cron.New()
	if _, err := c.AddFunc(h.cfg.Schedule.Cron, func() {
		h.runGuarded(ctx)
	}); err != nil {
		return fmt.Errorf("register schedule %q: %w", h.cfg.Schedule.Cron, err)
	}
	c.Start()

	log.Info().Str("schedule", h.cfg.Schedule.Cron).Msg("Harvester started")

	<-ctx.Done()

	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(30 * time.Second):
		log.Warn().Msg("In-flight pass did not finish within shutdown window")
	}

	log.Info().Msg("Harvester stopped")
	return ctx.Err()
}

// runGuarded runs one pass unless the previous one is still going.
func (h *Harvester) runGuarded(ctx context.Context) {
	if !h.mu.TryLock() {
		log.Warn().Msg("Previous pass still running, skipping this tick")
		return
	}
	defer h.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	if _, _, err := h.RunOnce(ctx); err != nil {
		log.Error().Err(err).Msg("Pass sync step failed")
	}
}
