// Package crawler walks the portal's region, resort, room, and availability
// hierarchy and persists what it finds. Stages are gated by the scheduler's
// plan and fan out with bounded concurrency to stay under the portal's
// anti-scraping defenses.
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/resortwatch/internal/model"
	"github.com/dukerupert/resortwatch/internal/portal"
	"github.com/dukerupert/resortwatch/internal/scheduler"
	"github.com/dukerupert/resortwatch/internal/store"
)

const (
	stageResorts        = string(scheduler.TypeResorts)
	stageRooms          = string(scheduler.TypeRooms)
	stageAvailabilities = string(scheduler.TypeAvailabilities)

	// Availability is fetched in two half-year windows per room, combined
	// in order so dates stay contiguous.
	firstWindowStart  = 0
	firstWindowEnd    = 8
	secondWindowStart = 8
	secondWindowEnd   = 16
)

// Portal is the slice of the portal client the engine drives.
type Portal interface {
	SecurityNonce(ctx context.Context) (string, error)
	Locations(ctx context.Context) ([]portal.Location, error)
	ResortsByRegion(ctx context.Context, regionID int64, nonce string) ([]portal.ResortEntry, error)
	RoomsByResort(ctx context.Context, resortID int64, nonce string) ([]portal.RoomEntry, error)
	RoomAvailability(ctx context.Context, resortID, regionID, roomID int64, monthStart, monthEnd int, nonce string) (*portal.AvailabilityWindow, error)
}

// Authenticator establishes a portal session before the crawl starts.
type Authenticator interface {
	EnsureAuthenticated(ctx context.Context) error
}

// Monitor receives progress and log events. Implementations must be
// best-effort; nothing here may fail the crawl.
type Monitor interface {
	Log(level, message string, details any)
	SetStep(step string)
	SetRunning(running bool)
	UpdateProgress(current, total int)
	SetLastRun(summary *model.RunSummary)
}

type Config struct {
	// Concurrency bounds sibling fan-out. The portal throttles bursts, so
	// the default is sequential.
	Concurrency int
	// ResortDelay is the pause between resort-level iterations.
	ResortDelay time.Duration
	// CountryCodes restricts room and availability crawling to resorts in
	// these countries. Empty means all resorts.
	CountryCodes []string
}

func DefaultConfig() Config {
	return Config{
		Concurrency: 1,
		ResortDelay: 5 * time.Second,
	}
}

type Engine struct {
	portal       Portal
	auth         Authenticator
	regions      *store.RegionStore
	resorts      *store.ResortStore
	rooms        *store.RoomStore
	availability *store.AvailabilityStore
	sched        *scheduler.Scheduler
	monitor      Monitor
	cfg          Config
	logger       *slog.Logger

	now func() time.Time
}

func New(p Portal, auth Authenticator, regions *store.RegionStore, resorts *store.ResortStore,
	rooms *store.RoomStore, availability *store.AvailabilityStore,
	sched *scheduler.Scheduler, mon Monitor, cfg Config, logger *slog.Logger) *Engine {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Engine{
		portal:       p,
		auth:         auth,
		regions:      regions,
		resorts:      resorts,
		rooms:        rooms,
		availability: availability,
		sched:        sched,
		monitor:      mon,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// Run executes one crawl according to the scheduler's plan. Authentication
// failure aborts the run; per-item failures are counted in the summary and
// the run continues. The summary is produced even when nothing was due.
func (e *Engine) Run(ctx context.Context) (*model.RunSummary, error) {
	e.monitor.SetRunning(true)
	defer e.monitor.SetRunning(false)

	plan := e.sched.ComputePlan()
	summary := &model.RunSummary{
		ScrapedAt:      e.now().UTC(),
		PlanReason:     plan.Reason,
		ExecutedStages: []string{},
		SkippedStages:  []string{},
	}

	if !plan.Any() {
		summary.SkippedStages = []string{stageResorts, stageRooms, stageAvailabilities}
		summary.NextEligible = e.sched.NextEligible()
		e.monitor.Log("info", "nothing due for scraping", plan.Reason)
		e.monitor.SetLastRun(summary)
		return summary, nil
	}

	e.monitor.Log("info", "starting scrape", plan.Reason)
	if err := e.auth.EnsureAuthenticated(ctx); err != nil {
		e.monitor.Log("error", "authentication failed", err.Error())
		return nil, fmt.Errorf("authenticating: %w", err)
	}
	nonce, err := e.portal.SecurityNonce(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching security token: %w", err)
	}

	stages := []struct {
		name   string
		needed bool
		typ    scheduler.Type
		run    func(context.Context, string, *model.RunSummary) error
	}{
		{stageResorts, plan.NeedsResorts, scheduler.TypeResorts, e.syncResorts},
		{stageRooms, plan.NeedsRooms, scheduler.TypeRooms, e.syncRooms},
		{stageAvailabilities, plan.NeedsAvailabilities, scheduler.TypeAvailabilities, e.syncAvailabilities},
	}
	for _, stage := range stages {
		if !stage.needed {
			summary.SkippedStages = append(summary.SkippedStages, stage.name)
			continue
		}
		if err := stage.run(ctx, nonce, summary); err != nil {
			return nil, fmt.Errorf("%s stage: %w", stage.name, err)
		}
		summary.ExecutedStages = append(summary.ExecutedStages, stage.name)
		if err := e.sched.MarkScraped(stage.typ, e.now().UTC()); err != nil {
			e.monitor.Log("error", "stamping scrape time failed", err.Error())
			summary.Errors++
		}
	}

	summary.NextEligible = e.sched.NextEligible()
	e.monitor.Log("info", "scrape finished", map[string]any{
		"resorts": summary.ResortsStored, "rooms": summary.RoomsStored,
		"availability": summary.AvailabilityStored, "errors": summary.Errors,
	})
	e.monitor.SetLastRun(summary)
	return summary, nil
}

// SyncStage runs one named stage regardless of the scheduler's plan, for
// manually triggered refreshes. The stage's scrape timestamp is stamped on
// success just as in a planned run.
func (e *Engine) SyncStage(ctx context.Context, stage string) (*model.RunSummary, error) {
	var typ scheduler.Type
	var run func(context.Context, string, *model.RunSummary) error
	switch stage {
	case stageResorts:
		typ, run = scheduler.TypeResorts, e.syncResorts
	case stageRooms:
		typ, run = scheduler.TypeRooms, e.syncRooms
	case stageAvailabilities:
		typ, run = scheduler.TypeAvailabilities, e.syncAvailabilities
	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}

	e.monitor.SetRunning(true)
	defer e.monitor.SetRunning(false)

	summary := &model.RunSummary{
		ScrapedAt:      e.now().UTC(),
		PlanReason:     "manual " + stage + " sync",
		ExecutedStages: []string{},
		SkippedStages:  []string{},
	}

	if err := e.auth.EnsureAuthenticated(ctx); err != nil {
		e.monitor.Log("error", "authentication failed", err.Error())
		return nil, fmt.Errorf("authenticating: %w", err)
	}
	nonce, err := e.portal.SecurityNonce(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching security token: %w", err)
	}

	if err := run(ctx, nonce, summary); err != nil {
		return nil, fmt.Errorf("%s stage: %w", stage, err)
	}
	summary.ExecutedStages = append(summary.ExecutedStages, stage)
	if err := e.sched.MarkScraped(typ, e.now().UTC()); err != nil {
		e.monitor.Log("error", "stamping scrape time failed", err.Error())
		summary.Errors++
	}

	summary.NextEligible = e.sched.NextEligible()
	e.monitor.SetLastRun(summary)
	return summary, nil
}

// syncResorts refreshes the region catalog and the resorts under each region.
func (e *Engine) syncResorts(ctx context.Context, nonce string, summary *model.RunSummary) error {
	e.monitor.SetStep(stageResorts)

	locs, err := e.portal.Locations(ctx)
	if err != nil {
		return fmt.Errorf("listing regions: %w", err)
	}

	var stored, total, errs, done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, loc := range locs {
		loc := loc
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := e.regions.Upsert(&model.Region{
				ID:          loc.ID,
				RegionCode:  loc.RegionCode,
				CountryCode: loc.CountryCode,
				AreaName:    loc.AreaName,
			}); err != nil {
				e.monitor.Log("error", fmt.Sprintf("storing region %d", loc.ID), err.Error())
				errs.Add(1)
			}

			entries, err := e.portal.ResortsByRegion(gctx, loc.ID, nonce)
			if err != nil {
				e.monitor.Log("error", fmt.Sprintf("fetching resorts for region %d", loc.ID), err.Error())
				errs.Add(1)
				return nil
			}
			total.Add(int64(len(entries)))
			for _, entry := range entries {
				id, err := strconv.ParseInt(entry.IrisID, 10, 64)
				if err != nil {
					e.monitor.Log("error", fmt.Sprintf("bad resort id %q in region %d", entry.IrisID, loc.ID), err.Error())
					errs.Add(1)
					continue
				}
				if err := e.resorts.Upsert(&model.Resort{
					ID:          id,
					RegionID:    loc.ID,
					RegionCode:  loc.RegionCode,
					CountryCode: loc.CountryCode,
					AreaName:    loc.AreaName,
					Name:        entry.Name,
				}); err != nil {
					e.monitor.Log("error", fmt.Sprintf("storing resort %d", id), err.Error())
					errs.Add(1)
					continue
				}
				stored.Add(1)
			}
			e.monitor.UpdateProgress(int(done.Add(1)), len(locs))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	summary.ResortsStored = int(stored.Load())
	summary.ResortsTotal = int(total.Load())
	summary.Errors += int(errs.Load())
	return nil
}

// syncRooms refreshes the room catalog for every targeted resort.
func (e *Engine) syncRooms(ctx context.Context, nonce string, summary *model.RunSummary) error {
	e.monitor.SetStep(stageRooms)

	targets, err := e.targetResorts()
	if err != nil {
		return fmt.Errorf("listing resorts: %w", err)
	}

	var stored, errs, done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, resort := range targets {
		resort := resort
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			// The pause belongs to the worker so the gap holds even when
			// the previous resort outlasted the delay.
			if i > 0 {
				if err := sleepCtx(gctx, e.cfg.ResortDelay); err != nil {
					return err
				}
			}
			entries, err := e.portal.RoomsByResort(gctx, resort.ID, nonce)
			if err != nil {
				e.monitor.Log("error", fmt.Sprintf("fetching rooms for resort %d", resort.ID), err.Error())
				errs.Add(1)
				return nil
			}
			for _, entry := range entries {
				if err := e.rooms.Upsert(&model.Room{
					ID:       entry.ID,
					ResortID: resort.ID,
					Name:     entry.Name,
				}); err != nil {
					e.monitor.Log("error", fmt.Sprintf("storing room %d", entry.ID), err.Error())
					errs.Add(1)
					continue
				}
				stored.Add(1)
			}
			e.monitor.UpdateProgress(int(done.Add(1)), len(targets))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	summary.RoomsStored = int(stored.Load())
	summary.Errors += int(errs.Load())
	return nil
}

// syncAvailabilities refreshes day-level availability for every room of
// every targeted resort. A normalization failure loses that one room, never
// the stage.
func (e *Engine) syncAvailabilities(ctx context.Context, nonce string, summary *model.RunSummary) error {
	e.monitor.SetStep(stageAvailabilities)

	targets, err := e.targetResorts()
	if err != nil {
		return fmt.Errorf("listing resorts: %w", err)
	}

	var stored, errs, processed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, resort := range targets {
		resort := resort
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if i > 0 {
				if err := sleepCtx(gctx, e.cfg.ResortDelay); err != nil {
					return err
				}
			}
			rooms, err := e.rooms.ListByResort(resort.ID)
			if err != nil {
				e.monitor.Log("error", fmt.Sprintf("listing rooms for resort %d", resort.ID), err.Error())
				errs.Add(1)
				return nil
			}
			for _, room := range rooms {
				n, err := e.syncRoomAvailability(gctx, resort, room.ID, nonce)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					e.monitor.Log("error",
						fmt.Sprintf("availability for room %d at resort %d", room.ID, resort.ID), err.Error())
					errs.Add(1)
					continue
				}
				stored.Add(int64(n))
			}
			e.monitor.UpdateProgress(int(processed.Add(1)), len(targets))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	summary.AvailabilityStored = int(stored.Load())
	summary.ProcessedResorts = int(processed.Load())
	summary.Errors += int(errs.Load())
	return nil
}

func (e *Engine) syncRoomAvailability(ctx context.Context, resort *model.Resort, roomID int64, nonce string) (int, error) {
	first, err := e.portal.RoomAvailability(ctx, resort.ID, resort.RegionID, roomID, firstWindowStart, firstWindowEnd, nonce)
	if err != nil {
		return 0, fmt.Errorf("first window: %w", err)
	}
	second, err := e.portal.RoomAvailability(ctx, resort.ID, resort.RegionID, roomID, secondWindowStart, secondWindowEnd, nonce)
	if err != nil {
		return 0, fmt.Errorf("second window: %w", err)
	}

	records, err := normalizeWindows(roomID, []*portal.AvailabilityWindow{first, second}, e.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("normalizing: %w", err)
	}
	if err := e.availability.ReplaceForRoom(roomID, records); err != nil {
		return 0, fmt.Errorf("storing: %w", err)
	}
	return len(records), nil
}

func (e *Engine) targetResorts() ([]*model.Resort, error) {
	if len(e.cfg.CountryCodes) > 0 {
		return e.resorts.ListByCountry(e.cfg.CountryCodes)
	}
	return e.resorts.List()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
