// Package scheduler decides what is due for re-scraping based on per-resource
// staleness thresholds.
package scheduler

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Type identifies a scrapeable resource class.
type Type string

const (
	TypeResorts        Type = "resorts"
	TypeRooms          Type = "rooms"
	TypeAvailabilities Type = "availabilities"
)

// Intervals are the per-type refresh thresholds. A resource whose age meets
// or exceeds its interval is due.
type Intervals struct {
	Resorts        time.Duration
	Rooms          time.Duration
	Availabilities time.Duration
}

// DefaultIntervals match the upstream data's volatility: the resort and room
// catalogs barely change, day-level availability churns constantly.
func DefaultIntervals() Intervals {
	return Intervals{
		Resorts:        30 * 24 * time.Hour,
		Rooms:          30 * 24 * time.Hour,
		Availabilities: 15 * time.Minute,
	}
}

// Resource is the store-side surface the scheduler reads and stamps.
type Resource interface {
	// LastScraped returns the most recent sync timestamp across the resource
	// class, or nil when it has never been synced.
	LastScraped() (*time.Time, error)
	// MarkScrapedAll stamps every record of the class with the sync time.
	MarkScrapedAll(when time.Time) error
}

// Plan is the outcome of one scheduling decision. It is recomputed on every
// decision and never persisted.
type Plan struct {
	NeedsResorts        bool       `json:"needs_resorts"`
	NeedsRooms          bool       `json:"needs_rooms"`
	NeedsAvailabilities bool       `json:"needs_availabilities"`
	LastResorts         *time.Time `json:"last_resorts,omitempty"`
	LastRooms           *time.Time `json:"last_rooms,omitempty"`
	LastAvailabilities  *time.Time `json:"last_availabilities,omitempty"`
	Reason              string     `json:"reason"`
}

// Any reports whether any resource type is due.
func (p Plan) Any() bool {
	return p.NeedsResorts || p.NeedsRooms || p.NeedsAvailabilities
}

type Scheduler struct {
	resorts        Resource
	rooms          Resource
	availabilities Resource
	intervals      Intervals
	logger         *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

func New(resorts, rooms, availabilities Resource, intervals Intervals, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		resorts:        resorts,
		rooms:          rooms,
		availabilities: availabilities,
		intervals:      intervals,
		logger:         logger,
		now:            time.Now,
	}
}

// ComputePlan determines which resource types are due. A type with no prior
// sync timestamp is always due. If staleness cannot be determined at all the
// plan fails open: everything is due rather than silently going stale.
func (s *Scheduler) ComputePlan() Plan {
	now := s.now().UTC()

	lastResorts, err1 := s.resorts.LastScraped()
	lastRooms, err2 := s.rooms.LastScraped()
	lastAvail, err3 := s.availabilities.LastScraped()
	if err1 != nil || err2 != nil || err3 != nil {
		s.logger.Error("staleness lookup failed, defaulting to full scrape",
			"resorts_err", err1, "rooms_err", err2, "availabilities_err", err3)
		return Plan{
			NeedsResorts:        true,
			NeedsRooms:          true,
			NeedsAvailabilities: true,
			Reason:              "error determining staleness - defaulting to full scrape",
		}
	}

	plan := Plan{
		NeedsResorts:        due(lastResorts, s.intervals.Resorts, now),
		NeedsRooms:          due(lastRooms, s.intervals.Rooms, now),
		NeedsAvailabilities: due(lastAvail, s.intervals.Availabilities, now),
		LastResorts:         lastResorts,
		LastRooms:           lastRooms,
		LastAvailabilities:  lastAvail,
	}

	var reasons []string
	if plan.NeedsResorts {
		reasons = append(reasons, fmt.Sprintf("resorts (last: %s)", age(lastResorts, now)))
	}
	if plan.NeedsRooms {
		reasons = append(reasons, fmt.Sprintf("rooms (last: %s)", age(lastRooms, now)))
	}
	if plan.NeedsAvailabilities {
		reasons = append(reasons, fmt.Sprintf("availabilities (last: %s)", age(lastAvail, now)))
	}
	if len(reasons) == 0 {
		plan.Reason = "no scraping needed"
	} else {
		plan.Reason = strings.Join(reasons, ", ")
	}

	s.logger.Info("scraping plan computed", "reason", plan.Reason)
	return plan
}

// MarkScraped stamps all records of the type with the sync time. The bulk
// stamp treats the whole class as refreshed together even when individual
// items failed mid-crawl; this is a known staleness-accuracy tradeoff kept
// for compatibility with observable scheduling behavior.
func (s *Scheduler) MarkScraped(t Type, when time.Time) error {
	res, err := s.resource(t)
	if err != nil {
		return err
	}
	if err := res.MarkScrapedAll(when); err != nil {
		return err
	}
	s.logger.Info("marked resource scraped", "type", string(t), "at", when)
	return nil
}

// NextEligible reports, per type, when the next scrape becomes due.
func (s *Scheduler) NextEligible() map[string]string {
	plan := s.ComputePlan()
	return map[string]string{
		string(TypeResorts):        eligibility(plan.NeedsResorts, plan.LastResorts, s.intervals.Resorts),
		string(TypeRooms):          eligibility(plan.NeedsRooms, plan.LastRooms, s.intervals.Rooms),
		string(TypeAvailabilities): eligibility(plan.NeedsAvailabilities, plan.LastAvailabilities, s.intervals.Availabilities),
	}
}

func (s *Scheduler) resource(t Type) (Resource, error) {
	switch t {
	case TypeResorts:
		return s.resorts, nil
	case TypeRooms:
		return s.rooms, nil
	case TypeAvailabilities:
		return s.availabilities, nil
	default:
		return nil, fmt.Errorf("unknown resource type %q", t)
	}
}

// due applies the inclusive staleness boundary: elapsed >= interval.
func due(last *time.Time, interval time.Duration, now time.Time) bool {
	if last == nil {
		return true
	}
	return now.Sub(*last) >= interval
}

func eligibility(needed bool, last *time.Time, interval time.Duration) string {
	if needed {
		return "ready now"
	}
	if last == nil {
		return "not scheduled"
	}
	return last.Add(interval).UTC().Format(time.RFC3339)
}

func age(last *time.Time, now time.Time) string {
	if last == nil {
		return "never"
	}
	d := now.Sub(*last)
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%d days ago", int(d.Hours()/24))
	case d >= time.Hour:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%d min ago", int(d.Minutes()))
	}
}
