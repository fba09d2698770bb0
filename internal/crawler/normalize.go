package crawler

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dukerupert/resortwatch/internal/model"
	"github.com/dukerupert/resortwatch/internal/portal"
)

const dateLayout = "2006-01-02"

// normalizeWindow expands a fetched availability window into one record per
// calendar day, derived positionally from the parallel status and point
// arrays. A length mismatch between the window span and either array is a
// data-quality error for the room and is surfaced, never truncated.
func normalizeWindow(roomID int64, win *portal.AvailabilityWindow, scrapedAt time.Time) ([]model.Availability, error) {
	from, err := time.Parse(dateLayout, win.FromDate)
	if err != nil {
		return nil, fmt.Errorf("parsing window start %q: %w", win.FromDate, err)
	}
	to, err := time.Parse(dateLayout, win.ToDate)
	if err != nil {
		return nil, fmt.Errorf("parsing window end %q: %w", win.ToDate, err)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("window end %s before start %s", win.ToDate, win.FromDate)
	}

	days := int(to.Sub(from).Hours()/24) + 1
	if len(win.Avail) != days {
		return nil, fmt.Errorf("window spans %d days but got %d status entries", days, len(win.Avail))
	}
	if len(win.Points) != days {
		return nil, fmt.Errorf("window spans %d days but got %d point entries", days, len(win.Points))
	}

	records := make([]model.Availability, 0, days)
	for i := 0; i < days; i++ {
		points, err := strconv.Atoi(win.Points[i])
		if err != nil {
			return nil, fmt.Errorf("parsing point cost %q at offset %d: %w", win.Points[i], i, err)
		}
		records = append(records, model.Availability{
			RoomID:        roomID,
			Date:          from.AddDate(0, 0, i).Format(dateLayout),
			Status:        win.Avail[i],
			Points:        points,
			LastScrapedAt: &scrapedAt,
		})
	}
	return records, nil
}

// normalizeWindows expands and concatenates windows in the order given. The
// first half-year window must precede the second so dates stay contiguous.
func normalizeWindows(roomID int64, wins []*portal.AvailabilityWindow, scrapedAt time.Time) ([]model.Availability, error) {
	var out []model.Availability
	for _, win := range wins {
		records, err := normalizeWindow(roomID, win, scrapedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	return out, nil
}
