package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// ResortEntry is a resort as listed by the region filter API.
type ResortEntry struct {
	IrisID string `json:"irisId"`
	Name   string `json:"name"`
}

// RoomEntry is a room type as listed by the resort filter API.
type RoomEntry struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// AvailabilityWindow is one date window of parallel per-day arrays for a room.
type AvailabilityWindow struct {
	FromDate string
	ToDate   string
	Avail    []string
	Points   []string
}

// SecurityNonce fetches the landing page and extracts the anti-forgery token.
func (c *Client) SecurityNonce(ctx context.Context) (string, error) {
	status, body, duration, err := c.get(ctx, c.cfg.BaseURL)
	if err != nil {
		c.monitor.LogAPICall(c.cfg.BaseURL, "GET", status, duration, nil, err.Error())
		return "", fmt.Errorf("fetch landing page: %w", err)
	}

	nonce, err := extractNonce(body)
	if err != nil {
		c.monitor.LogAPICall(c.cfg.BaseURL, "GET", status, duration, nil, err.Error())
		return "", err
	}
	c.monitor.LogAPICall(c.cfg.BaseURL, "GET", status, duration, nil, "security nonce extracted")
	return nonce, nil
}

// Locations fetches the booking page and parses the region selector.
func (c *Client) Locations(ctx context.Context) ([]Location, error) {
	status, body, duration, err := c.get(ctx, c.cfg.BookURL)
	if err != nil {
		c.monitor.LogAPICall(c.cfg.BookURL, "GET", status, duration, nil, err.Error())
		return nil, fmt.Errorf("fetch booking page: %w", err)
	}

	locations, err := parseLocations(body)
	if err != nil {
		return nil, err
	}
	c.monitor.LogAPICall(c.cfg.BookURL, "GET", status, duration, nil,
		fmt.Sprintf("found %d regions", len(locations)))
	return locations, nil
}

// ResortsByRegion lists the resorts available in a region.
func (c *Client) ResortsByRegion(ctx context.Context, regionID int64, nonce string) ([]ResortEntry, error) {
	result, err := c.CallAPI(ctx, url.Values{
		"action":      {"filter_resort_by_region"},
		"iris_region": {strconv.FormatInt(regionID, 10)},
		"security":    {nonce},
	})
	if err != nil {
		return nil, fmt.Errorf("resorts for region %d: %w", regionID, err)
	}

	var resorts []ResortEntry
	if err := json.Unmarshal(result.Data, &resorts); err != nil {
		return nil, fmt.Errorf("decode resorts for region %d: %w", regionID, err)
	}
	return resorts, nil
}

// RoomsByResort lists the room types of a resort.
func (c *Client) RoomsByResort(ctx context.Context, resortID int64, nonce string) ([]RoomEntry, error) {
	result, err := c.CallAPI(ctx, url.Values{
		"action":      {"filter_rooms_by_resort"},
		"irisresort":  {strconv.FormatInt(resortID, 10)},
		"iris_resort": {strconv.FormatInt(resortID, 10)},
		"security":    {nonce},
	})
	if err != nil {
		return nil, fmt.Errorf("rooms for resort %d: %w", resortID, err)
	}

	var rooms []RoomEntry
	if err := json.Unmarshal(result.Data, &rooms); err != nil {
		return nil, fmt.Errorf("decode rooms for resort %d: %w", resortID, err)
	}
	return rooms, nil
}

// availabilityResponse is the primary API shape for a room's window.
type availabilityResponse struct {
	Room []struct {
		AvailArray []string `json:"AvailArray"`
		PointArray []string `json:"PointArray"`
	} `json:"Room"`
}

// RoomAvailability fetches one [monthStart, monthEnd) window of per-day
// availability for a room. When the primary call answers with the "no data"
// sentinel even on an authenticated session, the human-facing calendar page
// is scraped for the same arrays instead.
func (c *Client) RoomAvailability(ctx context.Context, resortID, regionID, roomID int64, monthStart, monthEnd int, nonce string) (*AvailabilityWindow, error) {
	window := &AvailabilityWindow{}
	window.FromDate, window.ToDate = windowDates(time.Now(), monthStart, monthEnd)

	result, err := c.CallAPI(ctx, url.Values{
		"action":         {"get_four_months_availability"},
		"iris_resort":    {strconv.FormatInt(resortID, 10)},
		"iris_region":    {strconv.FormatInt(regionID, 10)},
		"room_type":      {strconv.FormatInt(roomID, 10)},
		"calendar_start": {strconv.Itoa(monthStart)},
		"calendar_end":   {strconv.Itoa(monthEnd)},
		"security":       {nonce},
	})
	switch {
	case errors.Is(err, ErrSessionExpired):
		// Authenticated yet still the "0" sentinel: the API has no data for
		// this room, but the rendered calendar page may.
		avail, points, ferr := c.calendarFallback(ctx)
		if ferr != nil {
			return nil, ferr
		}
		window.Avail, window.Points = avail, points
		return window, nil
	case err != nil:
		return nil, fmt.Errorf("availability for room %d: %w", roomID, err)
	}

	var resp availabilityResponse
	if err := json.Unmarshal(result.Data, &resp); err != nil {
		return nil, fmt.Errorf("decode availability for room %d: %w", roomID, err)
	}
	if len(resp.Room) > 0 {
		window.Avail = resp.Room[0].AvailArray
		window.Points = resp.Room[0].PointArray
	}
	return window, nil
}

func (c *Client) calendarFallback(ctx context.Context) ([]string, []string, error) {
	c.logger.Info("availability fallback: scraping calendar page")

	status, body, duration, err := c.get(ctx, c.cfg.BookURL)
	if err != nil {
		c.monitor.LogAPICall(c.cfg.BookURL, "GET", status, duration, nil, err.Error())
		return nil, nil, fmt.Errorf("fetch calendar page: %w", err)
	}
	c.monitor.LogAPICall(c.cfg.BookURL, "GET", status, duration, nil, "fallback calendar page")

	return parseCalendarArrays(body)
}

// windowDates computes the inclusive [from, to] dates for a month window
// anchored at the first day of the current month: from is the first day of
// month now+monthStart, to is the last day of month now+monthEnd-1.
func windowDates(now time.Time, monthStart, monthEnd int) (string, string) {
	base := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	from := base.AddDate(0, monthStart, 0)
	to := base.AddDate(0, monthEnd, 0).AddDate(0, 0, -1)
	return from.Format("2006-01-02"), to.Format("2006-01-02")
}
