package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/resortwatch/internal/model"
)

type AvailabilityStore struct {
	db *sql.DB
}

func NewAvailabilityStore(db *sql.DB) *AvailabilityStore {
	return &AvailabilityStore{db: db}
}

func scanAvailability(scanner interface{ Scan(...any) error }) (*model.Availability, error) {
	var a model.Availability
	var lastScraped sql.NullTime
	err := scanner.Scan(&a.RoomID, &a.Date, &a.Status, &a.Points, &lastScraped)
	if err != nil {
		return nil, err
	}
	if lastScraped.Valid {
		a.LastScrapedAt = &lastScraped.Time
	}
	return &a, nil
}

const availabilityCols = `room_id, date, status, points, last_scraped_at`

// ReplaceForRoom atomically swaps a room's availability window: all previous
// rows for the room are deleted before the new records are inserted.
func (s *AvailabilityStore) ReplaceForRoom(roomID int64, records []model.Availability) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM availabilities WHERE room_id = ?`, roomID); err != nil {
		return fmt.Errorf("delete availability for room %d: %w", roomID, err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO availabilities (room_id, date, status, points, last_scraped_at)
		 VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.Exec(roomID, rec.Date, rec.Status, rec.Points, rec.LastScrapedAt); err != nil {
			return fmt.Errorf("insert availability %d/%s: %w", roomID, rec.Date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListByRoom returns a room's availability rows in date order.
func (s *AvailabilityStore) ListByRoom(roomID int64) ([]*model.Availability, error) {
	rows, err := s.db.Query(
		`SELECT `+availabilityCols+` FROM availabilities WHERE room_id = ? ORDER BY date`, roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("list availability: %w", err)
	}
	defer rows.Close()

	var records []*model.Availability
	for rows.Next() {
		a, err := scanAvailability(rows)
		if err != nil {
			return nil, fmt.Errorf("scan availability: %w", err)
		}
		records = append(records, a)
	}
	return records, rows.Err()
}

// MarkScrapedAll stamps every availability row with the given sync time.
func (s *AvailabilityStore) MarkScrapedAll(when time.Time) error {
	_, err := s.db.Exec(`UPDATE availabilities SET last_scraped_at = ?`, when.UTC())
	if err != nil {
		return fmt.Errorf("mark availability scraped: %w", err)
	}
	return nil
}

// LastScraped returns the most recent sync timestamp across all rows, or
// nil. Selects the raw column; aggregates lose the declared column type and
// scan as strings.
func (s *AvailabilityStore) LastScraped() (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRow(
		`SELECT last_scraped_at FROM availabilities
		 WHERE last_scraped_at IS NOT NULL
		 ORDER BY last_scraped_at DESC LIMIT 1`,
	).Scan(&t)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("availability last scraped: %w", err)
	}
	return &t, nil
}
