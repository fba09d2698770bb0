package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/resortwatch/internal/model"
)

type RoomStore struct {
	db *sql.DB
}

func NewRoomStore(db *sql.DB) *RoomStore {
	return &RoomStore{db: db}
}

func scanRoom(scanner interface{ Scan(...any) error }) (*model.Room, error) {
	var r model.Room
	var lastScraped sql.NullTime
	err := scanner.Scan(&r.ID, &r.ResortID, &r.Name, &r.CreatedAt, &r.UpdatedAt, &lastScraped)
	if err != nil {
		return nil, err
	}
	if lastScraped.Valid {
		r.LastScrapedAt = &lastScraped.Time
	}
	return &r, nil
}

const roomCols = `id, resort_id, name, created_at, updated_at, last_scraped_at`

// Upsert stores the room keyed by the portal's stable room id.
func (s *RoomStore) Upsert(r *model.Room) error {
	_, err := s.db.Exec(
		`INSERT INTO rooms (id, resort_id, name)
		 VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   resort_id = excluded.resort_id,
		   name = excluded.name,
		   updated_at = datetime('now')`,
		r.ID, r.ResortID, r.Name,
	)
	if err != nil {
		return fmt.Errorf("upsert room: %w", err)
	}
	return nil
}

// ListByResort returns all rooms for the given resort ordered by id.
func (s *RoomStore) ListByResort(resortID int64) ([]*model.Room, error) {
	rows, err := s.db.Query(
		`SELECT `+roomCols+` FROM rooms WHERE resort_id = ? ORDER BY id`, resortID,
	)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*model.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// MarkScrapedAll stamps every room row with the given sync time.
func (s *RoomStore) MarkScrapedAll(when time.Time) error {
	_, err := s.db.Exec(`UPDATE rooms SET last_scraped_at = ?`, when.UTC())
	if err != nil {
		return fmt.Errorf("mark rooms scraped: %w", err)
	}
	return nil
}

// LastScraped returns the most recent sync timestamp across all rooms, or
// nil. Selects the raw column; aggregates lose the declared column type and
// scan as strings.
func (s *RoomStore) LastScraped() (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRow(
		`SELECT last_scraped_at FROM rooms
		 WHERE last_scraped_at IS NOT NULL
		 ORDER BY last_scraped_at DESC LIMIT 1`,
	).Scan(&t)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rooms last scraped: %w", err)
	}
	return &t, nil
}
