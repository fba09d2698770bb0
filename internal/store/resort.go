package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/resortwatch/internal/model"
)

type ResortStore struct {
	db *sql.DB
}

func NewResortStore(db *sql.DB) *ResortStore {
	return &ResortStore{db: db}
}

func scanResort(scanner interface{ Scan(...any) error }) (*model.Resort, error) {
	var r model.Resort
	var lastScraped sql.NullTime
	err := scanner.Scan(
		&r.ID, &r.RegionID, &r.RegionCode, &r.CountryCode, &r.AreaName, &r.Name,
		&r.CreatedAt, &r.UpdatedAt, &lastScraped,
	)
	if err != nil {
		return nil, err
	}
	if lastScraped.Valid {
		r.LastScrapedAt = &lastScraped.Time
	}
	return &r, nil
}

const resortCols = `id, region_id, region_code, country_code, area_name, name, created_at, updated_at, last_scraped_at`

// Upsert stores the resort keyed by the portal's stable resort id.
func (s *ResortStore) Upsert(r *model.Resort) error {
	_, err := s.db.Exec(
		`INSERT INTO resorts (id, region_id, region_code, country_code, area_name, name)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   region_id = excluded.region_id,
		   region_code = excluded.region_code,
		   country_code = excluded.country_code,
		   area_name = excluded.area_name,
		   name = excluded.name,
		   updated_at = datetime('now')`,
		r.ID, r.RegionID, r.RegionCode, r.CountryCode, r.AreaName, r.Name,
	)
	if err != nil {
		return fmt.Errorf("upsert resort: %w", err)
	}
	return nil
}

// Get returns a resort by id, or nil if not found.
func (s *ResortStore) Get(id int64) (*model.Resort, error) {
	row := s.db.QueryRow(`SELECT `+resortCols+` FROM resorts WHERE id = ?`, id)
	r, err := scanResort(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get resort: %w", err)
	}
	return r, nil
}

// List returns all resorts ordered by id.
func (s *ResortStore) List() ([]*model.Resort, error) {
	return s.query(`SELECT ` + resortCols + ` FROM resorts ORDER BY id`)
}

// ListByCountry returns resorts whose country code matches one of the given codes.
func (s *ResortStore) ListByCountry(codes []string) ([]*model.Resort, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(codes)), ",")
	args := make([]any, len(codes))
	for i, c := range codes {
		args[i] = c
	}
	return s.query(
		`SELECT `+resortCols+` FROM resorts WHERE country_code IN (`+placeholders+`) ORDER BY id`,
		args...,
	)
}

func (s *ResortStore) query(q string, args ...any) ([]*model.Resort, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query resorts: %w", err)
	}
	defer rows.Close()

	var resorts []*model.Resort
	for rows.Next() {
		r, err := scanResort(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resort: %w", err)
		}
		resorts = append(resorts, r)
	}
	return resorts, rows.Err()
}

// MarkScrapedAll stamps every resort row with the given sync time. The whole
// resource class is treated as refreshed together.
func (s *ResortStore) MarkScrapedAll(when time.Time) error {
	_, err := s.db.Exec(`UPDATE resorts SET last_scraped_at = ?`, when.UTC())
	if err != nil {
		return fmt.Errorf("mark resorts scraped: %w", err)
	}
	return nil
}

// LastScraped returns the most recent sync timestamp across all resorts, or
// nil when no resort has ever been stamped. The raw column is selected
// because aggregates lose the declared column type and scan as strings.
func (s *ResortStore) LastScraped() (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRow(
		`SELECT last_scraped_at FROM resorts
		 WHERE last_scraped_at IS NOT NULL
		 ORDER BY last_scraped_at DESC LIMIT 1`,
	).Scan(&t)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resorts last scraped: %w", err)
	}
	return &t, nil
}
