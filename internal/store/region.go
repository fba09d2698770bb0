package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/resortwatch/internal/model"
)

type RegionStore struct {
	db *sql.DB
}

func NewRegionStore(db *sql.DB) *RegionStore {
	return &RegionStore{db: db}
}

func scanRegion(scanner interface{ Scan(...any) error }) (*model.Region, error) {
	var r model.Region
	err := scanner.Scan(&r.ID, &r.RegionCode, &r.CountryCode, &r.AreaName, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

const regionCols = `id, region_code, country_code, area_name, created_at, updated_at`

// Upsert stores the region keyed by the portal's stable region id.
func (s *RegionStore) Upsert(r *model.Region) error {
	_, err := s.db.Exec(
		`INSERT INTO regions (id, region_code, country_code, area_name)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   region_code = excluded.region_code,
		   country_code = excluded.country_code,
		   area_name = excluded.area_name,
		   updated_at = datetime('now')`,
		r.ID, r.RegionCode, r.CountryCode, r.AreaName,
	)
	if err != nil {
		return fmt.Errorf("upsert region: %w", err)
	}
	return nil
}

// Get returns a region by id, or nil if not found.
func (s *RegionStore) Get(id int64) (*model.Region, error) {
	row := s.db.QueryRow(`SELECT `+regionCols+` FROM regions WHERE id = ?`, id)
	r, err := scanRegion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get region: %w", err)
	}
	return r, nil
}

// List returns all regions ordered by area name.
func (s *RegionStore) List() ([]*model.Region, error) {
	rows, err := s.db.Query(`SELECT ` + regionCols + ` FROM regions ORDER BY area_name`)
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	defer rows.Close()

	var regions []*model.Region
	for rows.Next() {
		r, err := scanRegion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan region: %w", err)
		}
		regions = append(regions, r)
	}
	return regions, rows.Err()
}
