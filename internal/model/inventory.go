package model

import "time"

// Region is a booking-portal location descriptor parsed from the region
// selector on the booking page ("CODE-(CC) Area Name").
type Region struct {
	ID          int64     `json:"id"`
	RegionCode  string    `json:"region_code"`
	CountryCode string    `json:"country_code"`
	AreaName    string    `json:"area_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Resort belongs to exactly one region at discovery time.
type Resort struct {
	ID            int64      `json:"id"`
	RegionID      int64      `json:"region_id"`
	RegionCode    string     `json:"region_code"`
	CountryCode   string     `json:"country_code"`
	AreaName      string     `json:"area_name"`
	Name          string     `json:"name"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastScrapedAt *time.Time `json:"last_scraped_at"`
}

// Room belongs to exactly one resort.
type Room struct {
	ID            int64      `json:"id"`
	ResortID      int64      `json:"resort_id"`
	Name          string     `json:"name"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastScrapedAt *time.Time `json:"last_scraped_at"`
}

// Availability is one calendar day for one room. Date is "YYYY-MM-DD".
// Status carries the portal's raw availability code; the codes are not an
// enumerable set, so it stays a string end to end.
type Availability struct {
	RoomID        int64      `json:"room_id"`
	Date          string     `json:"date"`
	Status        string     `json:"status"`
	Points        int        `json:"points"`
	LastScrapedAt *time.Time `json:"last_scraped_at"`
}
