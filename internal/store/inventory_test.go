package store

import (
	"testing"
	"time"

	"github.com/dukerupert/resortwatch/internal/model"
)

func TestResortUpsertAndList(t *testing.T) {
	s := NewResortStore(setupTestDB(t))

	r := &model.Resort{ID: 101, RegionID: 5, RegionCode: "FL", CountryCode: "US", AreaName: "Orlando", Name: "Alpha"}
	if err := s.Upsert(r); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Upsert with same id updates in place
	r.Name = "Alpha Renamed"
	if err := s.Upsert(r); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(101)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Name != "Alpha Renamed" {
		t.Errorf("got %+v", got)
	}

	all, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("list length = %d, want 1", len(all))
	}
}

func TestResortListByCountry(t *testing.T) {
	s := NewResortStore(setupTestDB(t))

	seed := []*model.Resort{
		{ID: 1, RegionID: 1, CountryCode: "US", Name: "A"},
		{ID: 2, RegionID: 1, CountryCode: "MX", Name: "B"},
		{ID: 3, RegionID: 2, CountryCode: "US", Name: "C"},
	}
	for _, r := range seed {
		if err := s.Upsert(r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListByCountry([]string{"US"})
	if err != nil {
		t.Fatalf("ListByCountry: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("US resorts = %d, want 2", len(got))
	}

	got, err = s.ListByCountry([]string{"US", "MX"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("US+MX resorts = %d, want 3", len(got))
	}
}

func TestResortMarkScrapedAllAndLastScraped(t *testing.T) {
	s := NewResortStore(setupTestDB(t))

	// No rows: no timestamp
	last, err := s.LastScraped()
	if err != nil {
		t.Fatal(err)
	}
	if last != nil {
		t.Errorf("empty table should have nil last scraped, got %v", last)
	}

	for id := int64(1); id <= 3; id++ {
		if err := s.Upsert(&model.Resort{ID: id, RegionID: 1, Name: "R"}); err != nil {
			t.Fatal(err)
		}
	}

	// Rows exist but never scraped
	last, err = s.LastScraped()
	if err != nil {
		t.Fatal(err)
	}
	if last != nil {
		t.Errorf("unscraped rows should have nil last scraped, got %v", last)
	}

	when := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := s.MarkScrapedAll(when); err != nil {
		t.Fatalf("MarkScrapedAll: %v", err)
	}

	last, err = s.LastScraped()
	if err != nil {
		t.Fatal(err)
	}
	if last == nil || !last.Equal(when) {
		t.Errorf("last scraped = %v, want %v", last, when)
	}
}

func TestRoomUpsertAndListByResort(t *testing.T) {
	db := setupTestDB(t)
	resorts := NewResortStore(db)
	rooms := NewRoomStore(db)

	if err := resorts.Upsert(&model.Resort{ID: 101, RegionID: 1, Name: "Alpha"}); err != nil {
		t.Fatal(err)
	}
	if err := rooms.Upsert(&model.Room{ID: 1, ResortID: 101, Name: "Studio"}); err != nil {
		t.Fatal(err)
	}
	if err := rooms.Upsert(&model.Room{ID: 2, ResortID: 101, Name: "One Bedroom"}); err != nil {
		t.Fatal(err)
	}

	got, err := rooms.ListByResort(101)
	if err != nil {
		t.Fatalf("ListByResort: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("rooms = %d, want 2", len(got))
	}

	if got, err := rooms.ListByResort(999); err != nil || len(got) != 0 {
		t.Errorf("unknown resort: rooms = %v, err = %v", got, err)
	}
}

func TestAvailabilityReplaceForRoom(t *testing.T) {
	db := setupTestDB(t)
	resorts := NewResortStore(db)
	rooms := NewRoomStore(db)
	avail := NewAvailabilityStore(db)

	if err := resorts.Upsert(&model.Resort{ID: 101, RegionID: 1, Name: "Alpha"}); err != nil {
		t.Fatal(err)
	}
	if err := rooms.Upsert(&model.Room{ID: 1, ResortID: 101, Name: "Studio"}); err != nil {
		t.Fatal(err)
	}

	first := []model.Availability{
		{RoomID: 1, Date: "2024-03-01", Status: "1", Points: 100},
		{RoomID: 1, Date: "2024-03-02", Status: "0", Points: 150},
	}
	if err := avail.ReplaceForRoom(1, first); err != nil {
		t.Fatalf("ReplaceForRoom: %v", err)
	}

	// A later crawl fully replaces the room's window
	scrapedAt := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	second := []model.Availability{
		{RoomID: 1, Date: "2024-03-02", Status: "1", Points: 120, LastScrapedAt: &scrapedAt},
		{RoomID: 1, Date: "2024-03-03", Status: "1", Points: 120, LastScrapedAt: &scrapedAt},
		{RoomID: 1, Date: "2024-03-04", Status: "0", Points: 130, LastScrapedAt: &scrapedAt},
	}
	if err := avail.ReplaceForRoom(1, second); err != nil {
		t.Fatal(err)
	}

	got, err := avail.ListByRoom(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("records = %d, want 3 (old window gone)", len(got))
	}
	if got[0].Date != "2024-03-02" || got[0].Status != "1" || got[0].Points != 120 {
		t.Errorf("first record = %+v", got[0])
	}
	if got[0].LastScrapedAt == nil || !got[0].LastScrapedAt.Equal(scrapedAt) {
		t.Errorf("scrape stamp = %v, want %v", got[0].LastScrapedAt, scrapedAt)
	}
}

func TestRegionUpsertAndList(t *testing.T) {
	s := NewRegionStore(setupTestDB(t))

	if err := s.Upsert(&model.Region{ID: 5, RegionCode: "FL", CountryCode: "US", AreaName: "Orlando"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Upsert(&model.Region{ID: 5, RegionCode: "FL", CountryCode: "US", AreaName: "Greater Orlando"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(5)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.AreaName != "Greater Orlando" {
		t.Errorf("got %+v", got)
	}

	all, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("regions = %d, want 1", len(all))
	}
}
