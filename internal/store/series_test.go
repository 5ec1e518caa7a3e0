package store

import (
	"context"
	"testing"
	"time"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/testutil"
)

func TestListActiveSeriesOverlapping(t *testing.T) {
	gdb := testutil.DB(t)
	s := New(gdb)
	ctx := context.Background()

	open := testutil.Series(t, gdb, testutil.Date(t, "2024-01-01"), 1)
	ended := testutil.Series(t, gdb, testutil.Date(t, "2023-01-02"), 1)
	end := testutil.Date(t, "2023-06-30")
	gdb.Model(ended).Update("end_date", end)
	future := testutil.Series(t, gdb, testutil.Date(t, "2024-03-04"), 1)
	cancelled := testutil.Series(t, gdb, testutil.Date(t, "2024-01-01"), 1)
	gdb.Model(cancelled).Update("status", models.SeriesStatusCancelled)

	got, err := s.ListActiveSeriesOverlapping(ctx, testutil.CompanyID, testutil.Date(t, "2024-01-01"), testutil.Date(t, "2024-01-31"))
	if err != nil {
		t.Fatalf("ListActiveSeriesOverlapping: %v", err)
	}
	if len(got) != 1 || got[0].ID != open.ID {
		t.Errorf("got %d series, want only %s (future=%s)", len(got), open.ID, future.ID)
	}

	companies, err := s.CompaniesWithActiveSeries(ctx)
	if err != nil {
		t.Fatalf("CompaniesWithActiveSeries: %v", err)
	}
	if len(companies) != 1 || companies[0] != testutil.CompanyID {
		t.Errorf("companies = %v", companies)
	}
}

func TestMemberships(t *testing.T) {
	gdb := testutil.DB(t)
	s := New(gdb)
	ctx := context.Background()
	rs := testutil.Series(t, gdb, testutil.Date(t, "2024-01-01"), 1)

	first := &models.RouteSeriesSchedule{SeriesID: rs.ID, ScheduleID: "s1", ChildID: "c1",
		PickupStopOrder: 1000, DropoffStopOrder: 2000, ValidFrom: testutil.Date(t, "2024-01-01")}
	if err := s.CreateMembership(ctx, first); err != nil {
		t.Fatalf("CreateMembership: %v", err)
	}
	if err := s.CloseMembership(ctx, first.ID, testutil.Date(t, "2024-01-31")); err != nil {
		t.Fatalf("CloseMembership: %v", err)
	}
	second := &models.RouteSeriesSchedule{SeriesID: rs.ID, ScheduleID: "s1", ChildID: "c1",
		PickupStopOrder: 3000, DropoffStopOrder: 4000, ValidFrom: testutil.Date(t, "2024-03-01")}
	if err := s.CreateMembership(ctx, second); err != nil {
		t.Fatalf("CreateMembership second: %v", err)
	}
	dup := &models.RouteSeriesSchedule{SeriesID: rs.ID, ScheduleID: "s1", ChildID: "c1",
		PickupStopOrder: 5000, DropoffStopOrder: 6000, ValidFrom: testutil.Date(t, "2024-03-01")}
	if err := s.CreateMembership(ctx, dup); err == nil {
		t.Error("expected unique (series, schedule, valid_from) violation")
	}

	rows, err := s.ListMemberships(ctx, rs.ID, "s1")
	if err != nil {
		t.Fatalf("ListMemberships: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != first.ID {
		t.Fatalf("rows = %+v", rows)
	}

	tests := []struct {
		day  string
		want int
	}{
		{"2023-12-31", 0},
		{"2024-01-15", 1},
		{"2024-01-31", 1},
		{"2024-02-15", 0},
		{"2024-03-01", 1},
	}
	for _, tt := range tests {
		got, err := s.ListMembershipsActiveOn(ctx, rs.ID, testutil.Date(t, tt.day))
		if err != nil {
			t.Fatalf("ListMembershipsActiveOn(%s): %v", tt.day, err)
		}
		if len(got) != tt.want {
			t.Errorf("ListMembershipsActiveOn(%s) = %d rows, want %d", tt.day, len(got), tt.want)
		}
	}

	max, err := s.MaxMembershipKey(ctx, rs.ID)
	if err != nil {
		t.Fatalf("MaxMembershipKey: %v", err)
	}
	if max != 4000 {
		t.Errorf("MaxMembershipKey = %d, want 4000", max)
	}
}

func TestUpsertOccurrence_ReplacesRow(t *testing.T) {
	gdb := testutil.DB(t)
	s := New(gdb)
	ctx := context.Background()
	day := testutil.Date(t, "2024-01-08")

	if occ, err := s.GetOccurrence(ctx, "series-1", day); err != nil || occ != nil {
		t.Fatalf("GetOccurrence before = %v, %v", occ, err)
	}
	if err := s.UpsertOccurrence(ctx, &models.RouteSeriesOccurrence{
		SeriesID: "series-1", OccurrenceDate: day, Status: models.OccurrenceSkipped,
		SkipReason: "no_schedules", MaterializedAt: time.Now(),
	}); err != nil {
		t.Fatalf("UpsertOccurrence skipped: %v", err)
	}
	routeID := "route-1"
	if err := s.UpsertOccurrence(ctx, &models.RouteSeriesOccurrence{
		SeriesID: "series-1", OccurrenceDate: day, RouteID: &routeID,
		Status: models.OccurrenceMaterialized, MaterializedAt: time.Now(),
	}); err != nil {
		t.Fatalf("UpsertOccurrence materialized: %v", err)
	}

	var n int64
	gdb.Model(&models.RouteSeriesOccurrence{}).Count(&n)
	if n != 1 {
		t.Fatalf("%d occurrence rows, want 1", n)
	}
	occ, err := s.GetOccurrence(ctx, "series-1", day)
	if err != nil {
		t.Fatalf("GetOccurrence: %v", err)
	}
	if occ.Status != models.OccurrenceMaterialized || occ.RouteID == nil || *occ.RouteID != routeID || occ.SkipReason != "" {
		t.Errorf("occurrence = %+v", occ)
	}

	list, err := s.ListOccurrences(ctx, "series-1", day, day)
	if err != nil || len(list) != 1 {
		t.Errorf("ListOccurrences = %v, %v", list, err)
	}
}

func TestCancelSeries(t *testing.T) {
	gdb := testutil.DB(t)
	s := New(gdb)
	ctx := context.Background()
	rs := testutil.Series(t, gdb, testutil.Date(t, "2024-01-01"), 1)
	end := testutil.Date(t, "2024-02-01")

	if err := s.CancelSeries(ctx, rs.ID, "admin", "contract ended", time.Now(), &end); err != nil {
		t.Fatalf("CancelSeries: %v", err)
	}
	got, err := s.GetSeries(ctx, testutil.CompanyID, rs.ID)
	if err != nil {
		t.Fatalf("GetSeries: %v", err)
	}
	if got.Status != models.SeriesStatusCancelled || got.CancelledBy != "admin" || got.EndDate == nil || !got.EndDate.Equal(end) {
		t.Errorf("series = %+v", got)
	}
	active, _ := s.ListSeries(ctx, testutil.CompanyID, models.SeriesStatusActive)
	if len(active) != 0 {
		t.Errorf("active series = %d, want 0", len(active))
	}
}
