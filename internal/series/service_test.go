package series

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/apperr"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/events"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/lock"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/store"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/testutil"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB, *events.Recorder) {
	t.Helper()
	gdb := testutil.DB(t)
	rec := &events.Recorder{}
	svc := NewService(Deps{
		Store:  store.New(gdb),
		Events: rec,
		Now:    func() time.Time { return time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC) },
	})
	return svc, gdb, rec
}

func validCreate(t *testing.T) CreateRequest {
	return CreateRequest{
		CompanyID:          testutil.CompanyID,
		Name:               "Morning run",
		DriverID:           "driver-1",
		VehicleID:          "vehicle-1",
		EstimatedStartTime: "07:00",
		EstimatedEndTime:   "09:00",
		RecurrenceInterval: 1,
		StartDate:          testutil.Date(t, "2024-01-01"),
	}
}

func TestCreate(t *testing.T) {
	svc, _, rec := newTestService(t)
	rs, err := svc.Create(context.Background(), validCreate(t))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rs.ID == "" || rs.Status != models.SeriesStatusActive {
		t.Errorf("series = %+v", rs)
	}
	if rec.Count(events.SeriesCreated) != 1 {
		t.Errorf("events = %v", rec.Types())
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	before := testutil.Date(t, "2023-12-01")
	tests := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"interval zero", func(r *CreateRequest) { r.RecurrenceInterval = 0 }},
		{"interval five", func(r *CreateRequest) { r.RecurrenceInterval = 5 }},
		{"missing name", func(r *CreateRequest) { r.Name = "  " }},
		{"end before start", func(r *CreateRequest) { r.EndDate = &before }},
		{"bad clock", func(r *CreateRequest) { r.EstimatedStartTime = "7am" }},
		{"end time before start time", func(r *CreateRequest) { r.EstimatedEndTime = "06:00" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCreate(t)
			tt.mutate(&req)
			if _, err := svc.Create(context.Background(), req); !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("err = %v, want validation", err)
			}
		})
	}
}

func TestAddChild_DefaultKeysAppend(t *testing.T) {
	svc, gdb, rec := newTestService(t)
	ctx := context.Background()
	rs := testutil.Series(t, gdb, testutil.Date(t, "2024-01-01"), 1)
	testutil.Schedule(t, gdb, "s1", "c1")
	testutil.Schedule(t, gdb, "s2", "c2")

	first, err := svc.AddChild(ctx, AddChildRequest{CompanyID: testutil.CompanyID, SeriesID: rs.ID, ScheduleID: "s1", EffectiveFrom: rs.StartDate})
	if err != nil {
		t.Fatalf("AddChild s1: %v", err)
	}
	second, err := svc.AddChild(ctx, AddChildRequest{CompanyID: testutil.CompanyID, SeriesID: rs.ID, ScheduleID: "s2", EffectiveFrom: rs.StartDate})
	if err != nil {
		t.Fatalf("AddChild s2: %v", err)
	}
	m1, m2 := first.Membership, second.Membership
	if m1.PickupStopOrder != 1000 || m1.DropoffStopOrder != 2000 || m2.PickupStopOrder != 3000 || m2.DropoffStopOrder != 4000 {
		t.Errorf("keys = %d/%d, %d/%d", m1.PickupStopOrder, m1.DropoffStopOrder, m2.PickupStopOrder, m2.DropoffStopOrder)
	}
	if m1.ChildID != "c1" || m1.ValidTo != nil {
		t.Errorf("membership = %+v", m1)
	}
	if rec.Count(events.SeriesChildAdded) != 2 {
		t.Errorf("events = %v", rec.Types())
	}
}

func TestAddChild_Conflicts(t *testing.T) {
	svc, gdb, _ := newTestService(t)
	ctx := context.Background()
	rs := testutil.Series(t, gdb, testutil.Date(t, "2024-01-01"), 1)
	testutil.Schedule(t, gdb, "s1", "c1")
	testutil.Membership(t, gdb, rs.ID, "s1", "c1", testutil.Date(t, "2024-03-04"), 1000, 2000)

	// Overlapping an open window.
	_, err := svc.AddChild(ctx, AddChildRequest{CompanyID: testutil.CompanyID, SeriesID: rs.ID, ScheduleID: "s1", EffectiveFrom: testutil.Date(t, "2024-04-01")})
	if !errors.Is(err, apperr.ErrMembershipConflict) {
		t.Fatalf("overlap: err = %v, want membership conflict", err)
	}

	// Before a later window: Conflict returned, nothing stored.
	req := AddChildRequest{CompanyID: testutil.CompanyID, SeriesID: rs.ID, ScheduleID: "s1", EffectiveFrom: testutil.Date(t, "2024-01-08")}
	res, err := svc.AddChild(ctx, req)
	if err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	c, ok := res.Resolution.(Conflict)
	if !ok || res.Membership != nil {
		t.Fatalf("result = %+v, want unaccepted Conflict", res)
	}
	if !c.LimitedTo.Equal(testutil.Date(t, "2024-03-03")) {
		t.Errorf("LimitedTo = %v", c.LimitedTo)
	}

	// Accepting the narrowed window stores a closed row.
	req.AcceptNarrowed = true
	res, err = svc.AddChild(ctx, req)
	if err != nil {
		t.Fatalf("AddChild accepted: %v", err)
	}
	if res.Membership == nil || res.Membership.ValidTo == nil || !res.Membership.ValidTo.Equal(c.LimitedTo) {
		t.Errorf("membership = %+v", res.Membership)
	}
	active, _ := svc.store.ListMembershipsActiveOn(ctx, rs.ID, testutil.Date(t, "2024-03-03"))
	if len(active) != 1 {
		t.Errorf("active on 03-03 = %d, want 1", len(active))
	}
}

func TestAddChild_Rejections(t *testing.T) {
	svc, gdb, _ := newTestService(t)
	ctx := context.Background()
	rs := testutil.Series(t, gdb, testutil.Date(t, "2024-01-01"), 1)
	cancelled := testutil.Series(t, gdb, testutil.Date(t, "2024-01-01"), 1)
	gdb.Model(cancelled).Update("status", models.SeriesStatusCancelled)
	testutil.Schedule(t, gdb, "s1", "c1")
	p, d := 2000, 1000

	tests := []struct {
		name string
		req  AddChildRequest
		want error
	}{
		{"before series start", AddChildRequest{SeriesID: rs.ID, ScheduleID: "s1", EffectiveFrom: testutil.Date(t, "2023-12-25")}, apperr.ErrValidation},
		{"cancelled series", AddChildRequest{SeriesID: cancelled.ID, ScheduleID: "s1", EffectiveFrom: testutil.Date(t, "2024-01-01")}, apperr.ErrInvalidState},
		{"unknown schedule", AddChildRequest{SeriesID: rs.ID, ScheduleID: "nope", EffectiveFrom: testutil.Date(t, "2024-01-01")}, apperr.ErrNotFound},
		{"dropoff before pickup", AddChildRequest{SeriesID: rs.ID, ScheduleID: "s1", EffectiveFrom: testutil.Date(t, "2024-01-01"), PickupOrder: &p, DropoffOrder: &d}, apperr.ErrValidation},
		{"only pickup", AddChildRequest{SeriesID: rs.ID, ScheduleID: "s1", EffectiveFrom: testutil.Date(t, "2024-01-01"), PickupOrder: &p}, apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.CompanyID = testutil.CompanyID
			if _, err := svc.AddChild(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRemoveChild_ClosesWindowAndCancelsFutureStops(t *testing.T) {
	svc, gdb, rec := newTestService(t)
	ctx := context.Background()
	rs := testutil.Series(t, gdb, testutil.Date(t, "2024-01-01"), 1)
	m := testutil.Membership(t, gdb, rs.ID, "s1", "c1", testutil.Date(t, "2024-01-01"), 1000, 2000)

	past := testutil.Route(t, gdb, testutil.Date(t, "2024-01-08"))
	future := testutil.Route(t, gdb, testutil.Date(t, "2024-01-22"))
	for _, r := range []*models.Route{past, future} {
		gdb.Model(r).Update("series_id", rs.ID)
		testutil.Stop(t, gdb, r.ID, "s1", models.StopTypePickup, 1000)
		testutil.Stop(t, gdb, r.ID, "s1", models.StopTypeDropoff, 2000)
	}

	res, err := svc.RemoveChild(ctx, RemoveChildRequest{
		CompanyID: testutil.CompanyID, SeriesID: rs.ID, ScheduleID: "s1",
		LastDay: testutil.Date(t, "2024-01-14"), CancelFutureStops: true,
	})
	if err != nil {
		t.Fatalf("RemoveChild: %v", err)
	}
	if res.CancelledStops != 2 {
		t.Errorf("CancelledStops = %d, want 2", res.CancelledStops)
	}

	var got models.RouteSeriesSchedule
	gdb.First(&got, "id = ?", m.ID)
	if got.ValidTo == nil || !models.Day(*got.ValidTo).Equal(testutil.Date(t, "2024-01-14")) {
		t.Errorf("ValidTo = %v", got.ValidTo)
	}
	if !models.Day(got.ValidFrom).Equal(testutil.Date(t, "2024-01-01")) {
		t.Errorf("ValidFrom rewritten to %v", got.ValidFrom)
	}

	var pastActive, futureActive int64
	gdb.Model(&models.RouteStop{}).Where("route_id = ? AND is_cancelled = ?", past.ID, false).Count(&pastActive)
	gdb.Model(&models.RouteStop{}).Where("route_id = ? AND is_cancelled = ?", future.ID, false).Count(&futureActive)
	if pastActive != 2 || futureActive != 0 {
		t.Errorf("active stops past=%d future=%d, want 2 and 0", pastActive, futureActive)
	}
	if rec.Count(events.SeriesChildRemoved) != 1 {
		t.Errorf("events = %v", rec.Types())
	}

	// Removing again after the window ended is rejected.
	_, err = svc.RemoveChild(ctx, RemoveChildRequest{CompanyID: testutil.CompanyID, SeriesID: rs.ID, ScheduleID: "s1", LastDay: testutil.Date(t, "2024-01-21")})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("second remove: err = %v, want validation", err)
	}
}

func TestCancel(t *testing.T) {
	svc, gdb, rec := newTestService(t)
	ctx := context.Background()
	rs := testutil.Series(t, gdb, testutil.Date(t, "2024-01-01"), 1)
	old := testutil.Route(t, gdb, testutil.Date(t, "2024-01-08"))
	upcoming := testutil.Route(t, gdb, testutil.Date(t, "2024-01-15"))
	gdb.Model(&models.Route{}).Where("id IN ?", []string{old.ID, upcoming.ID}).Update("series_id", rs.ID)

	from := testutil.Date(t, "2024-01-15")
	n, err := svc.Cancel(ctx, CancelRequest{
		CompanyID: testutil.CompanyID, SeriesID: rs.ID, By: "admin", Reason: "school closed",
		EffectiveFrom: &from, CancelFutureRoutes: true,
	})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if n != 1 {
		t.Errorf("cancelled routes = %d, want 1", n)
	}

	got, _ := svc.Get(ctx, testutil.CompanyID, rs.ID)
	if got.Status != models.SeriesStatusCancelled || got.EndDate == nil || !models.Day(*got.EndDate).Equal(testutil.Date(t, "2024-01-14")) {
		t.Errorf("series = %+v", got)
	}
	var oldRoute models.Route
	gdb.First(&oldRoute, "id = ?", old.ID)
	if oldRoute.Status != models.RouteStatusPlanned {
		t.Errorf("past route status = %s, want PLANNED", oldRoute.Status)
	}
	if rec.Count(events.SeriesCancelled) != 1 {
		t.Errorf("events = %v", rec.Types())
	}

	if _, err := svc.Cancel(ctx, CancelRequest{CompanyID: testutil.CompanyID, SeriesID: rs.ID}); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("cancel twice: err = %v, want invalid state", err)
	}
}

func TestMembershipChanges_WaitForSeriesLock(t *testing.T) {
	gdb := testutil.DB(t)
	locks := lock.NewLocal()
	svc := NewService(Deps{Store: store.New(gdb), Locks: locks})
	rs := testutil.Series(t, gdb, testutil.Date(t, "2024-01-01"), 1)
	testutil.Schedule(t, gdb, "s1", "c1")
	testutil.Membership(t, gdb, rs.ID, "s1", "c1", testutil.Date(t, "2024-01-01"), 1000, 2000)

	held, err := locks.Acquire(context.Background(), lock.SeriesKey(rs.ID))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	calls := []struct {
		name string
		call func(ctx context.Context) error
	}{
		{"remove", func(ctx context.Context) error {
			_, err := svc.RemoveChild(ctx, RemoveChildRequest{CompanyID: testutil.CompanyID, SeriesID: rs.ID, ScheduleID: "s1", LastDay: testutil.Date(t, "2024-01-14")})
			return err
		}},
		{"cancel", func(ctx context.Context) error {
			_, err := svc.Cancel(ctx, CancelRequest{CompanyID: testutil.CompanyID, SeriesID: rs.ID, By: "admin"})
			return err
		}},
	}
	for _, c := range calls {
		t.Run(c.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			if err := c.call(ctx); !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("err = %v, want to wait on the series lock", err)
			}
		})
	}

	var got models.RouteSeries
	gdb.First(&got, "id = ?", rs.ID)
	if got.Status != models.SeriesStatusActive {
		t.Errorf("status = %s while locked, want ACTIVE", got.Status)
	}

	held()
	if _, err := svc.Cancel(context.Background(), CancelRequest{CompanyID: testutil.CompanyID, SeriesID: rs.ID, By: "admin"}); err != nil {
		t.Errorf("Cancel after release: %v", err)
	}
}
