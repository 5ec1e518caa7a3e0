package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/events"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/logger"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/materialize"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/series"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/stops"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/store"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/testutil"
	"gorm.io/gorm"
)

const base = "/api/v1/companies/" + testutil.CompanyID

func setupRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gdb := testutil.DB(t)
	st := store.New(gdb)
	bus := events.NewBus(logger.Nop(), events.NewActivitySink(gdb))
	now := func() time.Time { return time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC) }
	router, err := NewRouter(StartOpts{
		DB:          gdb,
		Stops:       stops.NewService(stops.Deps{Store: st, Events: bus, Now: now}),
		Series:      series.NewService(series.Deps{Store: st, Events: bus, Now: now}),
		Materialize: materialize.NewService(materialize.Deps{Store: st, Events: bus, Now: now, Concurrency: 1}),
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return router, gdb
}

func do(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func createSeries(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w := do(t, router, http.MethodPost, base+"/series", gin.H{
		"name":                 "Morning run",
		"driver_id":            "driver-1",
		"vehicle_id":           "vehicle-1",
		"estimated_start_time": "07:00",
		"estimated_end_time":   "09:00",
		"recurrence_interval":  1,
		"start_date":           "2024-01-01",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create series: %d %s", w.Code, w.Body.String())
	}
	var out seriesView
	decode(t, w, &out)
	return out.ID
}

func TestNewRouter_RequiresDB(t *testing.T) {
	_, err := NewRouter(StartOpts{})
	if err == nil || !strings.Contains(err.Error(), "db is required") {
		t.Errorf("err = %v", err)
	}
}

func TestHealth(t *testing.T) {
	router, _ := setupRouter(t)
	w := do(t, router, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestSeriesLifecycleAndMaterialize(t *testing.T) {
	router, gdb := setupRouter(t)
	testutil.Schedule(t, gdb, "sched-1", "child-1")
	id := createSeries(t, router)

	w := do(t, router, http.MethodPost, base+"/series/"+id+"/children", gin.H{
		"schedule_id":    "sched-1",
		"effective_from": "2024-01-01",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("add child: %d %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodPost, base+"/materialize", gin.H{"from": "2024-01-01", "to": "2024-01-21"})
	if w.Code != http.StatusOK {
		t.Fatalf("materialize: %d %s", w.Code, w.Body.String())
	}
	var res struct {
		Created int `json:"routes_created"`
		Skipped int `json:"routes_skipped"`
	}
	decode(t, w, &res)
	if res.Created != 3 {
		t.Errorf("routes_created = %d, want 3", res.Created)
	}

	w = do(t, router, http.MethodGet, base+"/series/"+id+"/occurrences?from=2024-01-01&to=2024-01-31", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("occurrences: %d %s", w.Code, w.Body.String())
	}
	var occs struct {
		Occurrences []struct {
			Date    string  `json:"date"`
			Status  string  `json:"status"`
			RouteID *string `json:"route_id"`
		} `json:"occurrences"`
	}
	decode(t, w, &occs)
	if len(occs.Occurrences) != 3 || occs.Occurrences[0].Date != "2024-01-01" || occs.Occurrences[0].Status != models.OccurrenceMaterialized {
		t.Fatalf("occurrences = %+v", occs)
	}

	routeID := *occs.Occurrences[0].RouteID
	w = do(t, router, http.MethodGet, base+"/routes/"+routeID+"/stops", nil)
	var list struct {
		Stops []stopView `json:"stops"`
	}
	decode(t, w, &list)
	if len(list.Stops) != 2 || list.Stops[0].StopType != models.StopTypePickup {
		t.Fatalf("stops = %+v", list.Stops)
	}

	w = do(t, router, http.MethodGet, base+"/activity?entity_id="+id, nil)
	var act struct {
		Activity []activityView `json:"activity"`
	}
	decode(t, w, &act)
	if len(act.Activity) == 0 {
		t.Error("expected activity for the series")
	}

	w = do(t, router, http.MethodPost, base+"/series/"+id+"/cancel", gin.H{
		"reason":               "term ended",
		"effective_from":       "2024-01-08",
		"cancel_future_routes": true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}
	var cancelled struct {
		Routes int `json:"cancelled_routes"`
	}
	decode(t, w, &cancelled)
	if cancelled.Routes != 2 {
		t.Errorf("cancelled_routes = %d, want 2", cancelled.Routes)
	}
}

func TestAddChild_ConflictReturnsResolution(t *testing.T) {
	router, gdb := setupRouter(t)
	testutil.Schedule(t, gdb, "sched-1", "child-1")
	id := createSeries(t, router)

	w := do(t, router, http.MethodPost, base+"/series/"+id+"/children", gin.H{"schedule_id": "sched-1", "effective_from": "2024-01-15"})
	if w.Code != http.StatusCreated {
		t.Fatalf("first add: %d %s", w.Code, w.Body.String())
	}
	w = do(t, router, http.MethodPost, base+"/series/"+id+"/children", gin.H{"schedule_id": "sched-1", "effective_from": "2024-01-01"})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", w.Code, w.Body.String())
	}
	var out struct {
		Resolution struct {
			Type      string `json:"type"`
			LimitedTo string `json:"limited_to"`
			Reason    string `json:"reason"`
		} `json:"resolution"`
	}
	decode(t, w, &out)
	if out.Resolution.Type != "conflict" || out.Resolution.LimitedTo != "2024-01-14" || out.Resolution.Reason != series.ReasonLaterMembership {
		t.Errorf("resolution = %+v", out.Resolution)
	}
}

func TestReorder(t *testing.T) {
	router, gdb := setupRouter(t)
	route := testutil.Route(t, gdb, testutil.Date(t, "2024-01-01"))
	a := testutil.Stop(t, gdb, route.ID, "s1", models.StopTypePickup, 1000)
	b := testutil.Stop(t, gdb, route.ID, "s2", models.StopTypePickup, 2000)

	w := do(t, router, http.MethodPut, base+"/routes/"+route.ID+"/stops/order", gin.H{
		"stops": []gin.H{{"stop_id": a.ID, "rank": 2}, {"stop_id": b.ID, "rank": 1}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("reorder: %d %s", w.Code, w.Body.String())
	}
	var list struct {
		Stops []stopView `json:"stops"`
	}
	decode(t, w, &list)
	if len(list.Stops) != 2 || list.Stops[0].ID != b.ID || list.Stops[1].ID != a.ID {
		t.Errorf("stops = %+v", list.Stops)
	}
}

func TestErrorMapping(t *testing.T) {
	router, gdb := setupRouter(t)
	route := testutil.Route(t, gdb, testutil.Date(t, "2024-01-01"))
	a := testutil.Stop(t, gdb, route.ID, "s1", models.StopTypePickup, 1000)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"malformed body", http.MethodPost, base + "/series", gin.H{"name": ""}, http.StatusBadRequest},
		{"unknown route", http.MethodGet, base + "/routes/missing/stops", nil, http.StatusNotFound},
		{"other tenant", http.MethodGet, "/api/v1/companies/other/routes/" + route.ID + "/stops", nil, http.StatusNotFound},
		{"rank out of range", http.MethodPut, base + "/routes/" + route.ID + "/stops/order", gin.H{"stops": []gin.H{{"stop_id": a.ID, "rank": 5}}}, http.StatusBadRequest},
		{"bad date", http.MethodPost, base + "/materialize", gin.H{"from": "01/01/2024", "to": "2024-01-02"}, http.StatusBadRequest},
		{"reversed range", http.MethodPost, base + "/materialize", gin.H{"from": "2024-01-05", "to": "2024-01-01"}, http.StatusBadRequest},
		{"missing range", http.MethodGet, base + "/series/x/occurrences", nil, http.StatusBadRequest},
		{"invalid transition", http.MethodPost, base + "/routes/" + route.ID + "/status", gin.H{"status": models.RouteStatusCompleted}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestActivityStream_SendsNewRows(t *testing.T) {
	router, gdb := setupRouter(t)
	old := streamPoll
	streamPoll = 10 * time.Millisecond
	t.Cleanup(func() { streamPoll = old })

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, base+"/activity/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		router.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	sink := events.NewActivitySink(gdb)
	if err := sink.Publish(context.Background(), events.Event{
		Type:      events.StopsReordered,
		CompanyID: testutil.CompanyID,
		EntityID:  "route-1",
		At:        time.Now(),
	}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: connected") {
		t.Errorf("missing connected event: %q", body)
	}
	if !strings.Contains(body, "event: "+events.StopsReordered) {
		t.Errorf("missing activity event: %q", body)
	}
}
