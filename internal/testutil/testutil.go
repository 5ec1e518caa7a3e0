// Package testutil holds shared fixtures for package tests: an in-memory
// sqlite database with the full schema and small seed builders.
package testutil

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/config"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/db"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"gorm.io/gorm"
)

// CompanyID is the tenant every fixture belongs to unless overridden.
const CompanyID = "company-1"

// DB creates an in-memory SQLite database with all tables migrated.
func DB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Connect(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

// Date parses a YYYY-MM-DD literal, failing the test on error.
func Date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := models.ParseDay(s)
	if err != nil {
		t.Fatalf("parse date %q: %v", s, err)
	}
	return d
}

// Route inserts a PLANNED route on day.
func Route(t *testing.T, gdb *gorm.DB, day time.Time) *models.Route {
	t.Helper()
	r := &models.Route{
		ID:                 uuid.NewString(),
		CompanyID:          CompanyID,
		Date:               models.Day(day),
		Status:             models.RouteStatusPlanned,
		DriverID:           "driver-1",
		VehicleID:          "vehicle-1",
		EstimatedStartTime: models.Day(day).Add(7 * time.Hour),
		EstimatedEndTime:   models.Day(day).Add(9 * time.Hour),
	}
	if err := gdb.Create(r).Error; err != nil {
		t.Fatalf("create route: %v", err)
	}
	return r
}

// Stop inserts a non-cancelled stop on a route.
func Stop(t *testing.T, gdb *gorm.DB, routeID, scheduleID, stopType string, key int) *models.RouteStop {
	t.Helper()
	s := &models.RouteStop{
		ID:         uuid.NewString(),
		CompanyID:  CompanyID,
		RouteID:    routeID,
		StopOrder:  key,
		StopType:   stopType,
		ChildID:    "child-" + scheduleID,
		ScheduleID: scheduleID,
	}
	if err := gdb.Create(s).Error; err != nil {
		t.Fatalf("create stop: %v", err)
	}
	return s
}

// Schedule inserts an active child schedule.
func Schedule(t *testing.T, gdb *gorm.DB, id, childID string) *models.ChildSchedule {
	t.Helper()
	cs := &models.ChildSchedule{
		ID:             id,
		CompanyID:      CompanyID,
		ChildID:        childID,
		Name:           "school run " + id,
		PickupAddress:  "Home " + id,
		PickupTime:     "07:30",
		DropoffAddress: "School",
		DropoffTime:    "08:15",
		Active:         true,
	}
	if err := gdb.Create(cs).Error; err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	return cs
}

// Series inserts an ACTIVE weekly series starting on start.
func Series(t *testing.T, gdb *gorm.DB, start time.Time, interval int) *models.RouteSeries {
	t.Helper()
	rs := &models.RouteSeries{
		ID:                 uuid.NewString(),
		CompanyID:          CompanyID,
		SeriesName:         "Morning run",
		DriverID:           "driver-1",
		VehicleID:          "vehicle-1",
		EstimatedStartTime: "07:00",
		EstimatedEndTime:   "09:00",
		RecurrenceInterval: interval,
		StartDate:          models.Day(start),
		Status:             models.SeriesStatusActive,
	}
	if err := gdb.Create(rs).Error; err != nil {
		t.Fatalf("create series: %v", err)
	}
	return rs
}

// Membership inserts an open-ended membership of a schedule in a series.
func Membership(t *testing.T, gdb *gorm.DB, seriesID, scheduleID, childID string, from time.Time, pickup, dropoff int) *models.RouteSeriesSchedule {
	t.Helper()
	m := &models.RouteSeriesSchedule{
		ID:               uuid.NewString(),
		SeriesID:         seriesID,
		ScheduleID:       scheduleID,
		ChildID:          childID,
		PickupStopOrder:  pickup,
		DropoffStopOrder: dropoff,
		ValidFrom:        models.Day(from),
	}
	if err := gdb.Create(m).Error; err != nil {
		t.Fatalf("create membership: %v", err)
	}
	return m
}

// Absence inserts an absence of a child; scheduleID nil means full day.
func Absence(t *testing.T, gdb *gorm.DB, childID string, scheduleID *string, from, to time.Time) *models.Absence {
	t.Helper()
	a := &models.Absence{
		ID:         uuid.NewString(),
		CompanyID:  CompanyID,
		ChildID:    childID,
		ScheduleID: scheduleID,
		StartDate:  models.Day(from),
		EndDate:    models.Day(to),
		Reason:     "sick",
	}
	if err := gdb.Create(a).Error; err != nil {
		t.Fatalf("create absence: %v", err)
	}
	return a
}
