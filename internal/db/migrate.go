package db

import (
	"fmt"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model owned by routeops, in dependency order.
func AllModels() []interface{} {
	return []interface{}{
		&models.Route{},
		&models.RouteStop{},
		&models.RouteSeries{},
		&models.RouteSeriesSchedule{},
		&models.RouteSeriesOccurrence{},
		&models.ChildSchedule{},
		&models.Absence{},
		&models.ReorderJournal{},
		&models.SeriesLease{},
		&models.ActivityLog{},
	}
}

// AutoMigrate creates or updates all tables and their unique indexes.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
