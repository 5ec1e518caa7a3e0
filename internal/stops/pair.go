package stops

import (
	"time"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/apperr"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
)

// BuildPair returns the unsaved pickup and dropoff stops of a schedule on
// day, pickup first. Keys, route and IDs are left for the caller.
func BuildPair(day time.Time, sched models.ChildSchedule) ([]models.RouteStop, error) {
	pickupAt, err := models.At(day, sched.PickupTime)
	if err != nil {
		return nil, apperr.Validation("schedule %s: invalid pickup time %q", sched.ID, sched.PickupTime)
	}
	dropoffAt, err := models.At(day, sched.DropoffTime)
	if err != nil {
		return nil, apperr.Validation("schedule %s: invalid dropoff time %q", sched.ID, sched.DropoffTime)
	}
	return []models.RouteStop{
		{
			CompanyID:     sched.CompanyID,
			StopType:      models.StopTypePickup,
			ChildID:       sched.ChildID,
			ScheduleID:    sched.ID,
			EstimatedTime: pickupAt,
			Address:       sched.PickupAddress,
		},
		{
			CompanyID:     sched.CompanyID,
			StopType:      models.StopTypeDropoff,
			ChildID:       sched.ChildID,
			ScheduleID:    sched.ID,
			EstimatedTime: dropoffAt,
			Address:       sched.DropoffAddress,
		},
	}, nil
}
