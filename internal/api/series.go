package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/apperr"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/materialize"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/series"
)

type membershipView struct {
	ID               string  `json:"id"`
	ScheduleID       string  `json:"schedule_id"`
	ChildID          string  `json:"child_id"`
	PickupStopOrder  int     `json:"pickup_stop_order"`
	DropoffStopOrder int     `json:"dropoff_stop_order"`
	ValidFrom        string  `json:"valid_from"`
	ValidTo          *string `json:"valid_to,omitempty"`
}

type seriesView struct {
	ID                 string           `json:"id"`
	Name               string           `json:"name"`
	DriverID           string           `json:"driver_id,omitempty"`
	VehicleID          string           `json:"vehicle_id,omitempty"`
	EstimatedStartTime string           `json:"estimated_start_time"`
	EstimatedEndTime   string           `json:"estimated_end_time"`
	RecurrenceInterval int              `json:"recurrence_interval"`
	StartDate          string           `json:"start_date"`
	EndDate            *string          `json:"end_date,omitempty"`
	Status             string           `json:"status"`
	Schedules          []membershipView `json:"schedules,omitempty"`
}

func fmtDay(t time.Time) string { return t.Format(models.DateLayout) }

func fmtDayPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := fmtDay(*t)
	return &s
}

func viewMembership(m models.RouteSeriesSchedule) membershipView {
	return membershipView{
		ID:               m.ID,
		ScheduleID:       m.ScheduleID,
		ChildID:          m.ChildID,
		PickupStopOrder:  m.PickupStopOrder,
		DropoffStopOrder: m.DropoffStopOrder,
		ValidFrom:        fmtDay(m.ValidFrom),
		ValidTo:          fmtDayPtr(m.ValidTo),
	}
}

func viewSeries(rs models.RouteSeries) seriesView {
	v := seriesView{
		ID:                 rs.ID,
		Name:               rs.SeriesName,
		DriverID:           rs.DriverID,
		VehicleID:          rs.VehicleID,
		EstimatedStartTime: rs.EstimatedStartTime,
		EstimatedEndTime:   rs.EstimatedEndTime,
		RecurrenceInterval: rs.RecurrenceInterval,
		StartDate:          fmtDay(rs.StartDate),
		EndDate:            fmtDayPtr(rs.EndDate),
		Status:             rs.Status,
	}
	for _, m := range rs.Schedules {
		v.Schedules = append(v.Schedules, viewMembership(m))
	}
	return v
}

func viewResolution(r series.Resolution) gin.H {
	switch r := r.(type) {
	case series.NoConflict:
		return gin.H{"type": "no_conflict", "effective_from": fmtDay(r.EffectiveFrom), "effective_to": fmtDayPtr(r.EffectiveTo)}
	case series.Conflict:
		return gin.H{"type": "conflict", "limited_to": fmtDay(r.LimitedTo), "reason": r.Reason, "message": r.Message}
	}
	return nil
}

func handleListSeries(o *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := o.Series.List(c.Request.Context(), c.Param("company"), c.Query("status"))
		if err != nil {
			writeError(c, o.Log, err)
			return
		}
		out := make([]seriesView, len(list))
		for i, rs := range list {
			out[i] = viewSeries(rs)
		}
		c.JSON(http.StatusOK, gin.H{"series": out})
	}
}

type createSeriesBody struct {
	Name               string `json:"name" binding:"required"`
	DriverID           string `json:"driver_id"`
	VehicleID          string `json:"vehicle_id"`
	EstimatedStartTime string `json:"estimated_start_time" binding:"required"`
	EstimatedEndTime   string `json:"estimated_end_time" binding:"required"`
	RecurrenceInterval int    `json:"recurrence_interval" binding:"required"`
	StartDate          string `json:"start_date" binding:"required"`
	EndDate            string `json:"end_date"`
}

func handleCreateSeries(o *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body createSeriesBody
		if !bindJSON(c, o, &body) {
			return
		}
		start, err := dayParam("start_date", body.StartDate)
		if err != nil {
			writeError(c, o.Log, err)
			return
		}
		req := series.CreateRequest{
			CompanyID:          c.Param("company"),
			Name:               body.Name,
			DriverID:           body.DriverID,
			VehicleID:          body.VehicleID,
			EstimatedStartTime: body.EstimatedStartTime,
			EstimatedEndTime:   body.EstimatedEndTime,
			RecurrenceInterval: body.RecurrenceInterval,
			StartDate:          start,
		}
		if body.EndDate != "" {
			end, err := dayParam("end_date", body.EndDate)
			if err != nil {
				writeError(c, o.Log, err)
				return
			}
			req.EndDate = &end
		}
		rs, err := o.Series.Create(c.Request.Context(), req)
		if err != nil {
			writeError(c, o.Log, err)
			return
		}
		c.JSON(http.StatusCreated, viewSeries(*rs))
	}
}

func handleGetSeries(o *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		rs, err := o.Series.Get(c.Request.Context(), c.Param("company"), c.Param("series"))
		if err != nil {
			writeError(c, o.Log, err)
			return
		}
		c.JSON(http.StatusOK, viewSeries(*rs))
	}
}

type addChildBody struct {
	ScheduleID     string `json:"schedule_id" binding:"required"`
	EffectiveFrom  string `json:"effective_from" binding:"required"`
	PickupOrder    *int   `json:"pickup_stop_order"`
	DropoffOrder   *int   `json:"dropoff_stop_order"`
	AcceptNarrowed bool   `json:"accept_narrowed"`
}

func handleAddChild(o *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body addChildBody
		if !bindJSON(c, o, &body) {
			return
		}
		from, err := dayParam("effective_from", body.EffectiveFrom)
		if err != nil {
			writeError(c, o.Log, err)
			return
		}
		res, err := o.Series.AddChild(c.Request.Context(), series.AddChildRequest{
			CompanyID:      c.Param("company"),
			SeriesID:       c.Param("series"),
			ScheduleID:     body.ScheduleID,
			EffectiveFrom:  from,
			PickupOrder:    body.PickupOrder,
			DropoffOrder:   body.DropoffOrder,
			AcceptNarrowed: body.AcceptNarrowed,
		})
		if err != nil {
			writeError(c, o.Log, err)
			return
		}
		if res.Membership == nil {
			c.JSON(http.StatusConflict, gin.H{"kind": apperr.KindConflict, "resolution": viewResolution(res.Resolution)})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"membership": viewMembership(*res.Membership),
			"resolution": viewResolution(res.Resolution),
		})
	}
}

type removeChildBody struct {
	LastDay           string `json:"last_day" binding:"required"`
	CancelFutureStops bool   `json:"cancel_future_stops"`
}

func handleRemoveChild(o *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body removeChildBody
		if !bindJSON(c, o, &body) {
			return
		}
		last, err := dayParam("last_day", body.LastDay)
		if err != nil {
			writeError(c, o.Log, err)
			return
		}
		res, err := o.Series.RemoveChild(c.Request.Context(), series.RemoveChildRequest{
			CompanyID:         c.Param("company"),
			SeriesID:          c.Param("series"),
			ScheduleID:        c.Param("schedule"),
			LastDay:           last,
			CancelFutureStops: body.CancelFutureStops,
		})
		if err != nil {
			writeError(c, o.Log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"resolution":      viewResolution(res.Resolution),
			"cancelled_stops": res.CancelledStops,
		})
	}
}

type cancelSeriesBody struct {
	By                 string `json:"cancelled_by"`
	Reason             string `json:"reason"`
	EffectiveFrom      string `json:"effective_from"`
	CancelFutureRoutes bool   `json:"cancel_future_routes"`
}

func handleCancelSeries(o *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body cancelSeriesBody
		if !bindJSON(c, o, &body) {
			return
		}
		req := series.CancelRequest{
			CompanyID:          c.Param("company"),
			SeriesID:           c.Param("series"),
			By:                 body.By,
			Reason:             body.Reason,
			CancelFutureRoutes: body.CancelFutureRoutes,
		}
		if body.EffectiveFrom != "" {
			from, err := dayParam("effective_from", body.EffectiveFrom)
			if err != nil {
				writeError(c, o.Log, err)
				return
			}
			req.EffectiveFrom = &from
		}
		n, err := o.Series.Cancel(c.Request.Context(), req)
		if err != nil {
			writeError(c, o.Log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cancelled_routes": n})
	}
}

func handleOccurrences(o *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		from, to, err := rangeQuery(c)
		if err != nil {
			writeError(c, o.Log, err)
			return
		}
		occs, err := o.Series.Occurrences(c.Request.Context(), c.Param("company"), c.Param("series"), from, to)
		if err != nil {
			writeError(c, o.Log, err)
			return
		}
		out := make([]gin.H, len(occs))
		for i, occ := range occs {
			out[i] = gin.H{
				"date":        fmtDay(occ.OccurrenceDate),
				"status":      occ.Status,
				"route_id":    occ.RouteID,
				"skip_reason": occ.SkipReason,
			}
		}
		c.JSON(http.StatusOK, gin.H{"occurrences": out})
	}
}

// rangeQuery reads the required from and to query parameters.
func rangeQuery(c *gin.Context) (time.Time, time.Time, error) {
	if c.Query("from") == "" || c.Query("to") == "" {
		return time.Time{}, time.Time{}, apperr.Validation("from and to are required")
	}
	from, err := dayParam("from", c.Query("from"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := dayParam("to", c.Query("to"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

type materializeBody struct {
	From            string `json:"from" binding:"required"`
	To              string `json:"to" binding:"required"`
	ForceRegenerate bool   `json:"force_regenerate"`
}

func (b materializeBody) window() (time.Time, time.Time, error) {
	from, err := dayParam("from", b.From)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := dayParam("to", b.To)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

func viewResult(res *materialize.Result) gin.H {
	failures := make([]gin.H, len(res.Failures))
	for i, f := range res.Failures {
		entry := gin.H{"series_id": f.SeriesID, "error": f.Err.Error()}
		if !f.Date.IsZero() {
			entry["date"] = fmtDay(f.Date)
		}
		failures[i] = entry
	}
	return gin.H{
		"routes_created": res.RoutesCreated,
		"routes_updated": res.RoutesUpdated,
		"routes_skipped": res.RoutesSkipped,
		"failures":       failures,
	}
}

func handleMaterialize(o *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body materializeBody
		if !bindJSON(c, o, &body) {
			return
		}
		from, to, err := body.window()
		if err != nil {
			writeError(c, o.Log, err)
			return
		}
		res, err := o.Materialize.MaterializeForDateRange(c.Request.Context(), c.Param("company"), from, to, body.ForceRegenerate)
		if err != nil {
			writeError(c, o.Log, err)
			return
		}
		c.JSON(http.StatusOK, viewResult(res))
	}
}

func handleMaterializeSeries(o *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body materializeBody
		if !bindJSON(c, o, &body) {
			return
		}
		from, to, err := body.window()
		if err != nil {
			writeError(c, o.Log, err)
			return
		}
		res, err := o.Materialize.MaterializeSeries(c.Request.Context(), c.Param("company"), c.Param("series"), from, to, body.ForceRegenerate)
		if err != nil {
			writeError(c, o.Log, err)
			return
		}
		c.JSON(http.StatusOK, viewResult(res))
	}
}
