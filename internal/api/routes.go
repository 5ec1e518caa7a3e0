package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/apperr"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/events"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/stops"
)

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, o *StartOpts) {
	router.GET("/healthz", handleHealth())

	v1 := router.Group("/api/v1/companies/:company")

	// Routes and stops.
	v1.GET("/routes/:route/stops", handleListStops(o))
	v1.POST("/routes/:route/stops", handleInsertStops(o))
	v1.PUT("/routes/:route/stops/order", handleReorder(o))
	v1.POST("/routes/:route/schedules", handleAddSchedule(o))
	v1.DELETE("/routes/:route/schedules/:schedule", handleCancelSchedule(o))
	v1.POST("/routes/:route/status", handleTransition(o))
	v1.POST("/routes/:route/repair", handleRepair(o))

	// Series.
	v1.GET("/series", handleListSeries(o))
	v1.POST("/series", handleCreateSeries(o))
	v1.GET("/series/:series", handleGetSeries(o))
	v1.POST("/series/:series/children", handleAddChild(o))
	v1.DELETE("/series/:series/children/:schedule", handleRemoveChild(o))
	v1.POST("/series/:series/cancel", handleCancelSeries(o))
	v1.GET("/series/:series/occurrences", handleOccurrences(o))
	v1.POST("/series/:series/materialize", handleMaterializeSeries(o))
	v1.POST("/materialize", handleMaterialize(o))

	// Activity.
	v1.GET("/activity", handleActivity(o))
	v1.GET("/activity/stream", handleActivityStream(o))
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// bindJSON decodes the request body, turning decode failures into
// validation errors.
func bindJSON(c *gin.Context, o *StartOpts, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, o.Log, apperr.Validation("invalid request body: %v", err))
		return false
	}
	return true
}

// dayParam parses an optional YYYY-MM-DD value; empty yields the zero time.
func dayParam(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	d, err := models.ParseDay(value)
	if err != nil {
		return time.Time{}, apperr.Validation("%s: expected YYYY-MM-DD, got %q", field, value)
	}
	return d, nil
}

// stopView is the wire form of a stop.
type stopView struct {
	ID                 string     `json:"id"`
	StopOrder          int        `json:"stop_order"`
	StopType           string     `json:"stop_type"`
	ChildID            string     `json:"child_id"`
	ScheduleID         string     `json:"schedule_id"`
	EstimatedTime      time.Time  `json:"estimated_time"`
	Address            string     `json:"address"`
	ExecutionStatus    *string    `json:"execution_status,omitempty"`
	ExecutedAt         *time.Time `json:"executed_at,omitempty"`
	IsCancelled        bool       `json:"is_cancelled"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
}

func viewStops(in []models.RouteStop) []stopView {
	out := make([]stopView, len(in))
	for i, s := range in {
		out[i] = stopView{
			ID:                 s.ID,
			StopOrder:          s.StopOrder,
			StopType:           s.StopType,
			ChildID:            s.ChildID,
			ScheduleID:         s.ScheduleID,
			EstimatedTime:      s.EstimatedTime,
			Address:            s.Address,
			ExecutionStatus:    s.ExecutionStatus,
			ExecutedAt:         s.ExecutedAt,
			IsCancelled:        s.IsCancelled,
			CancellationReason: s.CancellationReason,
		}
	}
	return out
}

func handleListStops(o *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		includeCancelled, _ := strconv.ParseBool(c.Query("include_cancelled"))
		list, err := o.Stops.ListStops(c.Request.Context(), c.Param("company"), c.Param("route"), includeCancelled)
		if err != nil {
			writeError(c, o.Log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"stops": viewStops(list)})
	}
}

type newStop struct {
	StopType      string    `json:"stop_type" binding:"required,oneof=PICKUP DROPOFF"`
	ChildID       string    `json:"child_id" binding:"required"`
	ScheduleID    string    `json:"schedule_id" binding:"required"`
	EstimatedTime time.Time `json:"estimated_time"`
	Address       string    `json:"address"`
}

type insertStopsBody struct {
	AfterOrder *int      `json:"after_order"`
	Stops      []newStop `json:"stops" binding:"required,min=1,dive"`
}

func handleInsertStops(o *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body insertStopsBody
		if !bindJSON(c, o, &body) {
			return
		}
		company := c.Param("company")
		in := make([]models.RouteStop, len(body.Stops))
		for i, s := range body.Stops {
			in[i] = models.RouteStop{
				CompanyID:     company,
				StopType:      s.StopType,
				ChildID:       s.ChildID,
				ScheduleID:    s.ScheduleID,
				EstimatedTime: s.EstimatedTime,
				Address:       s.Address,
			}
		}
		out, err := o.Stops.InsertStops(c.Request.Context(), company, c.Param("route"), in, body.AfterOrder)
		if err != nil {
			writeError(c, o.Log, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"stops": viewStops(out)})
	}
}

type reorderBody struct {
	Stops []stops.RankUpdate `json:"stops" binding:"required,min=1,dive"`
}

func handleReorder(o *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body reorderBody
		if !bindJSON(c, o, &body) {
			return
		}
		ctx := c.Request.Context()
		company, route := c.Param("company"), c.Param("route")
		if err := o.Stops.Reorder(ctx, company, route, body.Stops); err != nil {
			writeError(c, o.Log, err)
			return
		}
		list, err := o.Stops.ListStops(ctx, company, route, false)
		if err != nil {
			writeError(c, o.Log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"stops": viewStops(list)})
	}
}

type addScheduleBody struct {
	ScheduleID string `json:"schedule_id" binding:"required"`
	AfterOrder *int   `json:"after_order"`
}

func handleAddSchedule(o *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body addScheduleBody
		if !bindJSON(c, o, &body) {
			return
		}
		out, err := o.Stops.AddScheduleToRoute(c.Request.Context(), stops.AddScheduleRequest{
			CompanyID:  c.Param("company"),
			RouteID:    c.Param("route"),
			ScheduleID: body.ScheduleID,
			AfterOrder: body.AfterOrder,
		})
		if err != nil {
			writeError(c, o.Log, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"stops": viewStops(out)})
	}
}

func handleCancelSchedule(o *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := o.Stops.CancelScheduleInRoute(c.Request.Context(), c.Param("company"), c.Param("route"), c.Param("schedule"), c.Query("reason"))
		if err != nil {
			writeError(c, o.Log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cancelled": viewStops(out)})
	}
}

type transitionBody struct {
	Status string `json:"status" binding:"required"`
}

func handleTransition(o *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body transitionBody
		if !bindJSON(c, o, &body) {
			return
		}
		route, err := o.Stops.TransitionRoute(c.Request.Context(), c.Param("company"), c.Param("route"), body.Status)
		if err != nil {
			writeError(c, o.Log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": route.ID, "status": route.Status})
	}
}

func handleRepair(o *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		company, routeID := c.Param("company"), c.Param("route")
		// Tenant check before touching the route.
		if _, err := o.Stops.ListStops(ctx, company, routeID, true); err != nil {
			writeError(c, o.Log, err)
			return
		}
		repaired, err := o.Stops.Repair(ctx, routeID)
		if err != nil {
			writeError(c, o.Log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"repaired": repaired})
	}
}

func handleActivity(o *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		rows, err := events.Recent(c.Request.Context(), o.DB, c.Param("company"), c.Query("entity_id"), limit)
		if err != nil {
			writeError(c, o.Log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"activity": viewActivity(rows)})
	}
}
