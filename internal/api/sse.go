package api

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
)

// streamPoll is how often the activity stream looks for new rows.
var streamPoll = 3 * time.Second

type activityView struct {
	ID         uint            `json:"id"`
	EventType  string          `json:"event_type"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Data       json.RawMessage `json:"data"`
	At         time.Time       `json:"at"`
}

func viewActivity(rows []models.ActivityLog) []activityView {
	out := make([]activityView, len(rows))
	for i, r := range rows {
		payload := r.Payload
		if payload == "" {
			payload = "{}"
		}
		out[i] = activityView{
			ID:         r.ID,
			EventType:  r.EventType,
			EntityType: r.EntityType,
			EntityID:   r.EntityID,
			Data:       json.RawMessage(payload),
			At:         r.CreatedAt,
		}
	}
	return out
}

// handleActivityStream pushes new activity rows of the company as SSE
// events until the client goes away.
func handleActivityStream(o *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		company := c.Param("company")
		writeSSE(c.Writer, "connected", map[string]string{"company_id": company})
		c.Writer.Flush()

		// Only rows written after the client connected are streamed.
		var lastSeenID uint
		var latest models.ActivityLog
		if err := o.DB.Where("company_id = ?", company).Order("id DESC").Limit(1).First(&latest).Error; err == nil {
			lastSeenID = latest.ID
		}

		ctx := c.Request.Context()
		ticker := time.NewTicker(streamPoll)
		heartbeat := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				var rows []models.ActivityLog
				if err := o.DB.WithContext(ctx).
					Where("company_id = ? AND id > ?", company, lastSeenID).
					Order("id ASC").
					Find(&rows).Error; err != nil {
					o.Log.Warn("activity stream poll", "company_id", company, "error", err)
					continue
				}
				if len(rows) == 0 {
					continue
				}
				lastSeenID = rows[len(rows)-1].ID
				for _, v := range viewActivity(rows) {
					writeSSE(c.Writer, v.EventType, v)
				}
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
