package notifications

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"seatreserve/internal/shared/utils/response"
	"seatreserve/pkg/logger"
)

type Controller struct {
	hub       *Hub
	heartbeat time.Duration
	logger    *logger.Logger
}

func NewController(hub *Hub, heartbeat time.Duration, l *logger.Logger) *Controller {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &Controller{hub: hub, heartbeat: heartbeat, logger: l}
}

type GroupRequest struct {
	EventID string `json:"event_id" binding:"required,uuid"`
}

type GroupResponse struct {
	SubscriberID string   `json:"subscriber_id"`
	Groups       []string `json:"groups"`
}

// Stream opens a server-sent event stream. The first message carries the
// subscriber ID used to join and leave event groups.
func (c *Controller) Stream(ctx *gin.Context) {
	sub := c.hub.Register()
	defer c.hub.Unregister(sub.ID)

	if eventID := ctx.Query("event_id"); eventID != "" {
		c.hub.Join(sub.ID, eventID)
	}

	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("Connection", "keep-alive")
	ctx.Header("X-Accel-Buffering", "no")

	c.logger.DebugWithContext(ctx.Request.Context(), "Realtime subscriber connected", map[string]interface{}{
		"subscriber_id": sub.ID,
	})

	ctx.SSEvent("connected", GroupResponse{SubscriberID: sub.ID, Groups: c.hub.Groups(sub.ID)})
	ctx.Writer.Flush()

	heartbeat := time.NewTicker(c.heartbeat)
	defer heartbeat.Stop()

	ctx.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-sub.C:
			if !ok {
				return false
			}
			ctx.SSEvent(string(event.Type), event)
			return true
		case <-heartbeat.C:
			ctx.SSEvent("heartbeat", gin.H{"at": time.Now().UTC()})
			return true
		case <-ctx.Request.Context().Done():
			return false
		}
	})

	c.logger.DebugWithContext(ctx.Request.Context(), "Realtime subscriber disconnected", map[string]interface{}{
		"subscriber_id": sub.ID,
	})
}

func (c *Controller) Join(ctx *gin.Context) {
	var req GroupRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondBindError(ctx, err)
		return
	}

	subscriberID := ctx.Param("subscriberId")
	if !c.hub.Join(subscriberID, req.EventID) {
		response.RespondJSON(ctx, "error", http.StatusNotFound, "Subscriber not found", nil, "unknown subscriber")
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Joined event group", GroupResponse{
		SubscriberID: subscriberID,
		Groups:       c.hub.Groups(subscriberID),
	}, nil)
}

func (c *Controller) Leave(ctx *gin.Context) {
	var req GroupRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondBindError(ctx, err)
		return
	}

	subscriberID := ctx.Param("subscriberId")
	if !c.hub.Leave(subscriberID, req.EventID) {
		response.RespondJSON(ctx, "error", http.StatusNotFound, "Subscriber not found", nil, "unknown subscriber")
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Left event group", GroupResponse{
		SubscriberID: subscriberID,
		Groups:       c.hub.Groups(subscriberID),
	}, nil)
}

func (c *Controller) Status(ctx *gin.Context) {
	response.RespondJSON(ctx, "success", http.StatusOK, "Realtime status", gin.H{
		"subscribers": c.hub.SubscriberCount(),
		"heartbeat":   c.heartbeat.String(),
	}, nil)
}
