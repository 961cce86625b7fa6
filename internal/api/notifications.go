package api

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/safar/go-order-delivery/internal/notify"
)

func handleInbox(d *notify.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		courierID, err := pathID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}

		unreadOnly := c.Query("unread") == "true"
		page, err := d.Inbox(c.Request.Context(), courierID, unreadOnly, c.Query("cursor"), queryInt(c, "limit", 10))
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, page)
	}
}

// handleSendMessage lets staff message a courier outside of an assignment.
func handleSendMessage(d *notify.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		courierID, err := pathID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}

		var req struct {
			OrderID int64  `json:"order_id"`
			Message string `json:"message"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, invalid("invalid request body"))
			return
		}
		if req.OrderID < 1 || strings.TrimSpace(req.Message) == "" {
			respondError(c, invalid("order_id and message are required"))
			return
		}

		n, err := d.Notify(c.Request.Context(), courierID, req.OrderID, req.Message)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, n)
	}
}

func handleUnreadCount(d *notify.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		courierID, err := pathID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}

		count, err := d.UnreadCount(c.Request.Context(), courierID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"courier_id": courierID, "unread": count})
	}
}

func handleMarkRead(d *notify.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := pathID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}

		var req struct {
			CourierID int64 `json:"courier_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.CourierID < 1 {
			respondError(c, invalid("courier_id is required"))
			return
		}

		if err := d.MarkRead(c.Request.Context(), id, req.CourierID); err != nil {
			respondError(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

func handleMarkAllRead(d *notify.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		courierID, err := pathID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}

		updated, err := d.MarkAllRead(c.Request.Context(), courierID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"updated": updated})
	}
}

// handleStream pushes live notifications to a connected courier as
// server-sent events. Events may be missed or arrive out of order; the
// client reconciles against the inbox.
func (s *Server) handleStream(c *gin.Context) {
	courierID, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}

	// The stream outlives the server write timeout.
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	sub := s.deps.Hub.Subscribe(courierID)
	defer s.deps.Hub.Unsubscribe(sub)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	s.log.Debug("courier_stream_opened", map[string]any{"courier_id": courierID, "subscription": sub.ID})

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	c.SSEvent("ready", gin.H{"courier_id": courierID})
	c.Writer.Flush()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case n, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent("notification", n)
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})

	s.log.Debug("courier_stream_closed", map[string]any{"courier_id": courierID, "subscription": sub.ID})
}
