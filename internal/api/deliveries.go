package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/safar/go-order-delivery/internal/delivery"
	"github.com/safar/go-order-delivery/internal/models"
	"github.com/safar/go-order-delivery/internal/store"
)

func handleAssign(mgr *delivery.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, err := pathID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}

		// An empty body or a zero courier_id lets the balancer choose.
		var req struct {
			CourierID int64 `json:"courier_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			respondError(c, invalid("invalid request body"))
			return
		}
		if req.CourierID < 0 {
			respondError(c, invalid("invalid courier_id"))
			return
		}

		task, err := mgr.Assign(c.Request.Context(), orderID, req.CourierID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, task)
	}
}

func handleReassign(mgr *delivery.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID, err := pathID(c, "id")
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

		task, err := mgr.Reassign(c.Request.Context(), taskID, req.CourierID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, task)
	}
}

func handleTransition(mgr *delivery.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID, err := pathID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}

		var req struct {
			CourierID int64            `json:"courier_id"`
			State     models.TaskState `json:"state"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.CourierID < 1 {
			respondError(c, invalid("courier_id and state are required"))
			return
		}

		task, err := mgr.Transition(c.Request.Context(), taskID, req.CourierID, req.State)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, task)
	}
}

func handleCancel(mgr *delivery.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID, err := pathID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}

		var req struct {
			StaffID int64 `json:"staff_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.StaffID < 1 {
			respondError(c, invalid("staff_id is required"))
			return
		}

		task, err := mgr.Cancel(c.Request.Context(), taskID, req.StaffID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, task)
	}
}

func handleGetTask(mgr *delivery.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID, err := pathID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}

		task, err := mgr.GetTask(c.Request.Context(), taskID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, task)
	}
}

func handleCourierTasks(mgr *delivery.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		courierID, err := pathID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}

		var state *models.TaskState
		if raw := c.Query("state"); raw != "" {
			s := models.TaskState(raw)
			if !s.Valid() {
				respondError(c, invalid("unknown state "+raw))
				return
			}
			state = &s
		}

		tasks, err := mgr.ListCourierTasks(c.Request.Context(), courierID, state)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"items": tasks})
	}
}

func handleHistory(mgr *delivery.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := store.TaskHistoryFilter{
			Limit: queryInt(c, "limit", 100),
		}

		if c.Query("courier_id") != "" {
			id := int64(queryInt(c, "courier_id", 0))
			if id < 1 {
				respondError(c, invalid("invalid courier_id"))
				return
			}
			filter.CourierID = id
		}

		var err error
		if filter.From, err = queryTime(c, "from"); err != nil {
			respondError(c, err)
			return
		}
		if filter.To, err = queryTime(c, "to"); err != nil {
			respondError(c, err)
			return
		}

		tasks, err := mgr.History(c.Request.Context(), filter)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"items": tasks})
	}
}

// handleRoute estimates the drive for the assigned courier. A missing origin
// means the device shared no location.
func handleRoute(mgr *delivery.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID, err := pathID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}

		var req struct {
			CourierID int64               `json:"courier_id"`
			Origin    *models.Coordinates `json:"origin"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.CourierID < 1 {
			respondError(c, invalid("courier_id is required"))
			return
		}

		estimate, err := mgr.EstimateForTask(c.Request.Context(), taskID, req.CourierID, req.Origin)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"estimate":    estimate,
			"approximate": estimate.Approximate(),
		})
	}
}

func queryTime(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, invalid(key + " must be RFC3339")
	}
	return &t, nil
}
