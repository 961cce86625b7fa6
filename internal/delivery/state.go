package delivery

import (
	"time"

	"github.com/safar/go-order-delivery/internal/database"
	"github.com/safar/go-order-delivery/internal/models"
)

// transitions lists every legal move. Tasks only advance
// pending -> picked_up -> delivered, or leave pending for cancelled.
var transitions = map[models.TaskState][]models.TaskState{
	models.TaskPending:  {models.TaskPickedUp, models.TaskCancelled},
	models.TaskPickedUp: {models.TaskDelivered},
}

func CanTransition(from, to models.TaskState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Advance moves task to target, stamping the matching timestamp. The task is
// left untouched when the move is illegal.
func Advance(task *models.DeliveryTask, target models.TaskState, now time.Time) error {
	if !CanTransition(task.State, target) {
		return database.ErrIllegalTransition
	}

	switch target {
	case models.TaskPickedUp:
		task.PickedUpAt = &now
	case models.TaskDelivered:
		task.CompletedAt = &now
	case models.TaskCancelled:
		task.CancelledAt = &now
	}
	task.State = target
	return nil
}

// OrderStatusFor is the order status mirrored from a task state.
func OrderStatusFor(state models.TaskState) models.OrderStatus {
	switch state {
	case models.TaskPickedUp:
		return models.OrderStatusInTransit
	case models.TaskDelivered:
		return models.OrderStatusDelivered
	case models.TaskCancelled:
		return models.OrderStatusCancelled
	default:
		return models.OrderStatusPending
	}
}
