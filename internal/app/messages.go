package app

import (
	"time"

	"lock-approach.klederson.com/internal/controller"
)

// TickMsg triggers a frame update.
type TickMsg time.Time

// StatusMsg carries a controller status update.
type StatusMsg controller.Status

// NotificationMsg carries a lock payload passed through by the controller.
type NotificationMsg string

// ControllerErrorMsg reports that the controller stopped with an error.
type ControllerErrorMsg struct {
	Err error
}
