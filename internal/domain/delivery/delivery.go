package delivery

import "errors"

// Delivery states for the notification_deliveries dedupe table.
var (
	ErrAlreadySent = errors.New("notification already sent")
	ErrInProgress  = errors.New("notification delivery in progress")
)
