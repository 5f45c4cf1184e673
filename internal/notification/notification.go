// Package notification delivers push notifications about retraining
// through shoutrrr services.
package notification

import (
	"context"
	"sync"

	"github.com/tphakala/foodnet-go/internal/logger"
)

// Notification is one message to deliver.
type Notification struct {
	Title   string
	Message string
}

// Sender delivers notifications. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(ctx context.Context, n *Notification) error
}

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the notification logger
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("notification")
	})
	return serviceLogger
}
