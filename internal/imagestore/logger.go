package imagestore

import (
	"sync"

	"github.com/tphakala/foodnet-go/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the imagestore logger
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("imagestore")
	})
	return serviceLogger
}
