package categories

import (
	"sync"

	"github.com/tphakala/foodnet-go/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the package logger
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("categories")
	})
	return serviceLogger
}
