// Package metrics provides custom Prometheus metrics for the foodnet components.
package metrics

import (
	"github.com/tphakala/foodnet-go/internal/errors"
)

// Status label values shared by the collectors.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Request kinds handled by the pipeline.
const (
	KindImage      = "image"
	KindCorrection = "correction"
)

// errorType returns a bounded label value for err.
func errorType(err error) string {
	if err == nil {
		return "none"
	}
	var enhanced *errors.EnhancedError
	if errors.As(err, &enhanced) {
		return string(enhanced.Category)
	}
	return "unknown"
}
