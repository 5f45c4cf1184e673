package conf

import (
	"fmt"
	"net"
	"strings"

	"github.com/tphakala/foodnet-go/internal/errors"
)

// ValidationError collects every problem found in a Settings value
type ValidationError struct {
	Errors []string
}

func (ve *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(ve.Errors, "; ")
}

// ErrorCategory implements errors.CategorizedError.
func (ve *ValidationError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryConfiguration
}

func (ve *ValidationError) add(format string, args ...any) {
	ve.Errors = append(ve.Errors, fmt.Sprintf(format, args...))
}

// ValidateSettings validates settings and returns a *ValidationError
// listing all problems, or nil.
func ValidateSettings(settings *Settings) error {
	ve := &ValidationError{}

	validateServerSettings(&settings.Server, ve)
	validateModelSettings(&settings.Model, ve)
	validateStorageSettings(&settings.Storage, ve)
	validateRetrainSettings(&settings.Retrain, ve)
	validateBridgeSettings(&settings.Bridge, ve)

	if settings.WebServer.Enabled {
		if _, _, err := net.SplitHostPort(settings.WebServer.Listen); err != nil {
			ve.add("webserver.listen %q is not host:port", settings.WebServer.Listen)
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateServerSettings(s *ServerSettings, ve *ValidationError) {
	if s.Port < 1 || s.Port > 65535 {
		ve.add("server.port must be between 1 and 65535, got %d", s.Port)
	}
	if s.MaxDatagram < len("END") || s.MaxDatagram > DefaultMaxDatagram {
		ve.add("server.maxdatagram must be between 3 and %d, got %d", DefaultMaxDatagram, s.MaxDatagram)
	}
	if s.ChunkSize < 1 || s.ChunkSize > s.MaxDatagram {
		ve.add("server.chunksize must be between 1 and server.maxdatagram, got %d", s.ChunkSize)
	}
	if s.TransferTimeout <= 0 {
		ve.add("server.transfertimeout must be positive")
	}
	if s.MaxTransferBytes < 1 {
		ve.add("server.maxtransferbytes must be positive")
	}
	if s.Workers < 1 {
		ve.add("server.workers must be at least 1, got %d", s.Workers)
	}
	if s.QueueSize < 1 {
		ve.add("server.queuesize must be at least 1, got %d", s.QueueSize)
	}
	if s.RequestTimeout <= 0 {
		ve.add("server.requesttimeout must be positive")
	}
	if s.RateLimit.Enabled && (s.RateLimit.PerSecond <= 0 || s.RateLimit.Burst < 1) {
		ve.add("server.ratelimit requires persecond > 0 and burst >= 1")
	}
}

func validateModelSettings(m *ModelSettings, ve *ValidationError) {
	if m.Path == "" {
		ve.add("model.path must be set")
	}
	if m.Threshold < 0 || m.Threshold > 1 {
		ve.add("model.threshold must be between 0 and 1, got %g", m.Threshold)
	}
	if m.InputSize < 1 {
		ve.add("model.inputsize must be positive, got %d", m.InputSize)
	}
	if m.Threads < 0 {
		ve.add("model.threads must not be negative")
	}
}

func validateStorageSettings(s *StorageSettings, ve *ValidationError) {
	switch s.Type {
	case "sqlite":
		if s.SQLite.Path == "" {
			ve.add("storage.sqlite.path must be set")
		}
	case "mysql":
		if s.MySQL.Host == "" || s.MySQL.Database == "" {
			ve.add("storage.mysql requires host and database")
		}
	default:
		ve.add("storage.type must be sqlite or mysql, got %q", s.Type)
	}
	if s.ImageDir == "" {
		ve.add("storage.imagedir must be set")
	}
}

func validateRetrainSettings(r *RetrainSettings, ve *ValidationError) {
	if r.Enabled && len(r.Command) == 0 {
		ve.add("retrain.command must be set when retraining is enabled")
	}
	if r.Timeout <= 0 {
		ve.add("retrain.timeout must be positive")
	}
	if r.QueueSize < 1 {
		ve.add("retrain.queuesize must be at least 1")
	}
	if r.History < 0 {
		ve.add("retrain.history must not be negative")
	}
	if r.Notify.Enabled && len(r.Notify.URLs) == 0 {
		ve.add("retrain.notify.urls must list at least one URL when notifications are enabled")
	}
}

func validateBridgeSettings(b *BridgeSettings, ve *ValidationError) {
	if b.QoS < 0 || b.QoS > 2 {
		ve.add("bridge.qos must be 0, 1 or 2, got %d", b.QoS)
	}
	if b.Timeout <= 0 {
		ve.add("bridge.timeout must be positive")
	}
}
