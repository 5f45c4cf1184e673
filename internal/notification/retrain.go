package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tphakala/foodnet-go/internal/conf"
	"github.com/tphakala/foodnet-go/internal/logger"
	"github.com/tphakala/foodnet-go/internal/retrain"
)

const defaultSendTimeout = 10 * time.Second

// RetrainNotifier reports finished retrain jobs.
type RetrainNotifier struct {
	sender       Sender
	onlyFailures bool
	timeout      time.Duration
}

// NewRetrainNotifier returns a notifier using sender.
func NewRetrainNotifier(sender Sender, settings *conf.NotifySettings) *RetrainNotifier {
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &RetrainNotifier{
		sender:       sender,
		onlyFailures: settings.OnlyFailures,
		timeout:      timeout,
	}
}

// NewFromSettings builds a shoutrrr backed notifier, or nil when
// notifications are disabled.
func NewFromSettings(settings *conf.NotifySettings) (*RetrainNotifier, error) {
	if !settings.Enabled {
		return nil, nil
	}
	provider, err := NewShoutrrrProvider(settings.URLs, settings.Timeout)
	if err != nil {
		return nil, err
	}
	return NewRetrainNotifier(provider, settings), nil
}

// JobFinished sends a notification for job. It matches retrain.Options.OnFinish.
func (n *RetrainNotifier) JobFinished(job retrain.Job) {
	if n == nil {
		return
	}
	if n.onlyFailures && job.Status != retrain.StatusFailed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if err := n.sender.Send(ctx, formatJob(job)); err != nil {
		GetLogger().Warn("failed to send retrain notification",
			logger.String("job_id", job.ID),
			logger.Error(err))
		return
	}
	GetLogger().Debug("retrain notification sent", logger.String("job_id", job.ID))
}

func formatJob(job retrain.Job) *Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "Job %s %s after %s.", job.ID, job.Status, job.Duration.Round(time.Second))
	if len(job.Reasons) > 0 {
		fmt.Fprintf(&b, " Triggered by %d request(s), first: %s.", len(job.Reasons), job.Reasons[0])
	}
	if job.Error != "" {
		fmt.Fprintf(&b, " Error: %s", job.Error)
	}
	return &Notification{
		Title:   fmt.Sprintf("FoodNet retrain %s", job.Status),
		Message: b.String(),
	}
}
