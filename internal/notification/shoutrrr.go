package notification

import (
	"context"
	"io"
	"log"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/foodnet-go/internal/errors"
)

// ShoutrrrProvider sends via nicholas-fedor/shoutrrr.
// Creates a single sender for multiple URLs.
type ShoutrrrProvider struct {
	urls    []string
	sender  *router.ServiceRouter
	timeout time.Duration
}

// NewShoutrrrProvider validates urls and builds the sender.
func NewShoutrrrProvider(urls []string, timeout time.Duration) (*ShoutrrrProvider, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("at least one notification URL is required").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sp := &ShoutrrrProvider{urls: slices.Clone(urls), timeout: timeout}
	sender, err := shoutrrr.CreateSender(sp.urls...)
	if err != nil {
		return nil, errors.New(sp.sanitize(err)).
			Category(errors.CategoryConfiguration).
			Build()
	}
	sp.sender = sender
	if timeout > 0 {
		sp.sender.Timeout = timeout
	}
	sp.sender.SetLogger(log.New(io.Discard, "", 0))
	return sp, nil
}

// Send implements Sender. The router applies its own timeout.
func (s *ShoutrrrProvider) Send(_ context.Context, n *Notification) error {
	params := stypes.Params{}
	if n.Title != "" {
		params.SetTitle(n.Title)
	}
	for _, err := range s.sender.Send(n.Message, &params) {
		if err != nil {
			return errors.New(s.sanitize(err)).
				Category(errors.CategoryNetwork).
				Build()
		}
	}
	return nil
}

// sanitize removes configured URLs, which may carry tokens, from err.
func (s *ShoutrrrProvider) sanitize(err error) error {
	msg := err.Error()
	for _, u := range s.urls {
		if u == "" {
			continue
		}
		msg = strings.ReplaceAll(msg, u, redactURL(u))
	}
	return errors.NewStd(msg)
}

func redactURL(u string) string {
	if i := strings.Index(u, "://"); i >= 0 {
		return u[:i+3] + "***"
	}
	return "***"
}
