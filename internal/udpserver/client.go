package udpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/tphakala/foodnet-go/internal/conf"
	"github.com/tphakala/foodnet-go/internal/errors"
	"github.com/tphakala/foodnet-go/internal/logger"
)

const (
	defaultClientTimeout = 30 * time.Second
	maxReplyBytes        = 65536
)

// Client talks to a datagram server. Every request uses its own socket, so
// concurrent requests from one Client never share reassembly state.
type Client struct {
	target    string
	chunkSize int
	timeout   time.Duration
}

// NewClient returns a client for target (host:port).
func NewClient(target string, chunkSize int, timeout time.Duration) *Client {
	if chunkSize <= 0 {
		chunkSize = conf.DefaultChunkSize
	}
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	return &Client{target: target, chunkSize: chunkSize, timeout: timeout}
}

// SendImage uploads data in chunks followed by END and returns the raw JSON
// reply.
func (c *Client) SendImage(ctx context.Context, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.Newf("image is empty").Category(errors.CategoryValidation).Build()
	}
	if IsCorrection(data) || IsEnd(data[:min(len(data), c.chunkSize)]) {
		// would be misread by the server
		return nil, errors.Newf("image payload starts like a control message").
			Category(errors.CategoryValidation).
			Build()
	}

	return c.exchange(ctx, func(conn *net.UDPConn) error {
		chunks := 0
		for off := 0; off < len(data); off += c.chunkSize {
			end := min(off+c.chunkSize, len(data))
			if _, err := conn.Write(data[off:end]); err != nil {
				return err
			}
			chunks++
		}
		if _, err := conn.Write(EndMarker); err != nil {
			return err
		}
		GetLogger().Debug("image sent",
			logger.String("target", c.target),
			logger.Int("bytes", len(data)),
			logger.Int("chunks", chunks))
		return nil
	})
}

// SendCorrection sends msg as one JSON datagram and returns the raw reply.
// msg may be a []byte holding JSON or any value that marshals to an object.
func (c *Client) SendCorrection(ctx context.Context, msg any) ([]byte, error) {
	var payload []byte
	switch v := msg.(type) {
	case []byte:
		payload = v
	case json.RawMessage:
		payload = v
	default:
		var err error
		if payload, err = json.Marshal(v); err != nil {
			return nil, errors.New(fmt.Errorf("encode correction: %w", err)).
				Category(errors.CategoryValidation).
				Build()
		}
	}
	if !IsCorrection(payload) {
		return nil, errors.Newf("correction must be a JSON object").
			Category(errors.CategoryValidation).
			Build()
	}

	return c.exchange(ctx, func(conn *net.UDPConn) error {
		_, err := conn.Write(payload)
		return err
	})
}

// exchange dials the target, runs send and waits for one reply datagram.
func (c *Client) exchange(ctx context.Context, send func(*net.UDPConn) error) ([]byte, error) {
	raddr, err := net.ResolveUDPAddr("udp", c.target)
	if err != nil {
		return nil, c.networkError("resolve", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, c.networkError("dial", err)
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, c.networkError("set deadline", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := send(conn); err != nil {
		return nil, c.wrap(ctx, "send", err)
	}

	buf := make([]byte, maxReplyBytes)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, c.wrap(ctx, "read reply", err)
	}
	return buf[:n], nil
}

func (c *Client) wrap(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.New(fmt.Errorf("%s: %w", op, ctxErr)).
			Category(errors.CategoryCancellation).
			Build()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.New(fmt.Errorf("%s: %w", op, err)).
			Category(errors.CategoryTimeout).
			NetworkContext(c.target, c.timeout).
			Build()
	}
	return c.networkError(op, err)
}

func (c *Client) networkError(op string, err error) error {
	return errors.New(fmt.Errorf("%s %s: %w", op, c.target, err)).
		Category(errors.CategoryNetwork).
		NetworkContext(c.target, c.timeout).
		Build()
}
