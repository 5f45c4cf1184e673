package udpserver

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"runtime/debug"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tphakala/foodnet-go/internal/conf"
	"github.com/tphakala/foodnet-go/internal/errors"
	"github.com/tphakala/foodnet-go/internal/logger"
	"github.com/tphakala/foodnet-go/internal/observability/metrics"
	"github.com/tphakala/foodnet-go/internal/pipeline"
)

const (
	readBufferBytes = 4 << 20
	limiterIdle     = 10 * time.Minute
	maxSweepPeriod  = time.Second
)

// Handler processes units of work. pipeline.Service implements it.
type Handler interface {
	HandleImage(ctx context.Context, origin string, data []byte) pipeline.Response
	HandleCorrection(ctx context.Context, origin string, payload []byte) pipeline.Response
}

type unit struct {
	kind    Kind
	origin  *net.UDPAddr
	payload []byte
	queued  time.Time
}

// Server owns one UDP socket. A single listener goroutine reads datagrams
// and reassembles transfers, a bounded pool of workers runs the handler, and
// replies go back to the origin on the same socket.
type Server struct {
	settings conf.ServerSettings
	handler  Handler
	metrics  *metrics.DatagramMetrics

	conn      *net.UDPConn
	transfers *transfers
	limiters  *cache.Cache
	work      chan unit
}

// New binds the socket described by settings.
func New(settings *conf.ServerSettings, handler Handler, m *metrics.DatagramMetrics) (*Server, error) {
	if handler == nil {
		return nil, errors.NewStd("udpserver: handler is required")
	}

	addr, err := net.ResolveUDPAddr("udp", settings.ListenAddr())
	if err != nil {
		return nil, errors.New(fmt.Errorf("udpserver: resolve %s: %w", settings.ListenAddr(), err)).
			Category(errors.CategoryNetwork).
			Build()
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.New(fmt.Errorf("udpserver: listen: %w", err)).
			Category(errors.CategoryNetwork).
			NetworkContext(settings.ListenAddr(), 0).
			Build()
	}
	if err := conn.SetReadBuffer(readBufferBytes); err != nil {
		GetLogger().Debug("could not raise socket read buffer", logger.Error(err))
	}

	s := &Server{
		settings:  *settings,
		handler:   handler,
		metrics:   m,
		conn:      conn,
		transfers: newTransfers(settings.TransferTimeout, settings.MaxTransferBytes, m),
		work:      make(chan unit, max(settings.QueueSize, 1)),
	}
	if settings.RateLimit.Enabled {
		s.limiters = cache.New(limiterIdle, 0)
	}
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Run serves until ctx is cancelled, then closes the socket. Units of work
// still queued at shutdown are dropped.
func (s *Server) Run(ctx context.Context) error {
	log := GetLogger()
	log.Info("datagram server listening",
		logger.String("address", s.Addr().String()),
		logger.Int("workers", max(s.settings.Workers, 1)),
		logger.Int("queue_size", cap(s.work)),
		logger.Duration("transfer_timeout", s.settings.TransferTimeout))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return s.conn.Close()
	})
	g.Go(func() error {
		return s.listen(gctx)
	})
	g.Go(func() error {
		s.sweep(gctx)
		return nil
	})
	for i := range max(s.settings.Workers, 1) {
		g.Go(func() error {
			s.worker(gctx, i)
			return nil
		})
	}

	err := g.Wait()
	log.Info("datagram server stopped")
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// listen is the only goroutine reading the socket and touching transfer
// buffers.
func (s *Server) listen(ctx context.Context) error {
	log := GetLogger()
	buf := make([]byte, max(s.settings.MaxDatagram, 1))

	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.metrics.IncrementReadErrors()
			log.Warn("datagram read failed", logger.Error(err))
			continue
		}
		s.metrics.RecordDatagram(n)
		s.receive(ctx, addr, bytes.Clone(buf[:n]))
	}
}

// receive classifies one datagram from addr.
func (s *Server) receive(ctx context.Context, addr *net.UDPAddr, payload []byte) {
	origin := addr.String()
	log := GetLogger()

	if tr, ok := s.transfers.get(origin); ok {
		if IsEnd(payload) {
			data, discarded := s.transfers.finish(origin, tr)
			if discarded {
				log.Debug("END for discarded transfer", logger.String("origin", origin))
				return
			}
			log.Debug("transfer complete",
				logger.String("origin", origin),
				logger.Int("bytes", len(data)),
				logger.Int("chunks", int(tr.chunks.Load())))
			s.dispatch(ctx, unit{kind: KindImage, origin: addr, payload: data})
			return
		}
		if !s.transfers.append(origin, tr, payload) {
			s.rejectOversized(origin, addr)
		}
		return
	}

	switch {
	case IsCorrection(payload):
		s.dispatch(ctx, unit{kind: KindCorrection, origin: addr, payload: payload})
	case IsEnd(payload):
		s.metrics.IncrementRejected(metrics.RejectStrayEnd)
		log.Debug("END without pending transfer", logger.String("origin", origin))
	default:
		if _, ok := s.transfers.start(origin, payload); !ok {
			s.rejectOversized(origin, addr)
		}
		s.metrics.SetPendingTransfers(s.transfers.len())
	}
}

func (s *Server) rejectOversized(origin string, addr *net.UDPAddr) {
	GetLogger().Warn("transfer exceeds size limit, discarding",
		logger.String("origin", origin),
		logger.Int("limit_bytes", s.settings.MaxTransferBytes))
	s.reply(addr, pipeline.ErrorResponse{Error: MsgPayloadTooLarge})
}

// dispatch hands u to the worker pool without blocking.
func (s *Server) dispatch(ctx context.Context, u unit) {
	if ctx.Err() != nil {
		return
	}
	if !s.allow(u.origin) {
		s.metrics.IncrementRejected(metrics.RejectRateLimited)
		GetLogger().Warn("rate limit exceeded", logger.String("origin", u.origin.String()))
		s.reply(u.origin, pipeline.ErrorResponse{Error: MsgRateLimited})
		return
	}

	u.queued = time.Now()
	select {
	case s.work <- u:
		s.metrics.SetQueueDepth(len(s.work))
	default:
		s.metrics.IncrementRejected(metrics.RejectBusy)
		GetLogger().Warn("worker queue full, rejecting request",
			logger.String("origin", u.origin.String()),
			logger.String("kind", u.kind.String()))
		s.reply(u.origin, pipeline.ErrorResponse{Error: MsgServerBusy})
	}
}

// allow applies the per-origin-IP rate limit.
func (s *Server) allow(addr *net.UDPAddr) bool {
	if s.limiters == nil {
		return true
	}
	key := addr.IP.String()
	if v, ok := s.limiters.Get(key); ok {
		limiter := v.(*rate.Limiter)
		s.limiters.SetDefault(key, limiter)
		return limiter.Allow()
	}

	rl := s.settings.RateLimit
	limiter := rate.NewLimiter(rate.Limit(rl.PerSecond), max(rl.Burst, 1))
	s.limiters.SetDefault(key, limiter)
	return limiter.Allow()
}

func (s *Server) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-s.work:
			s.metrics.SetQueueDepth(len(s.work))
			s.process(ctx, id, u)
		}
	}
}

// process runs one unit of work. A panic is answered with an internal error
// and never takes the worker down.
func (s *Server) process(ctx context.Context, id int, u unit) {
	origin := u.origin.String()
	defer func() {
		if r := recover(); r != nil {
			GetLogger().Error("worker recovered from panic",
				logger.Int("worker", id),
				logger.String("origin", origin),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
			s.reply(u.origin, pipeline.ErrorResponse{Error: pipeline.MsgInternal})
		}
	}()

	GetLogger().Debug("processing unit of work",
		logger.Int("worker", id),
		logger.String("origin", origin),
		logger.String("kind", u.kind.String()),
		logger.Int("bytes", len(u.payload)),
		logger.Duration("queued", time.Since(u.queued)))

	var resp pipeline.Response
	switch u.kind {
	case KindCorrection:
		resp = s.handler.HandleCorrection(ctx, origin, u.payload)
	default:
		resp = s.handler.HandleImage(ctx, origin, u.payload)
	}
	s.reply(u.origin, resp)
}

// reply sends resp to addr. Write errors are logged only.
func (s *Server) reply(addr *net.UDPAddr, resp pipeline.Response) {
	data := pipeline.Encode(resp)
	if _, err := s.conn.WriteToUDP(data, addr); err != nil {
		s.metrics.IncrementReplyErrors()
		GetLogger().Warn("failed to send reply",
			logger.String("origin", addr.String()),
			logger.Int("bytes", len(data)),
			logger.Error(err))
	}
}

// sweep expires idle transfers and limiters.
func (s *Server) sweep(ctx context.Context) {
	period := maxSweepPeriod
	if half := s.settings.TransferTimeout / 2; half > 0 && half < period {
		period = half
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.transfers.sweep()
			if s.limiters != nil {
				s.limiters.DeleteExpired()
			}
		}
	}
}

// Close releases the socket. Run closes it on its own when ctx ends.
func (s *Server) Close() error {
	err := s.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
