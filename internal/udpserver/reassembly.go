package udpserver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/foodnet-go/internal/logger"
	"github.com/tphakala/foodnet-go/internal/observability/metrics"
)

// transfer is one chunked upload in progress. Only the listener goroutine
// appends; the sweeper reads the atomic fields when it evicts.
type transfer struct {
	data      []byte
	size      atomic.Int64
	chunks    atomic.Int32
	started   time.Time
	finished  atomic.Bool // removed by END, not by expiry
	discarded bool        // exceeded the size limit, waiting for END
}

// transfers holds pending uploads keyed by origin address. Entries expire
// after the idle timeout; expiry is driven by sweep, there is no janitor
// goroutine.
type transfers struct {
	items    *cache.Cache
	maxBytes int
	metrics  *metrics.DatagramMetrics
	expired  atomic.Int64
	mu       sync.Mutex // serializes sweep
}

func newTransfers(idle time.Duration, maxBytes int, m *metrics.DatagramMetrics) *transfers {
	t := &transfers{
		items:    cache.New(idle, 0),
		maxBytes: maxBytes,
		metrics:  m,
	}
	t.items.OnEvicted(t.evicted)
	return t
}

func (t *transfers) evicted(origin string, v any) {
	tr, ok := v.(*transfer)
	if !ok || tr.finished.Load() {
		return
	}
	t.expired.Add(1)
	t.metrics.RecordTransfer(metrics.TransferExpired, int(tr.size.Load()))
	GetLogger().Warn("dropping incomplete transfer",
		logger.String("origin", origin),
		logger.Int64("bytes", tr.size.Load()),
		logger.Int("chunks", int(tr.chunks.Load())),
		logger.Duration("age", time.Since(tr.started)))
}

// get returns the live transfer for origin.
func (t *transfers) get(origin string) (*transfer, bool) {
	v, ok := t.items.Get(origin)
	if !ok {
		return nil, false
	}
	tr, ok := v.(*transfer)
	return tr, ok
}

// start opens a transfer for origin with its first chunk.
func (t *transfers) start(origin string, chunk []byte) (*transfer, bool) {
	tr := &transfer{started: time.Now()}
	ok := t.appendTo(tr, chunk)
	t.items.SetDefault(origin, tr)
	return tr, ok
}

// append adds chunk to the transfer and refreshes its idle deadline. It
// returns false when the transfer is over the size limit; the transfer then
// swallows chunks until END.
func (t *transfers) append(origin string, tr *transfer, chunk []byte) bool {
	ok := t.appendTo(tr, chunk)
	t.items.SetDefault(origin, tr)
	return ok
}

func (t *transfers) appendTo(tr *transfer, chunk []byte) bool {
	if tr.discarded {
		return true
	}
	tr.chunks.Add(1)
	if t.maxBytes > 0 && len(tr.data)+len(chunk) > t.maxBytes {
		tr.discarded = true
		tr.data = nil
		t.metrics.RecordTransfer(metrics.TransferOversized, int(tr.size.Load()))
		return false
	}
	tr.data = append(tr.data, chunk...)
	tr.size.Store(int64(len(tr.data)))
	return true
}

// finish removes the transfer for origin and returns its payload. discarded
// is true for transfers that went over the size limit.
func (t *transfers) finish(origin string, tr *transfer) (payload []byte, discarded bool) {
	tr.finished.Store(true)
	t.items.Delete(origin)
	if tr.discarded {
		return nil, true
	}
	t.metrics.RecordTransfer(metrics.TransferCompleted, len(tr.data))
	return tr.data, false
}

// sweep drops expired transfers.
func (t *transfers) sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items.DeleteExpired()
	t.metrics.SetPendingTransfers(t.items.ItemCount())
}

// len returns the number of stored transfers, including expired ones not yet
// swept.
func (t *transfers) len() int {
	return t.items.ItemCount()
}
