package services

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/logger"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/metrics"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/models"
)

// ActivityHandler processes one dispatched activity record.
type ActivityHandler func(ctx context.Context, rec models.ActivityRecord)

// Dispatcher is a bounded queue drained by a fixed worker pool. Every worker
// owns one shard of the queue and records are sharded by client id, so the
// records of a client are handled one at a time and in arrival order.
// Enqueue never blocks; a full shard drops the record.
type Dispatcher struct {
	shards []chan models.ActivityRecord
	handle ActivityHandler

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewDispatcher returns a dispatcher holding at most size queued records
// spread over the given number of workers.
func NewDispatcher(size, workers int, handle ActivityHandler) *Dispatcher {
	if size <= 0 {
		size = 1024
	}
	if workers <= 0 {
		workers = 1
	}
	perShard := size / workers
	if perShard < 1 {
		perShard = 1
	}
	shards := make([]chan models.ActivityRecord, workers)
	for i := range shards {
		shards[i] = make(chan models.ActivityRecord, perShard)
	}
	return &Dispatcher{shards: shards, handle: handle}
}

// Start launches the workers. Workers stop when ctx is done or after Stop drains the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for _, shard := range d.shards {
		d.wg.Add(1)
		go d.work(ctx, shard)
	}
}

// Enqueue offers rec to its client's shard and reports whether it was accepted.
func (d *Dispatcher) Enqueue(rec models.ActivityRecord) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.shards[d.shardFor(rec.ClientID)] <- rec:
		return true
	default:
		metrics.IncDetectorDropped()
		logger.Component("dispatcher").
			WithField("client_id", rec.ClientID).
			WithField("action_type", rec.ActionType).
			Warn("detector queue full, dropping activity")
		return false
	}
}

func (d *Dispatcher) shardFor(clientID string) int {
	if len(d.shards) == 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(clientID))
	return int(h.Sum32() % uint32(len(d.shards)))
}

// Stop rejects new records and waits for queued ones to be processed.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, shard := range d.shards {
		close(shard)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) work(ctx context.Context, shard <-chan models.ActivityRecord) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-shard:
			if !ok {
				return
			}
			d.run(ctx, rec)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, rec models.ActivityRecord) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncDetectorError("panic")
			logger.Component("dispatcher").
				WithField("client_id", rec.ClientID).
				WithField("action_type", rec.ActionType).
				WithError(fmt.Errorf("%v", r)).
				Error("activity handler panicked")
		}
	}()
	d.handle(ctx, rec)
}
