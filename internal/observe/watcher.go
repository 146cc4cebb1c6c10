// Package observe implements the polling observers that surface review
// transitions made by another actor's session. There is no push channel in
// this system; a watcher is a fixed-interval re-read of the store, so a
// change becomes visible within one interval of the writer's write.
package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/homewell/rxreview/internal/rxqueue"
)

// DefaultRecordInterval is the submitter-side watch period for a single record.
const DefaultRecordInterval = 2 * time.Second

// DefaultCollectionInterval is the dashboard-style whole-collection period.
const DefaultCollectionInterval = 3 * time.Second

// Watcher polls a single prescription record by id and emits it whenever any
// field changes. Storage errors never cross the poll boundary; the watcher
// keeps reflecting whatever is currently persisted.
//
// Stop must be called when the observing side is torn down; a forgotten
// watcher leaks its timer, not correctness.
type Watcher struct {
	queue    *rxqueue.Queue
	id       string
	interval time.Duration
	logger   *zap.Logger

	updates chan *rxqueue.PrescriptionRecord
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWatcher creates a watcher for the record with the given id. A zero
// interval uses DefaultRecordInterval.
func NewWatcher(queue *rxqueue.Queue, id string, interval time.Duration, logger *zap.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultRecordInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		queue:    queue,
		id:       id,
		interval: interval,
		logger:   logger,
		updates:  make(chan *rxqueue.PrescriptionRecord, 8),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Updates returns the channel of observed record states. The first emission
// is the current state; subsequent ones follow field changes. Closed by Stop.
func (w *Watcher) Updates() <-chan *rxqueue.PrescriptionRecord {
	return w.updates
}

// Start begins polling.
func (w *Watcher) Start() {
	go w.pollLoop()
}

// Stop cancels polling, waits for the loop to exit, and closes Updates.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) pollLoop() {
	defer close(w.done)
	defer close(w.updates)

	var last []byte
	last = w.poll(last)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			last = w.poll(last)
		}
	}
}

// poll re-reads the record and emits it if its serialized form changed.
// Returns the fingerprint to compare against next tick.
func (w *Watcher) poll(last []byte) []byte {
	rec, err := w.queue.Get(w.ctx, w.id)
	if err != nil {
		// Not found or unreadable: nothing to reflect yet.
		return last
	}

	current, err := json.Marshal(rec)
	if err != nil {
		return last
	}
	if bytes.Equal(current, last) {
		return last
	}

	select {
	case w.updates <- rec:
	default:
		// Keep the old fingerprint so the next tick retries the emission.
		// Advancing it here would make a slow consumer miss a terminal
		// transition for good.
		w.logger.Warn("watch channel full, retrying next poll",
			zap.String("id", w.id))
		return last
	}
	return current
}

// CollectionWatcher polls the whole queue through a status filter, for
// dashboard-style views that watch every record at once.
type CollectionWatcher struct {
	queue    *rxqueue.Queue
	filter   string
	interval time.Duration
	logger   *zap.Logger

	updates chan []*rxqueue.PrescriptionRecord
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewCollectionWatcher creates a watcher over the filtered queue. A zero
// interval uses DefaultCollectionInterval.
func NewCollectionWatcher(queue *rxqueue.Queue, filter string, interval time.Duration, logger *zap.Logger) *CollectionWatcher {
	if interval <= 0 {
		interval = DefaultCollectionInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &CollectionWatcher{
		queue:    queue,
		filter:   filter,
		interval: interval,
		logger:   logger,
		updates:  make(chan []*rxqueue.PrescriptionRecord, 4),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Updates returns the channel of observed snapshots. Closed by Stop.
func (w *CollectionWatcher) Updates() <-chan []*rxqueue.PrescriptionRecord {
	return w.updates
}

// Start begins polling.
func (w *CollectionWatcher) Start() {
	go w.pollLoop()
}

// Stop cancels polling, waits for the loop to exit, and closes Updates.
func (w *CollectionWatcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *CollectionWatcher) pollLoop() {
	defer close(w.done)
	defer close(w.updates)

	var last []byte
	last = w.poll(last)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			last = w.poll(last)
		}
	}
}

func (w *CollectionWatcher) poll(last []byte) []byte {
	records, err := w.queue.ListByStatus(w.ctx, w.filter, "")
	if err != nil {
		return last
	}

	current, err := json.Marshal(records)
	if err != nil {
		return last
	}
	if bytes.Equal(current, last) {
		return last
	}

	select {
	case w.updates <- records:
	default:
		// Same retry discipline as the record watcher: do not advance the
		// fingerprint past a snapshot nobody received.
		w.logger.Warn("collection watch channel full, retrying next poll",
			zap.String("filter", w.filter))
		return last
	}
	return current
}
