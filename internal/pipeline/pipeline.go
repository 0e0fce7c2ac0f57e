package pipeline

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cbram/travel-companion-sub002/internal/tracking"
)

var sleepFn = time.Sleep

type Result int

const (
	ResultSucceeded Result = iota
	// ResultExhausted means the batch could not be committed within the
	// retry budget and was moved to the outbox. Data is deferred, not lost.
	ResultExhausted
	// ResultDropped means every waypoint in the batch failed validation.
	ResultDropped
)

// Outbox is the durable side-buffer for batches the store refused.
type Outbox interface {
	Push(ctx context.Context, batch *tracking.Batch) error
	Pending(ctx context.Context) (int, error)
	Replay(ctx context.Context, commit func(context.Context, *tracking.Batch) error) error
}

// Worker owns all store commits. Batches queue FIFO behind a single
// goroutine, so exactly one commit is in flight at a time and batches reach
// the store in creation order.
type Worker struct {
	store       Store
	outbox      Outbox
	maxAttempts int
	backoff     time.Duration

	queue    chan *tracking.Batch
	commitMu sync.Mutex

	onCommitted func(*tracking.Batch)
	onFatal     func(error)
}

func NewWorker(store Store, outbox Outbox, maxAttempts int, backoff time.Duration) *Worker {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}
	return &Worker{
		store:       store,
		outbox:      outbox,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		queue:       make(chan *tracking.Batch, 64),
	}
}

// SetCommittedHook registers a callback invoked after every successful
// commit. Must be called before Start.
func (w *Worker) SetCommittedHook(fn func(*tracking.Batch)) { w.onCommitted = fn }

// SetFatalHook registers a callback for the one unrecoverable condition:
// the outbox itself cannot accept a deferred batch. Must be called before
// Start.
func (w *Worker) SetFatalHook(fn func(error)) { w.onFatal = fn }

// Start consumes the batch queue until the context is cancelled.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case batch := <-w.queue:
				w.commitMu.Lock()
				w.commit(ctx, batch)
				w.commitMu.Unlock()
			}
		}
	}()
}

var errQueueFull = errors.New("pipeline: batch queue full")

// Enqueue hands a batch to the writer. A batch enqueued while a commit is
// in flight waits its turn; commits never interleave. The send never blocks
// the caller: when the queue is full the batch is deferred to the outbox on
// the writer's own lock, because the sample path may be holding the engine
// lock the fatal hook needs.
func (w *Worker) Enqueue(batch *tracking.Batch) {
	select {
	case w.queue <- batch:
	default:
		go func() {
			w.commitMu.Lock()
			defer w.commitMu.Unlock()
			w.exhaust(context.Background(), batch, errQueueFull)
		}()
	}
}

// CommitNow attempts a single synchronous commit with no retries, for the
// terminating lifecycle transition. Whatever cannot be committed goes to
// the outbox.
func (w *Worker) CommitNow(ctx context.Context, batch *tracking.Batch) error {
	w.commitMu.Lock()
	defer w.commitMu.Unlock()

	batch.AttemptCount++
	if err := w.store.CommitBatch(ctx, batch); err != nil {
		w.exhaust(ctx, batch, err)
		return err
	}
	w.notifyCommitted(batch)
	return nil
}

// ReplayOutbox re-commits deferred batches in insertion order. Entries are
// removed only after a successful commit; the idempotent batch key makes a
// repeat replay after a crash safe.
func (w *Worker) ReplayOutbox(ctx context.Context) error {
	if w.outbox == nil {
		return nil
	}

	w.commitMu.Lock()
	defer w.commitMu.Unlock()

	return w.outbox.Replay(ctx, func(ctx context.Context, batch *tracking.Batch) error {
		if err := w.store.CommitBatch(ctx, batch); err != nil {
			return err
		}
		w.notifyCommitted(batch)
		return nil
	})
}

// Pending reports the number of waypoints waiting in the outbox.
func (w *Worker) Pending(ctx context.Context) (int, error) {
	if w.outbox == nil {
		return 0, nil
	}
	return w.outbox.Pending(ctx)
}

func (w *Worker) commit(ctx context.Context, batch *tracking.Batch) Result {
	// Fail closed: the owning trip must resolve in the current scope. One
	// re-resolve by stable identity recovers the object-not-found class.
	ok, err := w.store.ResolveTrip(ctx, batch.TripID)
	if err == nil && !ok {
		ok, err = w.store.ResolveTrip(ctx, batch.TripID)
	}
	if err != nil || !ok {
		return w.exhaust(ctx, batch, err)
	}

	refreshed := false
	backoff := w.backoff
	var lastErr error

	for attempt := 0; attempt < w.maxAttempts; attempt++ {
		batch.AttemptCount++
		lastErr = w.store.CommitBatch(ctx, batch)
		if lastErr == nil {
			batch.AttemptCount = 0
			w.notifyCommitted(batch)
			return ResultSucceeded
		}

		switch Classify(lastErr) {
		case ClassTransient:
			sleepFn(backoff)
			backoff *= 2

		case ClassStaleReference:
			if refreshed {
				return w.exhaust(ctx, batch, lastErr)
			}
			refreshed = true
			if ok, rerr := w.store.ResolveTrip(ctx, batch.TripID); rerr != nil || !ok {
				return w.exhaust(ctx, batch, lastErr)
			}
			// retry immediately, no backoff

		case ClassValidation:
			return w.salvage(ctx, batch, lastErr)

		default:
			return w.exhaust(ctx, batch, lastErr)
		}
	}

	return w.exhaust(ctx, batch, lastErr)
}

// salvage drops waypoints that fail validation and commits the remainder
// once. Validation errors never burn the retry budget.
func (w *Worker) salvage(ctx context.Context, batch *tracking.Batch, cause error) Result {
	valid := make([]tracking.Waypoint, 0, len(batch.Waypoints))
	for _, wp := range batch.Waypoints {
		if wp.Valid() {
			valid = append(valid, wp)
		}
	}

	dropped := len(batch.Waypoints) - len(valid)
	log.Printf("pipeline: validation failure, dropping %d of %d waypoints: %v", dropped, len(batch.Waypoints), cause)

	if len(valid) == 0 {
		return ResultDropped
	}

	remainder := tracking.NewBatch(batch.SessionID, batch.TripID, valid)
	remainder.Mode = batch.Mode
	remainder.SessionStart = batch.SessionStart
	remainder.AttemptCount = batch.AttemptCount
	if err := w.store.CommitBatch(ctx, remainder); err != nil {
		return w.exhaust(ctx, remainder, err)
	}
	w.notifyCommitted(remainder)
	return ResultSucceeded
}

// exhaust moves the batch verbatim into the outbox. Only an outbox write
// failure is fatal, because then the durability guarantee itself is broken.
func (w *Worker) exhaust(ctx context.Context, batch *tracking.Batch, cause error) Result {
	if cause != nil {
		log.Printf("pipeline: commit failed (%s), deferring batch %s: %v", Classify(cause), batch.Key, cause)
	}

	if w.outbox == nil {
		w.notifyFatal(cause)
		return ResultExhausted
	}
	if err := w.outbox.Push(ctx, batch); err != nil {
		w.notifyFatal(err)
	}
	return ResultExhausted
}

func (w *Worker) notifyCommitted(batch *tracking.Batch) {
	if w.onCommitted != nil {
		w.onCommitted(batch)
	}
}

func (w *Worker) notifyFatal(err error) {
	if w.onFatal != nil {
		w.onFatal(err)
	}
}
