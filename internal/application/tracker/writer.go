package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/studyhub/study-companion/internal/domain/shared"
	"github.com/studyhub/study-companion/internal/domain/study"
	"github.com/studyhub/study-companion/pkg/logger"
)

// writeOp is one queued store mutation. A barrier op carries only done.
type writeOp struct {
	key    string
	value  string
	remove bool
	done   chan struct{}
}

// writer applies store mutations in FIFO order on its own goroutine, so the
// last queued write for a key is the one that lands. Failed writes are logged
// and dropped.
type writer struct {
	store   study.Store
	log     *logger.Logger
	timeout time.Duration

	mu      sync.Mutex
	queue   []writeOp
	closed  bool
	signal  chan struct{}
	stopped chan struct{}
}

func newWriter(store study.Store, log *logger.Logger, timeout time.Duration) *writer {
	w := &writer{
		store:   store,
		log:     log,
		timeout: timeout,
		signal:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go w.run()
	return w
}

// set queues a write. It never blocks on I/O.
func (w *writer) set(key, value string) {
	w.push(writeOp{key: key, value: value})
}

// remove queues a delete.
func (w *writer) remove(key string) {
	w.push(writeOp{key: key, remove: true})
}

func (w *writer) push(op writeOp) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.log.Warn("write queued after close, dropping", logger.Key(op.key))
		return false
	}
	w.queue = append(w.queue, op)
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
	return true
}

// drain blocks until every op queued before the call has been applied.
func (w *writer) drain(ctx context.Context) error {
	done := make(chan struct{})
	if !w.push(writeOp{done: done}) {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close drains the queue and stops the goroutine.
func (w *writer) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.stopped
		return
	}
	w.closed = true
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
	<-w.stopped
}

func (w *writer) run() {
	defer close(w.stopped)

	for {
		w.mu.Lock()
		batch := w.queue
		w.queue = nil
		closed := w.closed
		w.mu.Unlock()

		for _, op := range batch {
			w.apply(op)
		}

		if closed && len(batch) == 0 {
			return
		}
		if len(batch) > 0 {
			continue
		}
		<-w.signal
	}
}

func (w *writer) apply(op writeOp) {
	if op.done != nil {
		close(op.done)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	var err error
	if op.remove {
		err = w.store.Remove(ctx, op.key)
	} else {
		err = w.store.Set(ctx, op.key, op.value)
	}
	if err != nil {
		w.log.Error("store write failed",
			logger.Key(op.key),
			logger.Bool("remove", op.remove),
			logger.Err(shared.ErrStorageWrite.Wrap(err)),
		)
	}
}
