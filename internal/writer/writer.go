package writer

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned by Submit once shutdown has begun.
var ErrClosed = errors.New("writer: closed")

type outcome struct {
	lastID int64
	err    error
}

type request struct {
	statement string
	args      []any
	result    chan outcome
}

// Writer owns the sole mutating handle to the embedded database and executes
// write statements one at a time, in submission order. Callers submit from any
// number of goroutines; each suspends on its own result channel until the loop
// has executed its statement. Reads never go through the Writer.
type Writer struct {
	db     *sql.DB
	logger *zap.Logger

	mu      sync.Mutex
	pending []*request
	closed  bool
	wake    chan struct{}
	drained chan struct{}
}

// New starts the writer loop over the given handle. The handle must be
// configured for a single connection; the Writer is its only mutating user
// from this point on.
func New(db *sql.DB, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Writer{
		db:      db,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		drained: make(chan struct{}),
	}
	go w.loop()
	return w
}

// Submit enqueues a write and suspends the calling goroutine until the writer
// loop has executed it. On success it returns the engine-assigned last insert
// id. A failed statement delivers its error only to this caller; the loop
// keeps processing subsequent requests. If ctx is cancelled while waiting the
// caller unblocks, but the write itself still executes.
func (w *Writer) Submit(ctx context.Context, statement string, args ...any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	req := &request{
		statement: statement,
		args:      args,
		result:    make(chan outcome, 1),
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return 0, ErrClosed
	}
	w.pending = append(w.pending, req)
	w.mu.Unlock()
	w.signal()

	select {
	case out := <-req.result:
		return out.lastID, out.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close stops intake, drains every request enqueued before the call, and then
// returns. Submissions racing with or following Close fail with ErrClosed.
// The database handle itself is closed by its owner after Close returns.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.drained
		return
	}
	w.closed = true
	w.mu.Unlock()
	w.signal()
	<-w.drained
}

func (w *Writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Writer) loop() {
	defer close(w.drained)
	for {
		req, done := w.next()
		if req == nil {
			if done {
				return
			}
			<-w.wake
			continue
		}
		w.execute(req)
	}
}

// next pops the oldest pending request. done is true once the writer is
// closed and the backlog is empty.
func (w *Writer) next() (*request, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil, w.closed
	}
	req := w.pending[0]
	w.pending[0] = nil
	w.pending = w.pending[1:]
	return req, false
}

func (w *Writer) execute(req *request) {
	res, err := w.db.Exec(req.statement, req.args...)
	if err != nil {
		w.logger.Debug("write failed", zap.String("statement", req.statement), zap.Error(err))
		req.result <- outcome{err: err}
		return
	}
	lastID, err := res.LastInsertId()
	req.result <- outcome{lastID: lastID, err: err}
}
