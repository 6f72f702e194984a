// Package session implements the session and managed-transaction retry
// layer on top of a ConnectionProvider: auto-commit and explicit
// transactions, bookmark propagation, and the RunRead/RunWrite retry loop
// with exponential backoff and jitter.
package session

import (
	"context"
	"time"

	boltErr "github.com/cypherbolt/bolt-go/errors"
	"github.com/cypherbolt/bolt-go/internal/conn"
	"github.com/cypherbolt/bolt-go/logger"
	"github.com/cypherbolt/bolt-go/routing"
)

// Record is one row streamed back from a RECORD response. The protocol
// layer hands back the raw unpacked value; callers index it per the query's
// RETURN clause.
type Record []any

// Result streams the records of a single query, then exposes the summary
// metadata from the SUCCESS that terminated it.
type Result struct {
	records []Record
	summary map[string]any
	err     error
}

// onNext is used as conn.RunObserver's Next callback.
func (r *Result) onNext(record any) {
	if fields, ok := record.([]any); ok {
		r.records = append(r.records, Record(fields))
		return
	}
	r.records = append(r.records, Record{record})
}

func (r *Result) onCompleted(meta map[string]any) {
	r.summary = meta
}

func (r *Result) onError(err error) {
	r.err = err
}

// Records returns every record collected so far. Call only after the
// session has awaited this result's completion (Session.Run and
// Transaction.Run do so before returning).
func (r *Result) Records() []Record { return r.records }

// Summary returns the SUCCESS metadata that terminated the stream (bookmark,
// counters, etc.), or nil if the query failed.
func (r *Result) Summary() map[string]any { return r.summary }

// Err returns the query's terminal error, if any.
func (r *Result) Err() error { return r.err }

// Session is a single logical conversation with the cluster: one access
// mode, one database, one bookmark chain, and one lazily-acquired
// connection shared by every query run through it. Sessions are not safe
// for concurrent use, matching the protocol's single-connection-per-session
// design.
type Session struct {
	provider ConnectionProvider
	mode     routing.AccessMode
	database string
	bookmarks []string

	holder *ConnectionHolder
	retry  RetryConfig
	log    logger.Logger

	closed bool
}

// Config configures a new Session.
type Config struct {
	Mode      routing.AccessMode
	Database  string
	Bookmarks []string
	Retry     RetryConfig
	Logger    logger.Logger
}

// New constructs a Session bound to provider. Mode defaults to Write, per
// the protocol's default access mode for auto-commit queries and
// unspecified transaction functions.
func New(provider ConnectionProvider, cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	s := &Session{
		provider:  provider,
		mode:      cfg.Mode,
		database:  cfg.Database,
		bookmarks: append([]string(nil), cfg.Bookmarks...),
		retry:     cfg.Retry,
		log:       cfg.Logger,
	}
	s.holder = NewConnectionHolder(provider, s.mode)
	return s
}

// LastBookmarks returns the bookmark chain as of the most recently completed
// transaction.
func (s *Session) LastBookmarks() []string {
	return append([]string(nil), s.bookmarks...)
}

// Close releases the session's held connection. A Session must not be used
// afterward.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.holder.Close()
}

// Run executes query as an auto-commit statement (RUN + PULL_ALL) and
// returns its full result. It is not retried: callers that need retry
// semantics use RunRead/RunWrite with a transaction function instead.
func (s *Session) Run(ctx context.Context, query string, params map[string]any) (*Result, error) {
	c, err := s.holder.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.holder.Release()

	res := &Result{}
	meta := s.runMeta()

	if err := c.Run(query, params, meta, conn.RunObserver{
		Next:      res.onNext,
		Completed: res.onCompleted,
		Failed:    res.onError,
	}); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	if err := c.PullAll(conn.RunObserver{
		Next: res.onNext,
		Completed: func(m map[string]any) {
			res.onCompleted(m)
			close(done)
		},
		Failed: func(err error) {
			res.onError(err)
			close(done)
		},
	}); err != nil {
		return nil, err
	}

	if err := c.Flush(); err != nil {
		return nil, err
	}
	<-done

	if res.err != nil {
		res.err = s.handleFailure(res.err, c)
		return res, res.err
	}
	s.captureBookmark(res.summary)
	return res, nil
}

// TransactionFunc is a unit of work run inside a managed transaction. It
// receives the open Transaction and returns its own result alongside any
// error; a non-nil error triggers a rollback. A panic is not recovered here
// and does not roll the transaction back.
type TransactionFunc func(tx *Transaction) (any, error)

// RunRead executes work inside a managed read transaction, retrying on
// retryable failures per the session's RetryConfig.
func (s *Session) RunRead(ctx context.Context, work TransactionFunc) (any, error) {
	return s.runManaged(ctx, routing.Read, work)
}

// RunWrite executes work inside a managed write transaction, retrying on
// retryable failures per the session's RetryConfig.
func (s *Session) RunWrite(ctx context.Context, work TransactionFunc) (any, error) {
	return s.runManaged(ctx, routing.Write, work)
}

func (s *Session) runManaged(ctx context.Context, mode routing.AccessMode, work TransactionFunc) (any, error) {
	deadline := time.Now().Add(s.retry.MaxRetryTime)
	delay := s.retry.InitialDelay

	for attempt := 1; ; attempt++ {
		result, err := s.attemptOnce(ctx, mode, work)
		if err == nil {
			return result, nil
		}

		be, retryable := asRetryable(err)
		if !retryable {
			return nil, err
		}

		if time.Now().After(deadline) {
			return nil, boltErr.New(boltErr.CodeServiceUnavailable, "transaction retry time limit exceeded", be)
		}

		s.log.Warn("retrying managed transaction after a retryable failure", logger.Fields{
			"attempt": attempt,
			"error":   err.Error(),
		})

		sleep := jitteredDelay(delay, s.retry.Jitter)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}

		delay = time.Duration(float64(delay) * s.retry.Multiplier)
		if delay > s.retry.MaxRetryTime {
			delay = s.retry.MaxRetryTime
		}
	}
}

func (s *Session) attemptOnce(ctx context.Context, mode routing.AccessMode, work TransactionFunc) (result any, err error) {
	tx, err := s.beginTransaction(ctx, mode)
	if err != nil {
		return nil, err
	}

	result, err = work(tx)
	if err != nil {
		tx.Rollback(ctx)
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Session) beginTransaction(ctx context.Context, mode routing.AccessMode) (*Transaction, error) {
	holder := NewConnectionHolder(s.provider, mode)
	c, err := holder.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	var beginErr error
	if err := c.Begin(s.runMeta(), conn.RunObserver{
		Completed: func(map[string]any) { close(done) },
		Failed: func(err error) {
			beginErr = err
			close(done)
		},
	}); err != nil {
		holder.Release()
		return nil, err
	}
	if err := c.Flush(); err != nil {
		holder.Release()
		return nil, err
	}
	<-done
	if beginErr != nil {
		translated := s.handleFailure(beginErr, c)
		holder.Release()
		return nil, translated
	}

	return &Transaction{session: s, holder: holder, conn: c}, nil
}

// Transaction is one explicit BEGIN..COMMIT/ROLLBACK unit opened by a
// managed transaction function.
type Transaction struct {
	session *Session
	holder  *ConnectionHolder
	conn    *conn.Connection
	closed  bool
}

// Run executes query within the transaction and returns its full result. A
// failure is fed back through the session's routing error handler before
// being returned, same as an auto-commit Run or a Commit failure.
func (tx *Transaction) Run(query string, params map[string]any) (*Result, error) {
	res := &Result{}

	if err := tx.conn.Run(query, params, nil, conn.RunObserver{
		Next:      res.onNext,
		Completed: res.onCompleted,
		Failed:    res.onError,
	}); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	if err := tx.conn.PullAll(conn.RunObserver{
		Next: res.onNext,
		Completed: func(m map[string]any) {
			res.onCompleted(m)
			close(done)
		},
		Failed: func(err error) {
			res.onError(err)
			close(done)
		},
	}); err != nil {
		return nil, err
	}
	if err := tx.conn.Flush(); err != nil {
		return nil, err
	}
	<-done

	if res.err != nil {
		res.err = tx.session.handleFailure(res.err, tx.conn)
		return res, res.err
	}
	return res, nil
}

// Commit finalizes the transaction.
func (tx *Transaction) Commit(ctx context.Context) error {
	if tx.closed {
		return nil
	}
	tx.closed = true
	defer tx.holder.Release()

	done := make(chan struct{})
	var commitErr error
	var meta map[string]any
	if err := tx.conn.Commit(conn.RunObserver{
		Completed: func(m map[string]any) { meta = m; close(done) },
		Failed: func(err error) {
			commitErr = err
			close(done)
		},
	}); err != nil {
		return err
	}
	if err := tx.conn.Flush(); err != nil {
		return err
	}
	<-done

	if commitErr != nil {
		return tx.session.handleFailure(commitErr, tx.conn)
	}
	tx.session.captureBookmark(meta)
	return nil
}

// Rollback aborts the transaction. Errors are logged, not returned: a
// rollback failure after a work-function error must not mask the original
// cause.
func (tx *Transaction) Rollback(ctx context.Context) {
	if tx.closed {
		return
	}
	tx.closed = true
	defer tx.holder.Release()

	done := make(chan struct{})
	if err := tx.conn.Rollback(conn.RunObserver{
		Completed: func(map[string]any) { close(done) },
		Failed: func(err error) { close(done) },
	}); err != nil {
		tx.session.log.Warn("failed to send ROLLBACK", logger.Fields{"error": err.Error()})
		return
	}
	if err := tx.conn.Flush(); err != nil {
		tx.session.log.Warn("failed to flush ROLLBACK", logger.Fields{"error": err.Error()})
		return
	}
	<-done
}

func (s *Session) runMeta() map[string]any {
	meta := map[string]any{}
	if s.database != "" {
		meta["db"] = s.database
	}
	if len(s.bookmarks) > 0 {
		bms := make([]any, len(s.bookmarks))
		for i, b := range s.bookmarks {
			bms[i] = b
		}
		meta["bookmarks"] = bms
	}
	return meta
}

func (s *Session) captureBookmark(meta map[string]any) {
	if meta == nil {
		return
	}
	if bm, ok := meta["bookmark"].(string); ok && bm != "" {
		s.bookmarks = []string{bm}
	}
}

// handleFailure feeds routing-class failures back to the connection
// provider and returns the error the caller should actually surface:
// ServiceUnavailable forgets the whole address and is returned unchanged, a
// NotALeader-class write failure forgets only the writer role and is
// translated into a new SessionExpired error wrapping the original (per
// spec.md §4.5/§7's error-to-routing feedback table), and a SessionExpired
// failure forgets the address and is likewise returned unchanged. Any other
// error is returned unchanged.
func (s *Session) handleFailure(err error, c *conn.Connection) error {
	be, ok := err.(boltErr.Error)
	if !ok {
		return err
	}
	switch {
	case be.IsCode(boltErr.CodeServiceUnavailable):
		s.provider.Forget(c.Address())
		return err
	case isNotALeader(be):
		s.provider.ForgetWriter(c.Address())
		return boltErr.New(boltErr.CodeSessionExpired,
			"write target is no longer the leader for this database", be)
	case be.IsCode(boltErr.CodeSessionExpired):
		s.provider.Forget(c.Address())
		return err
	default:
		return err
	}
}

func isNotALeader(be boltErr.Error) bool {
	if !be.IsCode(boltErr.CodeClientError) {
		return false
	}
	return containsString(be.Error(), "NotALeader") || containsString(be.Error(), "ForbiddenOnReadOnlyDatabase")
}

func containsString(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

// asRetryable reports whether err should be retried by the managed
// transaction loop. NotALeader-class failures are already translated into
// CodeSessionExpired by handleFailure before they ever reach this function,
// so no special-casing is needed here; the taxonomy's own Retryable table
// (errors.boltError.Retryable) is authoritative.
func asRetryable(err error) (boltErr.Error, bool) {
	be, ok := err.(boltErr.Error)
	if !ok {
		return nil, false
	}
	return be, be.Retryable()
}
