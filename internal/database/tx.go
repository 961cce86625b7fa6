package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

type TxOptions struct {
	Isolation  sql.IsolationLevel
	ReadOnly   bool
	MaxRetries int
	// BaseDelay is the first backoff step; it doubles per attempt.
	BaseDelay time.Duration
}

// DefaultTxOptions is used by every write path. Row locks, not isolation,
// provide the ordering guarantees, so ReadCommitted is enough.
func DefaultTxOptions() TxOptions {
	return TxOptions{
		Isolation:  sql.LevelReadCommitted,
		MaxRetries: 3,
		BaseDelay:  50 * time.Millisecond,
	}
}

// SnapshotTxOptions reads several tables as of one snapshot.
func SnapshotTxOptions() TxOptions {
	return TxOptions{
		Isolation:  sql.LevelRepeatableRead,
		ReadOnly:   true,
		MaxRetries: 1,
		BaseDelay:  20 * time.Millisecond,
	}
}

// WithTransaction runs fn in a single transaction. Errors returned by fn are
// passed through untouched; begin/commit failures are persistence errors.
func WithTransaction(ctx context.Context, db *sql.DB, opts TxOptions, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: opts.Isolation, ReadOnly: opts.ReadOnly})
	if err != nil {
		return Persistence("begin transaction", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return Persistence("commit transaction", err)
	}
	committed = true
	return nil
}

// WithRetry re-runs the whole transaction when Postgres aborts it with a
// serialization failure or deadlock. fn must be safe to run more than once.
func WithRetry(ctx context.Context, db *sql.DB, opts TxOptions, fn func(*sql.Tx) error) error {
	var err error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if waitErr := sleep(ctx, retryDelay(opts.BaseDelay, attempt)); waitErr != nil {
				return waitErr
			}
		}

		err = WithTransaction(ctx, db, opts, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
	}

	return Persistence(fmt.Sprintf("max retries (%d) exceeded", opts.MaxRetries), err)
}

func retryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	d := base << (attempt - 1)
	return d + time.Duration(rand.Int63n(int64(d/4)+1))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
