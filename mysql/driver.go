// Package mysql provides a durable, MySQL-backed queue driver. Any
// number of worker processes may share one queue: Pop claims a row
// with SELECT ... FOR UPDATE SKIP LOCKED and deletes it inside the
// same transaction, so the selection and the removal are one atomic
// step and an envelope can never be handed to two workers.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/jevido/queuekit"
	"github.com/jevido/queuekit/mysql/internal"
)

const jobsTable = "queuekit_jobs"

const schema = `CREATE TABLE IF NOT EXISTS queuekit_jobs (
id bigint NOT NULL AUTO_INCREMENT,
queue varchar(255) NOT NULL,
job mediumtext NOT NULL,
attempts int NOT NULL DEFAULT 0,
priority int NOT NULL DEFAULT 0,
available_at bigint NOT NULL,
created_at bigint NOT NULL,
last_error text,
PRIMARY KEY (id),
INDEX ix_jobs_queue_available_priority (queue, available_at, priority));`

// Driver implements the queuekit.Driver interface on top of MySQL.
// One Driver instance serves one named queue; instances for different
// queues may share the same database.
type Driver struct {
	queue   string
	dsn     string
	backoff queuekit.BackoffFunc

	mu sync.Mutex // guards db during Connect/Disconnect
	db *sql.DB

	nowFn func() time.Time // testing hook
}

// DriverOption is an options provider for Driver.
type DriverOption func(*Driver)

// NewDriver creates a MySQL driver for the given queue. The DSN must
// be in go-sql-driver format and name a database; connecting happens
// in Connect.
func NewDriver(queue, dsn string, options ...DriverOption) (*Driver, error) {
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: parse dsn: %w", err)
	}
	if cfg.DBName == "" {
		return nil, errors.New("mysql: no database specified")
	}
	d := &Driver{
		queue:   queue,
		dsn:     dsn,
		backoff: queuekit.ExponentialBackoff,
		nowFn:   time.Now,
	}
	for _, opt := range options {
		opt(d)
	}
	return d, nil
}

// SetBackoffFunc overrides the retry backoff function.
func SetBackoffFunc(fn queuekit.BackoffFunc) DriverOption {
	return func(d *Driver) {
		if fn != nil {
			d.backoff = fn
		}
	}
}

// Connect creates the database and the jobs table if they are absent,
// then opens the connection pool. Calling Connect on an already
// connected driver is a no-op.
func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db != nil {
		return nil
	}

	// First connect without the database name to create it if needed.
	cfg, err := mysqldriver.ParseDSN(d.dsn)
	if err != nil {
		return err
	}
	dbname := cfg.DBName
	cfg.DBName = ""
	setupdb, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return err
	}
	_, err = setupdb.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", dbname))
	if cerr := setupdb.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	db, err := sql.Open("mysql", d.dsn)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return err
	}
	d.db = db
	return nil
}

// Disconnect closes the connection pool.
func (d *Driver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

// Push inserts an envelope row and returns its auto-assigned id.
func (d *Driver) Push(ctx context.Context, job *queuekit.Job, delay time.Duration) (int64, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return 0, fmt.Errorf("mysql: marshal job: %w", err)
	}
	now := d.nowFn()
	var id int64
	err = internal.RunWithRetry(ctx, d.db, func(ctx context.Context) error {
		res, err := sq.Insert(jobsTable).
			Columns("queue", "job", "attempts", "priority", "available_at", "created_at").
			Values(d.queue, string(payload), job.Attempts, job.Priority, now.Add(delay).UnixMilli(), now.UnixMilli()).
			RunWith(d.db).
			ExecContext(ctx)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	}, internal.Retryable)
	if err != nil {
		return 0, fmt.Errorf("mysql: push job: %w", err)
	}
	return id, nil
}

// Pop claims the next eligible envelope: highest priority first, ties
// broken by earliest availability, then by insertion order. The select
// and the delete run in one transaction with FOR UPDATE SKIP LOCKED,
// so concurrent workers each claim distinct rows.
func (d *Driver) Pop(ctx context.Context) (*queuekit.Envelope, error) {
	var env *queuekit.Envelope
	err := internal.RunInTxWithRetry(ctx, d.db, func(ctx context.Context, tx *sql.Tx) error {
		env = nil
		row := sq.Select("id", "queue", "job", "attempts", "priority", "available_at", "created_at", "last_error").
			From(jobsTable).
			Where(sq.Eq{"queue": d.queue}).
			Where(sq.LtOrEq{"available_at": d.nowFn().UnixMilli()}).
			OrderBy("priority DESC", "available_at ASC", "id ASC").
			Limit(1).
			Suffix("FOR UPDATE SKIP LOCKED").
			RunWith(tx).
			QueryRowContext(ctx)
		e, err := scanEnvelope(row)
		if err != nil {
			if internal.IsNotFound(err) {
				return nil
			}
			return err
		}
		_, err = sq.Delete(jobsTable).
			Where(sq.Eq{"id": e.ID}).
			RunWith(tx).
			ExecContext(ctx)
		if err != nil {
			return err
		}
		env = e
		return nil
	}, internal.Retryable)
	if err != nil {
		return nil, fmt.Errorf("mysql: pop: %w", err)
	}
	return env, nil
}

// Fail bumps the attempt counter and, while the retry budget lasts,
// inserts a fresh delayed envelope. The failed envelope's row was
// already removed by Pop; a retry is a new row, never an update.
func (d *Driver) Fail(ctx context.Context, env *queuekit.Envelope, jobErr error) (queuekit.FailResult, error) {
	job := env.Job
	job.Attempts++
	if job.Attempts > job.MaxRetries {
		return queuekit.FailResult{Retrying: false}, nil
	}

	delay := d.backoff(job.RetryDelay, job.Attempts)
	payload, err := json.Marshal(job)
	if err != nil {
		return queuekit.FailResult{}, fmt.Errorf("mysql: marshal job: %w", err)
	}
	now := d.nowFn()
	err = internal.RunWithRetry(ctx, d.db, func(ctx context.Context) error {
		_, err := sq.Insert(jobsTable).
			Columns("queue", "job", "attempts", "priority", "available_at", "created_at", "last_error").
			Values(d.queue, string(payload), job.Attempts, env.Priority, now.Add(delay).UnixMilli(), env.CreatedAt.UnixMilli(), jobErr.Error()).
			RunWith(d.db).
			ExecContext(ctx)
		return err
	}, internal.Retryable)
	if err != nil {
		return queuekit.FailResult{}, fmt.Errorf("mysql: requeue job: %w", err)
	}
	return queuekit.FailResult{Retrying: true, Delay: delay}, nil
}

// Complete acknowledges success. Pop already deleted the row, so this
// is a documented no-op.
func (d *Driver) Complete(ctx context.Context, env *queuekit.Envelope) error {
	return nil
}

// Size returns the number of envelopes stored for this queue.
func (d *Driver) Size(ctx context.Context) (int, error) {
	var n int
	err := sq.Select("COUNT(*)").
		From(jobsTable).
		Where(sq.Eq{"queue": d.queue}).
		RunWith(d.db).
		QueryRowContext(ctx).
		Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("mysql: size: %w", err)
	}
	return n, nil
}

// Clear removes all envelopes of this queue and returns the count.
func (d *Driver) Clear(ctx context.Context) (int, error) {
	res, err := sq.Delete(jobsTable).
		Where(sq.Eq{"queue": d.queue}).
		RunWith(d.db).
		ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("mysql: clear: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Stats counts available and delayed envelopes in one scan.
func (d *Driver) Stats(ctx context.Context) (*queuekit.QueueStats, error) {
	now := d.nowFn().UnixMilli()
	stats := &queuekit.QueueStats{Name: d.queue}
	err := sq.Select(
		"COUNT(*)",
		fmt.Sprintf("COALESCE(SUM(available_at <= %d), 0)", now),
	).
		From(jobsTable).
		Where(sq.Eq{"queue": d.queue}).
		RunWith(d.db).
		QueryRowContext(ctx).
		Scan(&stats.Size, &stats.Available)
	if err != nil {
		return nil, fmt.Errorf("mysql: stats: %w", err)
	}
	stats.Delayed = stats.Size - stats.Available
	return stats, nil
}

// scanEnvelope reads one envelope row.
func scanEnvelope(row sq.RowScanner) (*queuekit.Envelope, error) {
	var (
		env         queuekit.Envelope
		payload     string
		attempts    int
		availableAt int64
		createdAt   int64
		lastError   sql.NullString
	)
	err := row.Scan(&env.ID, &env.Queue, &payload, &attempts, &env.Priority, &availableAt, &createdAt, &lastError)
	if err != nil {
		return nil, err
	}
	var job queuekit.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("mysql: unmarshal job: %w", err)
	}
	// The attempts column is authoritative; the serialized job is a
	// snapshot from push time.
	job.Attempts = attempts
	env.Job = &job
	env.AvailableAt = time.UnixMilli(availableAt)
	env.CreatedAt = time.UnixMilli(createdAt)
	env.LastError = lastError.String
	return &env, nil
}
