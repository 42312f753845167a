// SPDX-License-Identifier: Apache-2.0

// Package dbconn provides the DB abstraction every other package executes
// SQL through, a retrying wrapper around *sql.DB, and the connection-side
// interfaces (ConnectionProvider, Credential) that the rest of dbsentinel
// consumes but never implements itself.
package dbconn

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cloudflare/backoff"
	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/lib/pq"

	"github.com/dbsentinel/dbsentinel/pkg/schema"
)

const (
	maxBackoffDuration = 1 * time.Minute
	backoffInterval    = 1 * time.Second

	pgLockNotAvailableCode pq.ErrorCode = "55P03"
	mssqlLockTimeoutNumber int32        = 1222
)

// DB is the interface every component in dbsentinel executes SQL through. It
// is satisfied by *RDB and, in tests, by fakes.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	WithRetryableTransaction(ctx context.Context, f func(context.Context, *sql.Tx) error) error
	Engine() schema.Engine
	Close() error
}

// RDB wraps a *sql.DB for a specific engine and retries Exec/Query/
// transaction bodies with an exponential backoff whenever the database
// reports a lock-timeout, rather than surfacing the failure to the caller
// immediately.
type RDB struct {
	DB     *sql.DB
	engine schema.Engine
}

// NewRDB wraps an already-open *sql.DB.
func NewRDB(db *sql.DB, engine schema.Engine) *RDB {
	return &RDB{DB: db, engine: engine}
}

func (r *RDB) Engine() schema.Engine { return r.engine }

func (r *RDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)
	for {
		res, err := r.DB.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}
		if isLockTimeout(r.engine, err) {
			if werr := sleepCtx(ctx, b.Duration()); werr != nil {
				return nil, werr
			}
			continue
		}
		return nil, err
	}
}

func (r *RDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)
	for {
		rows, err := r.DB.QueryContext(ctx, query, args...)
		if err == nil {
			return rows, nil
		}
		if isLockTimeout(r.engine, err) {
			if werr := sleepCtx(ctx, b.Duration()); werr != nil {
				return nil, werr
			}
			continue
		}
		return nil, err
	}
}

func (r *RDB) WithRetryableTransaction(ctx context.Context, f func(context.Context, *sql.Tx) error) error {
	b := backoff.New(maxBackoffDuration, backoffInterval)
	for {
		tx, err := r.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		err = f(ctx, tx)
		if err == nil {
			return tx.Commit()
		}

		if rbErr := tx.Rollback(); rbErr != nil {
			return rbErr
		}

		if isLockTimeout(r.engine, err) {
			if werr := sleepCtx(ctx, b.Duration()); werr != nil {
				return werr
			}
			continue
		}
		return err
	}
}

func (r *RDB) Close() error { return r.DB.Close() }

func isLockTimeout(engine schema.Engine, err error) bool {
	switch engine {
	case schema.EnginePostgres:
		pqErr := &pq.Error{}
		return errors.As(err, &pqErr) && pqErr.Code == pgLockNotAvailableCode
	case schema.EngineSQLServer:
		mssqlErr := mssql.Error{}
		return errors.As(err, &mssqlErr) && mssqlErr.Number == mssqlLockTimeoutNumber
	default:
		return false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// ScanFirstValue scans the first column of the first row of rows into dest,
// assuming the query was written to return exactly one row with one column.
func ScanFirstValue[T any](rows *sql.Rows, dest *T) error {
	if rows.Next() {
		if err := rows.Scan(dest); err != nil {
			return err
		}
	}
	return rows.Err()
}
