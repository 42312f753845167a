// SPDX-License-Identifier: Apache-2.0

package dbconn

import (
	"context"
	"database/sql"

	"github.com/dbsentinel/dbsentinel/pkg/schema"
)

// FakeDB is a no-op implementation of DB for unit tests that exercise
// control flow without a real database.
type FakeDB struct {
	EngineName schema.Engine
}

func (db *FakeDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, nil
}

func (db *FakeDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, nil
}

func (db *FakeDB) WithRetryableTransaction(ctx context.Context, f func(context.Context, *sql.Tx) error) error {
	return f(ctx, nil)
}

func (db *FakeDB) Engine() schema.Engine { return db.EngineName }

func (db *FakeDB) Close() error { return nil }
