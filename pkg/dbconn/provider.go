// SPDX-License-Identifier: Apache-2.0

package dbconn

import (
	"context"
	"database/sql"
	"fmt"

	// Driver registration only; all access goes through database/sql.
	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/lib/pq"

	"github.com/dbsentinel/dbsentinel/pkg/schema"
)

// Credential resolves the secret material needed to open a connection.
// dbsentinel never stores a password in a Connection record: callers supply
// a Credential implementation (environment variable, secrets manager,
// vault lease, ...) and dbsentinel asks for the current value at dial time.
type Credential interface {
	// Resolve returns the current password/token for the given connection
	// ID. Implementations may cache, rotate, or fetch remotely.
	Resolve(ctx context.Context, connectionID string) (string, error)
}

// ConnectionInfo is the non-secret half of a database connection
// definition.
type ConnectionInfo struct {
	ID       string
	Engine   schema.Engine
	Host     string
	Port     int
	Database string
	Username string
	TenantID string
}

// ConnectionProvider resolves a logical connection ID into a live DB handle.
// Components that need to talk to a target database (extractor, executor,
// orchestrator) depend on this interface rather than on any concrete driver
// or connection pool, so they can be tested against a fake.
type ConnectionProvider interface {
	Connect(ctx context.Context, connectionID string) (DB, ConnectionInfo, error)
}

// Open dials a database/sql connection for the given engine and DSN and
// wraps it in an RDB. The returned *sql.DB is left open; callers should
// Close the returned DB when done.
func Open(engine schema.Engine, dsn string) (*RDB, error) {
	driverName, err := driverFor(engine)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("dbconn: open %s: %w", engine, err)
	}

	return NewRDB(sqlDB, engine), nil
}

func driverFor(engine schema.Engine) (string, error) {
	switch engine {
	case schema.EnginePostgres:
		return "postgres", nil
	case schema.EngineSQLServer:
		return "sqlserver", nil
	default:
		return "", fmt.Errorf("dbconn: unsupported engine %q", engine)
	}
}
