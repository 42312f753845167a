// SPDX-License-Identifier: Apache-2.0

// Package testutils provides a shared Postgres test container for package
// tests that need a real database connection, with one container shared
// across a package's test binary and a fresh database created per test.
package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const defaultPostgresVersion = "16.3"

var sharedConnStr string

// SharedTestMain starts a single Postgres container shared by every test in
// the calling package. Call it from a TestMain.
func SharedTestMain(m *testing.M) {
	ctx := context.Background()

	pgVersion := os.Getenv("DBSENTINEL_TEST_POSTGRES_VERSION")
	if pgVersion == "" {
		pgVersion = defaultPostgresVersion
	}

	waitForLogs := wait.
		ForLog("database system is ready to accept connections").
		WithOccurrence(2).
		WithStartupTimeout(30 * time.Second)

	ctr, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:"+pgVersion),
		testcontainers.WithWaitStrategy(waitForLogs),
	)
	if err != nil {
		os.Exit(1)
	}

	sharedConnStr, err = ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		os.Exit(1)
	}

	exitCode := m.Run()

	if err := ctr.Terminate(ctx); err != nil {
		log.Printf("failed to terminate test container: %v", err)
	}
	os.Exit(exitCode)
}

// WithConnection opens a fresh connection to a newly created database on
// the shared container and passes it to fn, closing it and dropping the
// database on return.
func WithConnection(t *testing.T, fn func(conn *sql.DB, connStr string)) {
	t.Helper()
	ctx := context.Background()

	admin, err := sql.Open("postgres", sharedConnStr)
	if err != nil {
		t.Fatal(err)
	}
	defer admin.Close()

	dbName := fmt.Sprintf("dbsentinel_test_%d", time.Now().UnixNano())
	if _, err := admin.ExecContext(ctx, "CREATE DATABASE "+dbName); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_, _ = admin.ExecContext(context.Background(), "DROP DATABASE IF EXISTS "+dbName)
	})

	u, err := url.Parse(sharedConnStr)
	if err != nil {
		t.Fatal(err)
	}
	u.Path = "/" + dbName
	connStr := u.String()

	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	fn(conn, connStr)
}
