// SPDX-License-Identifier: Apache-2.0

// Package extractor implements SchemaExtractor: pulling a vendor-neutral
// schema.DatabaseSchema out of a live connection without ever locking a
// user table or scanning row contents.
package extractor

import (
	"context"
	"fmt"

	"github.com/dbsentinel/dbsentinel/pkg/dbconn"
	"github.com/dbsentinel/dbsentinel/pkg/schema"
)

// Extractor pulls structural metadata from a live connection and builds a
// vendor-neutral schema.DatabaseSchema. Implementations never read table
// row contents and never hold a lock for longer than a single catalog
// query.
type Extractor interface {
	Extract(ctx context.Context, db dbconn.DB, databaseName string) (*schema.DatabaseSchema, error)
}

// ExtractionError wraps a failure encountered while extracting schema
// metadata, recording which object the extractor was working on when it
// failed.
type ExtractionError struct {
	Stage string
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed at stage %q: %v", e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// For lets callers select an Extractor implementation by engine without
// naming the unexported Postgres/SQL Server implementations directly.
func For(engine schema.Engine) (Extractor, error) {
	switch engine {
	case schema.EnginePostgres:
		return newPostgresExtractor(), nil
	case schema.EngineSQLServer:
		return newSQLServerExtractor(), nil
	default:
		return nil, fmt.Errorf("extractor: unsupported engine %q", engine)
	}
}
