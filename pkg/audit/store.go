// SPDX-License-Identifier: Apache-2.0

package audit

import "context"

// Store is the persistence boundary an AuditLog writes through and reads
// back from. dbsentinel ships one concrete implementation, pkg/audit/pgstore,
// backed by Postgres.
type Store interface {
	Write(ctx context.Context, entry *Entry) error
	WriteBatch(ctx context.Context, entries []*Entry) error
	Query(ctx context.Context, q Query) ([]*Entry, error)
	GetByID(ctx context.Context, id string) (*Entry, error)
	GetLastHash(ctx context.Context, tenantID string) (string, error)
	VerifyChain(ctx context.Context, tenantID, startID, endID string) (bool, error)
}
