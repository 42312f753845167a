// SPDX-License-Identifier: Apache-2.0

package schema

// Snapshot is a named, timestamped capture of a DatabaseSchema together with
// its content hash, persisted so that later operations (diffing, migration
// planning) can refer back to a point-in-time structure without
// re-extracting it.
type Snapshot struct {
	ID           string          `json:"id"`
	ConnectionID string          `json:"connectionId"`
	TakenAt      string          `json:"takenAt"`
	ContentHash  string          `json:"contentHash"`
	Schema       *DatabaseSchema `json:"schema"`
	Label        string          `json:"label,omitempty"`
}

// NewSnapshot builds a Snapshot from an already-extracted schema, computing
// its content hash.
func NewSnapshot(id, connectionID, takenAt string, d *DatabaseSchema) *Snapshot {
	return &Snapshot{
		ID:           id,
		ConnectionID: connectionID,
		TakenAt:      takenAt,
		ContentHash:  ContentHash(d),
		Schema:       d,
	}
}
