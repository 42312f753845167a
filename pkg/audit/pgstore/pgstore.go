// SPDX-License-Identifier: Apache-2.0

// Package pgstore is dbsentinel's Postgres-backed implementation of
// audit.Store: an idempotent CREATE TABLE IF NOT EXISTS bootstrap for an
// append-only audit_log table with JSONB payload columns.
package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/dbsentinel/dbsentinel/pkg/audit"
)

const sqlInit = `
CREATE TABLE IF NOT EXISTS audit_log (
	id                    TEXT PRIMARY KEY,
	"timestamp"           TIMESTAMPTZ NOT NULL,
	user_id               TEXT,
	user_email            TEXT,
	user_ip               TEXT,
	user_agent            TEXT,
	session_id            TEXT,
	tenant_id             TEXT NOT NULL,
	action                TEXT NOT NULL,
	severity              TEXT NOT NULL,
	resource_type         TEXT NOT NULL,
	resource_id           TEXT NOT NULL,
	resource_name         TEXT,
	details               JSONB,
	old_value             JSONB,
	new_value             JSONB,
	success               BOOLEAN NOT NULL,
	error_message         TEXT,
	previous_hash         TEXT,
	entry_hash            TEXT NOT NULL,
	compliance_frameworks TEXT[] NOT NULL DEFAULT '{}',
	retention_days        INT NOT NULL DEFAULT 365,
	immutable             BOOLEAN NOT NULL DEFAULT true
);

CREATE INDEX IF NOT EXISTS audit_log_tenant_ts_idx ON audit_log (tenant_id, "timestamp");
`

// Store is a Postgres-backed audit.Store.
type Store struct {
	DB *sql.DB
}

// New wraps an already-open *sql.DB. Call Init once before first use.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Init creates the audit_log table if it does not already exist.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, sqlInit)
	return err
}

func (s *Store) Write(ctx context.Context, e *audit.Entry) error {
	return s.WriteBatch(ctx, []*audit.Entry{e})
}

func (s *Store) WriteBatch(ctx context.Context, entries []*audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL())
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.Timestamp, nullable(e.UserID), nullable(e.UserEmail), nullable(e.UserIP), nullable(e.UserAgent),
			nullable(e.SessionID), e.TenantID, string(e.Action), string(e.Severity), e.ResourceType, e.ResourceID,
			nullable(e.ResourceName), nullableJSON(e.Details), nullableJSON(e.OldValue), nullableJSON(e.NewValue),
			e.Success, nullable(e.ErrorMessage), nullable(e.PreviousHash), e.EntryHash,
			pq.Array(e.ComplianceFrameworks), e.RetentionDays, e.Immutable,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertSQL() string {
	return `
INSERT INTO audit_log (
	id, "timestamp", user_id, user_email, user_ip, user_agent,
	session_id, tenant_id, action, severity, resource_type,
	resource_id, resource_name, details, old_value, new_value,
	success, error_message, previous_hash, entry_hash,
	compliance_frameworks, retention_days, immutable
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`
}

func (s *Store) Query(ctx context.Context, q audit.Query) ([]*audit.Entry, error) {
	conditions := []string{"tenant_id = $1"}
	params := []interface{}{q.TenantID}

	add := func(cond string, val interface{}) {
		params = append(params, val)
		conditions = append(conditions, fmt.Sprintf(cond, len(params)))
	}

	if q.StartDate != nil {
		add(`"timestamp" >= $%d`, *q.StartDate)
	}
	if q.EndDate != nil {
		add(`"timestamp" <= $%d`, *q.EndDate)
	}
	if q.UserID != "" {
		add("user_id = $%d", q.UserID)
	}
	if q.ResourceType != "" {
		add("resource_type = $%d", q.ResourceType)
	}
	if q.Success != nil {
		add("success = $%d", *q.Success)
	}
	if len(q.Actions) > 0 {
		names := make([]string, len(q.Actions))
		for i, a := range q.Actions {
			names[i] = string(a)
		}
		add("action = ANY($%d)", pq.Array(names))
	}

	order := "DESC"
	if !q.OrderDesc {
		order = "ASC"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	sqlText := fmt.Sprintf(`
SELECT id, "timestamp", user_id, user_email, user_ip, user_agent, session_id, tenant_id,
       action, severity, resource_type, resource_id, resource_name, details, old_value,
       new_value, success, error_message, previous_hash, entry_hash, compliance_frameworks,
       retention_days, immutable
FROM audit_log
WHERE %s
ORDER BY "timestamp" %s
LIMIT $%d OFFSET $%d`, strings.Join(conditions, " AND "), order, len(params)+1, len(params)+2)
	params = append(params, limit, q.Offset)

	rows, err := s.DB.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*audit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetByID(ctx context.Context, id string) (*audit.Entry, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, "timestamp", user_id, user_email, user_ip, user_agent, session_id, tenant_id,
       action, severity, resource_type, resource_id, resource_name, details, old_value,
       new_value, success, error_message, previous_hash, entry_hash, compliance_frameworks,
       retention_days, immutable
FROM audit_log WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, nil
	}
	return scanEntry(rows)
}

func (s *Store) GetLastHash(ctx context.Context, tenantID string) (string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT entry_hash FROM audit_log WHERE tenant_id = $1 ORDER BY "timestamp" DESC LIMIT 1`, tenantID)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	if !rows.Next() {
		return "", nil
	}
	var hash string
	if err := rows.Scan(&hash); err != nil {
		return "", err
	}
	return hash, rows.Err()
}

func (s *Store) VerifyChain(ctx context.Context, tenantID, startID, endID string) (bool, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT previous_hash, entry_hash FROM audit_log
WHERE tenant_id = $1
AND "timestamp" >= (SELECT "timestamp" FROM audit_log WHERE id = $2)
AND "timestamp" <= (SELECT "timestamp" FROM audit_log WHERE id = $3)
ORDER BY "timestamp" ASC`, tenantID, startID, endID)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	var expected string
	ok := true
	count := 0
	for rows.Next() {
		var p sql.NullString
		var h string
		if err := rows.Scan(&p, &h); err != nil {
			return false, err
		}
		current := p.String
		if count == 0 {
			expected = current
		}
		if current != expected {
			ok = false
		}
		expected = h
		count++
	}
	if count == 0 {
		return true, nil
	}
	return ok, rows.Err()
}

func scanEntry(rows *sql.Rows) (*audit.Entry, error) {
	var e audit.Entry
	var userID, userEmail, userIP, userAgent, sessionID, resourceName, errorMessage, previousHash sql.NullString
	var details, oldValue, newValue []byte
	var frameworks pq.StringArray
	var action, severity string

	if err := rows.Scan(
		&e.ID, &e.Timestamp, &userID, &userEmail, &userIP, &userAgent, &sessionID, &e.TenantID,
		&action, &severity, &e.ResourceType, &e.ResourceID, &resourceName, &details, &oldValue,
		&newValue, &e.Success, &errorMessage, &previousHash, &e.EntryHash, &frameworks,
		&e.RetentionDays, &e.Immutable,
	); err != nil {
		return nil, err
	}

	e.Action = audit.Action(action)
	e.Severity = audit.Severity(severity)
	e.UserID = userID.String
	e.UserEmail = userEmail.String
	e.UserIP = userIP.String
	e.UserAgent = userAgent.String
	e.SessionID = sessionID.String
	e.ResourceName = resourceName.String
	e.ErrorMessage = errorMessage.String
	e.PreviousHash = previousHash.String
	e.Details = details
	e.OldValue = oldValue
	e.NewValue = newValue
	e.ComplianceFrameworks = []string(frameworks)
	return &e, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
