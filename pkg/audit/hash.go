// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// canonicalDoc is the stable field ordering canonicalize hashes over: Go's
// encoding/json already emits object keys in struct-field order, so this
// struct's field order IS the canonical order, matching the hashing idiom
// schema.Canonicalize uses for DatabaseSchema.
type canonicalDoc struct {
	Timestamp            string   `json:"timestamp"`
	TenantID              string   `json:"tenant_id"`
	UserID                string   `json:"user_id"`
	UserEmail             string   `json:"user_email"`
	UserIP                string   `json:"user_ip"`
	UserAgent             string   `json:"user_agent"`
	SessionID             string   `json:"session_id"`
	Action                Action   `json:"action"`
	Severity              Severity `json:"severity"`
	ResourceType          string   `json:"resource_type"`
	ResourceID            string   `json:"resource_id"`
	ResourceName          string   `json:"resource_name"`
	Details               string   `json:"details"`
	OldValue              string   `json:"old_value"`
	NewValue              string   `json:"new_value"`
	Success               bool     `json:"success"`
	ErrorMessage          string   `json:"error_message"`
	ComplianceFrameworks  []string `json:"compliance_frameworks"`
	RetentionDays         int      `json:"retention_days"`
	ID                    string   `json:"id"`
}

// computeHash computes entry_hash = SHA256(canonical(entry minus
// entry_hash) || previous_hash_or_empty), exactly as specified: the ID is
// included (entries are otherwise content-identical if logged back to
// back) but EntryHash and PreviousHash are not part of the canonical body,
// PreviousHash instead being appended raw after it.
func computeHash(e *Entry) string {
	doc := canonicalDoc{
		Timestamp:            e.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		TenantID:             e.TenantID,
		UserID:               e.UserID,
		UserEmail:            e.UserEmail,
		UserIP:               e.UserIP,
		UserAgent:            e.UserAgent,
		SessionID:            e.SessionID,
		Action:               e.Action,
		Severity:             e.Severity,
		ResourceType:         e.ResourceType,
		ResourceID:           e.ResourceID,
		ResourceName:         e.ResourceName,
		Details:              string(e.Details),
		OldValue:             string(e.OldValue),
		NewValue:             string(e.NewValue),
		Success:              e.Success,
		ErrorMessage:         e.ErrorMessage,
		ComplianceFrameworks: e.ComplianceFrameworks,
		RetentionDays:        e.RetentionDays,
		ID:                   e.ID,
	}

	body, err := json.Marshal(doc)
	if err != nil {
		panic("audit: failed to canonicalize entry: " + err.Error())
	}

	h := sha256.New()
	h.Write(body)
	h.Write([]byte(e.PreviousHash))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyEntryHash reports whether e's stored EntryHash matches what
// recomputing the hash over its current contents produces.
func VerifyEntryHash(e *Entry) bool {
	return computeHash(e) == e.EntryHash
}
