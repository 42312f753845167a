// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config holds an AuditLog's tunables.
type Config struct {
	Enabled              bool
	BufferSize           int
	FlushInterval        time.Duration
	HashChainEnabled     bool
	ComplianceFrameworks []string
	AsyncWrite           bool
	RetentionDays        int
}

// DefaultConfig returns the documented defaults (buffer_size=100,
// flush_interval_seconds=5, retention_days=365).
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		BufferSize:       100,
		FlushInterval:    5 * time.Second,
		HashChainEnabled: true,
		AsyncWrite:       true,
		RetentionDays:    365,
	}
}

// Log is the audit writer every other dbsentinel component is handed an
// instance of via constructor injection — there is deliberately no
// package-level singleton, so each tenant or test can run against its own
// isolated Log and Store.
type Log struct {
	Config Config
	Store  Store

	mu         sync.Mutex
	buffer     []*Entry
	lastHash   sync.Map // tenantID -> string
	tenantLock sync.Map // tenantID -> *sync.Mutex

	stop chan struct{}
	done chan struct{}
}

// lockFor returns the mutex guarding a single tenant's hash-chain sequence
// (read previous hash, compute this entry's hash, store it as the new
// previous hash). Without a per-tenant lock, two concurrent Log calls for
// the same tenant can both read the same previous hash and each compute a
// hash chaining from it, corrupting the chain.
func (l *Log) lockFor(tenantID string) *sync.Mutex {
	v, _ := l.tenantLock.LoadOrStore(tenantID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// New builds an audit Log. Store may be nil, in which case Log (synchronous
// or asynchronous) entries are hashed and held in memory but never
// persisted — useful for tests.
func New(cfg Config, store Store) *Log {
	return &Log{Config: cfg, Store: store}
}

// Start begins the periodic flush loop when AsyncWrite is enabled. It is a
// no-op if already started or if AsyncWrite is false.
func (l *Log) Start(ctx context.Context) {
	if !l.Config.AsyncWrite || l.stop != nil {
		return
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		ticker := time.NewTicker(l.Config.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stop:
				return
			case <-ticker.C:
				l.flush(ctx)
			}
		}
	}()
}

// Stop cancels the background flusher (if running) and flushes any
// remaining buffered entries.
func (l *Log) Stop(ctx context.Context) {
	if l.stop != nil {
		close(l.stop)
		<-l.done
		l.stop = nil
	}
	l.flush(ctx)
}

// Log records one audit event. If Config.Enabled is false, it is a no-op
// returning nil.
func (l *Log) Log(ctx context.Context, p LogParams) (*Entry, error) {
	if !l.Config.Enabled {
		return nil, nil
	}

	severity := p.Severity
	if severity == "" {
		severity = defaultSeverity(p.Action)
	}

	entry := &Entry{
		ID:                   uuid.NewString(),
		Timestamp:            time.Now().UTC(),
		TenantID:             p.TenantID,
		UserID:               p.UserID,
		UserEmail:            p.UserEmail,
		UserIP:               p.UserIP,
		UserAgent:            p.UserAgent,
		SessionID:            p.SessionID,
		Action:               p.Action,
		Severity:             severity,
		ResourceType:         p.ResourceType,
		ResourceID:           p.ResourceID,
		ResourceName:         p.ResourceName,
		Success:              p.Success,
		ErrorMessage:         p.ErrorMessage,
		ComplianceFrameworks: l.Config.ComplianceFrameworks,
		RetentionDays:        l.Config.RetentionDays,
		Immutable:            true,
	}
	if b, err := marshalOrNil(p.Details); err == nil {
		entry.Details = b
	}
	if b, err := marshalOrNil(p.OldValue); err == nil {
		entry.OldValue = b
	}
	if b, err := marshalOrNil(p.NewValue); err == nil {
		entry.NewValue = b
	}

	if l.Config.HashChainEnabled {
		tenantMu := l.lockFor(p.TenantID)
		tenantMu.Lock()
		prev := l.previousHash(ctx, p.TenantID)
		entry.PreviousHash = prev
		entry.EntryHash = computeHash(entry)
		l.lastHash.Store(p.TenantID, entry.EntryHash)
		tenantMu.Unlock()
	}

	if l.Config.AsyncWrite {
		l.mu.Lock()
		l.buffer = append(l.buffer, entry)
		shouldFlush := len(l.buffer) >= l.Config.BufferSize
		l.mu.Unlock()
		if shouldFlush {
			go l.flush(context.Background())
		}
	} else if l.Store != nil {
		if err := l.Store.Write(ctx, entry); err != nil {
			return entry, &WriteError{Cause: err}
		}
	}

	return entry, nil
}

func marshalOrNil(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// previousHash consults the in-memory cache first, falling back to the
// store's persisted last hash for the tenant.
func (l *Log) previousHash(ctx context.Context, tenantID string) string {
	if v, ok := l.lastHash.Load(tenantID); ok {
		return v.(string)
	}
	if l.Store == nil {
		return ""
	}
	hash, err := l.Store.GetLastHash(ctx, tenantID)
	if err != nil {
		return ""
	}
	return hash
}

// flush swaps the buffer out under lock and writes it to the store outside
// the lock. On failure, the batch is re-prepended so the next tick retries
// it.
func (l *Log) flush(ctx context.Context) {
	l.mu.Lock()
	if len(l.buffer) == 0 || l.Store == nil {
		l.mu.Unlock()
		return
	}
	entries := l.buffer
	l.buffer = nil
	l.mu.Unlock()

	if err := l.Store.WriteBatch(ctx, entries); err != nil {
		l.mu.Lock()
		l.buffer = append(entries, l.buffer...)
		l.mu.Unlock()
	}
}

// Query filters persisted audit entries via the underlying Store. Returns
// an empty slice if no Store is configured.
func (l *Log) Query(ctx context.Context, q Query) ([]*Entry, error) {
	if l.Store == nil {
		return nil, nil
	}
	return l.Store.Query(ctx, q)
}

// GetSummary aggregates a tenant's events over [periodStart, periodEnd].
func (l *Log) GetSummary(ctx context.Context, tenantID string, periodStart, periodEnd time.Time) (*Summary, error) {
	entries, err := l.Query(ctx, Query{TenantID: tenantID, StartDate: &periodStart, EndDate: &periodEnd, Limit: 10000})
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		TenantID:         tenantID,
		PeriodStart:      periodStart,
		PeriodEnd:        periodEnd,
		TotalEvents:      len(entries),
		EventsByAction:   map[Action]int{},
		EventsBySeverity: map[Severity]int{},
		EventsByUser:     map[string]int{},
	}

	users := map[string]bool{}
	resources := map[string]bool{}
	for _, e := range entries {
		summary.EventsByAction[e.Action]++
		summary.EventsBySeverity[e.Severity]++
		if e.UserID != "" {
			summary.EventsByUser[e.UserID]++
			users[e.UserID] = true
		}
		resources[e.ResourceType+":"+e.ResourceID] = true
		if !e.Success {
			summary.FailedEvents++
		}
	}
	summary.UniqueUsers = len(users)
	summary.UniqueResources = len(resources)
	return summary, nil
}

// VerifyIntegrity recomputes every entry's hash within [startDate, endDate]
// (defaulting to the last 30 days) and checks the previous_hash chain
// between adjacent entries, returning false at the first mismatch.
func (l *Log) VerifyIntegrity(ctx context.Context, tenantID string, startDate, endDate *time.Time) (bool, error) {
	if l.Store == nil {
		return true, nil
	}

	q := Query{TenantID: tenantID, OrderDesc: false, Limit: 10000}
	if startDate != nil {
		q.StartDate = startDate
	} else {
		d := time.Now().UTC().AddDate(0, 0, -30)
		q.StartDate = &d
	}
	if endDate != nil {
		q.EndDate = endDate
	} else {
		d := time.Now().UTC()
		q.EndDate = &d
	}

	entries, err := l.Store.Query(ctx, q)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return true, nil
	}

	expectedPrev := entries[0].PreviousHash
	for _, e := range entries {
		if !VerifyEntryHash(e) {
			return false, nil
		}
		if e.PreviousHash != expectedPrev {
			return false, nil
		}
		expectedPrev = e.EntryHash
	}
	return true, nil
}
