// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/dbsentinel/dbsentinel/pkg/check"
	"github.com/dbsentinel/dbsentinel/pkg/dbconn"
)

// SnapshotFunc optionally captures a schema snapshot before a check run,
// e.g. for deployment "before" phases. It may be nil.
type SnapshotFunc func(ctx context.Context, connectionID string) (interface{}, error)

// Orchestrator runs checks against connections resolved through a
// ConnectionProvider, tracks in-flight and historical CheckExecutions, and
// maintains a per-connection DatabaseHealth cache.
type Orchestrator struct {
	Config     Config
	Registry   *check.Registry
	Provider   dbconn.ConnectionProvider
	Snapshot   SnapshotFunc
	HTTPClient *http.Client

	Triggers *TriggerManager

	mu         sync.Mutex
	executions map[string]*CheckExecution
	health     map[string]DatabaseHealth
}

// New builds an Orchestrator. registry and provider are required; the
// config's zero values are filled in with DefaultConfig's defaults where
// left unset.
func New(cfg Config, registry *check.Registry, provider dbconn.ConnectionProvider) *Orchestrator {
	if cfg.MaxConcurrentChecks <= 0 {
		cfg.MaxConcurrentChecks = 4
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 120 * time.Second
	}
	if cfg.ExcludedChecks == nil {
		cfg.ExcludedChecks = map[string]bool{}
	}
	return &Orchestrator{
		Config:     cfg,
		Registry:   registry,
		Provider:   provider,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Triggers:   NewTriggerManager(),
		executions: make(map[string]*CheckExecution),
		health:     make(map[string]DatabaseHealth),
	}
}

// RunChecks runs sel's resolved check set against connectionID as a single
// CheckExecution.
func (o *Orchestrator) RunChecks(ctx context.Context, connectionID string, sel Selection, trig TriggerType, triggerSource string, captureBeforeSnapshot bool) (*CheckExecution, error) {
	execution := &CheckExecution{
		ID:            uuid.NewString(),
		TenantID:      o.Config.TenantID,
		ConnectionID:  connectionID,
		TriggerType:   trig,
		TriggerSource: triggerSource,
		Status:        "running",
		StartedAt:     time.Now(),
	}
	o.mu.Lock()
	o.executions[execution.ID] = execution
	o.mu.Unlock()

	db, _, err := o.Provider.Connect(ctx, connectionID)
	if err != nil {
		now := time.Now()
		execution.Status = check.StatusError
		execution.ErrorMessage = err.Error()
		execution.CompletedAt = &now
		return execution, nil
	}

	if captureBeforeSnapshot && o.Snapshot != nil {
		if _, err := o.Snapshot(ctx, connectionID); err != nil {
			execution.ErrorMessage = fmt.Sprintf("snapshot failed: %v", err)
		}
	}

	checks := o.checksToRun(sel)
	results := o.runAll(ctx, checks, db)

	sort.Slice(results, func(i, j int) bool { return results[i].CheckID < results[j].CheckID })
	execution.Results = results
	execution.Status = aggregateStatus(results)

	now := time.Now()
	execution.CompletedAt = &now

	o.updateHealth(connectionID, execution)

	if o.Config.AlertWebhookURL != "" && (o.Config.AlertOnCritical || o.Config.AlertOnFailure) {
		go o.sendAlerts(context.Background(), execution)
	}

	return execution, nil
}

func (o *Orchestrator) checksToRun(sel Selection) []check.Check {
	var defs []check.Definition
	switch {
	case len(sel.CheckIDs) > 0:
		for _, id := range sel.CheckIDs {
			if d, ok := o.Registry.GetDefinition(id); ok {
				defs = append(defs, d)
			}
		}
	case sel.Framework != "":
		for _, c := range o.Registry.ForFramework(sel.Framework) {
			defs = append(defs, c.Definition())
		}
	default:
		defs = o.Registry.List(check.ListOptions{Category: sel.Category})
	}

	var out []check.Check
	for _, d := range defs {
		if o.Config.ExcludedChecks[d.ID] {
			continue
		}
		if c := o.Registry.Get(d.ID); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// runAll executes checks concurrently, bounded by Config.MaxConcurrentChecks,
// each wrapped in Config.CheckTimeout.
func (o *Orchestrator) runAll(ctx context.Context, checks []check.Check, db dbconn.DB) []check.Result {
	sem := semaphore.NewWeighted(int64(o.Config.MaxConcurrentChecks))
	results := make([]check.Result, len(checks))

	var wg sync.WaitGroup
	for i, c := range checks {
		i, c := i, c
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = timeoutResult(c.Definition(), "check skipped: "+err.Error())
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = o.runSingleCheck(ctx, c, db)
		}()
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) runSingleCheck(ctx context.Context, c check.Check, db dbconn.DB) (result check.Result) {
	def := c.Definition()
	ctx, cancel := context.WithTimeout(ctx, o.Config.CheckTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			result = timeoutResult(def, fmt.Sprintf("check panicked: %v", r))
		}
	}()

	done := make(chan check.Result, 1)
	go func() {
		done <- c.Execute(ctx, db)
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		return timeoutResult(def, fmt.Sprintf("check timed out after %s", o.Config.CheckTimeout))
	}
}

func timeoutResult(def check.Definition, message string) check.Result {
	return check.Result{
		CheckID:   def.ID,
		CheckName: def.Name,
		Category:  def.Category,
		Severity:  def.DefaultSeverity,
		Status:    check.StatusError,
		Message:   message,
	}
}

// aggregateStatus rolls a result set up by precedence: any error wins,
// then any failed, then any warning, else passed.
func aggregateStatus(results []check.Result) check.Status {
	has := map[check.Status]bool{}
	for _, r := range results {
		has[r.Status] = true
	}
	switch {
	case has[check.StatusError]:
		return check.StatusError
	case has[check.StatusCritical] || has[check.StatusFailed]:
		return check.StatusFailed
	case has[check.StatusWarning]:
		return check.StatusWarning
	default:
		return check.StatusPassed
	}
}

func (o *Orchestrator) updateHealth(connectionID string, execution *CheckExecution) {
	var critical []check.Result
	for _, r := range execution.Results {
		if r.Status == check.StatusFailed && (r.Severity == check.SeverityCritical || r.Severity == check.SeverityHigh) {
			critical = append(critical, r)
		}
	}

	health := DatabaseHealth{
		ConnectionID:     connectionID,
		OverallStatus:    execution.Status,
		LastCheck:        *execution.CompletedAt,
		ChecksPassed:     execution.PassedCount(),
		ChecksFailed:     execution.FailedCount(),
		ChecksWarning:    execution.WarningCount(),
		CriticalIssues:   critical,
		PerformanceScore: categoryScore(execution.Results, check.CategoryPerformance),
		SecurityScore:    categoryScore(execution.Results, check.CategorySecurity),
		ComplianceScore:  categoryScore(execution.Results, check.CategoryCompliance),
	}

	o.mu.Lock()
	o.health[connectionID] = health
	o.mu.Unlock()
}

func categoryScore(results []check.Result, cat check.Category) float64 {
	var total, passed int
	for _, r := range results {
		if r.Category != cat {
			continue
		}
		total++
		if r.Status == check.StatusPassed {
			passed++
		}
	}
	if total == 0 {
		return 100.0
	}
	return float64(passed) / float64(total) * 100.0
}

// alertPayload is the JSON body POSTed to Config.AlertWebhookURL.
type alertPayload struct {
	ExecutionID   string       `json:"execution_id"`
	ConnectionID  string       `json:"connection_id"`
	TenantID      string       `json:"tenant_id"`
	Status        check.Status `json:"status"`
	CriticalCount int          `json:"critical_count"`
	FailedCount   int          `json:"failed_count"`
	Timestamp     time.Time    `json:"timestamp"`
}

// sendAlerts POSTs a single webhook notification per execution, counting
// the results that match the configured alert conditions, and sends
// nothing when none match. It is fire-and-forget: a delivery
// failure is not retried and does not affect the execution's recorded
// status.
func (o *Orchestrator) sendAlerts(ctx context.Context, execution *CheckExecution) {
	var criticalCount, failedCount int
	for _, r := range execution.Results {
		if o.Config.AlertOnCritical && r.Severity == check.SeverityCritical && r.Status == check.StatusFailed {
			criticalCount++
		}
		if o.Config.AlertOnFailure && r.Status == check.StatusFailed {
			failedCount++
		}
	}
	if criticalCount == 0 && failedCount == 0 {
		return
	}

	body, err := json.Marshal(alertPayload{
		ExecutionID:   execution.ID,
		ConnectionID:  execution.ConnectionID,
		TenantID:      execution.TenantID,
		Status:        execution.Status,
		CriticalCount: criticalCount,
		FailedCount:   failedCount,
		Timestamp:     time.Now().UTC(),
	})
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.Config.AlertWebhookURL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}

// RunDeploymentChecks runs every deployment trigger matching phase
// ("before" or "after"), tagging the execution's TriggerSource as
// "<deploymentID>:<phase>" and capturing a before-snapshot when
// phase == "before".
func (o *Orchestrator) RunDeploymentChecks(ctx context.Context, connectionID, deploymentID, phase string) (*CheckExecution, error) {
	ids := map[string]bool{}
	for _, t := range o.Triggers.DeploymentTriggers() {
		if t.ShouldRun(phase) {
			for _, id := range t.CheckIDs {
				ids[id] = true
			}
		}
	}

	var checkIDs []string
	for id := range ids {
		checkIDs = append(checkIDs, id)
	}
	sort.Strings(checkIDs)

	return o.RunChecks(ctx, connectionID, Selection{CheckIDs: checkIDs}, TriggerDeployment,
		fmt.Sprintf("%s:%s", deploymentID, phase), phase == "before")
}

// RunFrameworkAudit runs every check registered under framework against
// connectionID.
func (o *Orchestrator) RunFrameworkAudit(ctx context.Context, connectionID, framework string) (*CheckExecution, error) {
	return o.RunChecks(ctx, connectionID, Selection{Framework: framework}, TriggerOnDemand,
		"framework_audit:"+framework, false)
}

// GetHealth returns the cached DatabaseHealth for connectionID, if any.
func (o *Orchestrator) GetHealth(connectionID string) (DatabaseHealth, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.health[connectionID]
	return h, ok
}

// GetAllHealth returns the cached DatabaseHealth for every connection seen
// so far.
func (o *Orchestrator) GetAllHealth() []DatabaseHealth {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]DatabaseHealth, 0, len(o.health))
	for _, h := range o.health {
		out = append(out, h)
	}
	return out
}

// GetExecution looks up a CheckExecution by ID.
func (o *Orchestrator) GetExecution(id string) (*CheckExecution, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.executions[id]
	return e, ok
}

// GetRecentExecutions returns up to limit executions, optionally filtered
// by connection, most recent first.
func (o *Orchestrator) GetRecentExecutions(connectionID string, limit int) []*CheckExecution {
	o.mu.Lock()
	var all []*CheckExecution
	for _, e := range o.executions {
		if connectionID == "" || e.ConnectionID == connectionID {
			all = append(all, e)
		}
	}
	o.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// AddScheduledCheck registers a new cron-driven ScheduledTrigger.
func (o *Orchestrator) AddScheduledCheck(cronExpr string, checkIDs []string, categories []check.Category) (*ScheduledTrigger, error) {
	t, err := NewScheduledTrigger(cronExpr, checkIDs, categories)
	if err != nil {
		return nil, err
	}
	o.Triggers.AddScheduled(t)
	return t, nil
}

// AddDeploymentTrigger registers a new DeploymentTrigger.
func (o *Orchestrator) AddDeploymentTrigger(checkIDs []string, runBefore, runAfter bool) DeploymentTrigger {
	t := DeploymentTrigger{CheckIDs: checkIDs, RunBefore: runBefore, RunAfter: runAfter}
	o.Triggers.AddDeployment(t)
	return t
}
