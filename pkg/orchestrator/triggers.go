// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dbsentinel/dbsentinel/pkg/check"
)

// Trigger decides when and which checks to run.
type Trigger interface {
	Type() TriggerType
}

// OnDemandTrigger is evaluated only on an explicit API call; it carries no
// schedule of its own.
type OnDemandTrigger struct {
	CheckIDs []string
}

func (OnDemandTrigger) Type() TriggerType { return TriggerOnDemand }

// ScheduledTrigger fires checks on a cron schedule. Fire skips missed ticks
// rather than catching up: if the process was asleep past several
// would-be firings, calling Fire once advances NextRun to the next future
// slot instead of replaying every missed one.
type ScheduledTrigger struct {
	CronExpression string
	CheckIDs       []string
	Categories     []check.Category

	schedule cron.Schedule
	nextRun  time.Time

	mu      sync.Mutex
	running bool
}

// NewScheduledTrigger parses cronExpr as a standard five-field UTC cron
// expression via robfig/cron's ParseStandard, used here purely as a
// next-run calculator: dbsentinel's own scheduler tick drives dispatch, not
// an internal goroutine owned by the cron library.
func NewScheduledTrigger(cronExpr string, checkIDs []string, categories []check.Category) (*ScheduledTrigger, error) {
	sched, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, err
	}
	t := &ScheduledTrigger{
		CronExpression: cronExpr,
		CheckIDs:       checkIDs,
		Categories:     categories,
		schedule:       sched,
	}
	t.nextRun = sched.Next(time.Now().UTC())
	return t, nil
}

func (*ScheduledTrigger) Type() TriggerType { return TriggerScheduled }

// NextRun reports the next time this trigger is due to fire.
func (t *ScheduledTrigger) NextRun() time.Time { return t.nextRun }

// ShouldFire reports whether now has reached NextRun.
func (t *ScheduledTrigger) ShouldFire(now time.Time) bool {
	return !now.Before(t.nextRun)
}

// Fire advances NextRun to the next future slot strictly after now,
// collapsing any missed intermediate firings into a single catch-up-free
// step.
func (t *ScheduledTrigger) Fire(now time.Time) {
	next := t.schedule.Next(now)
	for !next.After(now) {
		next = t.schedule.Next(next)
	}
	t.nextRun = next
}

// TryStart marks this trigger's dispatch as in flight, reporting false if a
// previous dispatch for this same trigger has not finished yet. The caller
// must call Finish once the dispatch completes, regardless of outcome.
func (t *ScheduledTrigger) TryStart() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return false
	}
	t.running = true
	return true
}

// Finish clears the in-flight marker set by a successful TryStart.
func (t *ScheduledTrigger) Finish() {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
}

// DeploymentTrigger links a set of checks to a deployment lifecycle event.
type DeploymentTrigger struct {
	CheckIDs  []string
	RunBefore bool
	RunAfter  bool
}

func (DeploymentTrigger) Type() TriggerType { return TriggerDeployment }

// ShouldRun reports whether this trigger applies to the given deployment
// phase ("before" or "after").
func (t DeploymentTrigger) ShouldRun(phase string) bool {
	if phase == "before" {
		return t.RunBefore
	}
	return t.RunAfter
}

// TriggerManager holds every trigger an Orchestrator has been configured
// with.
type TriggerManager struct {
	mu          sync.Mutex
	scheduled   []*ScheduledTrigger
	deployment  []DeploymentTrigger
	onDemand    []OnDemandTrigger
}

func NewTriggerManager() *TriggerManager {
	return &TriggerManager{}
}

func (m *TriggerManager) AddScheduled(t *ScheduledTrigger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled = append(m.scheduled, t)
}

func (m *TriggerManager) AddDeployment(t DeploymentTrigger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deployment = append(m.deployment, t)
}

// ScheduledTriggers returns a snapshot of the currently registered
// scheduled triggers.
func (m *TriggerManager) ScheduledTriggers() []*ScheduledTrigger {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ScheduledTrigger, len(m.scheduled))
	copy(out, m.scheduled)
	return out
}

// DeploymentTriggers returns a snapshot of the currently registered
// deployment triggers.
func (m *TriggerManager) DeploymentTriggers() []DeploymentTrigger {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeploymentTrigger, len(m.deployment))
	copy(out, m.deployment)
	return out
}
