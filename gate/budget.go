package gate

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// BudgetEntry is one recorded call in a task's history.
type BudgetEntry struct {
	Kind       string
	Success    bool
	At         time.Time
	CallNumber int
}

// Budget enforces a per-task ceiling on provider calls. It is owned by the
// task that created it; used is incremented exactly once per recorded call
// and never decremented, so exhaustion is terminal for the task's
// remaining optional calls.
type Budget struct {
	mu       sync.Mutex
	taskID   string
	maxCalls int
	used     int
	history  []BudgetEntry
}

// NewBudget creates a budget for one task.
func NewBudget(taskID string, maxCalls int) *Budget {
	if maxCalls <= 0 {
		maxCalls = 5
	}
	return &Budget{taskID: taskID, maxCalls: maxCalls}
}

// Check returns nil while the task still has allowance and
// ErrBudgetExhausted once used has reached the ceiling. It consults no
// other component, so exhausted tasks fail fast.
func (b *Budget) Check() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.used >= b.maxCalls {
		slog.Warn("Request budget exhausted",
			"task", b.taskID,
			"used", b.used,
			"max_calls", b.maxCalls)
		return fmt.Errorf("task %s: %w", b.taskID, ErrBudgetExhausted)
	}
	return nil
}

// Record appends a call to the history and consumes one unit of allowance.
// Failed calls count too: they consumed a rate-limiter slot.
func (b *Budget) Record(kind string, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.used++
	b.history = append(b.history, BudgetEntry{
		Kind:       kind,
		Success:    success,
		At:         time.Now(),
		CallNumber: b.used,
	})

	if b.used >= b.maxCalls {
		slog.Warn("Request budget limit reached",
			"task", b.taskID,
			"used", b.used,
			"max_calls", b.maxCalls)
	}
}

// Used returns the number of calls consumed so far.
func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Remaining returns the number of calls left in the budget.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n := b.maxCalls - b.used; n > 0 {
		return n
	}
	return 0
}

// History returns a copy of the recorded call history.
func (b *Budget) History() []BudgetEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]BudgetEntry, len(b.history))
	copy(out, b.history)
	return out
}

// BudgetTracker hands out per-task budgets. Budgets are created lazily on
// first use and released when the task finishes; they are never shared
// across tasks.
type BudgetTracker struct {
	mu       sync.Mutex
	maxCalls int
	budgets  map[string]*Budget
}

// NewBudgetTracker creates a tracker with the given per-task ceiling.
func NewBudgetTracker(maxCallsPerTask int) *BudgetTracker {
	if maxCallsPerTask <= 0 {
		maxCallsPerTask = 5
	}
	return &BudgetTracker{
		maxCalls: maxCallsPerTask,
		budgets:  make(map[string]*Budget),
	}
}

// Get returns the budget for a task, creating it on first use.
func (t *BudgetTracker) Get(taskID string) *Budget {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.budgets[taskID]
	if !ok {
		b = NewBudget(taskID, t.maxCalls)
		t.budgets[taskID] = b
	}
	return b
}

// Peek returns the budget for a task without creating one.
func (t *BudgetTracker) Peek(taskID string) (*Budget, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.budgets[taskID]
	return b, ok
}

// Release discards a task's budget once the task is done.
func (t *BudgetTracker) Release(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.budgets, taskID)
}

// Active returns the number of tasks with live budgets.
func (t *BudgetTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.budgets)
}
