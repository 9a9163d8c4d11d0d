package domain

import "sync"

// CooldownTable maps (conditionId, strategy) to the epoch millis of the last
// execution. The dispatcher is the only writer; reads happen from the
// dispatcher and from each strategy's own cooldown check.
type CooldownTable struct {
	mu   sync.Mutex
	last map[cooldownKey]int64
}

type cooldownKey struct {
	conditionID string
	strategy    string
}

// NewCooldownTable returns an empty table ready for use.
func NewCooldownTable() *CooldownTable {
	return &CooldownTable{last: make(map[cooldownKey]int64)}
}

// InCooldown reports whether (conditionID, strategy) is still cooling down
// as of nowMs, given cooldownMs.
func (t *CooldownTable) InCooldown(conditionID, strategy string, nowMs, cooldownMs int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.last[cooldownKey{conditionID, strategy}]
	if !ok {
		return false
	}
	return nowMs-last < cooldownMs
}

// Touch records nowMs as the last execution time for (conditionID, strategy).
func (t *CooldownTable) Touch(conditionID, strategy string, nowMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last[cooldownKey{conditionID, strategy}] = nowMs
}

// DailyLedger tracks per-strategy executed volume for the current calendar
// day, reset lazily the first time any operation observes a new date.
type DailyLedger struct {
	mu            sync.Mutex
	lastResetDate string
	perStrategy   map[string]float64
	clock         func() (dateString string, nowMs int64)
}

// NewDailyLedger returns a ledger using the given clock function, which
// must return today's date string (e.g. "2026-07-31") and the current
// epoch millis. Tests can substitute a fixed clock.
func NewDailyLedger(clock func() (string, int64)) *DailyLedger {
	return &DailyLedger{perStrategy: make(map[string]float64), clock: clock}
}

func (l *DailyLedger) rolloverLocked(today string) {
	if l.lastResetDate != today {
		l.lastResetDate = today
		for k := range l.perStrategy {
			l.perStrategy[k] = 0
		}
	}
}

// RecordTradeVolume adds amount to strategy's running total for today.
func (l *DailyLedger) RecordTradeVolume(strategy string, amount float64) {
	today, _ := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked(today)
	l.perStrategy[strategy] += amount
}

// Stats returns a snapshot of today's per-strategy totals and their sum.
func (l *DailyLedger) Stats() (perStrategy map[string]float64, total float64) {
	today, _ := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked(today)
	out := make(map[string]float64, len(l.perStrategy))
	for k, v := range l.perStrategy {
		out[k] = v
		total += v
	}
	return out, total
}
