package scan

import (
	"sync"
	"sync/atomic"
)

// Progress holds live counters for one in-flight scan. Counters are atomic
// so concurrent probe workers can update them without coordination.
type Progress struct {
	total       int64
	scanned     atomic.Int64
	alive       atomic.Int64
	unreachable atomic.Int64
	current     atomic.Pointer[string]
}

// Snapshot is a point-in-time copy of a Progress suitable for JSON.
type Snapshot struct {
	Total         int    `json:"total"`
	Scanned       int    `json:"scanned"`
	Alive         int    `json:"alive"`
	Unreachable   int    `json:"unreachable"`
	CurrentTarget string `json:"current_target,omitempty"`
}

// SetCurrent records the target currently being probed.
func (p *Progress) SetCurrent(target string) {
	p.current.Store(&target)
}

// ClearCurrent clears the current-target marker.
func (p *Progress) ClearCurrent() {
	p.current.Store(nil)
}

// MarkAlive records one target that answered a probe.
func (p *Progress) MarkAlive() {
	p.alive.Add(1)
	p.scanned.Add(1)
}

// MarkUnreachable records one target that never answered.
func (p *Progress) MarkUnreachable() {
	p.unreachable.Add(1)
	p.scanned.Add(1)
}

// Complete fast-forwards the counters after a bulk probe, where per-target
// progress is not observable.
func (p *Progress) Complete(alive int) {
	p.alive.Store(int64(alive))
	p.unreachable.Store(p.total - int64(alive))
	p.scanned.Store(p.total)
	p.ClearCurrent()
}

// Snapshot returns a consistent-enough copy for polling callers.
func (p *Progress) Snapshot() Snapshot {
	s := Snapshot{
		Total:       int(p.total),
		Scanned:     int(p.scanned.Load()),
		Alive:       int(p.alive.Load()),
		Unreachable: int(p.unreachable.Load()),
	}
	if cur := p.current.Load(); cur != nil {
		s.CurrentTarget = *cur
	}
	return s
}

// Tracker is a registry of in-flight scan progress records keyed by scan
// id. Entries are removed when the owning scan terminates by any path, so
// nothing accumulates across scans.
type Tracker struct {
	mu    sync.RWMutex
	scans map[string]*Progress
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{scans: make(map[string]*Progress)}
}

// Register creates and tracks a Progress for the given scan.
func (t *Tracker) Register(scanID string, total int) *Progress {
	p := &Progress{total: int64(total)}
	t.mu.Lock()
	t.scans[scanID] = p
	t.mu.Unlock()
	return p
}

// Get returns a snapshot of the named scan's progress.
func (t *Tracker) Get(scanID string) (Snapshot, bool) {
	t.mu.RLock()
	p, ok := t.scans[scanID]
	t.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return p.Snapshot(), true
}

// Remove drops the named scan from tracking.
func (t *Tracker) Remove(scanID string) {
	t.mu.Lock()
	delete(t.scans, scanID)
	t.mu.Unlock()
}
