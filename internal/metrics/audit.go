package metrics

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// auditCapacity bounds the audit ring buffer.
const auditCapacity = 1000

// AuditEntry records one tool execution decision.
type AuditEntry struct {
	ID      string    `json:"id"`
	Ts      time.Time `json:"ts"`
	Tool    string    `json:"tool"`
	Args    string    `json:"args,omitempty"`
	Allowed bool      `json:"allowed"`
	Reason  string    `json:"reason,omitempty"`
	UserID  string    `json:"user_id,omitempty"`
}

// AuditLog is a bounded ring of the most recent tool decisions.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	next    int
	full    bool
}

// NewAuditLog returns an empty audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{entries: make([]AuditEntry, 0, auditCapacity)}
}

// Record appends an entry, evicting the oldest once the ring is full.
func (a *AuditLog) Record(e AuditEntry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Ts.IsZero() {
		e.Ts = time.Now()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.entries) < auditCapacity {
		a.entries = append(a.entries, e)
		return
	}
	a.entries[a.next] = e
	a.next = (a.next + 1) % auditCapacity
	a.full = true
}

// Recent returns up to n entries, newest last.
func (a *AuditLog) Recent(n int) []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	ordered := make([]AuditEntry, 0, len(a.entries))
	if a.full {
		ordered = append(ordered, a.entries[a.next:]...)
		ordered = append(ordered, a.entries[:a.next]...)
	} else {
		ordered = append(ordered, a.entries...)
	}
	if n > 0 && len(ordered) > n {
		ordered = ordered[len(ordered)-n:]
	}
	return ordered
}
