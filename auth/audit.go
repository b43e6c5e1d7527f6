package auth

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kestrelwallet/kestrel-go/errctx"
)

// Outcome classifies an audit entry.
type Outcome string

const (
	OutcomeGranted     Outcome = "granted"
	OutcomeDenied      Outcome = "denied"
	OutcomeRateLimited Outcome = "rate_limited"
)

// maxAuditEntries bounds the in-memory trail; older entries roll off but
// remain in the structured log stream.
const maxAuditEntries = 1000

// AuditEntry is one recorded authorization decision. Entries never contain
// passwords, keys or seed material.
type AuditEntry struct {
	Timestamp     time.Time
	Operation     string
	UserAction    string
	CorrelationID string
	Outcome       Outcome
	Detail        string
}

// AuditLog keeps a bounded in-memory trail of authorization decisions and
// mirrors every entry to the structured log.
type AuditLog struct {
	log *logrus.Logger

	mu      sync.Mutex
	entries []AuditEntry
}

func NewAuditLog(log *logrus.Logger) *AuditLog {
	return &AuditLog{log: log}
}

func (l *AuditLog) Record(ec *errctx.Context, outcome Outcome, detail string) {
	entry := AuditEntry{
		Timestamp:     time.Now().UTC(),
		Operation:     ec.Operation,
		UserAction:    ec.UserAction,
		CorrelationID: ec.CorrelationID,
		Outcome:       outcome,
		Detail:        detail,
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > maxAuditEntries {
		l.entries = l.entries[len(l.entries)-maxAuditEntries:]
	}
	l.mu.Unlock()

	l.log.WithFields(logrus.Fields{
		"operation":      entry.Operation,
		"user_action":    entry.UserAction,
		"correlation_id": entry.CorrelationID,
		"outcome":        entry.Outcome,
		"detail":         entry.Detail,
	}).Info("audit")
}

// Entries returns a copy of the trail, oldest first.
func (l *AuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]AuditEntry(nil), l.entries...)
}
