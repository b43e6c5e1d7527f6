// Package observe publishes structured operation events. Every sensitive
// operation emits one event carrying the operation name, its correlation
// id and the outcome; subscribers attach through the event bus without the
// core knowing about them.
package observe

import (
	"sync/atomic"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/sirupsen/logrus"

	"github.com/kestrelwallet/kestrel-go/errctx"
)

// Bus topics. Subscribers register with EventBus.Bus.Subscribe(topic, fn)
// where fn receives a single *Event.
const (
	TopicAccount = "wallet:account"
	TopicLock    = "wallet:lock"
	TopicBackup  = "wallet:backup"
	TopicExport  = "wallet:export"
	TopicBatch   = "wallet:batch"
)

// Event is the payload published for each observed operation. It never
// carries secrets; in privacy mode account identifiers are truncated too.
type Event struct {
	Operation     string
	CorrelationID string
	AccountID     string
	Outcome       string
	Detail        string
	Timestamp     time.Time
}

// Recorder fans operation events out to the structured log and the bus.
type Recorder struct {
	log     *logrus.Logger
	noticer EventBus.Bus
	privacy atomic.Bool
}

func NewRecorder(log *logrus.Logger, noticer EventBus.Bus) *Recorder {
	return &Recorder{log: log, noticer: noticer}
}

// Bus exposes the underlying event bus for subscribers.
func (r *Recorder) Bus() EventBus.Bus {
	return r.noticer
}

// SetPrivacyMode toggles identifier truncation on emitted events.
func (r *Recorder) SetPrivacyMode(on bool) {
	r.privacy.Store(on)
}

func (r *Recorder) PrivacyMode() bool {
	return r.privacy.Load()
}

// Emit publishes one event on the given topic and mirrors it to the log.
func (r *Recorder) Emit(topic string, ec *errctx.Context, outcome, detail string) {
	accountID := ec.AccountID
	if r.privacy.Load() {
		accountID = Redact(accountID)
	}
	ev := &Event{
		Operation:     ec.Operation,
		CorrelationID: ec.CorrelationID,
		AccountID:     accountID,
		Outcome:       outcome,
		Detail:        detail,
		Timestamp:     time.Now().UTC(),
	}

	entry := r.log.WithFields(logrus.Fields{
		"topic":          topic,
		"operation":      ev.Operation,
		"correlation_id": ev.CorrelationID,
		"outcome":        ev.Outcome,
	})
	if ev.AccountID != "" {
		entry = entry.WithField("account", ev.AccountID)
	}
	if ev.Detail != "" {
		entry = entry.WithField("detail", ev.Detail)
	}
	if outcome == "error" {
		entry.Warn("wallet event")
	} else {
		entry.Info("wallet event")
	}

	if r.noticer != nil {
		r.noticer.Publish(topic, ev)
	}
}

// Redact shortens an identifier to its first and last four characters.
// Short identifiers are blanked entirely.
func Redact(id string) string {
	if id == "" {
		return ""
	}
	if len(id) <= 12 {
		return "…"
	}
	return id[:6] + "…" + id[len(id)-4:]
}
