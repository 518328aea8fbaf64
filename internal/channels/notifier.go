// Package channels delivers dose alerts to chat services and the log.
package channels

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/careclock-cli/internal/dose"
)

// Kind is the reason an alert was raised
type Kind string

const (
	KindMissed Kind = "missed"
	KindUrgent Kind = "urgent"
)

// Alert is one notification about one dose
type Alert struct {
	Kind            Kind
	CareRecipientID string
	Dose            dose.View
	At              time.Time
}

// Notifier sends alerts to a single destination
type Notifier interface {
	Name() string
	Notify(ctx context.Context, a Alert) error
}

// Text is the plain message body shared by every channel
func (a Alert) Text() string {
	name := a.Dose.Medication.Name
	if name == "" {
		name = "Medication"
	}
	if a.Dose.Medication.Dosage != "" {
		name += " " + a.Dose.Medication.Dosage
	}

	var sb strings.Builder
	switch a.Kind {
	case KindMissed:
		fmt.Fprintf(&sb, "⚠️ Missed dose: %s was due %s at %s.", name, a.Dose.Date, a.Dose.Time)
	case KindUrgent:
		fmt.Fprintf(&sb, "⏰ Dose due soon: %s at %s (%s).", name, a.Dose.Time, a.Dose.Date)
	default:
		fmt.Fprintf(&sb, "%s: %s at %s.", a.Kind, name, a.Dose.Time)
	}
	if notes := strings.TrimSpace(a.Dose.Medication.Notes); notes != "" {
		sb.WriteString("\n")
		sb.WriteString(notes)
	}
	if a.Dose.CanMarkTaken() {
		fmt.Fprintf(&sb, "\nMark it with: careclock take %s", a.Dose.DoseID)
	}
	return sb.String()
}

// LogNotifier writes alerts to a zap logger. It is always enabled.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier returns a notifier backed by logger
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(_ context.Context, a Alert) error {
	n.logger.Warn("Dose alert",
		zap.String("kind", string(a.Kind)),
		zap.String("care_recipient_id", a.CareRecipientID),
		zap.String("dose_id", a.Dose.DoseID),
		zap.String("medication", a.Dose.Medication.Name),
		zap.Time("due_at", a.Dose.DueAt),
	)
	return nil
}
