// Package reminder periodically classifies the dose list and raises alerts for doses
// that became missed or are about to be due.
package reminder

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/careclock-cli/internal/channels"
	"github.com/gmsas95/careclock-cli/internal/dose"
	"github.com/gmsas95/careclock-cli/internal/metrics"
	"github.com/gmsas95/careclock-cli/internal/store"
)

// alertRetention is how long alert records are kept after the dose was due
const alertRetention = 7 * 24 * time.Hour

// DoseSource fetches the upcoming doses of a care recipient
type DoseSource interface {
	UpcomingDoses(ctx context.Context, careRecipientID string) ([]dose.Dose, error)
}

// Options configures a Checker
type Options struct {
	CareRecipientID string
	Thresholds      dose.Thresholds
	UrgentAlerts    bool
	Notifiers       []channels.Notifier
	Metrics         *metrics.Metrics
	Logger          *zap.Logger
}

// Result summarizes one check
type Result struct {
	Groups []dose.GroupView
	Alerts []channels.Alert
}

// Checker runs one classification pass per call
type Checker struct {
	source    DoseSource
	store     *store.Store
	notifiers []channels.Notifier
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cid       string

	mu         sync.RWMutex
	classifier *dose.Classifier
	urgent     bool
}

// NewChecker creates a checker reading from source and logging alerts to st
func NewChecker(source DoseSource, st *store.Store, opts Options) *Checker {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		source:     source,
		store:      st,
		notifiers:  opts.Notifiers,
		metrics:    opts.Metrics,
		logger:     logger,
		cid:        opts.CareRecipientID,
		classifier: dose.NewClassifier(opts.Thresholds),
		urgent:     opts.UrgentAlerts,
	}
}

// Reconfigure swaps the thresholds and urgent alert switch used by later checks
func (c *Checker) Reconfigure(t dose.Thresholds, urgentAlerts bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.classifier = dose.NewClassifier(t)
	c.urgent = urgentAlerts
}

// Thresholds returns the thresholds currently in use
func (c *Checker) Thresholds() dose.Thresholds {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.classifier.Thresholds()
}

// Check fetches the dose list, caches it, updates the dose gauges and sends every alert
// that has not been sent before. An alert that no notifier accepted is retried on the
// next check.
func (c *Checker) Check(ctx context.Context, now time.Time) (*Result, error) {
	doses, err := c.source.UpcomingDoses(ctx, c.cid)
	if err != nil {
		return nil, err
	}

	if err := c.store.SaveSnapshot(store.Snapshot{CareRecipientID: c.cid, FetchedAt: now, Doses: doses}); err != nil {
		c.logger.Warn("Failed to cache dose list", zap.Error(err))
	}

	c.mu.RLock()
	classifier, urgent := c.classifier, c.urgent
	c.mu.RUnlock()

	groups := classifier.Views(doses, now)
	c.metrics.SetDoseCounts(groups)
	c.metrics.MarkCheck(now)

	res := &Result{Groups: groups}
	for _, g := range groups {
		for _, v := range g.Doses {
			kind, ok := alertKind(v, urgent)
			if !ok {
				continue
			}
			sent, err := c.store.AlertSent(v.DoseID, string(kind))
			if err != nil {
				return res, err
			}
			if sent {
				continue
			}

			alert := channels.Alert{Kind: kind, CareRecipientID: c.cid, Dose: v, At: now}
			delivered := c.deliver(ctx, alert)
			if len(delivered) == 0 {
				continue
			}
			if err := c.store.RecordAlert(&store.AlertRecord{
				DoseID:          v.DoseID,
				Kind:            string(kind),
				CareRecipientID: c.cid,
				MedicationName:  v.Medication.Name,
				DueAt:           v.DueAt,
				SentAt:          now,
				Channels:        strings.Join(delivered, ","),
			}); err != nil {
				return res, err
			}
			res.Alerts = append(res.Alerts, alert)
		}
	}

	if n, err := c.store.PruneAlerts(now.Add(-alertRetention)); err != nil {
		c.logger.Warn("Failed to prune alert log", zap.Error(err))
	} else if n > 0 {
		c.logger.Debug("Pruned alert log", zap.Int64("removed", n))
	}

	return res, nil
}

func (c *Checker) deliver(ctx context.Context, a channels.Alert) []string {
	var delivered []string
	for _, n := range c.notifiers {
		if err := n.Notify(ctx, a); err != nil {
			c.logger.Error("Notifier failed",
				zap.String("channel", n.Name()),
				zap.String("dose_id", a.Dose.DoseID),
				zap.Error(err),
			)
			continue
		}
		c.metrics.RecordAlert(string(a.Kind), n.Name())
		delivered = append(delivered, n.Name())
	}
	return delivered
}

// alertKind decides whether v deserves an alert. Inactive medications never alert.
func alertKind(v dose.View, urgent bool) (channels.Kind, bool) {
	if !v.Medication.IsActive() {
		return "", false
	}
	switch {
	case v.Missed:
		return channels.KindMissed, true
	case urgent && v.Severity == dose.SeverityUrgent:
		return channels.KindUrgent, true
	}
	return "", false
}
