package channels

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gmsas95/careclock-cli/internal/dose"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func view(d dose.Dose) dose.View {
	return dose.View{Dose: d, Classification: dose.NewClassifier(dose.DefaultThresholds()).Classify(d, now)}
}

func TestAlertText(t *testing.T) {
	missed := Alert{Kind: KindMissed, Dose: view(dose.Dose{
		DoseID: "d1", DueAt: now.Add(-time.Hour), Status: dose.StatusUpcoming,
		Medication: dose.Medication{Name: "Metformin", Dosage: "500mg", Notes: "with food"},
	})}
	assert.Equal(t, "⚠️ Missed dose: Metformin 500mg was due Mar 10 at 11:00 AM.\nwith food\nMark it with: careclock take d1", missed.Text())

	inactive := false
	urgent := Alert{Kind: KindUrgent, Dose: view(dose.Dose{
		DoseID: "d2", DueAt: now.Add(5 * time.Minute), Status: dose.StatusUpcoming,
		Medication: dose.Medication{Active: &inactive},
	})}
	assert.Equal(t, "⏰ Dose due soon: Medication at 12:05 PM (Mar 10).", urgent.Text())
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	n := NewLogNotifier(zap.New(core))
	assert.Equal(t, "log", n.Name())

	require.NoError(t, n.Notify(context.Background(), Alert{Kind: KindMissed, CareRecipientID: "cr", Dose: view(dose.Dose{DoseID: "d1", DueAt: now})}))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "missed", fields["kind"])
	assert.Equal(t, "d1", fields["dose_id"])

	assert.NoError(t, NewLogNotifier(nil).Notify(context.Background(), Alert{}))
}
