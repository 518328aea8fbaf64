package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Setting stores key-value configuration that belongs to this installation
type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value" gorm:"type:text"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name for Setting
func (Setting) TableName() string {
	return "settings"
}

// Alert kinds
const (
	AlertMissed = "missed"
	AlertUrgent = "urgent"
)

// AlertRecord remembers that an alert of Kind went out for a dose, so the reminder
// checker sends each one once.
type AlertRecord struct {
	ID              string    `gorm:"primaryKey" json:"id"`
	DoseID          string    `gorm:"uniqueIndex:idx_alert_dose_kind" json:"dose_id"`
	Kind            string    `gorm:"uniqueIndex:idx_alert_dose_kind" json:"kind"`
	CareRecipientID string    `gorm:"index" json:"care_recipient_id"`
	MedicationName  string    `json:"medication_name"`
	DueAt           time.Time `json:"due_at"`
	SentAt          time.Time `json:"sent_at"`
	Channels        string    `json:"channels"`
}

// TakenRecord is a local history entry for a dose marked taken from this machine
type TakenRecord struct {
	ID              string    `gorm:"primaryKey" json:"id"`
	DoseID          string    `gorm:"index" json:"dose_id"`
	MedicationID    string    `json:"medication_id"`
	CareRecipientID string    `gorm:"index" json:"care_recipient_id"`
	DueAt           time.Time `json:"due_at"`
	TakenAt         time.Time `json:"taken_at"`
	// Queued is true while the request still waits in the offline queue
	Queued bool `json:"queued"`
}

// BeforeCreate hook for AlertRecord
func (a *AlertRecord) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = generateID("alert")
	}
	if a.SentAt.IsZero() {
		a.SentAt = time.Now()
	}
	return nil
}

// BeforeCreate hook for TakenRecord
func (t *TakenRecord) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = generateID("taken")
	}
	if t.TakenAt.IsZero() {
		t.TakenAt = time.Now()
	}
	return nil
}

func generateID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
